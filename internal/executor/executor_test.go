package executor

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/pks-run/runnerd/internal/containerengine"
	"github.com/pks-run/runnerd/internal/errkinds"
	"github.com/pks-run/runnerd/internal/procrunner"
	"github.com/pks-run/runnerd/internal/workspacetool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res  procrunner.Result
	err  error
	args [][]string
}

func (f *fakeRunner) Run(ctx context.Context, cmd procrunner.Command) (procrunner.Result, error) {
	f.args = append(f.args, cmd.Args)
	return f.res, f.err
}

type fakeEngine struct {
	named     []string
	labels    map[string]containerengine.Labels
	running   bool
	execRes   procrunner.Result
	execErr   error
	removed   []string
	execCalls [][]string
}

func (f *fakeEngine) ListNamed(ctx context.Context) []string { return f.named }
func (f *fakeEngine) Inspect(ctx context.Context, id string) (containerengine.Labels, error) {
	l, ok := f.labels[id]
	if !ok {
		return containerengine.Labels{}, assertErr("no labels for " + id)
	}
	return l, nil
}
func (f *fakeEngine) IsRunning(ctx context.Context, id string) bool { return f.running }
func (f *fakeEngine) Exec(ctx context.Context, id, user string, cmd []string) (procrunner.Result, error) {
	f.execCalls = append(f.execCalls, cmd)
	return f.execRes, f.execErr
}
func (f *fakeEngine) Remove(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}
func (f *fakeEngine) Version(ctx context.Context) bool { return true }

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeWorkspace struct {
	res     workspacetool.UpResult
	err     error
	lastOpt workspacetool.UpOptions
	version bool
}

func (f *fakeWorkspace) Version(ctx context.Context) bool { return f.version }
func (f *fakeWorkspace) Up(ctx context.Context, opts workspacetool.UpOptions) (workspacetool.UpResult, error) {
	f.lastOpt = opts
	return f.res, f.err
}

func TestExecuteJob_HappyEphemeralPath(t *testing.T) {
	proc := &fakeRunner{res: procrunner.Result{ExitCode: 0}}
	eng := &fakeEngine{execRes: procrunner.Result{ExitCode: 0}}
	ws := &fakeWorkspace{res: workspacetool.UpResult{ContainerID: "c1", RemoteUser: "u"}}

	e := New(eng, ws, proc)

	var progressMsgs []string
	state := e.ExecuteJob(context.Background(), ExecuteJobRequest{
		RegistrationID: "r1",
		Owner:          "acme",
		Repo:           "svc",
		RunID:          100,
		Branch:         "main",
		Token:          "secret-token",
		EncodedJIT:     "XYZ",
		Progress:       func(s string) { progressMsgs = append(progressMsgs, s) },
	})

	require.Equal(t, PhaseCompleted, state.Phase)
	assert.Equal(t, "Completed", state.Status)
	assert.Equal(t, "c1", state.ContainerID)
	assert.Contains(t, eng.removed, "c1")
	_, statErr := os.Stat(state.ClonePath)
	assert.True(t, os.IsNotExist(statErr), "clone directory should be removed after cleanup")

	assert.True(t, ws.lastOpt.RemoveExisting)
	assert.Empty(t, ws.lastOpt.IDLabels)

	for _, m := range progressMsgs {
		assert.NotContains(t, m, "secret-token")
	}
}

func TestExecuteJob_NamedFirstUsePassesIDLabelsAndSurvivesCleanup(t *testing.T) {
	proc := &fakeRunner{res: procrunner.Result{ExitCode: 0}}
	eng := &fakeEngine{execRes: procrunner.Result{ExitCode: 0}}
	ws := &fakeWorkspace{res: workspacetool.UpResult{ContainerID: "c1", RemoteUser: "u"}}

	e := New(eng, ws, proc)
	state := e.ExecuteJob(context.Background(), ExecuteJobRequest{
		RegistrationID: "r1",
		Owner:          "acme",
		Repo:           "svc",
		RunID:          100,
		JobID:          1001,
		Branch:         "main",
		Token:          "secret-token",
		EncodedJIT:     "XYZ",
		ContainerName:  "svc-dev",
	})

	require.Equal(t, PhaseCompleted, state.Phase)
	assert.False(t, ws.lastOpt.RemoveExisting)
	assert.Equal(t, "svc-dev", ws.lastOpt.IDLabels[containerengine.NameLabel])
	assert.Equal(t, "acme", ws.lastOpt.IDLabels[containerengine.OwnerLabel])
	assert.Equal(t, "svc", ws.lastOpt.IDLabels[containerengine.RepoLabel])

	assert.Empty(t, eng.removed, "named container must survive cleanup")
	_, statErr := os.Stat(state.ClonePath)
	assert.False(t, os.IsNotExist(statErr), "named clone path must survive cleanup")
	_ = os.RemoveAll(state.ClonePath)

	var sawRunnerDirRemoval bool
	for _, call := range eng.execCalls {
		joined := strings.Join(call, " ")
		if strings.Contains(joined, "rm -rf") && strings.Contains(joined, "actions-runner-1001") {
			sawRunnerDirRemoval = true
		}
	}
	assert.True(t, sawRunnerDirRemoval, "named-create path must remove its job-scoped runner directory, keyed by job id")
}

func TestExecuteJob_WorkspaceUpFailureYieldsFailedWithNoContainer(t *testing.T) {
	proc := &fakeRunner{res: procrunner.Result{ExitCode: 0}}
	eng := &fakeEngine{}
	ws := &fakeWorkspace{err: &errkinds.WorkspaceError{Reason: "outcome \"error\""}}

	e := New(eng, ws, proc)
	state := e.ExecuteJob(context.Background(), ExecuteJobRequest{
		RegistrationID: "r1",
		Owner:          "acme",
		Repo:           "svc",
		RunID:          100,
		Branch:         "main",
		Token:          "t",
		EncodedJIT:     "XYZ",
	})

	require.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, "Failed", state.Status)
	assert.Empty(t, eng.removed)
	_, statErr := os.Stat(state.ClonePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteJob_WorkspaceUpFailureRemovesPartiallyCreatedContainer(t *testing.T) {
	proc := &fakeRunner{res: procrunner.Result{ExitCode: 0}}
	eng := &fakeEngine{}
	ws := &fakeWorkspace{err: &errkinds.WorkspaceError{Reason: "outcome \"error\"", ContainerID: "leaked"}}

	e := New(eng, ws, proc)
	state := e.ExecuteJob(context.Background(), ExecuteJobRequest{
		RegistrationID: "r1",
		Owner:          "acme",
		Repo:           "svc",
		RunID:          100,
		Branch:         "main",
		Token:          "t",
		EncodedJIT:     "XYZ",
		ContainerName:  "svc-dev",
	})

	require.Equal(t, PhaseFailed, state.Phase)
	assert.Contains(t, eng.removed, "leaked", "a container the workspace tool created before failing must still be removed, even on the named path")
	_, statErr := os.Stat(state.ClonePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteJob_RunnerNonZeroExitFails(t *testing.T) {
	proc := &fakeRunner{res: procrunner.Result{ExitCode: 0}}
	eng := &fakeEngine{execRes: procrunner.Result{ExitCode: 1, Stderr: "boom"}}
	ws := &fakeWorkspace{res: workspacetool.UpResult{ContainerID: "c1", RemoteUser: "u"}}

	e := New(eng, ws, proc)
	state := e.ExecuteJob(context.Background(), ExecuteJobRequest{
		RegistrationID: "r1",
		Owner:          "acme",
		Repo:           "svc",
		RunID:          100,
		Branch:         "main",
		Token:          "t",
		EncodedJIT:     "XYZ",
	})

	require.Equal(t, PhaseFailed, state.Phase)
	assert.Contains(t, eng.removed, "c1")
}

func TestExecuteJob_NamedCreateRunnerFailureKeepsContainerRemovesRunnerDir(t *testing.T) {
	proc := &fakeRunner{res: procrunner.Result{ExitCode: 0}}
	eng := &fakeEngine{execRes: procrunner.Result{ExitCode: 1, Stderr: "boom"}}
	ws := &fakeWorkspace{res: workspacetool.UpResult{ContainerID: "c1", RemoteUser: "u"}}

	e := New(eng, ws, proc)
	state := e.ExecuteJob(context.Background(), ExecuteJobRequest{
		RegistrationID: "r1",
		Owner:          "acme",
		Repo:           "svc",
		RunID:          100,
		JobID:          1001,
		Branch:         "main",
		Token:          "t",
		EncodedJIT:     "XYZ",
		ContainerName:  "svc-dev",
	})

	require.Equal(t, PhaseFailed, state.Phase)
	assert.Empty(t, eng.removed, "a named container's first job failing during install/run must not remove the container")
	_, statErr := os.Stat(state.ClonePath)
	assert.False(t, os.IsNotExist(statErr), "named clone path must survive a failed first job")
	_ = os.RemoveAll(state.ClonePath)

	var sawRunnerDirRemoval bool
	for _, call := range eng.execCalls {
		joined := strings.Join(call, " ")
		if strings.Contains(joined, "rm -rf") && strings.Contains(joined, "actions-runner-1001") {
			sawRunnerDirRemoval = true
		}
	}
	assert.True(t, sawRunnerDirRemoval, "job-scoped runner directory must still be removed on failure")
}

func TestExecuteJobInExistingContainer_NoCloneNoUpNoContainerRemoval(t *testing.T) {
	proc := &fakeRunner{}
	eng := &fakeEngine{execRes: procrunner.Result{ExitCode: 0}}
	ws := &fakeWorkspace{}

	e := New(eng, ws, proc)
	state := e.ExecuteJobInExistingContainer(context.Background(), ExecuteJobInExistingContainerRequest{
		RegistrationID: "r1",
		RunID:          100,
		JobID:          1001,
		Branch:         "main",
		ContainerID:    "c1",
		ClonePath:      "/tmp/pks-runner-abc",
		ContainerName:  "svc-dev",
		RemoteUser:     "u",
		EncodedJIT:     "XYZ",
	})

	require.Equal(t, PhaseCompleted, state.Phase)
	assert.Empty(t, proc.args, "no clone invocation on the attach path")
	assert.Empty(t, eng.removed, "attach path never removes the container")

	var sawInstallDir bool
	for _, call := range eng.execCalls {
		joined := strings.Join(call, " ")
		if strings.Contains(joined, "actions-runner-1001") {
			sawInstallDir = true
		}
	}
	assert.True(t, sawInstallDir, "install directory must be scoped by job id")
}

func TestDiscoverNamedContainers_SkipsFailedInspect(t *testing.T) {
	eng := &fakeEngine{
		named:  []string{"c1", "c2"},
		labels: map[string]containerengine.Labels{"c1": {Name: "svc-dev", Owner: "acme", Repo: "svc"}},
	}
	e := New(eng, &fakeWorkspace{}, &fakeRunner{})

	entries := e.DiscoverNamedContainers(context.Background())
	require.Len(t, entries, 1)
	assert.Equal(t, "svc-dev", entries[0].Name)
}

func TestCleanupJob_IdempotentForNamedJob(t *testing.T) {
	eng := &fakeEngine{}
	e := New(eng, &fakeWorkspace{}, &fakeRunner{})

	job := JobState{ContainerID: "c1", ContainerName: "svc-dev", ClonePath: "/tmp/whatever"}
	require.NoError(t, e.CleanupJob(context.Background(), job))
	require.NoError(t, e.CleanupJob(context.Background(), job))
	assert.Empty(t, eng.removed)
}

func TestCleanupJob_RemovesContainerAndCloneForEphemeralJob(t *testing.T) {
	eng := &fakeEngine{}
	e := New(eng, &fakeWorkspace{}, &fakeRunner{})

	dir, err := os.MkdirTemp("", "pks-runner-test-")
	require.NoError(t, err)

	job := JobState{ContainerID: "c1", ClonePath: dir}
	require.NoError(t, e.CleanupJob(context.Background(), job))
	assert.Contains(t, eng.removed, "c1")
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCheckPrerequisites_ReportsMissingTools(t *testing.T) {
	e := New(&fakeEngine{}, &fakeWorkspace{version: false}, &fakeRunner{})
	engineOK, workspaceOK, msg := e.CheckPrerequisites(context.Background())
	assert.True(t, engineOK)
	assert.False(t, workspaceOK)
	assert.Contains(t, msg, "workspace tool")
}
