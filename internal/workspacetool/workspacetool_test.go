package workspacetool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pks-run/runnerd/internal/errkinds"
	"github.com/pks-run/runnerd/internal/procrunner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res procrunner.Result
	err error

	lastArgs []string
}

func (f *fakeRunner) Run(ctx context.Context, cmd procrunner.Command) (procrunner.Result, error) {
	f.lastArgs = cmd.Args
	return f.res, f.err
}

func TestUp_ParsesFinalJSONLine(t *testing.T) {
	out := `{"level":30,"message":"starting"}
{"outcome":"success","containerId":"c1","remoteUser":"vscode"}
`
	r := &fakeRunner{res: procrunner.Result{ExitCode: 0, Stdout: out}}
	tool := New("devcontainer", r)

	res, err := tool.Up(context.Background(), UpOptions{WorkspaceFolder: "/tmp/clone"})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ContainerID)
	assert.Equal(t, "vscode", res.RemoteUser)
}

func TestUp_FailsWhenOutcomeNotSuccess(t *testing.T) {
	out := `{"outcome":"error"}`
	r := &fakeRunner{res: procrunner.Result{ExitCode: 0, Stdout: out}}
	tool := New("devcontainer", r)

	_, err := tool.Up(context.Background(), UpOptions{WorkspaceFolder: "/tmp/clone"})
	require.Error(t, err)
	var we *errkinds.WorkspaceError
	assert.ErrorAs(t, err, &we)
}

func TestUp_FailsOnNonZeroExit(t *testing.T) {
	r := &fakeRunner{res: procrunner.Result{ExitCode: 1, Stderr: "boom"}}
	tool := New("devcontainer", r)

	_, err := tool.Up(context.Background(), UpOptions{WorkspaceFolder: "/tmp/clone"})
	require.Error(t, err)
	var te *errkinds.ToolError
	assert.ErrorAs(t, err, &te)
}

func TestUp_EphemeralPassesRemoveExistingContainer(t *testing.T) {
	r := &fakeRunner{res: procrunner.Result{ExitCode: 0, Stdout: `{"outcome":"success","containerId":"c1"}`}}
	tool := New("devcontainer", r)

	_, err := tool.Up(context.Background(), UpOptions{
		WorkspaceFolder: "/tmp/clone",
		RemoveExisting:  true,
		RemoteEnv:       map[string]string{"PKS_RUNNER": "true"},
	})
	require.NoError(t, err)
	assert.Contains(t, r.lastArgs, "--remove-existing-container")
	assert.Contains(t, strings.Join(r.lastArgs, " "), "--remote-env PKS_RUNNER=true")
}

func TestUp_NamedPassesIDLabelsNotRemoveExisting(t *testing.T) {
	r := &fakeRunner{res: procrunner.Result{ExitCode: 0, Stdout: `{"outcome":"success","containerId":"c1"}`}}
	tool := New("devcontainer", r)

	_, err := tool.Up(context.Background(), UpOptions{
		WorkspaceFolder: "/tmp/clone",
		IDLabels: map[string]string{
			"pks.runner.name":  "svc-dev",
			"pks.runner.owner": "acme",
			"pks.runner.repo":  "svc",
		},
	})
	require.NoError(t, err)
	joined := strings.Join(r.lastArgs, " ")
	assert.NotContains(t, joined, "--remove-existing-container")
	assert.Contains(t, joined, fmt.Sprintf("--id-label pks.runner.name=svc-dev"))
}
