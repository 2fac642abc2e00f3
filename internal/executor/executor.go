// Package executor implements the per-job container lifecycle: clone,
// workspace up, runner install, runner run, cleanup. It also discovers
// pre-existing named containers and answers liveness questions about them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pks-run/runnerd/internal/containerengine"
	"github.com/pks-run/runnerd/internal/errkinds"
	"github.com/pks-run/runnerd/internal/procrunner"
	"github.com/pks-run/runnerd/internal/workspacetool"
)

// Phase is one stage of the job state machine.
type Phase string

const (
	PhaseCreated           Phase = "created"
	PhaseCloning           Phase = "cloning"
	PhaseStartingWorkspace Phase = "starting_workspace"
	PhaseInstallingRunner  Phase = "installing_runner"
	PhaseRunningRunner     Phase = "running_runner"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
)

// JobState records the execution of one dispatched job.
type JobState struct {
	RegistrationID string
	RunID          int64
	JobID          int64
	Branch         string
	Phase          Phase
	ContainerID    string
	ClonePath      string
	ContainerName  string
	// RemoteUser is the devcontainer user the runner was installed and
	// launched as. Tracked so a named container can be reattached to
	// without re-running workspace-up just to rediscover it.
	RemoteUser string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Reason     string
}

// ProgressFunc receives short, advisory, human-readable status strings at
// each phase boundary. Correctness never depends on these being observed.
type ProgressFunc func(string)

func noopProgress(string) {}

// Engine is the subset of containerengine.Engine the executor drives.
type Engine interface {
	ListNamed(ctx context.Context) []string
	Inspect(ctx context.Context, containerID string) (containerengine.Labels, error)
	IsRunning(ctx context.Context, containerID string) bool
	Exec(ctx context.Context, containerID, remoteUser string, cmd []string) (procrunner.Result, error)
	Remove(ctx context.Context, containerID string) error
	Version(ctx context.Context) bool
}

// Workspace is the subset of workspacetool.Tool the executor drives.
type Workspace interface {
	Version(ctx context.Context) bool
	Up(ctx context.Context, opts workspacetool.UpOptions) (workspacetool.UpResult, error)
}

// defaultRunnerPackageURL is the runner-agent archive fetched during
// InstallingRunner. Overridable via WithRunnerPackageURL for self-hosted
// forges that mirror the archive elsewhere.
const defaultRunnerPackageURL = "https://github.com/actions/runner/releases/download/v2.319.1/actions-runner-linux-x64-2.319.1.tar.gz"

// Entry mirrors pool.Entry without importing the pool package, so discovery
// can be consumed by callers that don't want the pool's locking machinery.
type Entry struct {
	Name        string
	ContainerID string
	Owner       string
	Repo        string
}

// Executor drives the container lifecycle for one job at a time on behalf
// of its caller; it holds no per-job state itself beyond its collaborators.
type Executor struct {
	engine    Engine
	workspace Workspace
	proc      procrunner.Runner

	vcsBin     string
	packageURL string
	gitHost    string
}

// Option configures an Executor.
type Option func(*Executor)

// WithRevisionControlBinary overrides the clone tool's binary name. Default "git".
func WithRevisionControlBinary(bin string) Option {
	return func(e *Executor) { e.vcsBin = bin }
}

// WithRunnerPackageURL overrides the runner-agent archive URL.
func WithRunnerPackageURL(url string) Option {
	return func(e *Executor) { e.packageURL = url }
}

// WithGitHost overrides the host used to build the token-embedded clone URL.
func WithGitHost(host string) Option {
	return func(e *Executor) { e.gitHost = host }
}

// New builds an Executor over engine, workspace and proc.
func New(engine Engine, workspace Workspace, proc procrunner.Runner, opts ...Option) *Executor {
	e := &Executor{
		engine:     engine,
		workspace:  workspace,
		proc:       proc,
		vcsBin:     "git",
		packageURL: defaultRunnerPackageURL,
		gitHost:    "github.com",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckPrerequisites probes the container engine and workspace tool.
func (e *Executor) CheckPrerequisites(ctx context.Context) (engineOK, workspaceOK bool, message string) {
	engineOK = e.engine.Version(ctx)
	workspaceOK = e.workspace.Version(ctx)

	var missing []string
	if !engineOK {
		missing = append(missing, "container engine")
	}
	if !workspaceOK {
		missing = append(missing, "workspace tool")
	}
	if len(missing) > 0 {
		message = fmt.Sprintf("missing: %s", strings.Join(missing, ", "))
	}
	return engineOK, workspaceOK, message
}

// ExecuteJobRequest parametrizes ExecuteJob.
type ExecuteJobRequest struct {
	RegistrationID string
	Owner          string
	Repo           string
	RunID          int64
	JobID          int64
	Branch         string
	Token          string
	EncodedJIT     string
	// ContainerName distinguishes the named path (non-empty) from the
	// ephemeral path (empty).
	ContainerName string
	Progress      ProgressFunc
}

// ExecuteJob runs the full ephemeral/named-create state machine and
// returns a terminal JobState. Cleanup always runs before returning.
func (e *Executor) ExecuteJob(ctx context.Context, req ExecuteJobRequest) JobState {
	progress := req.Progress
	if progress == nil {
		progress = noopProgress
	}

	state := JobState{
		RegistrationID: req.RegistrationID,
		RunID:          req.RunID,
		JobID:          req.JobID,
		Branch:         req.Branch,
		ContainerName:  req.ContainerName,
		Phase:          PhaseCreated,
		StartedAt:      time.Now().UTC(),
	}

	// The ephemeral path keys its runner install directory by run id (a
	// single container only ever runs one job); the named-create path keys
	// it by job id, matching the reuse path's isolation key so a later
	// attach to the same container never collides.
	installDir := runnerInstallDir(req.RunID)
	if req.ContainerName != "" {
		installDir = runnerInstallDir(req.JobID)
	}

	fail := func(err error) JobState {
		failedDuringSetup := state.Phase == PhaseCloning || state.Phase == PhaseStartingWorkspace
		state.Phase = PhaseFailed
		state.Status = "Failed"
		state.Reason = err.Error()
		state.FinishedAt = time.Now().UTC()

		// A failure during Cloning or StartingWorkspace can still have left a
		// container behind (e.g. the workspace tool created one before
		// reporting a non-success outcome). Remove it best-effort even on
		// the named path: the container was never successfully registered
		// in the pool, so there is nothing worth preserving yet.
		if failedDuringSetup {
			var we *errkinds.WorkspaceError
			if state.ContainerID == "" && errors.As(err, &we) && we.ContainerID != "" {
				state.ContainerID = we.ContainerID
			}
			if state.ContainerID != "" {
				_ = e.engine.Remove(ctx, state.ContainerID)
			}
			if state.ClonePath != "" {
				_ = os.RemoveAll(state.ClonePath)
			}
			return state
		}

		// A failure during InstallingRunner/RunningRunner on the named path
		// must leave the container (and clone) alone; only the job-scoped
		// runner directory is this job's to clean up.
		if state.ContainerName != "" {
			e.removeRunnerDir(ctx, state.ContainerID, state.RemoteUser, installDir)
			return state
		}

		_ = e.CleanupJob(ctx, state)
		return state
	}

	clonePath, err := os.MkdirTemp("", "pks-runner-")
	if err != nil {
		return fail(fmt.Errorf("create clone directory: %w", err))
	}
	state.ClonePath = clonePath
	state.Phase = PhaseCloning

	cloneURL := fmt.Sprintf("https://x-access-token:%s@%s/%s/%s.git", req.Token, e.gitHost, req.Owner, req.Repo)
	progress(fmt.Sprintf("cloning %s", redactCloneURL(cloneURL)))
	if err := e.clone(ctx, cloneURL, req.Branch, clonePath); err != nil {
		return fail(err)
	}

	state.Phase = PhaseStartingWorkspace
	progress("starting workspace")
	upOpts := workspacetool.UpOptions{
		WorkspaceFolder: clonePath,
		RemoteEnv:       map[string]string{"PKS_RUNNER": "true"},
	}
	if req.ContainerName == "" {
		upOpts.RemoveExisting = true
	} else {
		upOpts.IDLabels = map[string]string{
			containerengine.NameLabel:  req.ContainerName,
			containerengine.OwnerLabel: req.Owner,
			containerengine.RepoLabel:  req.Repo,
		}
	}

	upRes, err := e.workspace.Up(ctx, upOpts)
	if err != nil {
		return fail(err)
	}
	state.ContainerID = upRes.ContainerID
	state.RemoteUser = upRes.RemoteUser

	state.Phase = PhaseInstallingRunner
	progress("installing runner")
	if err := e.installRunner(ctx, state.ContainerID, upRes.RemoteUser, installDir); err != nil {
		return fail(err)
	}

	state.Phase = PhaseRunningRunner
	progress("running runner")
	res, err := e.runRunner(ctx, state.ContainerID, upRes.RemoteUser, installDir, req.EncodedJIT)
	if err != nil {
		return fail(err)
	}
	if res.ExitCode != 0 {
		return fail(&errkinds.ToolError{Tool: "run.sh", ExitCode: res.ExitCode, Stderr: res.Stderr})
	}

	state.Phase = PhaseCompleted
	state.Status = "Completed"
	state.FinishedAt = time.Now().UTC()
	// The named path keeps its container and clone for reuse; only the
	// job-scoped runner directory is this job's to remove. The ephemeral
	// path tears down the whole container and clone.
	if state.ContainerName != "" {
		e.removeRunnerDir(ctx, state.ContainerID, state.RemoteUser, installDir)
	} else {
		_ = e.CleanupJob(ctx, state)
	}
	return state
}

// ExecuteJobInExistingContainerRequest parametrizes ExecuteJobInExistingContainer.
type ExecuteJobInExistingContainerRequest struct {
	RegistrationID string
	RunID          int64
	JobID          int64
	Branch         string
	ContainerID    string
	ClonePath      string
	ContainerName  string
	RemoteUser     string
	EncodedJIT     string
	Progress       ProgressFunc
}

// ExecuteJobInExistingContainer attaches to an already-running named
// container: no clone, no workspace-up, no container removal. Only the
// job-scoped runner install directory is cleaned up afterward.
func (e *Executor) ExecuteJobInExistingContainer(ctx context.Context, req ExecuteJobInExistingContainerRequest) JobState {
	progress := req.Progress
	if progress == nil {
		progress = noopProgress
	}

	state := JobState{
		RegistrationID: req.RegistrationID,
		RunID:          req.RunID,
		JobID:          req.JobID,
		Branch:         req.Branch,
		ContainerID:    req.ContainerID,
		ClonePath:      req.ClonePath,
		ContainerName:  req.ContainerName,
		Phase:          PhaseStartingWorkspace,
		StartedAt:      time.Now().UTC(),
	}

	installDir := runnerInstallDir(req.JobID)

	fail := func(err error) JobState {
		state.Phase = PhaseFailed
		state.Status = "Failed"
		state.Reason = err.Error()
		state.FinishedAt = time.Now().UTC()
		e.removeRunnerDir(ctx, state.ContainerID, req.RemoteUser, installDir)
		return state
	}

	state.Phase = PhaseInstallingRunner
	progress("installing runner")
	if err := e.installRunner(ctx, req.ContainerID, req.RemoteUser, installDir); err != nil {
		return fail(err)
	}

	state.Phase = PhaseRunningRunner
	progress("running runner")
	res, err := e.runRunner(ctx, req.ContainerID, req.RemoteUser, installDir, req.EncodedJIT)
	if err != nil {
		return fail(err)
	}
	if res.ExitCode != 0 {
		return fail(&errkinds.ToolError{Tool: "run.sh", ExitCode: res.ExitCode, Stderr: res.Stderr})
	}

	state.Phase = PhaseCompleted
	state.Status = "Completed"
	state.FinishedAt = time.Now().UTC()
	e.removeRunnerDir(ctx, state.ContainerID, req.RemoteUser, installDir)
	return state
}

// DiscoverNamedContainers queries the container engine for containers
// carrying the pool's name label and reads back their identifying labels.
// Containers whose inspect fails are silently skipped.
func (e *Executor) DiscoverNamedContainers(ctx context.Context) []Entry {
	ids := e.engine.ListNamed(ctx)
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		labels, err := e.engine.Inspect(ctx, id)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:        labels.Name,
			ContainerID: id,
			Owner:       labels.Owner,
			Repo:        labels.Repo,
		})
	}
	return entries
}

// IsContainerRunning reports whether containerID is currently running.
func (e *Executor) IsContainerRunning(ctx context.Context, containerID string) bool {
	return e.engine.IsRunning(ctx, containerID)
}

// CleanupJob is idempotent. Named jobs (container_name set) leave the
// container and clone untouched; ephemeral jobs remove both.
func (e *Executor) CleanupJob(ctx context.Context, job JobState) error {
	if job.ContainerName != "" {
		return nil
	}

	if job.ContainerID != "" {
		if err := e.engine.Remove(ctx, job.ContainerID); err != nil {
			return err
		}
	}
	if job.ClonePath != "" {
		if err := os.RemoveAll(job.ClonePath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (e *Executor) removeRunnerDir(ctx context.Context, containerID, remoteUser, dir string) {
	_, _ = e.engine.Exec(ctx, containerID, remoteUser, []string{"rm", "-rf", dir})
}

func (e *Executor) clone(ctx context.Context, cloneURL, branch, dir string) error {
	res, err := e.proc.Run(ctx, procrunner.Command{
		Path: e.vcsBin,
		Args: []string{"clone", "--depth", "1", "--single-branch", "--branch", branch, cloneURL, dir},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &errkinds.ToolError{Tool: e.vcsBin, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

func (e *Executor) installRunner(ctx context.Context, containerID, remoteUser, dir string) error {
	script := fmt.Sprintf(
		"mkdir -p %s && curl -fsSL %s -o %s/runner.tar.gz && tar xzf %s/runner.tar.gz -C %s && chmod +x %s/*.sh",
		dir, e.packageURL, dir, dir, dir, dir,
	)
	res, err := e.engine.Exec(ctx, containerID, remoteUser, []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &errkinds.ToolError{Tool: "install-runner", ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

func (e *Executor) runRunner(ctx context.Context, containerID, remoteUser, dir, encodedJIT string) (procrunner.Result, error) {
	script := fmt.Sprintf("cd %s && ./run.sh --jitconfig %q", dir, encodedJIT)
	return e.engine.Exec(ctx, containerID, remoteUser, []string{"sh", "-c", script})
}

func runnerInstallDir(uniqueID int64) string {
	return filepath.ToSlash(fmt.Sprintf("/tmp/actions-runner-%d", uniqueID))
}

// redactCloneURL replaces the embedded token with a placeholder for
// progress messages; it never touches the URL actually passed to the
// revision-control tool.
func redactCloneURL(url string) string {
	at := strings.Index(url, "@")
	scheme := strings.Index(url, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
