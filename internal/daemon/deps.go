package daemon

import (
	"context"

	"github.com/pks-run/runnerd/internal/executor"
	"github.com/pks-run/runnerd/internal/forge"
	"github.com/pks-run/runnerd/internal/store"
)

// CredentialProvider resolves the forge access token the daemon uses for
// every call this run. Credential acquisition and storage are out of the
// core's scope; the daemon only consumes the opaque result.
type CredentialProvider func(ctx context.Context) (string, error)

// ConfigStore is the subset of *store.Store the daemon consults at startup.
type ConfigStore interface {
	Load() store.DaemonConfiguration
}

// Forge is the subset of *forge.Client the daemon drives.
type Forge interface {
	ListQueuedRuns(ctx context.Context, owner, repo string) ([]forge.QueuedRun, error)
	ListJobsForRun(ctx context.Context, owner, repo string, runID int64) ([]forge.QueuedJob, error)
	GenerateJitConfig(ctx context.Context, owner, repo, runnerName string, labels []string) (forge.JitCredential, error)
}

// JobExecutor is the subset of *executor.Executor the daemon drives.
type JobExecutor interface {
	CheckPrerequisites(ctx context.Context) (engineOK, workspaceOK bool, message string)
	ExecuteJob(ctx context.Context, req executor.ExecuteJobRequest) executor.JobState
	ExecuteJobInExistingContainer(ctx context.Context, req executor.ExecuteJobInExistingContainerRequest) executor.JobState
	DiscoverNamedContainers(ctx context.Context) []executor.Entry
	IsContainerRunning(ctx context.Context, containerID string) bool
}
