// Package daemon implements the dispatch loop: polling configured
// repositories for queued work, routing jobs to ephemeral or named
// containers, enforcing concurrency, and reporting through events.
package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pks-run/runnerd/internal/errkinds"
	"github.com/pks-run/runnerd/internal/events"
	"github.com/pks-run/runnerd/internal/executor"
	"github.com/pks-run/runnerd/internal/forge"
	"github.com/pks-run/runnerd/internal/pool"
	"github.com/pks-run/runnerd/internal/store"
	"golang.org/x/sync/semaphore"
)

// Daemon is the polling dispatch loop. One Daemon corresponds to one
// configuration document and one forge credential.
type Daemon struct {
	store      ConfigStore
	forge      Forge
	exec       JobExecutor
	pool       *pool.Pool
	bus        *events.Bus
	credential CredentialProvider

	mu            sync.RWMutex
	isRunning     bool
	startedAt     time.Time
	active        map[string]executor.JobState
	completedJobs int
	failedJobs    int
	fallbackCount int

	shutdownRequested atomic.Bool
	wg                sync.WaitGroup
}

// New builds a Daemon. bus may be nil, in which case events are discarded.
func New(cfg ConfigStore, f Forge, ex JobExecutor, p *pool.Pool, bus *events.Bus, credential CredentialProvider) *Daemon {
	if bus == nil {
		bus = events.NewBus(64)
	}
	return &Daemon{
		store:      cfg,
		forge:      f,
		exec:       ex,
		pool:       p,
		bus:        bus,
		credential: credential,
		active:     make(map[string]executor.JobState),
	}
}

// Events returns a subscription to the daemon's event bus.
func (d *Daemon) Events() <-chan events.Event {
	return d.bus.Subscribe()
}

// RequestShutdown is idempotent. The daemon stops accepting new work and
// drains its active jobs before Run returns.
func (d *Daemon) RequestShutdown() {
	d.shutdownRequested.Store(true)
}

// Status is the snapshot GetStatus returns.
type Status struct {
	IsRunning     bool
	StartedAt     time.Time
	Active        []executor.JobState
	Completed     int
	Failed        int
	FallbackCount int
}

// GetStatus returns a point-in-time snapshot of the daemon's state.
func (d *Daemon) GetStatus() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	active := make([]executor.JobState, 0, len(d.active))
	for _, s := range d.active {
		active = append(active, s)
	}
	return Status{
		IsRunning:     d.isRunning,
		StartedAt:     d.startedAt,
		Active:        active,
		Completed:     d.completedJobs,
		Failed:        d.failedJobs,
		FallbackCount: d.fallbackCount,
	}
}

// Run executes startup and the main poll loop. It returns when ctx is
// cancelled hard, or when a shutdown has been requested and the active
// set has drained to empty.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.store.Load()

	enabled := make([]store.RunnerRegistration, 0, len(cfg.Registrations))
	for _, r := range cfg.Registrations {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		d.bus.Publish(events.Event{Type: events.StatusChanged, Message: "idle: no enabled registrations"})
		return nil
	}

	token, err := d.credential(ctx)
	if err != nil {
		return &errkinds.CredentialError{Reason: err.Error()}
	}

	discovered := d.exec.DiscoverNamedContainers(ctx)
	now := time.Now().UTC()
	for _, e := range discovered {
		d.pool.Register(pool.Entry{
			Name:        e.Name,
			ContainerID: e.ContainerID,
			Owner:       e.Owner,
			Repo:        e.Repo,
			CreatedAt:   now,
			LastUsedAt:  now,
		})
	}
	log.Printf("daemon: discovered %d named container(s)", len(discovered))

	d.mu.Lock()
	d.isRunning = true
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()
	d.bus.Publish(events.Event{Type: events.StatusChanged, Message: "running"})

	defer func() {
		d.mu.Lock()
		d.isRunning = false
		d.mu.Unlock()
		d.bus.Publish(events.Event{Type: events.StatusChanged, Message: "stopped"})
	}()

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs))
	reserved := newReservedLabelSet(store.DefaultDistinguishingLabel, cfg.ReservedLabels)
	pollInterval := time.Duration(cfg.PollingIntervalSeconds) * time.Second

poll:
	for {
		if d.shutdownRequested.Load() && d.activeCount() == 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		for _, reg := range enabled {
			if d.shutdownRequested.Load() || ctx.Err() != nil {
				break
			}
			if d.activeCount() >= cfg.MaxConcurrentJobs {
				continue
			}

			runs, err := d.forge.ListQueuedRuns(ctx, reg.Owner, reg.Repo)
			if err != nil {
				log.Printf("daemon: list queued runs for %s/%s: %v", reg.Owner, reg.Repo, err)
				continue
			}

			for _, run := range runs {
				if d.activeCount() >= cfg.MaxConcurrentJobs || d.shutdownRequested.Load() {
					break
				}

				jobs, err := d.forge.ListJobsForRun(ctx, reg.Owner, reg.Repo, run.ID)
				if err != nil {
					log.Printf("daemon: list jobs for %s/%s run %d: %v (falling back to run-level dispatch)", reg.Owner, reg.Repo, run.ID, err)
					d.mu.Lock()
					d.fallbackCount++
					d.mu.Unlock()
					jobs = []forge.QueuedJob{{RunID: run.ID, Name: run.Name, Labels: run.Labels}}
				}

				for _, job := range jobs {
					if d.activeCount() >= cfg.MaxConcurrentJobs || d.shutdownRequested.Load() {
						break
					}
					if !sem.TryAcquire(1) {
						// Capacity is shared 1:1 with activeCount, so no later
						// job in this pass can acquire either; breaking out of
						// the jobs loop here is equivalent to skipping each
						// remaining job in turn.
						break
					}
					d.wg.Add(1)
					go d.runWorker(ctx, sem, reg, run, job, token, reserved)
				}
			}
		}

		select {
		case <-ctx.Done():
			break poll
		case <-time.After(pollInterval):
		}
	}

	if ctx.Err() == nil {
		d.wg.Wait()
	}
	return nil
}

func (d *Daemon) activeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.active)
}

func (d *Daemon) runWorker(ctx context.Context, sem *semaphore.Weighted, reg store.RunnerRegistration, run forge.QueuedRun, job forge.QueuedJob, token string, reserved reservedLabelSet) {
	defer d.wg.Done()
	defer sem.Release(1)

	id := ulid.Make().String()
	containerName := routeJob(job.Labels, reserved)
	startedAt := time.Now().UTC()

	d.mu.Lock()
	d.active[id] = executor.JobState{
		RegistrationID: reg.ID,
		RunID:          run.ID,
		JobID:          job.ID,
		Branch:         run.HeadBranch,
		ContainerName:  containerName,
		Phase:          executor.PhaseCreated,
		StartedAt:      startedAt,
	}
	d.mu.Unlock()
	d.bus.Publish(events.Event{Type: events.JobStarted, RegistrationID: reg.ID, RunID: run.ID, JobID: job.ID, ContainerName: containerName})

	final := d.executeRecovered(ctx, reg, run, job, token, containerName, startedAt)

	d.mu.Lock()
	delete(d.active, id)
	if final.Status == "Completed" {
		d.completedJobs++
	} else {
		d.failedJobs++
	}
	d.mu.Unlock()
	d.bus.Publish(events.Event{
		Type: events.JobCompleted, RegistrationID: reg.ID, RunID: run.ID, JobID: job.ID,
		ContainerName: containerName, Status: final.Status, Reason: final.Reason,
	})
}

// executeRecovered is the defensive last line of §7: C5 maps its own
// errors to a Failed JobState and never returns one by escaping error, so
// the only way an error escapes execute is a panic (e.g. a nil dereference
// somewhere in the executor). Left unrecovered, that panic would crash the
// goroutine's whole process, taking every other in-flight job down with it
// and defeating the drain guarantees of §5. Recovering here converts it
// into an ordinary Failed JobState instead.
func (d *Daemon) executeRecovered(ctx context.Context, reg store.RunnerRegistration, run forge.QueuedRun, job forge.QueuedJob, token, containerName string, startedAt time.Time) (final executor.JobState) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("daemon: recovered panic in worker for %s/%s run=%d job=%d: %v", reg.Owner, reg.Repo, run.ID, job.ID, r)
			final = executor.JobState{
				RegistrationID: reg.ID, RunID: run.ID, JobID: job.ID, Branch: run.HeadBranch,
				ContainerName: containerName, Phase: executor.PhaseFailed, Status: "Failed",
				Reason: fmt.Sprintf("panic: %v", r), StartedAt: startedAt, FinishedAt: time.Now().UTC(),
			}
		}
	}()
	return d.execute(ctx, reg, run, job, token, containerName, startedAt)
}

// execute runs the reuse/create/ephemeral dispatch decision for one job and
// returns its terminal JobState. A JIT failure or a pool-acquire failure is
// collapsed into a Failed JobState; only a genuine panic escapes, which
// executeRecovered's caller is responsible for catching.
func (d *Daemon) execute(ctx context.Context, reg store.RunnerRegistration, run forge.QueuedRun, job forge.QueuedJob, token, containerName string, startedAt time.Time) executor.JobState {
	failed := func(reason string) executor.JobState {
		return executor.JobState{
			RegistrationID: reg.ID, RunID: run.ID, JobID: job.ID, Branch: run.HeadBranch,
			ContainerName: containerName, Phase: executor.PhaseFailed, Status: "Failed",
			Reason: reason, StartedAt: startedAt, FinishedAt: time.Now().UTC(),
		}
	}

	if containerName == "" {
		cred, err := d.forge.GenerateJitConfig(ctx, reg.Owner, reg.Repo, ulid.Make().String(), job.Labels)
		if err != nil {
			return failed(err.Error())
		}
		return d.exec.ExecuteJob(ctx, executor.ExecuteJobRequest{
			RegistrationID: reg.ID, Owner: reg.Owner, Repo: reg.Repo,
			RunID: run.ID, JobID: job.ID, Branch: run.HeadBranch, Token: token, EncodedJIT: cred.EncodedJIT,
		})
	}

	handle, err := d.pool.Acquire(ctx, containerName)
	if err != nil {
		return failed(err.Error())
	}
	defer handle.Release()

	cred, err := d.forge.GenerateJitConfig(ctx, reg.Owner, reg.Repo, containerName, job.Labels)
	if err != nil {
		return failed(err.Error())
	}

	if entry, ok := d.pool.TryGet(containerName); ok && d.exec.IsContainerRunning(ctx, entry.ContainerID) {
		return d.exec.ExecuteJobInExistingContainer(ctx, executor.ExecuteJobInExistingContainerRequest{
			RegistrationID: reg.ID, RunID: run.ID, JobID: job.ID, Branch: run.HeadBranch,
			ContainerID: entry.ContainerID, ClonePath: entry.ClonePath, ContainerName: containerName,
			RemoteUser: entry.RemoteUser, EncodedJIT: cred.EncodedJIT,
		})
	}

	state := d.exec.ExecuteJob(ctx, executor.ExecuteJobRequest{
		RegistrationID: reg.ID, Owner: reg.Owner, Repo: reg.Repo,
		RunID: run.ID, JobID: job.ID, Branch: run.HeadBranch, Token: token, EncodedJIT: cred.EncodedJIT,
		ContainerName: containerName,
	})
	if state.Status == "Completed" {
		now := time.Now().UTC()
		d.pool.Register(pool.Entry{
			Name: containerName, ContainerID: state.ContainerID, ClonePath: state.ClonePath,
			RemoteUser: state.RemoteUser, Owner: reg.Owner, Repo: reg.Repo,
			CreatedAt: now, LastUsedAt: now,
		})
	}
	return state
}
