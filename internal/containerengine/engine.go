// Package containerengine wraps the host's container engine (docker or
// podman) as external CLI subcommands, the way the forge's workspace
// tooling expects it to be driven: no Engine API client, just the commands
// an operator would type by hand.
package containerengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pks-run/runnerd/internal/errkinds"
	"github.com/pks-run/runnerd/internal/procrunner"
)

// NameLabel, OwnerLabel and RepoLabel are the identifying labels applied to
// named containers and used by discovery.
const (
	NameLabel  = "pks.runner.name"
	OwnerLabel = "pks.runner.owner"
	RepoLabel  = "pks.runner.repo"
)

// Engine drives the host container engine via its CLI.
type Engine struct {
	bin string
	run procrunner.Runner
}

// New returns an Engine for the given binary ("docker" or "podman").
func New(bin string, runner procrunner.Runner) *Engine {
	return &Engine{bin: bin, run: runner}
}

// Version probes the engine's availability via its version subcommand.
// Any launch failure or non-zero exit marks the engine unavailable.
func (e *Engine) Version(ctx context.Context) bool {
	res, err := e.run.Run(ctx, procrunner.Command{Path: e.bin, Args: []string{"version"}})
	return err == nil && res.ExitCode == 0
}

// ListNamed returns the short container IDs of every container carrying the
// pks.runner.name label. An engine failure yields an empty list.
func (e *Engine) ListNamed(ctx context.Context) []string {
	res, err := e.run.Run(ctx, procrunner.Command{
		Path: e.bin,
		Args: []string{"ps", "--filter", "label=" + NameLabel, "--format", "{{.ID}}"},
	})
	if err != nil || res.ExitCode != 0 {
		return nil
	}

	var ids []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids
}

// Labels holds the three identifying labels read back from a container.
type Labels struct {
	Name  string
	Owner string
	Repo  string
}

// Inspect reads the three identifying labels off containerID. Failure
// (including a container that no longer exists) is ignorable by callers
// doing discovery: they skip the container.
func (e *Engine) Inspect(ctx context.Context, containerID string) (Labels, error) {
	format := fmt.Sprintf("{{.Config.Labels.%s}}|{{.Config.Labels.%s}}|{{.Config.Labels.%s}}",
		labelKey(NameLabel), labelKey(OwnerLabel), labelKey(RepoLabel))

	res, err := e.run.Run(ctx, procrunner.Command{
		Path: e.bin,
		Args: []string{"inspect", "-f", format, containerID},
	})
	if err != nil {
		return Labels{}, err
	}
	if res.ExitCode != 0 {
		return Labels{}, &errkinds.ToolError{Tool: e.bin, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	parts := strings.SplitN(strings.TrimSpace(res.Stdout), "|", 3)
	if len(parts) != 3 {
		return Labels{}, fmt.Errorf("unexpected inspect output: %q", res.Stdout)
	}
	return Labels{Name: parts[0], Owner: parts[1], Repo: parts[2]}, nil
}

// labelKey converts a dotted label name into the underscore form the Go
// template engine inside `docker inspect` requires for map field access.
func labelKey(label string) string {
	return strings.ReplaceAll(label, ".", "_")
}

// IsRunning reports whether containerID is currently running.
func (e *Engine) IsRunning(ctx context.Context, containerID string) bool {
	res, err := e.run.Run(ctx, procrunner.Command{
		Path: e.bin,
		Args: []string{"inspect", "-f", "{{.State.Running}}", containerID},
	})
	if err != nil || res.ExitCode != 0 {
		return false
	}
	running, _ := strconv.ParseBool(strings.TrimSpace(res.Stdout))
	return running
}

// Exec runs cmd inside containerID as remoteUser.
func (e *Engine) Exec(ctx context.Context, containerID, remoteUser string, cmd []string) (procrunner.Result, error) {
	args := append([]string{"exec", "-u", remoteUser, containerID}, cmd...)
	return e.run.Run(ctx, procrunner.Command{Path: e.bin, Args: args})
}

// Remove force-removes containerID. "No such container" is ignorable.
func (e *Engine) Remove(ctx context.Context, containerID string) error {
	res, err := e.run.Run(ctx, procrunner.Command{Path: e.bin, Args: []string{"rm", "-f", containerID}})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such container") {
		return &errkinds.ToolError{Tool: e.bin, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}
