// Package workspacetool wraps the external workspace-creation tool
// (devcontainer CLI) that turns a repository checkout into a running
// container.
package workspacetool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pks-run/runnerd/internal/errkinds"
	"github.com/pks-run/runnerd/internal/procrunner"
)

// Tool drives the workspace tool's CLI.
type Tool struct {
	bin string
	run procrunner.Runner
}

// New returns a Tool for the given binary.
func New(bin string, runner procrunner.Runner) *Tool {
	return &Tool{bin: bin, run: runner}
}

// Version probes availability via the tool's --version flag.
func (t *Tool) Version(ctx context.Context) bool {
	res, err := t.run.Run(ctx, procrunner.Command{Path: t.bin, Args: []string{"--version"}})
	return err == nil && res.ExitCode == 0
}

// UpResult is the parsed outcome of a successful `up` invocation.
type UpResult struct {
	ContainerID string
	RemoteUser  string
}

type upOutput struct {
	Outcome     string `json:"outcome"`
	ContainerID string `json:"containerId"`
	RemoteUser  string `json:"remoteUser"`
}

// UpOptions configures one `up` invocation.
type UpOptions struct {
	WorkspaceFolder string
	// IDLabels are applied via repeated --id-label NAME=VALUE pairs. Used
	// on the named path to tag the container for later discovery.
	IDLabels map[string]string
	// RemoveExisting passes --remove-existing-container. Used on the
	// ephemeral path only; the named path omits it so the container
	// survives.
	RemoveExisting bool
	RemoteEnv      map[string]string
}

// Up provisions (or attaches to) a workspace container for folder and
// parses its JSON result. A zero exit code with outcome != "success" or a
// missing container id is a WorkspaceError.
func (t *Tool) Up(ctx context.Context, opts UpOptions) (UpResult, error) {
	args := []string{"up", "--workspace-folder", opts.WorkspaceFolder, "--log-format", "json"}

	if opts.RemoveExisting {
		args = append(args, "--remove-existing-container")
	}
	for k, v := range opts.IDLabels {
		args = append(args, "--id-label", fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range opts.RemoteEnv {
		args = append(args, "--remote-env", fmt.Sprintf("%s=%s", k, v))
	}

	res, err := t.run.Run(ctx, procrunner.Command{Path: t.bin, Args: args})
	if err != nil {
		return UpResult{}, err
	}
	if res.ExitCode != 0 {
		return UpResult{}, &errkinds.ToolError{Tool: t.bin, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	var out upOutput
	if jsonErr := lastJSONObject(res.Stdout, &out); jsonErr != nil {
		return UpResult{}, &errkinds.WorkspaceError{Reason: "could not parse up output: " + jsonErr.Error()}
	}
	if out.Outcome != "success" {
		return UpResult{}, &errkinds.WorkspaceError{Reason: fmt.Sprintf("outcome %q", out.Outcome), ContainerID: out.ContainerID}
	}
	if out.ContainerID == "" {
		return UpResult{}, &errkinds.WorkspaceError{Reason: "missing containerId"}
	}

	return UpResult{ContainerID: out.ContainerID, RemoteUser: out.RemoteUser}, nil
}

// lastJSONObject decodes the final line of the tool's --log-format json
// output, which is where the devcontainer CLI places its summary result
// (preceding lines are progress events).
func lastJSONObject(output string, v any) error {
	dec := json.NewDecoder(strings.NewReader(output))
	var last json.RawMessage
	for {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			break
		}
		last = msg
	}
	if last == nil {
		return fmt.Errorf("no JSON object found in output")
	}
	return json.Unmarshal(last, v)
}
