package containerengine

import (
	"context"
	"errors"
	"os/exec"

	"github.com/pks-run/runnerd/internal/procrunner"
)

// ErrNoRuntime is returned when no container engine binary is found.
var ErrNoRuntime = errors.New("no container engine found (need docker or podman)")

// Detect finds an available container engine on the executable search
// path, preferring docker over podman, and verifies it actually works.
func Detect(ctx context.Context, runner procrunner.Runner) (*Engine, error) {
	for _, bin := range []string{"docker", "podman"} {
		if _, err := exec.LookPath(bin); err != nil {
			continue
		}
		e := New(bin, runner)
		if e.Version(ctx) {
			return e, nil
		}
	}
	return nil, ErrNoRuntime
}
