package procrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesExitCodeAndOutput(t *testing.T) {
	r := New()

	res, err := r.Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err 1>&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestRun_LaunchFailureReturnsError(t *testing.T) {
	r := New()

	_, err := r.Run(context.Background(), Command{Path: "definitely-not-a-real-binary-xyz"})
	assert.Error(t, err)
}

func TestRun_CancellationKillsProcess(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		res, err = r.Run(ctx, Command{
			Path:        "sh",
			Args:        []string{"-c", "trap '' TERM; sleep 30"},
			CancelGrace: 200 * time.Millisecond,
		})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		require.NoError(t, err)
		assert.NotEqual(t, 0, res.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
