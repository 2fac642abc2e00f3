package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndTryGet(t *testing.T) {
	p := New()
	p.Register(Entry{Name: "Svc-Dev", ContainerID: "c1"})

	e, ok := p.TryGet("svc-dev")
	require.True(t, ok)
	assert.Equal(t, "c1", e.ContainerID)

	p.Remove("SVC-DEV")
	_, ok = p.TryGet("svc-dev")
	assert.False(t, ok)
}

func TestAcquire_SucceedsForUnregisteredName(t *testing.T) {
	p := New()

	h, err := p.Acquire(context.Background(), "fresh-name")
	require.NoError(t, err)
	require.NotNil(t, h)
	h.Release()
}

func TestAcquire_ExclusivePerName(t *testing.T) {
	p := New()

	h1, err := p.Acquire(context.Background(), "svc-dev")
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		h2, err := p.Acquire(context.Background(), "svc-dev")
		require.NoError(t, err)
		acquired.Store(true)
		h2.Release()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load(), "second acquire should block while first is held")

	h1.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
	assert.True(t, acquired.Load())
}

func TestAcquire_DifferentNamesDoNotBlockEachOther(t *testing.T) {
	p := New()

	h1, err := p.Acquire(context.Background(), "svc-a")
	require.NoError(t, err)
	defer h1.Release()

	done := make(chan struct{})
	go func() {
		h2, err := p.Acquire(context.Background(), "svc-b")
		require.NoError(t, err)
		h2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire of a different name blocked")
	}
}

func TestAcquire_CancellationReturnsContextError(t *testing.T) {
	p := New()

	h1, err := p.Acquire(context.Background(), "svc-dev")
	require.NoError(t, err)
	defer h1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx, "svc-dev")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelease_ClearsInUseOnLaterRegisteredEntry(t *testing.T) {
	p := New()

	h, err := p.Acquire(context.Background(), "svc-dev")
	require.NoError(t, err)

	p.Register(Entry{Name: "svc-dev", ContainerID: "c1"})
	e, _ := p.TryGet("svc-dev")
	assert.True(t, e.InUse)

	h.Release()
	e, _ = p.TryGet("svc-dev")
	assert.False(t, e.InUse)
}
