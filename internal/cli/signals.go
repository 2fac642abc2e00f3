package cli

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalHandler turns the first SIGINT/SIGTERM into a soft-shutdown
// callback and a second into a hard context cancellation, so an operator
// can request a drain-then-exit but still force an immediate stop.
type SignalHandler struct {
	signals chan os.Signal

	mu       sync.Mutex
	soft     func()
	hard     func()
	softDone bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSignalHandler creates a handler invoking soft on the first signal and
// hard on the second; after the second signal the handler stops listening.
func NewSignalHandler(soft, hard func()) *SignalHandler {
	return &SignalHandler{
		signals: make(chan os.Signal, 1),
		soft:    soft,
		hard:    hard,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins listening for SIGINT/SIGTERM.
func (h *SignalHandler) Start() {
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)

	started := make(chan struct{})
	go func() {
		defer close(h.done)
		close(started)

		for {
			select {
			case sig := <-h.signals:
				log.Printf("runnerd: received signal %v", sig)
				h.mu.Lock()
				already := h.softDone
				h.softDone = true
				h.mu.Unlock()

				if !already {
					h.soft()
					continue
				}
				h.hard()
				return
			case <-h.stopCh:
				return
			}
		}
	}()
	<-started
}

// Stop stops listening for signals.
func (h *SignalHandler) Stop() {
	signal.Stop(h.signals)
	h.stopOnce.Do(func() { close(h.stopCh) })
}
