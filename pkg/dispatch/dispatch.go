// Package dispatch provides a bounded executor for blocking driver calls.
//
// Drivers for synchronous protocols block the goroutine that calls them for
// the full round trip. Funneling those calls through a fixed set of worker
// goroutines keeps the number of simultaneously blocked threads bounded and
// lets callers await completion or abandon the wait through their context.
// A dispatcher is typically shared by every connection of one pool, and may
// be shared across pools.
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/driverpool/pkg/config"
	"github.com/ajitpratap0/driverpool/pkg/xerrors"
)

type task struct {
	fn   func() error
	done chan error
}

// Dispatcher runs blocking operations on a fixed set of worker goroutines.
// It is safe for concurrent use. After Close, submissions fail with a
// dispatch error; calls already accepted still run to completion.
type Dispatcher struct {
	tasks  chan task
	logger *zap.Logger

	mu     sync.RWMutex // guards closed and sends on tasks
	closed bool

	wg sync.WaitGroup
}

// New creates a dispatcher with the given worker count and queue depth.
func New(cfg *config.DispatcherConfig, logger *zap.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		tasks:  make(chan task, cfg.QueueDepth),
		logger: logger.With(zap.String("component", "dispatch")),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	d.logger.Debug("dispatcher started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_depth", cfg.QueueDepth))
	return d, nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		t.done <- t.fn()
	}
}

// Submit queues fn for execution on a worker and returns a channel that
// receives fn's result exactly once. The ctx bounds only the wait for queue
// space; once accepted, fn runs regardless of later cancellation.
func (d *Dispatcher) Submit(ctx context.Context, fn func() error) (<-chan error, error) {
	t := task{fn: fn, done: make(chan error, 1)}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, xerrors.New(xerrors.ErrorTypeDispatch, "dispatcher is closed")
	}

	select {
	case d.tasks <- t:
		d.mu.RUnlock()
		return t.done, nil
	case <-ctx.Done():
		d.mu.RUnlock()
		return nil, ctx.Err()
	}
}

// Run submits fn and waits for it to finish, returning fn's error. If ctx is
// cancelled while waiting, Run returns the context error; fn still runs to
// completion on its worker and its result is discarded.
func (d *Dispatcher) Run(ctx context.Context, fn func() error) error {
	done, err := d.Submit(ctx, fn)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatcher from accepting new work. Calls already queued
// or running are unaffected. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.tasks)
	d.logger.Debug("dispatcher closed")
}

// Wait blocks until every accepted call has finished. Callers must Close
// first or Wait never returns.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
