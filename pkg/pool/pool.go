// Package pool provides a bounded pool of reusable connections to a
// blocking, synchronous data-access driver.
//
// The pool hides connection establishment cost behind a free list, enforces
// a capacity ceiling, and keeps every potentially slow driver operation
// (connect, disconnect) off the caller's goroutine by routing it through a
// dispatch.Dispatcher. Bookkeeping mutations (moving connections between the
// free and used sets, capacity accounting) happen under a single mutex with
// no blocking call inside, so no two callers can observe a connection in
// both sets or in neither.
//
// Shutdown is two-phase: Close stops admissions and begins closing idle
// connections, WaitClosed suspends until every outstanding connection has
// been returned and disposed. Holders of connections at Close time keep
// them; the pool never reclaims a connection mid-use.
//
// Example usage:
//
//	cfg := config.NewPoolConfig()
//	p, err := pool.New(ctx, cfg, connector)
//	if err != nil {
//	    return err
//	}
//
//	err = p.With(ctx, func(ctx context.Context, conn *pool.Conn) error {
//	    return useConn(ctx, conn)
//	})
//
//	p.Close()
//	err = p.WaitClosed(ctx)
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/driverpool/pkg/config"
	"github.com/ajitpratap0/driverpool/pkg/dispatch"
	"github.com/ajitpratap0/driverpool/pkg/driver"
	"github.com/ajitpratap0/driverpool/pkg/logger"
	"github.com/ajitpratap0/driverpool/pkg/xerrors"
)

// waiter is one suspended Acquire call. The channel has capacity one and
// receives at most one wake token; a woken waiter re-runs the acquire loop
// rather than being handed a connection directly.
type waiter struct {
	ch chan struct{}
}

// Pool is a bounded collection of reusable driver connections. It is safe
// for concurrent use by multiple goroutines.
type Pool struct {
	cfg       config.PoolConfig
	dispCfg   *config.DispatcherConfig
	connector driver.Connector
	disp      *dispatch.Dispatcher
	ownsDisp  bool
	logger    *zap.Logger
	metrics   *collector

	connSeq  uint64
	dispOnce sync.Once

	mu            sync.Mutex
	free          []*Conn
	used          map[*Conn]struct{}
	waiters       []*waiter
	opening       int // connects in flight, counted against capacity
	pendingClose  int // disconnects in flight
	closing       bool
	closed        bool
	replenishing  bool
	drainCh       chan struct{}
	drainSignaled bool

	created   int64
	reused    int64
	discarded int64
	waitCount int64
}

// Option customizes pool construction.
type Option func(*Pool)

// WithLogger sets the logger used by the pool and its connections.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithDispatcher supplies a shared blocking-call executor. The pool never
// closes a supplied dispatcher; ownership stays with the caller, who must
// keep it alive until WaitClosed completes.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(p *Pool) {
		p.disp = d
		p.ownsDisp = false
	}
}

// WithDispatcherConfig sets the configuration for the pool-owned dispatcher.
// It has no effect when WithDispatcher is also given.
func WithDispatcherConfig(cfg *config.DispatcherConfig) Option {
	return func(p *Pool) { p.dispCfg = cfg }
}

// New creates a pool and eagerly establishes MinSize connections in
// parallel, bounding cold-start latency to one round trip. It fails with a
// configuration error when the size constraints are violated, and with the
// driver's error when any eager connect fails (connections already
// established are disposed).
func New(ctx context.Context, cfg *config.PoolConfig, connector driver.Connector, opts ...Option) (*Pool, error) {
	if connector == nil {
		return nil, xerrors.New(xerrors.ErrorTypeConfig, "connector is required")
	}
	if cfg == nil {
		cfg = config.NewPoolConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:       *cfg,
		dispCfg:   config.NewDispatcherConfig(),
		connector: connector,
		used:      make(map[*Conn]struct{}),
	}
	if p.cfg.Name == "" {
		p.cfg.Name = "pool"
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logger.Get()
	}
	p.logger = p.logger.With(zap.String("pool", p.cfg.Name))

	if p.disp == nil {
		d, err := dispatch.New(p.dispCfg, p.logger)
		if err != nil {
			return nil, err
		}
		p.disp = d
		p.ownsDisp = true
	}
	p.metrics = newCollector(p.cfg.Name)

	if err := p.fillInitial(ctx); err != nil {
		if p.ownsDisp {
			p.disp.Close()
			p.disp.Wait()
		}
		return nil, err
	}

	p.logger.Info("pool started",
		zap.Int("min_size", p.cfg.MinSize),
		zap.Int("max_size", p.cfg.MaxSize),
		zap.Bool("echo", p.cfg.Echo))
	return p, nil
}

// fillInitial establishes the MinSize eager connections concurrently.
func (p *Pool) fillInitial(ctx context.Context) error {
	if p.cfg.MinSize == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.MinSize; i++ {
		g.Go(func() error {
			c, err := p.connect(gctx)
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.free = append(p.free, c)
			p.created++
			p.metrics.created.Inc()
			p.updateGaugesLocked()
			p.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.mu.Lock()
		conns := p.free
		p.free = nil
		p.mu.Unlock()
		for _, c := range conns {
			_ = c.Close(context.Background())
		}
		return err
	}
	return nil
}

// connect establishes one driver session through the dispatcher. A session
// that completes after ctx is cancelled is closed rather than leaked.
func (p *Pool) connect(ctx context.Context) (*Conn, error) {
	var h driver.Handle
	done, err := p.disp.Submit(ctx, func() error {
		var err error
		h, err = p.connector.Connect(ctx)
		return err
	})
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeDispatch, "connect dispatch failed")
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, xerrors.Wrap(err, xerrors.ErrorTypeConnection, "connect failed")
		}
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil && h != nil {
				_ = h.Close(context.Background())
			}
		}()
		return nil, ctx.Err()
	}

	id := fmt.Sprintf("%s-conn-%d", p.cfg.Name, atomic.AddUint64(&p.connSeq, 1))
	return newConn(id, h, p.disp, p.cfg.Echo, p.logger), nil
}

// Acquire returns an open connection, establishing one when the pool has
// spare capacity or suspending until a holder releases. It fails with a
// closed error once Close has been called, and with the context's error on
// cancellation or timeout; a cancelled wait consumes no capacity.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	for {
		p.mu.Lock()
		if p.closing || p.closed {
			p.mu.Unlock()
			return nil, xerrors.New(xerrors.ErrorTypeClosed, "pool is closed")
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return nil, err
		}

		// Serve from the free list, dropping connections that failed
		// driver-side while idle.
		if len(p.free) > 0 {
			c := p.free[0]
			p.free = p.free[1:]

			if c.Closed() {
				p.discarded++
				p.metrics.discarded.Inc()
				p.pendingClose++
				replenish := p.sizeLocked() < p.cfg.MinSize
				p.updateGaugesLocked()
				p.mu.Unlock()

				go p.finishClose(c)
				if replenish {
					p.triggerReplenish()
				}
				continue
			}

			p.used[c] = struct{}{}
			p.reused++
			p.metrics.reused.Inc()
			p.updateGaugesLocked()
			p.mu.Unlock()

			if c.echo {
				c.logger.Debug("connection acquired", zap.String("source", "free"))
			}
			return c, nil
		}

		// Below the ceiling: establish a new connection. The opening counter
		// reserves the slot so concurrent acquires cannot overshoot MaxSize
		// while the blocking connect runs outside the lock.
		if p.sizeLocked() < p.cfg.MaxSize {
			p.opening++
			p.updateGaugesLocked()
			p.mu.Unlock()

			c, err := p.connect(ctx)

			p.mu.Lock()
			p.opening--
			if err != nil {
				// The reserved slot is free again; let a waiter retry.
				p.wakeWaiterLocked()
				p.maybeSignalDrainedLocked()
				p.updateGaugesLocked()
				p.mu.Unlock()
				return nil, err
			}
			if p.closing {
				p.pendingClose++
				p.updateGaugesLocked()
				p.mu.Unlock()
				go p.finishClose(c)
				return nil, xerrors.New(xerrors.ErrorTypeClosed, "pool is closed")
			}

			p.used[c] = struct{}{}
			p.created++
			p.metrics.created.Inc()
			p.updateGaugesLocked()
			p.mu.Unlock()

			if c.echo {
				c.logger.Debug("connection acquired", zap.String("source", "new"))
			}
			return c, nil
		}

		// Saturated: wait for a release, then re-run the loop.
		w := &waiter{ch: make(chan struct{}, 1)}
		p.waiters = append(p.waiters, w)
		p.waitCount++
		p.updateGaugesLocked()
		p.mu.Unlock()

		waitStart := time.Now()
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cancelWaiterLocked(w)
			p.updateGaugesLocked()
			p.mu.Unlock()
			p.metrics.observeWait(time.Since(waitStart))
			return nil, ctx.Err()
		case <-w.ch:
			p.metrics.observeWait(time.Since(waitStart))
		}
	}
}

// Release returns a previously acquired connection to the pool. A closed
// connection is discarded and its slot backfilled lazily or by the
// replenish task; an open one rejoins the free list and wakes one waiter.
// Releasing a connection the pool does not currently hold fails with a
// usage error and leaves pool state untouched.
func (p *Pool) Release(c *Conn) error {
	if c == nil {
		return xerrors.New(xerrors.ErrorTypeUsage, "cannot release nil connection")
	}

	p.mu.Lock()
	if _, ok := p.used[c]; !ok {
		p.mu.Unlock()
		return xerrors.New(xerrors.ErrorTypeUsage, "connection is not held by this pool")
	}
	delete(p.used, c)

	wasClosed := c.Closed()
	if wasClosed || p.closing {
		if wasClosed {
			p.discarded++
			p.metrics.discarded.Inc()
		}
		p.pendingClose++
		replenish := wasClosed && !p.closing && p.sizeLocked() < p.cfg.MinSize
		p.wakeWaiterLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()

		// The disconnect dispatch runs on the releasing caller; this is the
		// one release path that blocks.
		p.finishClose(c)
		if replenish {
			p.triggerReplenish()
		}
		return nil
	}

	p.free = append(p.free, c)
	p.wakeWaiterLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	if c.echo {
		c.logger.Debug("connection released")
	}
	return nil
}

// With acquires a connection, runs fn with it, and releases it on every
// exit path including panics.
func (p *Pool) With(ctx context.Context, fn func(context.Context, *Conn) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = p.Release(c)
	}()
	return fn(ctx, c)
}

// Clear closes and discards every idle connection, leaving the free list
// empty. Connections currently lent out are untouched, and the pool remains
// open for new acquisitions.
func (p *Pool) Clear(ctx context.Context) error {
	p.mu.Lock()
	conns := p.free
	p.free = nil
	p.updateGaugesLocked()
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error {
			return c.Close(gctx)
		})
	}
	return g.Wait()
}

// Close begins shutdown: future acquires are rejected, suspended ones are
// woken to observe the rejection, and idle connections are closed in the
// background. Close returns immediately and never waits for connections
// still lent out; their holders must release them for WaitClosed to
// complete. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	p.drainCh = make(chan struct{})

	conns := p.free
	p.free = nil
	p.pendingClose += len(conns)

	for _, w := range p.waiters {
		w.ch <- struct{}{}
	}
	p.waiters = nil

	outstanding := len(p.used)
	p.maybeSignalDrainedLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, c := range conns {
		go p.finishClose(c)
	}

	p.logger.Info("pool closing", zap.Int("outstanding", outstanding))
}

// WaitClosed suspends until shutdown has fully drained: the used set is
// empty and every free connection's disconnect has finished. It fails with
// a not-closing error when Close was never called. Repeated calls after
// completion return immediately.
func (p *Pool) WaitClosed(ctx context.Context) error {
	p.mu.Lock()
	if !p.closing {
		p.mu.Unlock()
		return xerrors.New(xerrors.ErrorTypeNotClosing, "pool is not closing; call Close first")
	}
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	drained := p.drainCh
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-drained:
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	// The dispatcher must outlive every connection using it, so a
	// pool-owned one is torn down only now, after the drain.
	if p.ownsDisp {
		p.dispOnce.Do(func() {
			p.disp.Close()
			p.disp.Wait()
		})
	}

	p.logger.Info("pool closed")
	return nil
}

// finishClose disposes one connection and settles the drain accounting.
func (p *Pool) finishClose(c *Conn) {
	_ = c.Close(context.Background())

	p.mu.Lock()
	p.pendingClose--
	p.maybeSignalDrainedLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// triggerReplenish starts the replenish-to-minimum background task unless
// one is already running or the pool is shutting down.
func (p *Pool) triggerReplenish() {
	p.mu.Lock()
	if p.replenishing || p.closing {
		p.mu.Unlock()
		return
	}
	p.replenishing = true
	p.mu.Unlock()

	go p.replenish()
}

// replenish restores size to MinSize. Failures are logged and dropped: a
// persistent driver outage keeps size below MinSize until a later create
// succeeds, and is never surfaced to an unrelated caller.
func (p *Pool) replenish() {
	defer func() {
		p.mu.Lock()
		p.replenishing = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if p.closing || p.sizeLocked() >= p.cfg.MinSize {
			p.mu.Unlock()
			return
		}
		p.opening++
		p.updateGaugesLocked()
		p.mu.Unlock()

		c, err := p.connect(context.Background())

		p.mu.Lock()
		p.opening--
		if err != nil {
			p.maybeSignalDrainedLocked()
			p.updateGaugesLocked()
			p.mu.Unlock()
			p.logger.Warn("replenish connect failed", zap.Error(err))
			return
		}
		if p.closing {
			p.pendingClose++
			p.updateGaugesLocked()
			p.mu.Unlock()
			go p.finishClose(c)
			return
		}

		p.free = append(p.free, c)
		p.created++
		p.metrics.created.Inc()
		p.metrics.replenished.Inc()
		p.wakeWaiterLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()
	}
}

// wakeWaiterLocked hands one wake token to the oldest waiter, if any. Each
// waiter channel has capacity one and receives at most one token, so the
// send never blocks.
func (p *Pool) wakeWaiterLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.ch <- struct{}{}
}

// cancelWaiterLocked deregisters a cancelled waiter. When the waiter was
// already woken, the token it consumed is passed to the next waiter so no
// wake-up is lost.
func (p *Pool) cancelWaiterLocked(w *waiter) {
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}

	select {
	case <-w.ch:
		p.wakeWaiterLocked()
	default:
	}
}

// maybeSignalDrainedLocked completes the drain once shutdown has begun and
// no connection remains owned, opening, or closing.
func (p *Pool) maybeSignalDrainedLocked() {
	if !p.closing || p.drainSignaled {
		return
	}
	if len(p.used) == 0 && len(p.free) == 0 && p.opening == 0 && p.pendingClose == 0 {
		p.drainSignaled = true
		close(p.drainCh)
	}
}

// sizeLocked is the count of connections the pool currently owns or is in
// the middle of establishing.
func (p *Pool) sizeLocked() int {
	return len(p.free) + len(p.used) + p.opening
}

func (p *Pool) updateGaugesLocked() {
	p.metrics.setGauges(p.sizeLocked(), len(p.free), len(p.waiters))
}

// Size returns the count of connections owned by the pool, including any
// whose establishment is still in flight.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizeLocked()
}

// FreeSize returns the count of idle connections.
func (p *Pool) FreeSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// UsedSize returns the count of connections currently lent out.
func (p *Pool) UsedSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// MinSize returns the configured connection floor.
func (p *Pool) MinSize() int {
	return p.cfg.MinSize
}

// MaxSize returns the configured connection ceiling.
func (p *Pool) MaxSize() int {
	return p.cfg.MaxSize
}

// Echo reports whether per-connection debug logging is enabled.
func (p *Pool) Echo() bool {
	return p.cfg.Echo
}

// Closing reports whether Close has been called.
func (p *Pool) Closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// Closed reports whether shutdown has fully drained.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats is a point-in-time snapshot of pool accounting.
type Stats struct {
	// Size is free + used + connects in flight
	Size int
	// Free is the idle connection count
	Free int
	// Used is the lent-out connection count
	Used int
	// Waiters is the count of suspended Acquire calls
	Waiters int
	// Created is the total connections established
	Created int64
	// Reused is the total acquisitions served from the free list
	Reused int64
	// Discarded is the total connections dropped after being found closed
	Discarded int64
	// WaitCount is the total acquisitions that had to wait for capacity
	WaitCount int64
}

// Stats returns a snapshot of pool accounting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      p.sizeLocked(),
		Free:      len(p.free),
		Used:      len(p.used),
		Waiters:   len(p.waiters),
		Created:   p.created,
		Reused:    p.reused,
		Discarded: p.discarded,
		WaitCount: p.waitCount,
	}
}
