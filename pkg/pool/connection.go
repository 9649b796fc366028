package pool

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/driverpool/pkg/dispatch"
	"github.com/ajitpratap0/driverpool/pkg/driver"
)

// Conn associates one driver session with pool-visible state. Conns are
// created by the pool and must be returned to it with Release; callers never
// construct one themselves.
type Conn struct {
	id     string
	handle driver.Handle
	disp   *dispatch.Dispatcher // owned by the pool, never closed here
	echo   bool
	logger *zap.Logger
	closed atomic.Bool
}

func newConn(id string, h driver.Handle, d *dispatch.Dispatcher, echo bool, logger *zap.Logger) *Conn {
	return &Conn{
		id:     id,
		handle: h,
		disp:   d,
		echo:   echo,
		logger: logger.With(zap.String("conn_id", id)),
	}
}

// ID returns the pool-assigned connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// Echo reports whether debug logging is enabled for this connection. The
// flag is inherited from the pool at creation time and never changes.
func (c *Conn) Echo() bool {
	return c.echo
}

// Handle returns the underlying driver session for executing operations.
func (c *Conn) Handle() driver.Handle {
	return c.handle
}

// Closed reports whether the connection is unusable, either because it was
// closed through the pool or because the driver side failed asynchronously.
func (c *Conn) Closed() bool {
	return c.closed.Load() || c.handle.Closed()
}

// Close tears down the driver session through the dispatcher. The wrapper is
// marked closed before the driver call so pool bookkeeping never diverges
// from wrapper state, even when the driver reports a failure. Close is
// idempotent.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	if c.echo {
		c.logger.Debug("closing connection")
	}

	err := c.disp.Run(ctx, func() error {
		return c.handle.Close(context.Background())
	})
	if err != nil {
		c.logger.Warn("driver close failed", zap.Error(err))
	}
	return err
}
