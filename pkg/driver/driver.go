// Package driver defines the contracts between the pool and a blocking
// data-access driver. The pool needs only two things from a driver: a way to
// establish a session and a way to tear one down. Both may block for a full
// network round trip and are therefore always invoked through a dispatcher,
// never on the caller's goroutine directly.
//
// Adapters for concrete drivers live in subpackages (pgxconn, mysqlconn).
package driver

import "context"

// Handle is one driver-level session owned by the pool.
type Handle interface {
	// Close tears down the session. It may block and may fail; the pool
	// treats the session as gone either way.
	Close(ctx context.Context) error

	// Closed reports whether the session is no longer usable. It may become
	// true asynchronously when the driver side fails, independent of any
	// pool action.
	Closed() bool
}

// Connector establishes new driver sessions. Connection parameters (DSN,
// driver options) are the connector's own business; the pool passes nothing
// through.
type Connector interface {
	// Connect establishes a session. It may block and may fail.
	Connect(ctx context.Context) (Handle, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Handle, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Handle, error) {
	return f(ctx)
}
