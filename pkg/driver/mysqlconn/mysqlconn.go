// Package mysqlconn adapts MySQL connections to the driver contracts. It
// works at the database/sql/driver level through mysql.NewConnector, so each
// Handle is a single raw session rather than a database/sql pool-of-pools.
// Driver-side closure is observed through driver.Validator, which the mysql
// driver implements.
package mysqlconn

import (
	"context"
	sqldriver "database/sql/driver"
	"sync"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/driverpool/pkg/driver"
	"github.com/ajitpratap0/driverpool/pkg/xerrors"
)

// Connector establishes MySQL sessions from a parsed DSN.
type Connector struct {
	connector sqldriver.Connector
}

// New creates a connector from a DSN
// (e.g. "user:pass@tcp(host:3306)/db?parseTime=true").
func New(dsn string) (*Connector, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeConfig, "invalid mysql dsn")
	}

	sc, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeConfig, "mysql connector setup failed")
	}
	return &Connector{connector: sc}, nil
}

// NewFromConfig creates a connector from an already-built mysql config.
func NewFromConfig(cfg *mysql.Config) (*Connector, error) {
	sc, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeConfig, "mysql connector setup failed")
	}
	return &Connector{connector: sc}, nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Handle, error) {
	ci, err := c.connector.Connect(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeConnection, "mysql connect failed")
	}
	return &handle{conn: ci}, nil
}

type handle struct {
	mu     sync.Mutex
	conn   sqldriver.Conn
	closed bool
}

// Conn exposes the raw driver connection for executing statements.
func (h *handle) Conn() sqldriver.Conn {
	return h.conn
}

func (h *handle) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.conn.Close()
}

func (h *handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return true
	}
	if v, ok := h.conn.(sqldriver.Validator); ok {
		return !v.IsValid()
	}
	return false
}
