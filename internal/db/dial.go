package db

import (
	"context"
	"fmt"
)

// Supported driver names.
const (
	DriverPgx = "pgx"
	DriverPq  = "pq"
)

// Dialer opens a fresh connection per run for the configured driver.
type Dialer struct {
	Driver string
	DSN    string
}

// newPgConn and newSQLConn are test hooks pointing to the real constructors.
var (
	newPgConn  = NewPgConn
	newSQLConn = NewSQLConn
)

// Connect implements Connector.
func (d Dialer) Connect(ctx context.Context) (Conn, error) {
	switch d.Driver {
	case "", DriverPgx:
		return newPgConn(ctx, d.DSN)
	case DriverPq:
		return newSQLConn(ctx, d.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver %q", d.Driver)
	}
}
