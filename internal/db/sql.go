package db

import (
	"context"
	"database/sql"
	"fmt"

	// lib/pq registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
)

//
// =======================
//  Testability-first seams
// =======================
//
// sqlConnCore is the subset of *sql.Conn we use. Rows are adapted to
// rowsCore so unit tests can inject light fakes without sockets.
//

type rowsCore interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlConnCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowsCore, error)
	Close() error
}

//
// ============================
//  Real wrappers for production
// ============================
//

type realSQLConn struct {
	conn *sql.Conn
	db   *sql.DB
}

func (r realSQLConn) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.conn.ExecContext(ctx, q, args...)
}

func (r realSQLConn) QueryContext(ctx context.Context, q string, args ...any) (rowsCore, error) {
	rows, err := r.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close returns the session and closes the handle; the handle is private to
// the run, so both always go together.
func (r realSQLConn) Close() error {
	err := r.conn.Close()
	if cerr := r.db.Close(); err == nil {
		err = cerr
	}
	return err
}

//
// ===================
//  sqlConn (Conn adapter)
// ===================
//

type sqlConn struct{ c sqlConnCore }

// NewSQLConn opens a database/sql handle with lib/pq and pins one session
// from it. database/sql would otherwise spread BEGIN, DECLARE and FETCH over
// different pooled connections.
func NewSQLConn(ctx context.Context, dsn string) (Conn, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(1)
	c, err := d.Conn(ctx)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return &sqlConn{c: realSQLConn{conn: c, db: d}}, nil
}

// Exec forwards a statement to the pinned session.
func (s *sqlConn) Exec(ctx context.Context, q string, args ...any) error {
	_, err := s.c.ExecContext(ctx, q, args...)
	return err
}

// FetchOne runs q and scans its first row into driver values.
func (s *sqlConn) FetchOne(ctx context.Context, q string) (Row, bool, error) {
	rows, err := s.c.QueryContext(ctx, q)
	if err != nil {
		return Row{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Row{}, false, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return Row{}, false, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Row{}, false, fmt.Errorf("scan: %w", err)
	}
	for i, v := range vals {
		// lib/pq hands text columns back as []byte.
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return Row{}, false, err
	}
	return Row{Columns: cols, Values: vals}, true, nil
}

// Begin issues BEGIN on the pinned session.
func (s *sqlConn) Begin(ctx context.Context) error { return s.Exec(ctx, "BEGIN") }

// Commit issues COMMIT on the pinned session.
func (s *sqlConn) Commit(ctx context.Context) error { return s.Exec(ctx, "COMMIT") }

// Rollback issues ROLLBACK on the pinned session.
func (s *sqlConn) Rollback(ctx context.Context) error { return s.Exec(ctx, "ROLLBACK") }

// Close releases the session and its handle.
func (s *sqlConn) Close(ctx context.Context) error { return s.c.Close() }

// newSQLConnFromCore constructs a sqlConn from a fake core. Used in tests.
func newSQLConnFromCore(c sqlConnCore) *sqlConn { return &sqlConn{c: c} }
