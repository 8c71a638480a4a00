package db

import (
	"context"
	"errors"
)

// ErrCommitRolledBack is returned by Commit when the server answered COMMIT
// with ROLLBACK, which happens when the transaction was already aborted.
var ErrCommitRolledBack = errors.New("commit: transaction was rolled back by the server")

// Row is one fetched cursor row. Columns and Values are aligned.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Conn is a single session owned by exactly one run. Transaction boundaries
// are issued as plain statements so that cursor statements share the session.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	// FetchOne runs sql and returns its first row. ok is false when the
	// statement produced no rows.
	FetchOne(ctx context.Context, sql string) (row Row, ok bool, err error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// NoticeReader is implemented by connections that capture server notices
// (RAISE NOTICE). Notices are drained on read.
type NoticeReader interface {
	Notices() []string
}

// Connector opens one Conn per run.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Conn, error)

// Connect calls f(ctx).
func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) { return f(ctx) }
