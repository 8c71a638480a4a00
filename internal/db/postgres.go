// Package db provides the session adapters the cursor processor runs on:
// pgx (single connection or pgxpool) and database/sql with lib/pq. Every
// adapter implements the same Conn interface so the processor never imports
// a driver directly.
//
// Design goals:
//   - Allow mocking via narrow seams (pgQuerier, sqlConnCore) for hermetic tests.
//   - Keep behavior minimal and predictable: no implicit retries.
//   - Issue transaction boundaries as plain statements on the owning session.
package db

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//
// ===========================
//  Interface seam for testing
// ===========================
//
// pgQuerier is the subset of *pgx.Conn and *pgxpool.Conn used by pgConn.
//

type pgQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

//
// ================
//  Core pgConn type
// ================
//

type pgConn struct {
	q       pgQuerier
	closeFn func(ctx context.Context) error
	notices *noticeBuffer
}

// NewPgConn connects with pgx.ConnectConfig. Server notices raised on the
// connection are buffered and exposed through NoticeReader.
func NewPgConn(ctx context.Context, dsn string) (Conn, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	nb := &noticeBuffer{}
	cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) { nb.add(n.Message) }

	c, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgConn{q: c, closeFn: c.Close, notices: nb}, nil
}

// Exec runs q. Statements without arguments go over the simple protocol so
// that one-off cursor statements do not fill the statement cache.
func (p *pgConn) Exec(ctx context.Context, q string, args ...any) error {
	_, err := p.q.Exec(ctx, q, execArgs(args)...)
	return err
}

// FetchOne runs q and returns the first row with its column names.
func (p *pgConn) FetchOne(ctx context.Context, q string) (Row, bool, error) {
	rows, err := p.q.Query(ctx, q, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return Row{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		rows.Close()
		return Row{}, false, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return Row{}, false, err
	}
	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	// Drain so the command completes before the next statement.
	for rows.Next() {
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Row{}, false, err
	}
	return Row{Columns: cols, Values: vals}, true, nil
}

// Begin issues BEGIN.
func (p *pgConn) Begin(ctx context.Context) error {
	_, err := p.q.Exec(ctx, "BEGIN", pgx.QueryExecModeSimpleProtocol)
	return err
}

// Commit issues COMMIT. The server answers an aborted transaction's COMMIT
// with a ROLLBACK tag rather than an error, so the tag is checked.
func (p *pgConn) Commit(ctx context.Context) error {
	tag, err := p.q.Exec(ctx, "COMMIT", pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return err
	}
	if strings.EqualFold(tag.String(), "ROLLBACK") {
		return ErrCommitRolledBack
	}
	return nil
}

// Rollback issues ROLLBACK.
func (p *pgConn) Rollback(ctx context.Context) error {
	_, err := p.q.Exec(ctx, "ROLLBACK", pgx.QueryExecModeSimpleProtocol)
	return err
}

// Close releases the session (closes the connection or returns it to its pool).
func (p *pgConn) Close(ctx context.Context) error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn(ctx)
}

// Notices drains buffered server notices.
func (p *pgConn) Notices() []string {
	if p.notices == nil {
		return nil
	}
	return p.notices.drain()
}

func execArgs(args []any) []any {
	if len(args) == 0 {
		return []any{pgx.QueryExecModeSimpleProtocol}
	}
	return args
}

//
// ===============
//  Notice buffer
// ===============
//

type noticeBuffer struct {
	mu   sync.Mutex
	msgs []string
}

func (n *noticeBuffer) add(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *noticeBuffer) drain() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.msgs
	n.msgs = nil
	return out
}

//
// ===================
//  Identifier helpers
// ===================
//

// QuoteIdent quotes a possibly schema-qualified name ("public.fn") as
// "public"."fn".
func QuoteIdent(name string) string {
	return splitFQN(name).Sanitize()
}

// QuoteName quotes a single identifier such as a cursor name.
func QuoteName(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// splitFQN converts "schema.name" into a pgx.Identifier {"schema","name"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			id = append(id, p)
		}
	}
	return id
}

//
// =======================
//  Test-only constructors
// =======================
//

// newPgConnFromQuerier constructs a pgConn from a pgQuerier fake.
func newPgConnFromQuerier(q pgQuerier) *pgConn {
	return &pgConn{q: q, notices: &noticeBuffer{}}
}
