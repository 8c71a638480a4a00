package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"cursoragent/internal/db"
)

var errAborted = &pgconn.PgError{
	Code:    "25P02",
	Message: "current transaction is aborted, commands ignored until end of transaction block",
}

// actionFunc mutates the working copy of the table for one action statement.
type actionFunc func(table map[int64]bool, args []any) error

// fakeDB models a one-table database ("t" with id and done) reached by
// fakeConn sessions. It follows PostgreSQL where it matters to the
// processor: a failed statement aborts the open transaction until ROLLBACK
// or ROLLBACK TO SAVEPOINT, and plain cursors need a transaction block.
type fakeDB struct {
	ids       []int64
	committed map[int64]bool

	actions map[string]actionFunc

	failConnect  error
	panicConnect bool
	failBegin    error
	failDeclare  error
	failFetchAt  int // 1-based FETCH call that fails
	failClose    error
	failCommit   error
	failRollback error
	// blockNotice controls the notice raised by a DO block; empty raises none.
	blockNotice string
	hideNotices bool

	connects    int
	closedConns int
	statements  []string
}

func newFakeDB(ids ...int64) *fakeDB {
	d := &fakeDB{ids: ids, committed: map[int64]bool{}, actions: map[string]actionFunc{}}
	for _, id := range ids {
		d.committed[id] = false
	}
	return d
}

func (d *fakeDB) Connect(ctx context.Context) (db.Conn, error) {
	d.connects++
	if d.panicConnect {
		panic("connector exploded")
	}
	if d.failConnect != nil {
		return nil, d.failConnect
	}
	c := &fakeConn{db: d}
	if d.hideNotices {
		return plainConn{c}, nil
	}
	return c, nil
}

func (d *fakeDB) done() []int64 {
	var out []int64
	for _, id := range d.ids {
		if d.committed[id] {
			out = append(out, id)
		}
	}
	return out
}

// plainConn hides NoticeReader.
type plainConn struct{ db.Conn }

// markDone is the handler for "UPDATE t SET done = true WHERE id = $1".
func markDone(failOn ...int64) actionFunc {
	return func(table map[int64]bool, args []any) error {
		id := args[0].(int64)
		for _, f := range failOn {
			if id == f {
				return &pgconn.PgError{Code: "23514", Message: fmt.Sprintf("row %d violates check constraint", id)}
			}
		}
		table[id] = true
		return nil
	}
}

type fakeCursor struct {
	name string
	hold bool
	rows []int64
	pos  int
}

type fakeConn struct {
	db *fakeDB

	inTx      bool
	aborted   bool
	work      map[int64]bool
	savepoint map[int64]bool
	cursor    *fakeCursor
	fetches   int
	notices   []string
	closed    int
}

func copyTable(m map[int64]bool) map[int64]bool {
	out := make(map[int64]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *fakeConn) table() map[int64]bool {
	if c.inTx {
		return c.work
	}
	return c.db.committed
}

func (c *fakeConn) fail(err error) error {
	if c.inTx {
		c.aborted = true
	}
	return err
}

func (c *fakeConn) endTx() {
	c.inTx, c.aborted, c.work, c.savepoint = false, false, nil, nil
	if c.cursor != nil && !c.cursor.hold {
		c.cursor = nil
	}
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) error {
	c.db.statements = append(c.db.statements, sql)
	if c.aborted && !strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT") {
		return errAborted
	}

	switch {
	case strings.HasPrefix(sql, "DECLARE "):
		if c.db.failDeclare != nil {
			return c.fail(c.db.failDeclare)
		}
		name := strings.TrimPrefix(sql, "DECLARE ")
		name = name[:strings.Index(name, " CURSOR")]
		hold := strings.Contains(sql, " WITH HOLD ")
		if !c.inTx && !hold {
			return c.fail(&pgconn.PgError{Code: "25P01", Message: "DECLARE CURSOR can only be used in transaction blocks"})
		}
		if c.cursor != nil && c.cursor.name == name {
			return c.fail(&pgconn.PgError{Code: "42P03", Message: fmt.Sprintf("cursor %s already exists", name)})
		}
		c.cursor = &fakeCursor{name: name, hold: hold, rows: append([]int64(nil), c.db.ids...)}
		return nil

	case strings.HasPrefix(sql, "CLOSE "):
		if c.db.failClose != nil {
			return c.fail(c.db.failClose)
		}
		if c.cursor == nil {
			return c.fail(&pgconn.PgError{Code: "34000", Message: "cursor does not exist"})
		}
		c.cursor = nil
		return nil

	case strings.HasPrefix(sql, "SAVEPOINT "):
		c.savepoint = copyTable(c.work)
		return nil

	case strings.HasPrefix(sql, "ROLLBACK TO SAVEPOINT "):
		c.work = copyTable(c.savepoint)
		c.aborted = false
		return nil

	case strings.HasPrefix(sql, "RELEASE SAVEPOINT "):
		c.savepoint = nil
		return nil

	case strings.HasPrefix(sql, "DO "):
		if h, ok := c.db.actions["DO"]; ok {
			for _, id := range c.db.ids {
				if err := h(c.table(), []any{id}); err != nil {
					return c.fail(err)
				}
			}
		}
		if c.db.blockNotice != "" {
			c.notices = append(c.notices, c.db.blockNotice)
		}
		return nil
	}

	h, ok := c.db.actions[sql]
	if !ok {
		return c.fail(&pgconn.PgError{Code: "42883", Message: "function does not exist: " + sql})
	}
	if err := h(c.table(), args); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *fakeConn) FetchOne(ctx context.Context, sql string) (db.Row, bool, error) {
	c.db.statements = append(c.db.statements, sql)
	if c.aborted {
		return db.Row{}, false, errAborted
	}
	c.fetches++
	if c.db.failFetchAt == c.fetches {
		return db.Row{}, false, c.fail(errors.New("connection reset by peer"))
	}
	if c.cursor == nil {
		return db.Row{}, false, c.fail(&pgconn.PgError{Code: "34000", Message: "cursor does not exist"})
	}
	if c.cursor.pos >= len(c.cursor.rows) {
		return db.Row{}, false, nil
	}
	id := c.cursor.rows[c.cursor.pos]
	c.cursor.pos++
	return db.Row{Columns: []string{"id"}, Values: []any{id}}, true, nil
}

func (c *fakeConn) Begin(ctx context.Context) error {
	c.db.statements = append(c.db.statements, "BEGIN")
	if c.db.failBegin != nil {
		return c.db.failBegin
	}
	c.inTx = true
	c.work = copyTable(c.db.committed)
	return nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	c.db.statements = append(c.db.statements, "COMMIT")
	if c.db.failCommit != nil {
		return c.db.failCommit
	}
	if c.aborted {
		c.endTx()
		return db.ErrCommitRolledBack
	}
	c.db.committed = c.work
	c.endTx()
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.db.statements = append(c.db.statements, "ROLLBACK")
	if c.db.failRollback != nil {
		return c.db.failRollback
	}
	c.endTx()
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed++
	c.db.closedConns++
	c.endTx()
	return nil
}

func (c *fakeConn) Notices() []string {
	out := c.notices
	c.notices = nil
	return out
}
