package db

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type fakeSQLRows struct {
	cols   []string
	data   [][]any
	pos    int
	closed bool
}

func (r *fakeSQLRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeSQLRows) Columns() ([]string, error) { return r.cols, nil }
func (r *fakeSQLRows) Scan(dest ...any) error {
	for i, d := range dest {
		*(d.(*any)) = r.data[r.pos-1][i]
	}
	return nil
}
func (r *fakeSQLRows) Err() error   { return nil }
func (r *fakeSQLRows) Close() error { r.closed = true; return nil }

type fakeSQLCore struct {
	execs  []string
	rows   *fakeSQLRows
	closed bool
}

func (f *fakeSQLCore) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	f.execs = append(f.execs, q)
	return nil, nil
}
func (f *fakeSQLCore) QueryContext(ctx context.Context, q string, args ...any) (rowsCore, error) {
	return f.rows, nil
}
func (f *fakeSQLCore) Close() error { f.closed = true; return nil }

func TestSQLConn_FetchOne_ConvertsBytes(t *testing.T) {
	t.Parallel()

	core := &fakeSQLCore{rows: &fakeSQLRows{
		cols: []string{"id", "name"},
		data: [][]any{{int64(1), []byte("alpha")}},
	}}
	c := newSQLConnFromCore(core)

	row, ok, err := c.FetchOne(context.Background(), `FETCH NEXT FROM "c"`)
	if err != nil || !ok {
		t.Fatalf("FetchOne() = (%v, %v), want ok", ok, err)
	}
	want := Row{Columns: []string{"id", "name"}, Values: []any{int64(1), "alpha"}}
	if !reflect.DeepEqual(row, want) {
		t.Fatalf("row = %#v, want %#v", row, want)
	}
	if !core.rows.closed {
		t.Fatalf("rows not closed")
	}
}

func TestSQLConn_FetchOne_Empty(t *testing.T) {
	t.Parallel()

	c := newSQLConnFromCore(&fakeSQLCore{rows: &fakeSQLRows{cols: []string{"id"}}})
	_, ok, err := c.FetchOne(context.Background(), `FETCH NEXT FROM "c"`)
	if err != nil || ok {
		t.Fatalf("FetchOne() = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestSQLConn_BoundariesAndClose(t *testing.T) {
	t.Parallel()

	core := &fakeSQLCore{}
	c := newSQLConnFromCore(core)
	ctx := context.Background()
	_ = c.Begin(ctx)
	_ = c.Rollback(ctx)
	_ = c.Commit(ctx)
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if want := []string{"BEGIN", "ROLLBACK", "COMMIT"}; !reflect.DeepEqual(core.execs, want) {
		t.Fatalf("execs = %v, want %v", core.execs, want)
	}
	if !core.closed {
		t.Fatalf("core not closed")
	}
}

func TestDialer_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := Dialer{Driver: "mssql", DSN: "x"}.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("Connect() error = %v, want unsupported driver", err)
	}
}

// Not parallel: swaps package-level constructor hooks.
func TestDialer_RoutesByDriver(t *testing.T) {
	origPg, origSQL := newPgConn, newSQLConn
	t.Cleanup(func() { newPgConn, newSQLConn = origPg, origSQL })

	var used string
	newPgConn = func(ctx context.Context, dsn string) (Conn, error) { used = "pgx:" + dsn; return nil, nil }
	newSQLConn = func(ctx context.Context, dsn string) (Conn, error) { used = "pq:" + dsn; return nil, nil }

	for driver, want := range map[string]string{"": "pgx:d", "pgx": "pgx:d", "pq": "pq:d"} {
		used = ""
		if _, err := (Dialer{Driver: driver, DSN: "d"}).Connect(context.Background()); err != nil {
			t.Fatalf("Connect(%q) error = %v", driver, err)
		}
		if used != want {
			t.Fatalf("Connect(%q) used %q, want %q", driver, used, want)
		}
	}
}

func TestDescribeError(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Message: "function nope() does not exist", Code: "42883"}
	if got := DescribeError(pgErr); got != "function nope() does not exist (SQLSTATE 42883)" {
		t.Fatalf("DescribeError(pg) = %q", got)
	}
	if got := SQLState(pgErr); got != "42883" {
		t.Fatalf("SQLState(pg) = %q", got)
	}

	pqErr := &pq.Error{Message: "cursor \"c\" already exists", Code: "42P03", Detail: "d"}
	if got := DescribeError(pqErr); got != `cursor "c" already exists (SQLSTATE 42P03): d` {
		t.Fatalf("DescribeError(pq) = %q", got)
	}

	if got := DescribeError(errors.New("plain")); got != "plain" {
		t.Fatalf("DescribeError(plain) = %q", got)
	}
	if got := DescribeError(nil); got != "" {
		t.Fatalf("DescribeError(nil) = %q", got)
	}
}

func TestRow_Get(t *testing.T) {
	t.Parallel()

	r := Row{Columns: []string{"id", "name"}, Values: []any{1, "x"}}
	if v, ok := r.Get("name"); !ok || v != "x" {
		t.Fatalf("Get(name) = (%v, %v)", v, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("Get(missing) ok = true")
	}
}
