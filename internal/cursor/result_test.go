package cursor

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestResultBuilder(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := newResultBuilder("c", start)
	b.row()
	b.row()
	b.rowError(&RowError{Row: 2, Err: &pgconn.PgError{Code: "42883", Message: "function nope() does not exist"}})
	if !b.terminalError(terminal(KindFetch, errors.New("reset"))) {
		t.Fatalf("first terminal error not recorded")
	}
	if b.terminalError(terminal(KindClose, errors.New("second"))) {
		t.Fatalf("second terminal error recorded")
	}
	b.res.Success = true // a terminal error always wins

	res := b.freeze(start.Add(1500 * time.Millisecond))

	if res.Success {
		t.Fatalf("Success = true with a terminal error")
	}
	if res.RowsProcessed != 2 || res.RowErrors() != 1 || res.Duration != 1500*time.Millisecond {
		t.Fatalf("result = %+v", res)
	}
	e, ok := res.TerminalError()
	if !ok || e.Type != KindFetch || e.Error != "reset" {
		t.Fatalf("TerminalError() = (%+v, %v)", e, ok)
	}

	// Frozen results do not share the builder's slice.
	b.rowError(&RowError{Row: 3, Err: errors.New("late")})
	if len(res.Errors) != 2 {
		t.Fatalf("frozen result changed: %+v", res.Errors)
	}
}

func TestResult_JSONShape(t *testing.T) {
	t.Parallel()

	res := Result{
		Success:            true,
		CursorName:         "cursor_ab12cd34",
		RowsProcessed:      3,
		RowsProcessedExact: true,
		Transaction:        TxCommitted,
		Errors: []ErrorEntry{
			{Row: 2, Error: "boom"},
			{Type: KindCommit, Error: "lost"},
		},
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(b)
	for _, want := range []string{
		`"success":true`,
		`"cursor_name":"cursor_ab12cd34"`,
		`"rows_processed":3`,
		`"errors":[{"row":2,"error":"boom"},{"type":"commit_error","error":"lost"}]`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("JSON %s missing %s", s, want)
		}
	}
}

func TestErrorTypes(t *testing.T) {
	t.Parallel()

	cause := &pgconn.PgError{Code: "57014", Message: "canceling statement"}
	te := terminal(KindFetch, cause)
	if te.Error() != "fetch_error: canceling statement (SQLSTATE 57014)" {
		t.Fatalf("TerminalError.Error() = %q", te.Error())
	}
	var pgErr *pgconn.PgError
	if !errors.As(te, &pgErr) {
		t.Fatalf("TerminalError does not unwrap to *pgconn.PgError")
	}

	re := &RowError{Row: 4, Err: errors.New("x")}
	if re.Error() != "row 4: x" {
		t.Fatalf("RowError.Error() = %q", re.Error())
	}

	rb := &RollbackError{Cause: te, Err: errors.New("eof")}
	if !strings.Contains(rb.Error(), "fetch_error") || !strings.HasSuffix(rb.Error(), "eof") {
		t.Fatalf("RollbackError.Error() = %q", rb.Error())
	}
}
