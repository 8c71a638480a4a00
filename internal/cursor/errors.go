package cursor

import (
	"fmt"

	"cursoragent/internal/db"
)

// Kind tags a run-aborting error in Result.Errors.
type Kind string

const (
	KindConnection Kind = "connection_error"
	KindBegin      Kind = "begin_error"
	KindDeclare    Kind = "declare_error"
	KindFetch      Kind = "fetch_error"
	KindSavepoint  Kind = "savepoint_error"
	KindClose      Kind = "close_error"
	KindCommit     Kind = "commit_error"
	KindRowAbort   Kind = "row_abort"
	KindBlock      Kind = "block_error"
	KindUnexpected Kind = "unexpected_error"
)

// TerminalError aborts the run. Connection failures are TerminalErrors of
// KindConnection; nothing was opened, so nothing is rolled back.
type TerminalError struct {
	Kind Kind
	Err  error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, db.DescribeError(e.Err))
}

func (e *TerminalError) Unwrap() error { return e.Err }

func terminal(kind Kind, err error) *TerminalError {
	return &TerminalError{Kind: kind, Err: err}
}

// RowError is a failed action for one row. Row is 1-based.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, db.DescribeError(e.Err))
}

func (e *RowError) Unwrap() error { return e.Err }

// RollbackError is a failed ROLLBACK after Cause. It is logged and never
// replaces Cause in the result.
type RollbackError struct {
	Cause error
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback after %v failed: %s", e.Cause, db.DescribeError(e.Err))
}

func (e *RollbackError) Unwrap() error { return e.Err }
