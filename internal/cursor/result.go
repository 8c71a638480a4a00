package cursor

import (
	"time"

	"cursoragent/internal/db"
)

// ErrorEntry is one element of Result.Errors. Row errors set Row; terminal
// errors set Type.
type ErrorEntry struct {
	Row   int    `json:"row,omitempty"`
	Type  Kind   `json:"type,omitempty"`
	Error string `json:"error"`
}

// Terminal reports whether the entry aborted the run.
func (e ErrorEntry) Terminal() bool { return e.Type != "" }

// TxOutcome is how the transaction ended.
type TxOutcome string

const (
	TxNone       TxOutcome = "none" // autocommit, or never opened
	TxCommitted  TxOutcome = "committed"
	TxRolledBack TxOutcome = "rolled_back"
)

// Result is the frozen outcome of one run.
type Result struct {
	Success       bool   `json:"success"`
	CursorName    string `json:"cursor_name"`
	RowsProcessed int    `json:"rows_processed"`
	// RowsProcessedExact is false only in block mode when the server did
	// not report a row count; RowsProcessed is then 0.
	RowsProcessedExact bool          `json:"rows_processed_exact"`
	Transaction        TxOutcome     `json:"transaction"`
	Errors             []ErrorEntry  `json:"errors"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration_ns"`
}

// RowErrors returns the number of row-scoped errors.
func (r Result) RowErrors() int {
	n := 0
	for _, e := range r.Errors {
		if !e.Terminal() {
			n++
		}
	}
	return n
}

// TerminalError returns the terminal entry, if any.
func (r Result) TerminalError() (ErrorEntry, bool) {
	for _, e := range r.Errors {
		if e.Terminal() {
			return e, true
		}
	}
	return ErrorEntry{}, false
}

// resultBuilder is owned by exactly one run.
type resultBuilder struct {
	res      Result
	terminal bool
}

func newResultBuilder(name string, started time.Time) *resultBuilder {
	return &resultBuilder{res: Result{
		CursorName:         name,
		RowsProcessedExact: true,
		Transaction:        TxNone,
		StartedAt:          started,
	}}
}

func (b *resultBuilder) row() int {
	b.res.RowsProcessed++
	return b.res.RowsProcessed
}

func (b *resultBuilder) rowError(e *RowError) {
	b.res.Errors = append(b.res.Errors, ErrorEntry{Row: e.Row, Error: db.DescribeError(e.Err)})
}

// terminalError records the first terminal error only.
func (b *resultBuilder) terminalError(e *TerminalError) bool {
	if b.terminal {
		return false
	}
	b.terminal = true
	b.res.Errors = append(b.res.Errors, ErrorEntry{Type: e.Kind, Error: db.DescribeError(e.Err)})
	return true
}

func (b *resultBuilder) freeze(finished time.Time) Result {
	out := b.res
	out.Success = out.Success && !b.terminal
	out.Errors = append(make([]ErrorEntry, 0, len(b.res.Errors)), b.res.Errors...)
	out.Duration = finished.Sub(out.StartedAt)
	return out
}
