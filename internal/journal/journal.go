// Package journal keeps a SQLite history of cursor runs. Each run is stored
// with a fingerprint of its query so that repeated jobs can be grouped.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"cursoragent/internal/cursor"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	label          TEXT    NOT NULL,
	fingerprint    TEXT    NOT NULL,
	cursor_name    TEXT    NOT NULL,
	success        INTEGER NOT NULL,
	rows_processed INTEGER NOT NULL,
	row_errors     INTEGER NOT NULL,
	terminal_kind  TEXT    NOT NULL DEFAULT '',
	transaction_outcome TEXT NOT NULL DEFAULT '',
	started_at     TEXT    NOT NULL,
	duration_ms    INTEGER NOT NULL,
	result_json    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_fingerprint ON runs (fingerprint, id);`

// Entry is one recorded run.
type Entry struct {
	ID            int64
	Label         string
	Fingerprint   string
	CursorName    string
	Success       bool
	RowsProcessed int
	RowErrors     int
	TerminalKind  string
	Transaction   string
	StartedAt     time.Time
	Duration      time.Duration
	ResultJSON    string
}

// Journal is a SQLite-backed run history. It is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path. ":memory:" is
// accepted for tests.
func Open(ctx context.Context, path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// One writer; concurrent runs queue on the pool instead of hitting
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Fingerprint hashes query with runs of whitespace collapsed, so that
// reformatting a query keeps its history.
func Fingerprint(query string) string {
	norm := strings.Join(strings.Fields(query), " ")
	return fmt.Sprintf("%016x", xxh3.HashString(norm))
}

// Record stores res for the job labelled label running query.
func (j *Journal) Record(ctx context.Context, label, query string, res cursor.Result) (int64, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("journal: encode result: %w", err)
	}
	var kind string
	if e, ok := res.TerminalError(); ok {
		kind = string(e.Type)
	}

	out, err := j.db.ExecContext(ctx, `
INSERT INTO runs (label, fingerprint, cursor_name, success, rows_processed, row_errors,
                  terminal_kind, transaction_outcome, started_at, duration_ms, result_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		label,
		Fingerprint(query),
		res.CursorName,
		boolInt(res.Success),
		res.RowsProcessed,
		res.RowErrors(),
		kind,
		string(res.Transaction),
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.Duration.Milliseconds(),
		string(body),
	)
	if err != nil {
		return 0, fmt.Errorf("journal: insert: %w", err)
	}
	return out.LastInsertId()
}

// Latest returns up to n entries, newest first.
func (j *Journal) Latest(ctx context.Context, n int) ([]Entry, error) {
	return j.query(ctx, `SELECT `+columns+` FROM runs ORDER BY id DESC LIMIT ?`, n)
}

// ForQuery returns up to n entries whose query has the same fingerprint as
// query, newest first.
func (j *Journal) ForQuery(ctx context.Context, query string, n int) ([]Entry, error) {
	return j.query(ctx, `SELECT `+columns+` FROM runs WHERE fingerprint = ? ORDER BY id DESC LIMIT ?`, Fingerprint(query), n)
}

const columns = `id, label, fingerprint, cursor_name, success, rows_processed, row_errors,
	terminal_kind, transaction_outcome, started_at, duration_ms, result_json`

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			success  int
			started  string
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.Label, &e.Fingerprint, &e.CursorName, &success,
			&e.RowsProcessed, &e.RowErrors, &e.TerminalKind, &e.Transaction,
			&started, &duration, &e.ResultJSON); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Success = success != 0
		e.Duration = time.Duration(duration) * time.Millisecond
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("journal: parse started_at %q: %w", started, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// String renders e as one history line.
func (e Entry) String() string {
	status := "ok"
	if !e.Success {
		status = "FAILED"
		if e.TerminalKind != "" {
			status += " (" + e.TerminalKind + ")"
		}
	}
	return strings.Join([]string{
		"#" + strconv.FormatInt(e.ID, 10),
		e.StartedAt.Format(time.RFC3339),
		e.Label,
		e.CursorName,
		status,
		"rows=" + strconv.Itoa(e.RowsProcessed),
		"row_errors=" + strconv.Itoa(e.RowErrors),
		"took=" + e.Duration.String(),
	}, " ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
