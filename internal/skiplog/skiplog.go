// Package skiplog writes failed cursor rows to a CSV report so they can be
// inspected or replayed after the run.
package skiplog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"cursoragent/internal/cursor"
	"cursoragent/internal/db"
)

var header = []string{"cursor_name", "row", "error", "row_json"}

// Log is a CSV row-error report. It implements cursor.RowErrorSink and is
// safe for concurrent use by several runs.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	counts map[string]int
	err    error
}

var _ cursor.RowErrorSink = (*Log)(nil)

// Create truncates path, creating parent directories, and writes the header.
func Create(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Log{f: f, w: w, counts: make(map[string]int)}, nil
}

// RecordRowError appends one line. The row is stored as a JSON object keyed
// by column name. The first write error is kept and returned by Close.
func (l *Log) RecordRowError(cursorName string, row db.Row, rowErr *cursor.RowError) {
	obj := make(map[string]any, len(row.Columns))
	for i, c := range row.Columns {
		obj[c] = row.Values[i]
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", row.Values))
	}
	msg := db.DescribeError(rowErr.Err)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[cursorName]++
	if l.err != nil {
		return
	}
	l.err = l.w.Write([]string{cursorName, strconv.Itoa(rowErr.Row), msg, string(raw)})
}

// Counts returns the number of failed rows recorded per cursor.
func (l *Log) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	err := l.err
	if err == nil {
		err = l.w.Error()
	}
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
