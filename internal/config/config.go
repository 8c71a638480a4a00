// Package config defines the JSON-serializable configuration for one cursor
// run. Field names in Go mirror the JSON keys used in config files:
//
//	{
//	  "connection_string": "dbname=app user=app host=db sslmode=disable",
//	  "cursor":  { "name": "c1", "query": "SELECT id FROM t", "action": "mark_done" },
//	  "execution_mode": "transactional",
//	  "auto_commit": false,
//	  "logging": { "level": "info", "target": "console", "sample_rate": 0.1 }
//	}
//
// A Config is treated as immutable once a run starts.
package config

import "strings"

// ExecutionMode selects whether the run issues an explicit transaction.
type ExecutionMode string

const (
	ModeTransactional ExecutionMode = "transactional"
	ModeAutocommit    ExecutionMode = "autocommit"
)

// CursorMode selects how rows are driven.
type CursorMode string

const (
	// CursorModeRow fetches rows client-side and dispatches the action per row.
	CursorModeRow CursorMode = "row"
	// CursorModeBlock runs the whole loop inside one anonymous DO block.
	CursorModeBlock CursorMode = "block"
)

// RowErrorPolicy decides what a failed row action does to the run.
type RowErrorPolicy string

const (
	// RowErrorContinue records the row error and keeps going; the
	// transaction still commits.
	RowErrorContinue RowErrorPolicy = "continue"
	// RowErrorAbort turns the first row error into a terminal error and
	// rolls the transaction back.
	RowErrorAbort RowErrorPolicy = "abort"
)

// LogTarget selects where log lines are written.
type LogTarget string

const (
	TargetConsole LogTarget = "console"
	TargetFile    LogTarget = "file"
	TargetBoth    LogTarget = "both"
)

// Defaults.
const (
	DefaultDriver     = "pgx"
	DefaultLogLevel   = "info"
	DefaultLogFile    = "cursoragent.log"
	DefaultSampleRate = 1.0
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// ConnectionString wins over Connection when set.
	ConnectionString string      `json:"connection_string,omitempty"`
	Connection       *Connection `json:"connection,omitempty"`

	// Driver is "pgx" (default) or "pq".
	Driver string `json:"driver,omitempty"`

	// Containerized swaps the default host for the compose service name.
	Containerized bool `json:"containerized,omitempty"`

	Cursor        Cursor         `json:"cursor"`
	ExecutionMode ExecutionMode  `json:"execution_mode"`
	AutoCommit    bool           `json:"auto_commit"`
	OnRowError    RowErrorPolicy `json:"on_row_error,omitempty"`

	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics,omitempty"`
	Journal Journal `json:"journal,omitempty"`
}

// Connection holds discrete connection fields.
type Connection struct {
	Server   string `json:"server,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SSL      bool   `json:"ssl,omitempty"`
}

// Cursor describes the server-side cursor and the per-row action.
type Cursor struct {
	Name   string     `json:"name,omitempty"`
	Query  string     `json:"query"`
	Action string     `json:"action"`
	Mode   CursorMode `json:"mode,omitempty"`
}

// Logging configures level, destination, and progress sampling.
type Logging struct {
	Level      string    `json:"level,omitempty"`
	Target     LogTarget `json:"target,omitempty"`
	File       string    `json:"file,omitempty"`
	SampleRate float64   `json:"sample_rate,omitempty"`

	// RowErrorsFile, when set, receives a CSV report of failed rows.
	RowErrorsFile string `json:"row_errors_file,omitempty"`
}

// Metrics selects an optional metrics backend.
type Metrics struct {
	Backend        string `json:"backend,omitempty"` // "none", "pushgateway", "datadog"
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	StatsdAddr     string `json:"statsd_addr,omitempty"`
	Job            string `json:"job,omitempty"`
}

// Journal configures the optional SQLite run history.
type Journal struct {
	Path string `json:"path,omitempty"`
}

// ApplyDefaults fills unset fields. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.ExecutionMode == "" {
		c.ExecutionMode = ModeTransactional
	}
	c.ExecutionMode = ExecutionMode(strings.ToLower(string(c.ExecutionMode)))
	if c.OnRowError == "" {
		c.OnRowError = RowErrorContinue
	}
	if c.Cursor.Mode == "" {
		c.Cursor.Mode = CursorModeRow
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch strings.ToLower(string(c.Logging.Target)) {
	case "", "stdout", "console":
		c.Logging.Target = TargetConsole
	default:
		c.Logging.Target = LogTarget(strings.ToLower(string(c.Logging.Target)))
	}
	if c.Logging.Target != TargetConsole && c.Logging.File == "" {
		c.Logging.File = DefaultLogFile
	}
	if c.Logging.SampleRate == 0 {
		c.Logging.SampleRate = DefaultSampleRate
	}
}

// Transactional reports whether the run issues BEGIN/COMMIT. AutoCommit
// overrides the execution mode.
func (c *Config) Transactional() bool {
	return c.ExecutionMode == ModeTransactional && !c.AutoCommit
}
