package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "cursor.query").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be used as an error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ConfigurationError is returned before any I/O when the configuration
// cannot produce a run.
type ConfigurationError struct {
	Issues []Issue
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "configuration error: " + e.Err.Error()
	}
	var msgs []string
	for _, iss := range e.Issues {
		if iss.Severity == SeverityError {
			msgs = append(msgs, iss.Path+": "+iss.Message)
		}
	}
	return "configuration error: " + strings.Join(msgs, "; ")
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidateConfig performs static checks over a Config with defaults applied.
// It does not mutate c and never touches the network.
func ValidateConfig(c Config) []Issue {
	return validate(c, true)
}

// ValidateCallbackConfig is ValidateConfig for runs whose per-row action is a
// Go callback, so cursor.action is not required.
func ValidateCallbackConfig(c Config) []Issue {
	return validate(c, false)
}

// Check runs ValidateConfig and folds error-severity issues into a
// *ConfigurationError.
func Check(c Config) error {
	return fold(ValidateConfig(c))
}

// CheckCallback is Check for callback runs.
func CheckCallback(c Config) error {
	return fold(ValidateCallbackConfig(c))
}

func fold(issues []Issue) error {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return &ConfigurationError{Issues: issues}
		}
	}
	return nil
}

func validate(c Config, requireAction bool) []Issue {
	var issues []Issue
	issues = append(issues, validateCursor(c.Cursor, requireAction)...)
	issues = append(issues, validateExecution(c)...)
	issues = append(issues, validateConnection(c)...)
	issues = append(issues, validateLogging(c.Logging)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	return issues
}

func validateCursor(cur Cursor, requireAction bool) []Issue {
	var issues []Issue

	if strings.TrimSpace(cur.Query) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "cursor.query",
			Message:  "cursor query is required (provide via config or -query)",
		})
	}
	if requireAction && strings.TrimSpace(cur.Action) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "cursor.action",
			Message:  "cursor action is required (provide via config or -action)",
		})
	}
	if strings.HasSuffix(strings.TrimSpace(cur.Query), ";") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "cursor.query",
			Message:  "trailing semicolon will end the DECLARE statement early",
		})
	}
	switch cur.Mode {
	case "", CursorModeRow, CursorModeBlock:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "cursor.mode",
			Message:  fmt.Sprintf("unknown cursor mode %q; want %q or %q", cur.Mode, CursorModeRow, CursorModeBlock),
		})
	}
	return issues
}

func validateExecution(c Config) []Issue {
	var issues []Issue

	switch c.ExecutionMode {
	case "", ModeTransactional, ModeAutocommit:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "execution_mode",
			Message:  fmt.Sprintf("unknown execution mode %q; want %q or %q", c.ExecutionMode, ModeTransactional, ModeAutocommit),
		})
	}
	switch c.OnRowError {
	case "", RowErrorContinue, RowErrorAbort:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "on_row_error",
			Message:  fmt.Sprintf("unknown row error policy %q; want %q or %q", c.OnRowError, RowErrorContinue, RowErrorAbort),
		})
	}
	if c.OnRowError == RowErrorAbort && !c.Transactional() {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "on_row_error",
			Message:  "abort without a transaction cannot undo rows already committed",
		})
	}
	return issues
}

func validateConnection(c Config) []Issue {
	var issues []Issue

	switch c.Driver {
	case "", "pgx", "pq":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "driver",
			Message:  fmt.Sprintf("unsupported driver %q; want \"pgx\" or \"pq\"", c.Driver),
		})
	}
	if c.Connection != nil && (c.Connection.Port < 0 || c.Connection.Port > 65535) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "connection.port",
			Message:  fmt.Sprintf("port %d out of range", c.Connection.Port),
		})
	}
	if c.ConnectionString != "" && c.Connection != nil {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "connection",
			Message:  "connection_string is set; discrete connection fields are ignored",
		})
	}
	return issues
}

func validateLogging(l Logging) []Issue {
	var issues []Issue

	switch l.Target {
	case "", TargetConsole, TargetFile, TargetBoth, "stdout":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "logging.target",
			Message:  fmt.Sprintf("unknown log target %q; want console, file, or both", l.Target),
		})
	}
	switch l.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "logging.level",
			Message:  fmt.Sprintf("unknown log level %q", l.Level),
		})
	}
	if l.SampleRate < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "logging.sample_rate",
			Message:  "sample_rate must be in (0, 1]",
		})
	} else if l.SampleRate > 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "logging.sample_rate",
			Message:  "sample_rate above 1 logs every row",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend without a URL falls back to http://localhost:9091",
			})
		}
	case "datadog":
		if m.StatsdAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.statsd_addr",
				Message:  "datadog backend without an address falls back to 127.0.0.1:8125",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend),
		})
	}
	return issues
}
