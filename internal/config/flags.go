package config

import (
	"flag"
	"strconv"
	"strings"
)

// Flags holds command-line settings. Connection-level flags are seeded from an
// environment variable so the binary is 12-factor friendly; explicit flags
// win over the environment. Empty string values mean "no override".
type Flags struct {
	ConfigPath     string
	Connection     string
	Query          string
	Action         string
	CursorName     string
	LogLevel       string
	DryRun         bool
	OutputJSON     bool
	Parallel       int
	ErrorsCSV      string
	JournalPath    string
	History        int
	Metrics        string
	PushgatewayURL string
	StatsdAddr     string
	Containerized  bool
}

// BindFlags defines all flags on fs with defaults seeded from getenv,
// parses args, and returns the result together with positional arguments.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit CLI flags (in args) override the seeded defaults.
func BindFlags(fs *flag.FlagSet, getenv func(string) string, args []string) (*Flags, []string, error) {
	f := &Flags{}

	envOrDefaultFn := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOrDefaultFn := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	boolEnvOrDefaultFn := func(k string, d bool) bool {
		switch strings.ToLower(getenv(k)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}

	fs.StringVar(&f.ConfigPath, "config", getenv("CURSORAGENT_CONFIG"), "Path to JSON (or .ini) configuration file")
	fs.StringVar(&f.Connection, "connection", getenv("CURSORAGENT_CONNECTION"), `Connection string override (e.g. "dbname=test user=postgres")`)
	fs.StringVar(&f.Query, "query", "", "Cursor query SQL")
	fs.StringVar(&f.Action, "action", "", "Action function name or SQL block to execute per row")
	fs.StringVar(&f.CursorName, "cursor-name", "", "Custom cursor name")
	fs.StringVar(&f.LogLevel, "log-level", getenv("CURSORAGENT_LOG_LEVEL"), "Logging level: debug, info, warning, error")
	fs.BoolVar(&f.DryRun, "dry-run", false, "Validate configuration without executing")
	fs.BoolVar(&f.OutputJSON, "output-json", false, "Output results as JSON")
	fs.IntVar(&f.Parallel, "parallel", intEnvOrDefaultFn("CURSORAGENT_PARALLEL", 1), "Maximum configs run concurrently")
	fs.StringVar(&f.ErrorsCSV, "errors-csv", getenv("CURSORAGENT_ERRORS_CSV"), "Write failed rows to this CSV file")
	fs.StringVar(&f.JournalPath, "journal", getenv("CURSORAGENT_JOURNAL"), "SQLite run journal path")
	fs.IntVar(&f.History, "history", 0, "Print the latest N journal entries and exit")
	fs.StringVar(&f.Metrics, "metrics-backend", getenv("METRICS_BACKEND"), "Metrics backend: none, pushgateway, datadog")
	fs.StringVar(&f.PushgatewayURL, "pushgateway-url", getenv("PUSHGATEWAY_URL"), "Pushgateway base URL")
	fs.StringVar(&f.StatsdAddr, "statsd-addr", envOrDefaultFn("DD_DOGSTATSD_ADDR", ""), "DogStatsD address")
	fs.BoolVar(&f.Containerized, "containerized", boolEnvOrDefaultFn("DOCKER_ENV", false), "Default the host to the compose service name")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// Apply layers non-empty overrides onto c.
func (f *Flags) Apply(c *Config) {
	if f.Connection != "" {
		c.ConnectionString = f.Connection
	}
	if f.Query != "" {
		c.Cursor.Query = f.Query
	}
	if f.Action != "" {
		c.Cursor.Action = f.Action
	}
	if f.CursorName != "" {
		c.Cursor.Name = f.CursorName
	}
	if f.LogLevel != "" {
		c.Logging.Level = strings.ToLower(f.LogLevel)
	}
	if f.ErrorsCSV != "" {
		c.Logging.RowErrorsFile = f.ErrorsCSV
	}
	if f.JournalPath != "" {
		c.Journal.Path = f.JournalPath
	}
	if f.Metrics != "" {
		c.Metrics.Backend = f.Metrics
	}
	if f.PushgatewayURL != "" {
		c.Metrics.PushgatewayURL = f.PushgatewayURL
	}
	if f.StatsdAddr != "" {
		c.Metrics.StatsdAddr = f.StatsdAddr
	}
	if f.Containerized {
		c.Containerized = true
	}
}
