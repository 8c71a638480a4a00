// Command cursoragent runs one or more configured cursor jobs against
// PostgreSQL and reports their results.
//
// main() stays tiny and delegates to run(), which receives every side effect
// (connectors, metrics, journal, output streams) through Deps so tests stay
// hermetic.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cursoragent/internal/config"
	"cursoragent/internal/connect"
	"cursoragent/internal/cursor"
	"cursoragent/internal/db"
	"cursoragent/internal/journal"
	"cursoragent/internal/logging"
	"cursoragent/internal/metrics"
	"cursoragent/internal/metrics/datadog"
	"cursoragent/internal/metrics/prompush"
	"cursoragent/internal/skiplog"
)

// Exit codes.
const (
	exitOK   = 0
	exitFail = 1
)

// pooledConnector is a connector that owns shared connections.
type pooledConnector interface {
	db.Connector
	Close()
}

// Deps holds injectable dependencies so run() is fully testable.
type Deps struct {
	// Connector returns the connector for one job. A nil result lets the
	// processor resolve and dial the connection itself.
	Connector func(cfg config.Config) db.Connector

	// NewPool builds a shared pgx pool for parallel runs against one target.
	NewPool func(ctx context.Context, dsn string, maxConns int32) (pooledConnector, error)

	NewMetricsBackend func(m config.Metrics) (metrics.Backend, error)
	OpenJournal       func(ctx context.Context, path string) (*journal.Journal, error)
	NewLogger         func(l config.Logging, name string, console io.Writer) (*zap.Logger, func() error, error)

	Stdout io.Writer
	Stderr io.Writer
}

// defaultDeps wires production implementations. Tests inject fakes.
func defaultDeps() Deps {
	return Deps{
		Connector: func(config.Config) db.Connector { return nil },
		NewPool: func(ctx context.Context, dsn string, maxConns int32) (pooledConnector, error) {
			return db.NewPool(ctx, dsn, maxConns)
		},
		NewMetricsBackend: newMetricsBackend,
		OpenJournal:       journal.Open,
		NewLogger:         logging.New,
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	}
}

// newMetricsBackend selects the metrics backend named in m. Unknown or
// empty names disable metrics.
func newMetricsBackend(m config.Metrics) (metrics.Backend, error) {
	switch m.Backend {
	case "pushgateway":
		url := m.PushgatewayURL
		if url == "" {
			url = "http://localhost:9091"
		}
		return prompush.NewBackend(m.Job, url)
	case "datadog":
		addr := m.StatsdAddr
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		return datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "cursoragent."})
	default:
		return metrics.Nop{}, nil
	}
}

// job is one loaded config ready to run.
type job struct {
	label string
	cfg   config.Config
	proc  *cursor.Processor
}

// run parses args, loads every config, and either validates them (-dry-run),
// prints journal history (-history N), or executes them. It returns the
// process exit code.
func run(ctx context.Context, args []string, getenv func(string) string, deps Deps) int {
	stderr := deps.Stderr
	fs := flag.NewFlagSet("cursoragent", flag.ContinueOnError)
	fs.SetOutput(stderr)

	flags, rest, err := config.BindFlags(fs, getenv, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFail
	}

	if flags.History > 0 && flags.JournalPath != "" && flags.ConfigPath == "" && len(rest) == 0 {
		return printHistory(ctx, flags.JournalPath, flags.History, deps)
	}

	cfgs, err := loadConfigs(flags, rest)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFail
	}

	if flags.History > 0 {
		path := cfgs[0].cfg.Journal.Path
		if path == "" {
			fmt.Fprintln(stderr, "error: -history needs a journal path (-journal or journal.path)")
			return exitFail
		}
		return printHistory(ctx, path, flags.History, deps)
	}

	lead := cfgs[0].cfg
	log, closeLog, err := deps.NewLogger(lead.Logging, "cursoragent", stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: logging: %v\n", err)
		return exitFail
	}
	defer func() { _ = closeLog() }()

	if flags.DryRun {
		return dryRun(cfgs, deps, log)
	}

	backend, err := deps.NewMetricsBackend(lead.Metrics)
	if err != nil {
		log.Warn("metrics backend unavailable; metrics disabled", zap.String("backend", lead.Metrics.Backend), zap.Error(err))
		backend = metrics.Nop{}
	}
	defer func() {
		if err := backend.Flush(); err != nil {
			log.Warn("metrics flush failed", zap.Error(err))
		}
	}()

	s, err := openSinks(ctx, cfgs, deps)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFail
	}
	defer s.close(log)

	parallel := flags.Parallel
	if parallel < 1 {
		parallel = 1
	}
	for i := range cfgs {
		j := &cfgs[i]
		conn, err := s.connector(ctx, j.cfg, parallel, getenv, deps)
		if err != nil {
			fmt.Fprintf(stderr, "error: %s: %v\n", j.label, err)
			return exitFail
		}
		opts := []cursor.Option{
			cursor.WithLogger(log.With(zap.String("job", j.label))),
			cursor.WithMetrics(metrics.NewRecorder(backend, j.cfg.Metrics.Job)),
			cursor.WithGetenv(getenv),
		}
		if l := s.skips[j.cfg.Logging.RowErrorsFile]; l != nil {
			opts = append(opts, cursor.WithRowErrorSink(l))
		}
		if j.proc, err = cursor.New(j.cfg, conn, opts...); err != nil {
			fmt.Fprintf(stderr, "error: %s: %v\n", j.label, err)
			return exitFail
		}
	}

	results := make([]cursor.Result, len(cfgs))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i := range cfgs {
		i := i
		g.Go(func() error {
			results[i] = cfgs[i].proc.Execute(ctx)
			return nil
		})
	}
	_ = g.Wait()

	code := exitOK
	for i, res := range results {
		j := cfgs[i]
		if jr := s.journals[j.cfg.Journal.Path]; jr != nil {
			if _, err := jr.Record(ctx, j.label, j.cfg.Cursor.Query, res); err != nil {
				log.Warn("journal record failed", zap.String("job", j.label), zap.Error(err))
			}
		}
		if !res.Success {
			code = exitFail
		}
	}

	if flags.OutputJSON {
		if err := writeJSON(deps.Stdout, results); err != nil {
			fmt.Fprintf(stderr, "error: encode results: %v\n", err)
			return exitFail
		}
	} else {
		for i, res := range results {
			writeSummary(deps.Stdout, cfgs[i].label, res)
		}
	}
	return code
}

// loadConfigs reads -config and every positional path, layering flag
// overrides over each. With no paths, flags alone describe one job.
func loadConfigs(flags *config.Flags, rest []string) ([]job, error) {
	var paths []string
	if flags.ConfigPath != "" {
		paths = append(paths, flags.ConfigPath)
	}
	paths = append(paths, rest...)

	if len(paths) == 0 {
		var c config.Config
		flags.Apply(&c)
		c.ApplyDefaults()
		return []job{{label: "cli", cfg: c}}, nil
	}

	out := make([]job, 0, len(paths))
	for _, p := range paths {
		c, err := config.LoadFile(p)
		if err != nil {
			return nil, err
		}
		flags.Apply(c)
		c.ApplyDefaults()
		out = append(out, job{label: filepath.Base(p), cfg: *c})
	}
	return out, nil
}

// dryRun validates every job without opening a connection.
func dryRun(cfgs []job, deps Deps, log *zap.Logger) int {
	code := exitOK
	for _, j := range cfgs {
		for _, iss := range config.ValidateConfig(j.cfg) {
			if iss.Severity == config.SeverityWarning {
				log.Warn("configuration warning", zap.String("job", j.label), zap.String("path", iss.Path), zap.String("message", iss.Message))
			}
		}
		if _, err := cursor.New(j.cfg, deps.Connector(j.cfg), cursor.WithLogger(log)); err != nil {
			fmt.Fprintf(deps.Stderr, "%s: %v\n", j.label, err)
			code = exitFail
			continue
		}
		fmt.Fprintf(deps.Stdout, "%s: configuration valid\n", j.label)
	}
	return code
}

func printHistory(ctx context.Context, path string, n int, deps Deps) int {
	jr, err := deps.OpenJournal(ctx, path)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "error: %v\n", err)
		return exitFail
	}
	defer jr.Close()

	entries, err := jr.Latest(ctx, n)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "error: %v\n", err)
		return exitFail
	}
	for _, e := range entries {
		fmt.Fprintln(deps.Stdout, e.String())
	}
	return exitOK
}

// writeJSON prints a single result as an object and several as an array.
func writeJSON(w io.Writer, results []cursor.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(results) == 1 {
		return enc.Encode(results[0])
	}
	return enc.Encode(results)
}

func writeSummary(w io.Writer, label string, res cursor.Result) {
	status := "ok"
	if !res.Success {
		status = "FAILED"
	}
	rows := fmt.Sprint(res.RowsProcessed)
	if !res.RowsProcessedExact {
		rows = "unknown"
	}
	fmt.Fprintf(w, "%s: %s cursor=%s rows=%s row_errors=%d transaction=%s took=%s\n",
		label, status, res.CursorName, rows, res.RowErrors(), res.Transaction, res.Duration)
	for _, e := range res.Errors {
		if e.Terminal() {
			fmt.Fprintf(w, "  %s: %s\n", e.Type, e.Error)
		} else {
			fmt.Fprintf(w, "  row %d: %s\n", e.Row, e.Error)
		}
	}
}

// sinks holds the per-path resources shared by jobs: row-error reports,
// journals, and connection pools.
type sinks struct {
	skips    map[string]*skiplog.Log
	journals map[string]*journal.Journal
	pools    map[string]pooledConnector
}

func openSinks(ctx context.Context, cfgs []job, deps Deps) (*sinks, error) {
	s := &sinks{
		skips:    make(map[string]*skiplog.Log),
		journals: make(map[string]*journal.Journal),
		pools:    make(map[string]pooledConnector),
	}
	for _, j := range cfgs {
		if p := j.cfg.Logging.RowErrorsFile; p != "" && s.skips[p] == nil {
			l, err := skiplog.Create(p)
			if err != nil {
				s.close(zap.NewNop())
				return nil, fmt.Errorf("row errors file: %w", err)
			}
			s.skips[p] = l
		}
		if p := j.cfg.Journal.Path; p != "" && s.journals[p] == nil {
			jr, err := deps.OpenJournal(ctx, p)
			if err != nil {
				s.close(zap.NewNop())
				return nil, err
			}
			s.journals[p] = jr
		}
	}
	return s, nil
}

// connector returns the connector for cfg. Parallel pgx jobs against the
// same target share one pool sized to the parallelism.
func (s *sinks) connector(ctx context.Context, cfg config.Config, parallel int, getenv func(string) string, deps Deps) (db.Connector, error) {
	if c := deps.Connector(cfg); c != nil {
		return c, nil
	}
	if parallel < 2 || cfg.Driver != db.DriverPgx {
		return nil, nil
	}
	target, err := connect.Resolve(cfg, getenv)
	if err != nil {
		return nil, err
	}
	if p := s.pools[target.DSN]; p != nil {
		return p, nil
	}
	p, err := deps.NewPool(ctx, target.DSN, int32(parallel))
	if err != nil {
		return nil, err
	}
	s.pools[target.DSN] = p
	return p, nil
}

func (s *sinks) close(log *zap.Logger) {
	for path, l := range s.skips {
		if err := l.Close(); err != nil {
			log.Warn("row errors file close failed", zap.String("path", path), zap.Error(err))
		}
	}
	for path, jr := range s.journals {
		if err := jr.Close(); err != nil {
			log.Warn("journal close failed", zap.String("path", path), zap.Error(err))
		}
	}
	for _, p := range s.pools {
		p.Close()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, defaultDeps())
	stop()
	os.Exit(code)
}
