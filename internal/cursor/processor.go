// Package cursor runs a query through a named server-side cursor and applies
// an action to every fetched row inside one transaction.
//
// A run owns one connection, one transaction and one cursor, and processes
// rows sequentially:
//
//	connect -> BEGIN -> DECLARE -> (FETCH NEXT -> action)* -> CLOSE -> COMMIT
//
// Failures in connect, BEGIN, DECLARE, FETCH, CLOSE or COMMIT are terminal:
// the transaction is rolled back and the run reports Success=false. Action
// failures are isolated to their row, recorded in Result.Errors, and the
// loop continues; with on_row_error=abort the first one is terminal instead.
// In transactional mode every SQL action runs under a savepoint so that a
// failed row does not poison the transaction for the rows after it.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cursoragent/internal/config"
	"cursoragent/internal/connect"
	"cursoragent/internal/db"
	"cursoragent/internal/metrics"
)

// cleanupTimeout bounds ROLLBACK, CLOSE and connection release once the
// caller's context is done.
const cleanupTimeout = 30 * time.Second

// RowErrorSink receives every failed row together with its values.
// Implementations must be safe for concurrent use when runs share one.
type RowErrorSink interface {
	RecordRowError(cursorName string, row db.Row, err *RowError)
}

// Processor runs one configured cursor job. It holds no per-run state, so
// Execute may be called repeatedly and concurrently; each call opens its
// own connection.
type Processor struct {
	cfg       config.Config
	action    Action
	connector db.Connector

	log     *zap.Logger
	rec     *metrics.Recorder
	sink    RowErrorSink
	getenv  func(string) string
	newName func() string
	now     func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics records run and row counters into rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(p *Processor) { p.rec = rec }
}

// WithRowErrorSink forwards failed rows to s.
func WithRowErrorSink(s RowErrorSink) Option {
	return func(p *Processor) { p.sink = s }
}

// WithGetenv replaces os.Getenv for connection resolution.
func WithGetenv(getenv func(string) string) Option {
	return func(p *Processor) {
		if getenv != nil {
			p.getenv = getenv
		}
	}
}

// New validates cfg and returns a Processor running cfg.Cursor.Action. It
// performs no I/O. When connector is nil the connection is resolved from
// cfg and the environment and dialed per run with the configured driver.
func New(cfg config.Config, connector db.Connector, opts ...Option) (*Processor, error) {
	cfg.ApplyDefaults()
	if err := config.Check(cfg); err != nil {
		return nil, err
	}
	action, err := ParseAction(cfg.Cursor.Action)
	if err == nil {
		_, err = action.Statement("cursor_check")
	}
	if err != nil {
		return nil, configError("cursor.action", err)
	}
	if cfg.Cursor.Mode == config.CursorModeBlock {
		if err := checkBlock(cfg.Cursor.Query, cfg.Cursor.Action); err != nil {
			return nil, configError("cursor.action", err)
		}
	}
	return newProcessor(cfg, action, connector, opts)
}

// NewCallback is New for a native per-row action. cfg.Cursor.Action is
// ignored and block mode is rejected.
func NewCallback(cfg config.Config, connector db.Connector, fn RowFunc, opts ...Option) (*Processor, error) {
	cfg.ApplyDefaults()
	if err := config.CheckCallback(cfg); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, configError("callback", errors.New("callback is nil"))
	}
	if cfg.Cursor.Mode == config.CursorModeBlock {
		return nil, configError("cursor.mode", errors.New("block mode cannot run a callback"))
	}
	return newProcessor(cfg, CallbackAction(fn), connector, opts)
}

func newProcessor(cfg config.Config, action Action, connector db.Connector, opts []Option) (*Processor, error) {
	p := &Processor{
		cfg:       cfg,
		action:    action,
		connector: connector,
		log:       zap.NewNop(),
		getenv:    os.Getenv,
		newName:   generateName,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}

	if p.connector == nil {
		target, err := connect.Resolve(cfg, p.getenv)
		if err != nil {
			return nil, err
		}
		p.log.Debug("connection target configured", zap.String("target", target.Redacted()))
		p.connector = db.Dialer{Driver: cfg.Driver, DSN: target.DSN}
	}
	return p, nil
}

func configError(path string, err error) error {
	return &config.ConfigurationError{
		Issues: []config.Issue{{Severity: config.SeverityError, Path: path, Message: err.Error()}},
		Err:    fmt.Errorf("%s: %w", path, err),
	}
}

// generateName returns "cursor_" plus 8 hex characters.
func generateName() string {
	return "cursor_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Action returns the classified action.
func (p *Processor) Action() Action { return p.action }

// Config returns the validated configuration with defaults applied.
func (p *Processor) Config() config.Config { return p.cfg }

// Execute performs one run and returns its frozen result. It never panics
// and never returns a partially built result.
func (p *Processor) Execute(ctx context.Context) Result {
	name := p.cfg.Cursor.Name
	if name == "" {
		name = p.newName()
	}
	r := &run{
		p:       p,
		name:    name,
		quoted:  db.QuoteName(name),
		b:       newResultBuilder(name, p.now()),
		sampler: NewSampler(p.cfg.Logging.SampleRate),
		log:     p.log.With(zap.String("cursor", name)),
	}
	r.execute(ctx)

	res := r.b.freeze(p.now())
	p.observe(res)
	return res
}

func (p *Processor) observe(res Result) {
	p.rec.RecordRows("processed", res.RowsProcessed)
	p.rec.RecordRows("failed", res.RowErrors())
	if e, ok := res.TerminalError(); ok {
		p.rec.RecordTerminal(string(e.Type))
	}
	p.rec.RecordRun(res.Success, res.Duration)
}

// run is the state of one Execute call.
type run struct {
	p       *Processor
	name    string
	quoted  string
	b       *resultBuilder
	sampler *Sampler
	log     *zap.Logger

	conn     db.Conn
	tx       *txController
	declared bool
}

func (r *run) execute(ctx context.Context) {
	defer r.release(ctx)
	defer func() {
		if v := recover(); v != nil {
			r.fail(ctx, terminal(KindUnexpected, fmt.Errorf("panic: %v", v)))
		}
	}()

	conn, err := r.p.connector.Connect(ctx)
	r.conn = conn
	if err != nil {
		r.fail(ctx, terminal(KindConnection, err))
		return
	}
	if conn == nil {
		r.fail(ctx, terminal(KindConnection, errors.New("connector returned no connection")))
		return
	}
	r.log.Debug("database connection established")

	r.tx = newTxController(conn, r.p.cfg.Transactional(), r.log)
	if err := r.tx.Begin(ctx); err != nil {
		r.fail(ctx, terminal(KindBegin, err))
		return
	}

	if r.p.cfg.Cursor.Mode == config.CursorModeBlock {
		err = r.block(ctx)
	} else {
		err = r.loop(ctx)
	}
	if err != nil {
		r.fail(ctx, err)
		return
	}

	if err := r.tx.Commit(ctx); err != nil {
		r.fail(ctx, terminal(KindCommit, err))
		return
	}
	r.b.res.Success = true
	r.b.res.Transaction = r.tx.Outcome()
	r.log.Info("execution completed",
		zap.Int("rows_processed", r.b.res.RowsProcessed),
		zap.Int("row_errors", len(r.b.res.Errors)))
}

func (r *run) declareSQL() string {
	if r.tx.Active() {
		return fmt.Sprintf("DECLARE %s CURSOR FOR %s", r.quoted, r.p.cfg.Cursor.Query)
	}
	// Without a transaction block only a holdable cursor outlives DECLARE.
	return fmt.Sprintf("DECLARE %s CURSOR WITH HOLD FOR %s", r.quoted, r.p.cfg.Cursor.Query)
}

// loop declares the cursor, drives FETCH NEXT until it is exhausted and
// closes it. Only terminal errors are returned.
func (r *run) loop(ctx context.Context) error {
	stmt, err := r.p.action.Statement(r.name)
	if err != nil {
		return terminal(KindUnexpected, err)
	}

	if err := r.conn.Exec(ctx, r.declareSQL()); err != nil {
		return terminal(KindDeclare, err)
	}
	r.declared = true
	r.log.Info("cursor declared")

	fetch := "FETCH NEXT FROM " + r.quoted
	for {
		row, ok, err := r.conn.FetchOne(ctx, fetch)
		if err != nil {
			return terminal(KindFetch, err)
		}
		if !ok {
			break
		}

		n := r.b.row()
		if r.sampler.ShouldLog() {
			r.log.Info("processing row", zap.Int("row", n))
		}

		rowErr, err := r.dispatch(ctx, stmt, row)
		if err != nil {
			return terminal(KindSavepoint, err)
		}
		if rowErr == nil {
			continue
		}

		re := &RowError{Row: n, Err: rowErr}
		r.b.rowError(re)
		r.log.Error("action failed", zap.Int("row", n), zap.String("error", db.DescribeError(rowErr)))
		if r.p.sink != nil {
			r.p.sink.RecordRowError(r.name, row, re)
		}
		if r.p.cfg.OnRowError == config.RowErrorAbort {
			return terminal(KindRowAbort, fmt.Errorf("aborting at row %d: %s", n, db.DescribeError(rowErr)))
		}
	}

	if err := r.conn.Exec(ctx, "CLOSE "+r.quoted); err != nil {
		return terminal(KindClose, err)
	}
	r.declared = false
	r.log.Info("cursor closed")
	return nil
}

// dispatch runs the action for one row. rowErr is the action's failure;
// err is a savepoint failure and ends the run.
func (r *run) dispatch(ctx context.Context, stmt string, row db.Row) (rowErr, err error) {
	if r.p.action.Kind == Callback {
		return callSafely(ctx, r.p.action.fn, row), nil
	}
	args, aerr := r.p.action.Args(row)
	if aerr != nil {
		return aerr, nil
	}
	return r.tx.guardRow(ctx, func() error {
		return r.conn.Exec(ctx, stmt, args...)
	})
}

func callSafely(ctx context.Context, fn RowFunc, row db.Row) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("callback panic: %v", v)
		}
	}()
	return fn(ctx, row)
}

// fail records err, rolls back an open transaction and closes a holdable
// cursor left behind in autocommit mode.
func (r *run) fail(ctx context.Context, err error) {
	var te *TerminalError
	if !errors.As(err, &te) {
		te = terminal(KindUnexpected, err)
	}
	if !r.b.terminalError(te) {
		r.log.Error("additional terminal error", zap.String("kind", string(te.Kind)), zap.String("error", db.DescribeError(te.Err)))
		return
	}
	r.log.Error("run aborted", zap.String("kind", string(te.Kind)), zap.String("error", db.DescribeError(te.Err)))

	if r.conn == nil || r.tx == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if r.tx.Active() {
		r.tx.Rollback(cctx, te)
	} else if r.declared {
		if cerr := r.conn.Exec(cctx, "CLOSE "+r.quoted); cerr != nil {
			r.log.Warn("close cursor after failure", zap.String("error", db.DescribeError(cerr)))
		}
	}
	r.declared = false
	r.b.res.Transaction = r.tx.Outcome()
}

// release closes the connection exactly once.
func (r *run) release(ctx context.Context) {
	if r.conn == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("close connection panicked", zap.Any("panic", v))
		}
	}()
	conn := r.conn
	r.conn = nil

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := conn.Close(cctx); err != nil {
		r.log.Warn("close connection", zap.String("error", db.DescribeError(err)))
		return
	}
	r.log.Debug("database connection closed")
}
