package cursor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cursoragent/internal/db"
)

// TxState is the transaction controller state.
type TxState int

const (
	StateIdle TxState = iota
	StateOpen
	StateCommitted
	StateRolledBack
)

func (s TxState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

const rowSavepoint = "cursoragent_row"

// txController owns BEGIN/COMMIT/ROLLBACK for one run. When disabled it is a
// pass-through and every statement commits on its own.
type txController struct {
	conn    db.Conn
	enabled bool
	state   TxState
	log     *zap.Logger
}

func newTxController(conn db.Conn, enabled bool, log *zap.Logger) *txController {
	return &txController{conn: conn, enabled: enabled, log: log}
}

// Active reports whether a transaction is open.
func (t *txController) Active() bool { return t.state == StateOpen }

func (t *txController) Begin(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	if err := t.conn.Begin(ctx); err != nil {
		return err
	}
	t.state = StateOpen
	t.log.Info("transaction started")
	return nil
}

// Commit commits an open transaction. A commit the server turned into a
// rollback leaves the controller RolledBack.
func (t *txController) Commit(ctx context.Context) error {
	if t.state != StateOpen {
		return nil
	}
	if err := t.conn.Commit(ctx); err != nil {
		if errors.Is(err, db.ErrCommitRolledBack) {
			t.state = StateRolledBack
		}
		return err
	}
	t.state = StateCommitted
	t.log.Info("transaction committed")
	return nil
}

// Rollback undoes an open transaction after cause. A failed rollback is
// logged as a RollbackError and otherwise swallowed.
func (t *txController) Rollback(ctx context.Context, cause error) {
	if t.state != StateOpen {
		return
	}
	t.state = StateRolledBack
	if err := t.conn.Rollback(ctx); err != nil {
		t.log.Error("rollback failed", zap.Error(&RollbackError{Cause: cause, Err: err}))
		return
	}
	t.log.Info("transaction rolled back", zap.String("cause", db.DescribeError(cause)))
}

// Outcome maps the final state onto the result.
func (t *txController) Outcome() TxOutcome {
	switch t.state {
	case StateCommitted:
		return TxCommitted
	case StateRolledBack:
		return TxRolledBack
	}
	return TxNone
}

// guardRow runs fn inside a savepoint so that a failing statement does not
// abort the enclosing transaction. Outside a transaction fn runs bare.
// The returned rowErr is fn's error; err is a savepoint failure, which
// is terminal.
func (t *txController) guardRow(ctx context.Context, fn func() error) (rowErr, err error) {
	if t.state != StateOpen {
		return fn(), nil
	}
	if err := t.conn.Exec(ctx, "SAVEPOINT "+rowSavepoint); err != nil {
		return nil, err
	}
	if rowErr = fn(); rowErr != nil {
		if err := t.conn.Exec(ctx, "ROLLBACK TO SAVEPOINT "+rowSavepoint); err != nil {
			return rowErr, err
		}
	}
	if err := t.conn.Exec(ctx, "RELEASE SAVEPOINT "+rowSavepoint); err != nil {
		return rowErr, err
	}
	return rowErr, nil
}
