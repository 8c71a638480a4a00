package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is an explicitly constructed, explicitly owned pgxpool. Each run
// acquires its own connection through Connect and returns it on Close, so
// runs never share a session.
type Pool struct {
	pool    *pgxpool.Pool
	notices *noticeRouter
}

// NewPool builds a pgxpool from dsn. Callers own the pool and must Close it.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: parse: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	router := &noticeRouter{bufs: make(map[*pgconn.PgConn]*noticeBuffer)}
	cfg.ConnConfig.OnNotice = router.handle

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Pool{pool: p, notices: router}, nil
}

// Connect acquires a pooled connection. Close on the returned Conn releases
// it; pgxpool discards connections that are not idle at release time, so a
// connection left inside a failed transaction is never reused.
func (p *Pool) Connect(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	raw := c.Conn().PgConn()
	nb := p.notices.attach(raw)
	return &pgConn{
		q:       c,
		notices: nb,
		closeFn: func(context.Context) error {
			p.notices.detach(raw)
			c.Release()
			return nil
		},
	}, nil
}

// Stat reports pool counters for logging.
func (p *Pool) Stat() (acquired, idle, total int32) {
	s := p.pool.Stat()
	return s.AcquiredConns(), s.IdleConns(), s.TotalConns()
}

// Close closes every pooled connection.
func (p *Pool) Close() { p.pool.Close() }

// noticeRouter fans pool-wide notices out to the run holding the connection.
type noticeRouter struct {
	mu   sync.Mutex
	bufs map[*pgconn.PgConn]*noticeBuffer
}

func (r *noticeRouter) handle(c *pgconn.PgConn, n *pgconn.Notice) {
	r.mu.Lock()
	nb := r.bufs[c]
	r.mu.Unlock()
	if nb != nil {
		nb.add(n.Message)
	}
}

func (r *noticeRouter) attach(c *pgconn.PgConn) *noticeBuffer {
	nb := &noticeBuffer{}
	r.mu.Lock()
	r.bufs[c] = nb
	r.mu.Unlock()
	return nb
}

func (r *noticeRouter) detach(c *pgconn.PgConn) {
	r.mu.Lock()
	delete(r.bufs, c)
	r.mu.Unlock()
}
