package db

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

type Config struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	MaxRetries     int
	RetryBase      time.Duration
}

// Pool is the slice of a connection pool the client needs. The pgx pool
// satisfies it through pgxPool; tests substitute their own.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Stat() PoolStat
	Close()
}

// Conn is one physical connection borrowed from a Pool. Exactly one of
// Release or Discard must be called when the borrower is done.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) ([]models.Row, error)
	Release()
	Discard(ctx context.Context)
}

type PoolStat struct {
	Total    int32
	Acquired int32
	Idle     int32
	Max      int32
}

// Client executes tenant-scoped queries over a shared pool.
type Client struct {
	pool         Pool
	maxRetries   int
	retryBase    time.Duration
	queryTimeout time.Duration
	closed       atomic.Bool
}

// Open connects a pgx pool and wraps it in a Client.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	// Model-generated SQL is ad hoc; keep it out of the per-connection statement cache.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return New(&pgxPool{pool: pool}, cfg), nil
}

// New wraps an existing pool. Zero retry settings fall back to 3 attempts from a 100ms base.
func New(pool Pool, cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Client{
		pool:         pool,
		maxRetries:   cfg.MaxRetries,
		retryBase:    cfg.RetryBase,
		queryTimeout: cfg.QueryTimeout,
	}
}

func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

func (p *pgxPool) Stat() PoolStat {
	s := p.pool.Stat()
	return PoolStat{
		Total:    s.TotalConns(),
		Acquired: s.AcquiredConns(),
		Idle:     s.IdleConns(),
		Max:      s.MaxConns(),
	}
}

func (p *pgxPool) Close() {
	p.pool.Close()
}

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) ([]models.Row, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (c *pgxConn) Release() {
	c.conn.Release()
}

// Discard takes the connection away from the pool and closes it, so it is never handed out again.
func (c *pgxConn) Discard(ctx context.Context) {
	raw := c.conn.Hijack()
	_ = raw.Close(ctx)
}
