// Package postgres implements the durable student record store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrConnectionClosed  = errors.New("postgres: connection pool is closed")
	ErrMigrationFailed   = errors.New("postgres: migration failed")
	ErrTransactionFailed = errors.New("postgres: transaction failed")
)

// ══════════════════════════════════════════════════════════════════════════════
// POOL
// ══════════════════════════════════════════════════════════════════════════════

// PoolConfig overrides pool settings from the URL. Zero fields are left
// alone.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func (p PoolConfig) apply(cfg *pgxpool.Config) {
	setIf(&cfg.MaxConns, p.MaxConns)
	setIf(&cfg.MinConns, p.MinConns)
	setIf(&cfg.MaxConnLifetime, p.MaxConnLifetime)
	setIf(&cfg.MaxConnIdleTime, p.MaxConnIdleTime)
	setIf(&cfg.HealthCheckPeriod, p.HealthCheckPeriod)
}

func setIf[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// Connection is a pgx pool that refuses work once closed. The student
// repository and the migrator share one.
type Connection struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	closed bool
}

// NewConnectionFromURL opens a pool and fails unless the database answers a
// ping.
func NewConnectionFromURL(ctx context.Context, databaseURL string, pc PoolConfig) (*Connection, error) {
	conn, err := OpenConnection(ctx, databaseURL, pc)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return conn, nil
}

// OpenConnection builds the pool without contacting the database; pgx dials
// on first use. Only a malformed URL or pool setting fails here.
func OpenConnection(ctx context.Context, databaseURL string, pc PoolConfig) (*Connection, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}
	pc.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// use runs fn with the pool under the read lock, so Close waits for calls
// already in flight.
func (c *Connection) use(fn func(*pgxpool.Pool) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return fn(c.pool)
}

// Close is idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.pool.Close()
	}
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.use(func(p *pgxpool.Pool) error { return p.Ping(ctx) })
}

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (tag pgconn.CommandTag, err error) {
	err = c.use(func(p *pgxpool.Pool) error {
		tag, err = p.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (rows pgx.Rows, err error) {
	err = c.use(func(p *pgxpool.Pool) error {
		rows, err = p.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

// QueryRow defers errors to Scan, as pgx does; after Close, Scan returns
// ErrConnectionClosed.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	var row pgx.Row = closedRow{}
	_ = c.use(func(p *pgxpool.Pool) error {
		row = p.QueryRow(ctx, sql, args...)
		return nil
	})
	return row
}

type closedRow struct{}

func (closedRow) Scan(...any) error { return ErrConnectionClosed }

// WithTx runs fn in a read-committed transaction, committing only if fn
// returns nil. A panic in fn rolls back and is re-raised.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var tx pgx.Tx
	if err := c.use(func(p *pgxpool.Pool) (err error) {
		tx, err = p.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		return err
	}); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

func IsUniqueViolation(err error) bool { return sqlState(err) == codeUniqueViolation }
func IsCheckViolation(err error) bool  { return sqlState(err) == codeCheckViolation }
func IsNoRows(err error) bool          { return errors.Is(err, pgx.ErrNoRows) }

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
