// Package postgres implements the PostgreSQL persistence layer for the
// Shiva voice hub. It holds the authoritative user level records and the
// per-guild leveling settings.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConnectionClosed indicates the connection pool is closed.
var ErrConnectionClosed = errors.New("postgres: connection pool is closed")

// Pool tuning applied when the caller does not specify its own values.
const (
	defaultMaxConns       = 10
	defaultMinConns       = 2
	defaultConnLifetime   = time.Hour
	defaultConnIdleTime   = 30 * time.Minute
	poolHealthCheckPeriod = time.Minute
	defaultConnectTimeout = 10 * time.Second
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION POOL
// ══════════════════════════════════════════════════════════════════════════════

// Config holds PostgreSQL connection configuration.
type Config struct {
	// Host is the database host.
	Host string

	// Port is the database port (default 5432).
	Port int

	// Database is the database name.
	Database string

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full).
	SSLMode string

	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32

	// MinConns is the minimum number of connections in the pool.
	MinConns int32

	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum idle time of a connection.
	MaxConnIdleTime time.Duration

	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Port:            5432,
		Database:        "shiva",
		User:            "postgres",
		SSLMode:         "require",
		MaxConns:        defaultMaxConns,
		MinConns:        defaultMinConns,
		MaxConnLifetime: defaultConnLifetime,
		MaxConnIdleTime: defaultConnIdleTime,
		ConnectTimeout:  defaultConnectTimeout,
	}
}

// DSN assembles the keyword/value connection string.
func (c Config) DSN() string {
	parts := []string{
		"host=" + c.Host,
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + c.Database,
		"user=" + c.User,
		"password=" + c.Password,
		"sslmode=" + c.SSLMode,
		fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())),
	}
	return strings.Join(parts, " ")
}

func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	pc.MaxConns = c.MaxConns
	pc.MinConns = c.MinConns
	pc.MaxConnLifetime = c.MaxConnLifetime
	pc.MaxConnIdleTime = c.MaxConnIdleTime
	pc.HealthCheckPeriod = poolHealthCheckPeriod

	return pc, nil
}

// Connection wraps a pgx pool and refuses work after Close.
type Connection struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	closed bool
}

// NewConnection creates a connection pool from structured configuration.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	return open(ctx, pc)
}

// NewConnectionFromURL creates a connection pool from a database URL.
// Pool limits not present in the URL fall back to package defaults.
func NewConnectionFromURL(ctx context.Context, databaseURL string) (*Connection, error) {
	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}

	if pc.MaxConns == 0 {
		pc.MaxConns = defaultMaxConns
	}
	if pc.MinConns == 0 {
		pc.MinConns = defaultMinConns
	}
	pc.MaxConnLifetime = defaultConnLifetime
	pc.MaxConnIdleTime = defaultConnIdleTime
	pc.HealthCheckPeriod = poolHealthCheckPeriod

	return open(ctx, pc)
}

func open(ctx context.Context, pc *pgxpool.Config) (*Connection, error) {
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	return &Connection{pool: pool}, nil
}

// live returns the pool or ErrConnectionClosed after Close.
func (c *Connection) live() (*pgxpool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	return c.pool, nil
}

// Close closes the connection pool. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.pool.Close()
}

// Ping checks if the database connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	pool, err := c.live()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES AND TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Exec executes a statement that does not return rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	pool, err := c.live()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

// Query executes a statement that returns rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	pool, err := c.live()
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sql, args...)
}

// QueryRow executes a statement that returns a single row.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool.QueryRow(ctx, sql, args...)
}

// WithTx runs fn inside a read-committed read-write transaction,
// committing on nil and rolling back on error or panic.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	pool, err := c.live()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
