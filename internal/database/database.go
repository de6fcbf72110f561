// Package database manages the PostgreSQL side of the retrieval service:
// a pgx connection pool tuned from configuration, health reporting for the
// readiness endpoint, a transaction helper, and session advisory locks used
// to coordinate the cache sweeper across replicas.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/scholarsift/retrieval-service/internal/config"
)

// HealthCheckTimeout bounds the ping issued by Health so a wedged pool
// cannot stall the readiness endpoint.
const HealthCheckTimeout = 5 * time.Second

// Querier is the query surface shared by *pgxpool.Pool and pgx.Tx.
// Cache stores accept it instead of *DB so the same store code runs
// against the pool, inside a transaction, or over a pgxmock pool in
// tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// HealthStatus is the database portion of the readiness report.
type HealthStatus struct {
	Status            string `json:"status"`
	Error             string `json:"error,omitempty"`
	TotalConns        int32  `json:"total_conns"`
	AcquiredConns     int32  `json:"acquired_conns"`
	IdleConns         int32  `json:"idle_conns"`
	ConstructingConns int32  `json:"constructing_conns"`
	MaxConns          int32  `json:"max_conns"`
}

// DB owns the connection pool and its lifecycle.
type DB struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var _ Querier = (*DB)(nil)

// New opens a connection pool for cfg and verifies it with a ping before
// handing it out, so a misconfigured DSN fails at startup rather than on
// the first query.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	// Pool churn is only visible at trace level.
	pc.BeforeAcquire = func(context.Context, *pgx.Conn) bool {
		logger.Trace().Msg("pool acquire")
		return true
	}
	pc.AfterRelease = func(*pgx.Conn) bool {
		logger.Trace().Msg("pool release")
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres pool ready")

	return &DB{pool: pool, log: logger}, nil
}

// Exec runs a statement on the pool.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

// Query runs a row-returning query on the pool.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query on the pool.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// SendBatch pipelines a batch of queries over one connection.
func (db *DB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return db.pool.SendBatch(ctx, b)
}

// Pool exposes the raw pgx pool for components that need it directly,
// such as the migrator's database/sql bridge.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Stats returns a snapshot of the pool counters.
func (db *DB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}

// Close shuts the pool down. Safe on a zero DB.
func (db *DB) Close() {
	if db.pool == nil {
		return
	}
	db.pool.Close()
	db.log.Info().Msg("postgres pool closed")
}

// Health pings the database under HealthCheckTimeout and reports the
// outcome alongside the pool counters.
func (db *DB) Health(ctx context.Context) HealthStatus {
	st := db.pool.Stat()
	h := HealthStatus{
		Status:            "healthy",
		TotalConns:        st.TotalConns(),
		AcquiredConns:     st.AcquiredConns(),
		IdleConns:         st.IdleConns(),
		ConstructingConns: st.ConstructingConns(),
		MaxConns:          st.MaxConns(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	if err := db.pool.Ping(pingCtx); err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
	}
	return h
}

// WithTransaction runs fn inside a transaction, committing when fn returns
// nil and rolling back otherwise. The fn error comes back unwrapped so
// callers can match on their own sentinels. A panic inside fn rolls the
// transaction back before propagating.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// After a successful commit this returns pgx.ErrTxClosed, which is
		// the expected no-op. Anything else means the rollback itself broke.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.log.Error().Err(rbErr).Msg("transaction rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithAdvisoryLock runs fn while holding the session advisory lock for key.
// Lock and unlock are pinned to a single pooled connection; through the bare
// pool they could land on different sessions and leave the lock stranded.
// Returns false without running fn when another session holds the lock.
func (db *DB) WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	defer func() {
		// Unlock even when ctx was cancelled mid-fn; the lock is session
		// scoped and would otherwise persist until the connection closes.
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", key)
	}()

	return true, fn(ctx)
}
