// Package dbx wraps a pgx connection pool and the SQL migration runner
// every other package builds its queries on top of. It intentionally has
// no ORM: direct SQL gives control over the conditional UPDATE ... RETURNING
// idiom the work queue and recorder both depend on, and avoids the
// reflection overhead an ORM adds to the hot fetch/publish path.
package dbx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool with the handful of helpers the rest of the
// module needs; callers that need transactions use Pool() directly.
type DB struct {
	pool *pgxpool.Pool
}

// Open creates and pings a connection pool for connString. poolMax, when
// greater than zero, overrides the pool's MaxConns.
func Open(ctx context.Context, connString string, poolMax int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("dbx: parse config: %w", err)
	}
	if poolMax > 0 {
		cfg.MaxConns = poolMax
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dbx: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dbx: ping: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying pgxpool.Pool for callers that need
// transactions (pgx.Tx) or batch operations.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Close releases all pooled connections.
func (d *DB) Close() {
	d.pool.Close()
}

// Exec runs sql with args and discards the result, returning only an
// error (or nil).
func (d *DB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := d.pool.Exec(ctx, sql, args...)
	return err
}

// Query runs sql with args and returns the resulting rows.
func (d *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return d.pool.Query(ctx, sql, args...)
}

// QueryRow runs sql with args and returns a single row.
func (d *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return d.pool.QueryRow(ctx, sql, args...)
}

// WithAdvisoryLock runs fn while holding a session-scoped Postgres
// advisory lock keyed by hashtext(key), releasing it unconditionally
// afterwards. The planner uses this to guarantee single-writer
// reconciliation across multiple running processes.
func (d *DB) WithAdvisoryLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("dbx: acquire conn for advisory lock: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
		return fmt.Errorf("dbx: acquire advisory lock %q: %w", key, err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock(hashtext($1))", key)

	return fn(ctx)
}
