// Package postgres stores encoded maps in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/automap/internal/config"
)

// applicationName identifies automap connections in pg_stat_activity.
const applicationName = "automap"

// ErrNotMigrated is returned by SchemaVersion when no migration has run.
var ErrNotMigrated = errors.New("database schema not migrated")

// Pool wraps a pgx connection pool.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the database described by cfg.
//
// Postcondition: Returns a Pool that answered a ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Pool{pool: pool}, nil
}

// Health pings the database within timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// SchemaVersion reports the migration version recorded by golang-migrate.
//
// Postcondition: Returns ErrNotMigrated if the migrations table is missing
// or empty.
func (p *Pool) SchemaVersion(ctx context.Context) (version uint, dirty bool, err error) {
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT to_regclass('schema_migrations') IS NOT NULL`,
	).Scan(&exists); err != nil {
		return 0, false, fmt.Errorf("checking migrations table: %w", err)
	}
	if !exists {
		return 0, false, ErrNotMigrated
	}

	var v int64
	err = p.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, ErrNotMigrated
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	return uint(v), dirty, nil
}

// Close releases all connections.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
