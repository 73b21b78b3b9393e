// Package db wires the Postgres connection pool, schema migrations, and the
// arbitrary-precision numeric helpers every repository builds on.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chainsync-io/evmsync/internal/logger"
)

// Resource bounds from spec.md §5: max 20 connections, idle timeout 30s,
// per-statement timeout 30s.
const (
	MaxConns        = 20
	MaxConnIdleTime = 30 * time.Second
	StatementTimeout = 30 * time.Second
)

// NewPool opens a pgxpool.Pool configured to the resource bounds in
// spec.md §5.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: invalid DATABASE_URL: %w", err)
	}

	cfg.MaxConns = MaxConns
	cfg.MaxConnIdleTime = MaxConnIdleTime
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", StatementTimeout.Milliseconds())

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to reach database: %w", err)
	}

	return pool, nil
}

// OpenForMigrations opens a database/sql handle over the pgx stdlib driver,
// the interface sql-migrate requires; the application otherwise always uses
// the pgxpool.Pool handle above.
func OpenForMigrations(databaseURL string) (*sql.DB, error) {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open migration handle: %w", err)
	}
	return sqlDB, nil
}

// RunMigrationsOnURL is the convenience entrypoint cmd/indexer calls before
// any repository touches the schema.
func RunMigrationsOnURL(databaseURL string, log *logger.Logger) error {
	sqlDB, err := OpenForMigrations(databaseURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return RunMigrations(sqlDB, Migrations, log)
}
