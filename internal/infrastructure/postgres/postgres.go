// Package postgres provides the PostgreSQL connection pool and goose-driven
// schema migrations used when database.driver is "postgres".
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds the connectivity check performed by Open.
const pingTimeout = 3 * time.Second

// Config contains pool settings. These map to database.postgres in config.yaml.
type Config struct {
	URL      string
	MaxConns int32
}

// DB wraps a pgx connection pool.
type DB struct {
	*pgxpool.Pool
}

// Open builds a pool from cfg and verifies a connection can be acquired.
// It does not run migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	db := &DB{Pool: pool}
	if err := db.HealthCheck(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

// HealthCheck acquires and releases a pooled connection within a short timeout.
func (db *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := db.Acquire(pingCtx)
	if err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	conn.Release()
	return nil
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	return nil
}
