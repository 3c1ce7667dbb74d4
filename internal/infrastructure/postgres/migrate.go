package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// goose keeps its base filesystem and dialect in package state.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// gooseDownContext is a seam for testing goose.DownContext.
var gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.DownContext(ctx, db, dir, opts...)
}

// withGoose configures goose for fsys and runs fn against a database/sql
// handle that shares the pool's connections.
func (db *DB) withGoose(fsys fs.FS, fn func(*sql.DB) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close() //nolint:errcheck // Handle over a shared pool

	return fn(sqlDB)
}

// Migrate applies every pending goose migration at the root of fsys.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	return db.withGoose(fsys, func(sqlDB *sql.DB) error {
		if err := gooseUpContext(ctx, sqlDB, "."); err != nil {
			return fmt.Errorf("applying postgres migrations: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the most recent goose migration.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	return db.withGoose(fsys, func(sqlDB *sql.DB) error {
		if err := gooseDownContext(ctx, sqlDB, "."); err != nil {
			return fmt.Errorf("rolling back postgres migration: %w", err)
		}
		return nil
	})
}

// Status describes the schema version of a PostgreSQL database.
type Status struct {
	Current int64
	Pending []int64
}

// MigrationStatus reports the applied schema version and the versions in
// fsys that are still pending.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (Status, error) {
	var st Status
	err := db.withGoose(fsys, func(sqlDB *sql.DB) error {
		current, err := goose.GetDBVersionContext(ctx, sqlDB)
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		st.Current = current

		all, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
		if err != nil {
			return fmt.Errorf("collecting migrations: %w", err)
		}
		for _, m := range all {
			if m.Version > current {
				st.Pending = append(st.Pending, m.Version)
			}
		}
		return nil
	})
	return st, err
}
