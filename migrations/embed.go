// Package migrations embeds SQL migration files into the binary.
//
// SQLite migrations use the YYYYMMDD_HHMMSS_name.up.sql / .down.sql pairs
// understood by the database package. Postgres migrations use goose's
// single-file format with Up/Down annotations.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// SQLite returns the SQLite migration files rooted at the migration directory.
func SQLite() fs.FS {
	return mustSub(sqliteFS, "sqlite")
}

// Postgres returns the goose migration files rooted at the migration directory.
func Postgres() fs.FS {
	return mustSub(postgresFS, "postgres")
}

func mustSub(fsys embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic("migrations: " + err.Error())
	}
	return sub
}
