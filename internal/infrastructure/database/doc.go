// Package database opens the SQLite file behind the credential store and
// audit log, and applies its schema.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.SQLite())
//
// Migrations are YYYYMMDD_HHMMSS_name.up.sql files with an optional
// .down.sql partner. Each runs in its own transaction and is recorded in
// schema_migrations; MigrateDown undoes the latest one.
//
// The file is created 0600 and foreign keys are always enabled.
package database
