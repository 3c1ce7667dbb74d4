// Package audit persists a trail of auth operations and serves it back
// page by page.
//
// Entries are written by Recorder, which implements auth.Recorder. Record
// never blocks: entries queue on a bounded channel and a single writer
// goroutine (Run) drains them into a Repository. When the queue is full the
// entry is dropped with a warning, so a slow database cannot stall logins.
//
//	rec := audit.NewRecorder(audit.NewSQLiteRepository(db), logger)
//	go rec.Run(ctx)
//
// Two repositories share the audit_logs schema: SQLiteRepository over
// database/sql and PostgresRepository over a pgx pool.
package audit
