package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// sqliteTimeLayout is fixed-width UTC so stored timestamps compare
// correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteStore implements Store on database/sql with the go-sqlite3 driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a Store over db. The schema must already be migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Begin opens a unit of work. No connection is held until Commit.
func (s *SQLiteStore) Begin() UnitOfWork {
	uow := &sqliteUnitOfWork{db: s.db}
	uow.users = &sqliteUserRepository{db: s.db, queue: &uow.queue}
	uow.refresh = &sqliteTokenRepository{db: s.db, queue: &uow.queue, table: "refresh_tokens"}
	uow.verification = &sqliteTokenRepository{db: s.db, queue: &uow.queue, table: "verification_tokens"}
	return uow
}

type sqliteUnitOfWork struct {
	db           *sql.DB
	queue        writeQueue[*sql.Tx]
	users        *sqliteUserRepository
	refresh      *sqliteTokenRepository
	verification *sqliteTokenRepository
}

func (u *sqliteUnitOfWork) Users() UserRepository              { return u.users }
func (u *sqliteUnitOfWork) RefreshTokens() TokenRepository      { return u.refresh }
func (u *sqliteUnitOfWork) VerificationTokens() TokenRepository { return u.verification }

// Commit applies the staged writes in one transaction.
func (u *sqliteUnitOfWork) Commit(ctx context.Context) (int64, error) {
	if u.queue.empty() {
		return 0, nil
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		u.queue.discard()
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	n, err := u.queue.apply(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		u.queue.discard()
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	u.queue.committed()
	return n, nil
}

// formatTime renders t for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// nullTime renders an optional timestamp for storage.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime accepts any RFC 3339 precision, including SQLite's strftime defaults.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// rowsAffected reads RowsAffected, which the SQLite driver always reports.
func rowsAffected(res sql.Result) int64 {
	n, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n
}

// conditional turns a zero-row conditional write into ErrStaleWrite.
func conditional(n int64, what string) (int64, error) {
	if n == 0 {
		return 0, fmt.Errorf("%s: %w", what, ErrStaleWrite)
	}
	return n, nil
}
