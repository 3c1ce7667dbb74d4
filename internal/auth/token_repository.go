package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// sqliteTokenRepository serves one token table. Token values are stored
// only as their SHA-256 digest.
type sqliteTokenRepository struct {
	db    *sql.DB
	queue *writeQueue[*sql.Tx]
	table string
}

func (r *sqliteTokenRepository) GetByValue(ctx context.Context, value string) (*Token, error) {
	query := fmt.Sprintf(`SELECT t.id, t.user_id, t.expires_at, t.revoked_at, t.created_at,
		u.id, u.email, u.password_hash, u.role, u.deleted_at, u.created_at, u.updated_at
		FROM %s t JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ?`, r.table)

	var (
		t                              Token
		u                              User
		expiresAt, createdAt           string
		revokedAt, userDeletedAt       sql.NullString
		role, userCreated, userUpdated string
	)
	err := r.db.QueryRowContext(ctx, query, HashToken(value)).Scan(
		&t.ID, &t.UserID, &expiresAt, &revokedAt, &createdAt,
		&u.ID, &u.Email, &u.PasswordHash, &role, &userDeletedAt, &userCreated, &userUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.table, err)
	}

	if err := decodeToken(&t, expiresAt, revokedAt, createdAt); err != nil {
		return nil, err
	}
	if t.User, err = decodeUser(&u, role, userDeletedAt, userCreated, userUpdated); err != nil {
		return nil, err
	}
	t.Value = value
	return &t, nil
}

func (r *sqliteTokenRepository) ListInactive(ctx context.Context, now time.Time) ([]*Token, error) {
	return r.list(ctx,
		"WHERE revoked_at IS NOT NULL OR expires_at <= ?", formatTime(now))
}

func (r *sqliteTokenRepository) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]*Token, error) {
	return r.list(ctx,
		"WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, formatTime(now))
}

func (r *sqliteTokenRepository) list(ctx context.Context, where string, args ...any) ([]*Token, error) {
	query := fmt.Sprintf("SELECT id, user_id, expires_at, revoked_at, created_at FROM %s %s ORDER BY id", r.table, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", r.table, err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		var (
			t                    Token
			expiresAt, createdAt string
			revokedAt            sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &expiresAt, &revokedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", r.table, err)
		}
		if err := decodeToken(&t, expiresAt, revokedAt, createdAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", r.table, err)
	}
	return tokens, nil
}

func (r *sqliteTokenRepository) Add(t *Token) {
	r.queue.stage(func(ctx context.Context, tx *sql.Tx) (int64, error) {
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		owner := r.queue.ownerID(t)
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, token_hash, expires_at, revoked_at, created_at)
			 VALUES (?, ?, ?, ?, ?)`, r.table),
			owner, HashToken(t.Value), formatTime(t.ExpiresAt), nullTime(t.RevokedAt), formatTime(created),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting into %s: %w", r.table, err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading %s id: %w", r.table, err)
		}
		r.queue.afterCommit(func() {
			t.ID, t.UserID, t.CreatedAt = id, owner, created
		})
		return rowsAffected(res), nil
	})
}

func (r *sqliteTokenRepository) Revoke(t *Token, at time.Time) {
	r.queue.stage(func(ctx context.Context, tx *sql.Tx) (int64, error) {
		stamp := formatTime(at)
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET revoked_at = ?
			 WHERE id = ? AND revoked_at IS NULL AND expires_at > ?`, r.table),
			stamp, t.ID, stamp,
		)
		if err != nil {
			return 0, fmt.Errorf("revoking %s: %w", r.table, err)
		}
		n, err := conditional(rowsAffected(res), "revoking "+r.table)
		if err != nil {
			return 0, err
		}
		revoked := at.UTC()
		r.queue.afterCommit(func() { t.RevokedAt = &revoked })
		return n, nil
	})
}

func (r *sqliteTokenRepository) RevokeAllByUser(userID int64, at time.Time) {
	r.queue.stage(func(ctx context.Context, tx *sql.Tx) (int64, error) {
		stamp := formatTime(at)
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET revoked_at = ?
			 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?`, r.table),
			stamp, userID, stamp,
		)
		if err != nil {
			return 0, fmt.Errorf("revoking %s of user %d: %w", r.table, userID, err)
		}
		return rowsAffected(res), nil
	})
}

func (r *sqliteTokenRepository) Remove(t *Token) {
	r.queue.stage(func(ctx context.Context, tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.table), t.ID)
		if err != nil {
			return 0, fmt.Errorf("deleting from %s: %w", r.table, err)
		}
		return rowsAffected(res), nil
	})
}

func decodeToken(t *Token, expiresAt string, revokedAt sql.NullString, createdAt string) error {
	var err error
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return err
	}
	if t.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	return nil
}
