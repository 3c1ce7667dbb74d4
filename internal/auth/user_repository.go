package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = "id, email, password_hash, role, deleted_at, created_at, updated_at"

// sqliteUserRepository reads through db and stages writes on the owning
// unit of work's queue.
type sqliteUserRepository struct {
	db    *sql.DB
	queue *writeQueue[*sql.Tx]
}

func (r *sqliteUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByEmail matches the email exactly.
func (r *sqliteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
}

func (r *sqliteUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)", email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return exists, nil
}

func (r *sqliteUserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *sqliteUserRepository) Add(user *User) {
	r.queue.stage(func(ctx context.Context, tx *sql.Tx) (int64, error) {
		now := time.Now().UTC()
		created := user.CreatedAt
		if created.IsZero() {
			created = now
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (email, password_hash, role, deleted_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.Email, user.PasswordHash, user.Role.String(), nullTime(user.DeletedAt),
			formatTime(created), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, ErrEmailExists
			}
			return 0, fmt.Errorf("creating user: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading user id: %w", err)
		}
		r.queue.insertedUser(user, id)
		r.queue.afterCommit(func() {
			user.ID, user.CreatedAt, user.UpdatedAt = id, created, now
		})
		return rowsAffected(res), nil
	})
}

func (r *sqliteUserRepository) SetCredentials(user *User, email, passwordHash string) {
	r.update(user, "updating credentials", "email = ?, password_hash = ?", []any{email, passwordHash}, func() {
		user.Email, user.PasswordHash = email, passwordHash
	})
}

func (r *sqliteUserRepository) SetRole(user *User, role Role) {
	r.update(user, "updating role", "role = ?", []any{role.String()}, func() {
		user.Role = role
	})
}

func (r *sqliteUserRepository) SoftDelete(user *User, at time.Time) {
	deleted := at.UTC()
	r.update(user, "deleting user", "deleted_at = ?", []any{formatTime(deleted)}, func() {
		user.DeletedAt = &deleted
	})
}

// update stages a write of set on a live user, plus updated_at. apply runs
// after the commit.
func (r *sqliteUserRepository) update(user *User, what, set string, args []any, apply func()) {
	r.queue.stage(func(ctx context.Context, tx *sql.Tx) (int64, error) {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET "+set+", updated_at = ? WHERE id = ? AND deleted_at IS NULL",
			append(args, formatTime(now), user.ID)...,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, ErrEmailExists
			}
			return 0, fmt.Errorf("%s: %w", what, err)
		}
		n, err := conditional(rowsAffected(res), what)
		if err != nil {
			return 0, err
		}
		r.queue.afterCommit(func() {
			apply()
			user.UpdatedAt = now
		})
		return n, nil
	})
}

func (r *sqliteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// scanUser reads the userColumns projection.
func scanUser(s scanner) (*User, error) {
	var (
		u                    User
		role                 string
		deletedAt            sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &deletedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return decodeUser(&u, role, deletedAt, createdAt, updatedAt)
}

func decodeUser(u *User, role string, deletedAt sql.NullString, createdAt, updatedAt string) (*User, error) {
	var err error
	if u.Role, err = ParseRole(role); err != nil {
		return nil, err
	}
	if u.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return u, nil
}
