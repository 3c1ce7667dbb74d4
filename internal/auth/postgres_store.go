package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store over pool. The schema must already be migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Begin opens a unit of work. No connection is held until Commit.
func (s *PostgresStore) Begin() UnitOfWork {
	uow := &pgUnitOfWork{pool: s.pool}
	uow.users = &pgUserRepository{pool: s.pool, queue: &uow.queue}
	uow.refresh = &pgTokenRepository{pool: s.pool, queue: &uow.queue, table: "refresh_tokens"}
	uow.verification = &pgTokenRepository{pool: s.pool, queue: &uow.queue, table: "verification_tokens"}
	return uow
}

type pgUnitOfWork struct {
	pool         *pgxpool.Pool
	queue        writeQueue[pgx.Tx]
	users        *pgUserRepository
	refresh      *pgTokenRepository
	verification *pgTokenRepository
}

func (u *pgUnitOfWork) Users() UserRepository              { return u.users }
func (u *pgUnitOfWork) RefreshTokens() TokenRepository      { return u.refresh }
func (u *pgUnitOfWork) VerificationTokens() TokenRepository { return u.verification }

func (u *pgUnitOfWork) Commit(ctx context.Context) (int64, error) {
	const op = "auth.PostgresStore.Commit"

	if u.queue.empty() {
		return 0, nil
	}

	tx, err := u.pool.Begin(ctx)
	if err != nil {
		u.queue.discard()
		return 0, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is no-op after commit

	n, err := u.queue.apply(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		u.queue.discard()
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	u.queue.committed()
	return n, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type pgUserRepository struct {
	pool  *pgxpool.Pool
	queue *writeQueue[pgx.Tx]
}

func (r *pgUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (r *pgUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

func (r *pgUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return exists, nil
}

func (r *pgUserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *pgUserRepository) Add(user *User) {
	r.queue.stage(func(ctx context.Context, tx pgx.Tx) (int64, error) {
		now := time.Now().UTC()
		created := user.CreatedAt
		if created.IsZero() {
			created = now
		}

		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO users (email, password_hash, role, deleted_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			user.Email, user.PasswordHash, user.Role.String(), user.DeletedAt, created, now,
		).Scan(&id)
		if err != nil {
			if isPgUniqueViolation(err) {
				return 0, ErrEmailExists
			}
			return 0, fmt.Errorf("creating user: %w", err)
		}
		r.queue.insertedUser(user, id)
		r.queue.afterCommit(func() {
			user.ID, user.CreatedAt, user.UpdatedAt = id, created, now
		})
		return 1, nil
	})
}

func (r *pgUserRepository) SetCredentials(user *User, email, passwordHash string) {
	r.update(user, "updating credentials", "email = $3, password_hash = $4", []any{email, passwordHash}, func() {
		user.Email, user.PasswordHash = email, passwordHash
	})
}

func (r *pgUserRepository) SetRole(user *User, role Role) {
	r.update(user, "updating role", "role = $3", []any{role.String()}, func() {
		user.Role = role
	})
}

func (r *pgUserRepository) SoftDelete(user *User, at time.Time) {
	deleted := at.UTC()
	r.update(user, "deleting user", "deleted_at = $3", []any{deleted}, func() {
		user.DeletedAt = &deleted
	})
}

// update stages a write of set on a live user, plus updated_at. set numbers
// its placeholders from $3.
func (r *pgUserRepository) update(user *User, what, set string, args []any, apply func()) {
	r.queue.stage(func(ctx context.Context, tx pgx.Tx) (int64, error) {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			"UPDATE users SET "+set+", updated_at = $2 WHERE id = $1 AND deleted_at IS NULL",
			append([]any{user.ID, now}, args...)...,
		)
		if err != nil {
			if isPgUniqueViolation(err) {
				return 0, ErrEmailExists
			}
			return 0, fmt.Errorf("%s: %w", what, err)
		}
		n, err := conditional(tag.RowsAffected(), what)
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

func (r *pgUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	var (
		u    User
		role string
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &role, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if u.Role, err = ParseRole(role); err != nil {
		return nil, err
	}
	return &u, nil
}

type pgTokenRepository struct {
	pool  *pgxpool.Pool
	queue *writeQueue[pgx.Tx]
	table string
}

func (r *pgTokenRepository) GetByValue(ctx context.Context, value string) (*Token, error) {
	query := fmt.Sprintf(`SELECT t.id, t.user_id, t.expires_at, t.revoked_at, t.created_at,
		u.id, u.email, u.password_hash, u.role, u.deleted_at, u.created_at, u.updated_at
		FROM %s t JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1`, r.table)

	var (
		t    Token
		u    User
		role string
	)
	err := r.pool.QueryRow(ctx, query, HashToken(value)).Scan(
		&t.ID, &t.UserID, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt,
		&u.ID, &u.Email, &u.PasswordHash, &role, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.table, err)
	}
	if u.Role, err = ParseRole(role); err != nil {
		return nil, err
	}

	t.Value = value
	t.User = &u
	return &t, nil
}

func (r *pgTokenRepository) ListInactive(ctx context.Context, now time.Time) ([]*Token, error) {
	return r.list(ctx, "WHERE revoked_at IS NOT NULL OR expires_at <= $1", now)
}

func (r *pgTokenRepository) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]*Token, error) {
	return r.list(ctx, "WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2", userID, now)
}

func (r *pgTokenRepository) list(ctx context.Context, where string, args ...any) ([]*Token, error) {
	query := fmt.Sprintf("SELECT id, user_id, expires_at, revoked_at, created_at FROM %s %s ORDER BY id", r.table, where)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", r.table, err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.ID, &t.UserID, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", r.table, err)
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", r.table, err)
	}
	return tokens, nil
}

func (r *pgTokenRepository) Add(t *Token) {
	r.queue.stage(func(ctx context.Context, tx pgx.Tx) (int64, error) {
		created := t.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		owner := r.queue.ownerID(t)

		var id int64
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, token_hash, expires_at, revoked_at, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`, r.table),
			owner, HashToken(t.Value), t.ExpiresAt, t.RevokedAt, created,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("inserting into %s: %w", r.table, err)
		}
		r.queue.afterCommit(func() {
			t.ID, t.UserID, t.CreatedAt = id, owner, created
		})
		return 1, nil
	})
}

func (r *pgTokenRepository) Revoke(t *Token, at time.Time) {
	r.queue.stage(func(ctx context.Context, tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET revoked_at = $1
			 WHERE id = $2 AND revoked_at IS NULL AND expires_at > $1`, r.table),
			at, t.ID,
		)
		if err != nil {
			return 0, fmt.Errorf("revoking %s: %w", r.table, err)
		}
		n, err := conditional(tag.RowsAffected(), "revoking "+r.table)
		if err != nil {
			return 0, err
		}
		revoked := at.UTC()
		r.queue.afterCommit(func() { t.RevokedAt = &revoked })
		return n, nil
	})
}

func (r *pgTokenRepository) RevokeAllByUser(userID int64, at time.Time) {
	r.queue.stage(func(ctx context.Context, tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET revoked_at = $1
			 WHERE user_id = $2 AND revoked_at IS NULL AND expires_at > $1`, r.table),
			at, userID,
		)
		if err != nil {
			return 0, fmt.Errorf("revoking %s of user %d: %w", r.table, userID, err)
		}
		return tag.RowsAffected(), nil
	})
}

func (r *pgTokenRepository) Remove(t *Token) {
	r.queue.stage(func(ctx context.Context, tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.table), t.ID)
		if err != nil {
			return 0, fmt.Errorf("deleting from %s: %w", r.table, err)
		}
		return tag.RowsAffected(), nil
	})
}
