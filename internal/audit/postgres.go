package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores entries in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// Create inserts entry. ID, CreatedAt and Source are filled when empty.
func (r *PostgresRepository) Create(ctx context.Context, entry *Entry) error {
	details, err := prepare(entry)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, action, outcome, user_id, source, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Action, entry.Outcome, nullableUserID(entry.UserID),
		entry.Source, details, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns the page of entries matching filter, most recent first.
func (r *PostgresRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalise()
	where, args := whereClause(filter, pgPlaceholder)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	n := len(args)
	query := "SELECT id, action, outcome, user_id, source, details, created_at FROM audit_logs " +
		where + " ORDER BY created_at DESC, id LIMIT " + pgPlaceholder(n+1) + " OFFSET " + pgPlaceholder(n+2)
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e         Entry
			userID    *int64
			details   []byte
			createdAt time.Time
		)
		if err := row.Scan(&e.ID, &e.Action, &e.Outcome, &userID, &e.Source, &details, &createdAt); err != nil {
			return Entry{}, err
		}
		if userID != nil {
			e.UserID = *userID
		}
		e.Details = decodeDetails(details)
		e.CreatedAt = createdAt.UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning audit logs: %w", err)
	}
	if logs == nil {
		logs = []Entry{}
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
