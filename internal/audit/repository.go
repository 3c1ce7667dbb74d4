package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Sources recorded on entries.
const (
	SourceAPI    = "api"
	SourceReaper = "reaper"
)

// timeLayout sorts lexically in UTC, which List relies on for ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Outcome   string         `json:"outcome"`
	UserID    int64          `json:"user_id,omitempty"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns. Zero fields match everything.
type Filter struct {
	Action  string
	Outcome string
	UserID  int64
	Limit   int // default 50, max 200
	Offset  int
}

// normalise clamps paging to the allowed range.
func (f Filter) normalise() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// prepare fills generated fields and encodes details.
func prepare(entry *Entry) ([]byte, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Source == "" {
		entry.Source = SourceAPI
	}
	if entry.Details == nil {
		return nil, nil
	}
	b, err := json.Marshal(entry.Details)
	if err != nil {
		return nil, fmt.Errorf("marshalling audit details: %w", err)
	}
	return b, nil
}

// whereClause builds a parameterised WHERE clause. placeholder renders the
// n-th bind parameter (1-based) in the driver's syntax.
func whereClause(f Filter, placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+" = "+placeholder(len(args)))
	}
	if f.Action != "" {
		add("action", f.Action)
	}
	if f.Outcome != "" {
		add("outcome", f.Outcome)
	}
	if f.UserID != 0 {
		add("user_id", f.UserID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func nullableUserID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry. ID, CreatedAt and Source are filled when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	details, err := prepare(entry)
	if err != nil {
		return err
	}

	var detailsText any
	if details != nil {
		detailsText = string(details)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, outcome, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.Outcome, nullableUserID(entry.UserID),
		entry.Source, detailsText, entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns the page of entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalise()
	where, args := whereClause(filter, func(int) string { return "?" })

	var total int
	//nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	//nolint:gosec // WHERE built from parameterised conditions
	query := "SELECT id, action, outcome, user_id, source, details, created_at FROM audit_logs " +
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			userID    sql.NullInt64
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Outcome, &userID, &e.Source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		e.UserID = userID.Int64
		if details.Valid {
			e.Details = decodeDetails([]byte(details.String))
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// decodeDetails drops details that no longer parse rather than failing the page.
func decodeDetails(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var details map[string]any
	if json.Unmarshal(b, &details) != nil {
		return nil
	}
	return details
}
