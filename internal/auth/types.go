package auth

import (
	"errors"
	"fmt"
	"time"
)

// Role represents an authorisation tier. It is a closed set: every switch
// over Role must handle all three values.
type Role uint8

const (
	// RoleUnverified is a registered account whose email has not been
	// confirmed. It cannot log in.
	RoleUnverified Role = iota

	// RoleViewer can log in and read accounts.
	RoleViewer

	// RoleAdmin manages accounts, roles and the audit log.
	RoleAdmin
)

// String returns the stored form of the role.
func (r Role) String() string {
	switch r {
	case RoleUnverified:
		return "unverified"
	case RoleViewer:
		return "viewer"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole converts a stored or wire role name back into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "unverified":
		return RoleUnverified, nil
	case "viewer":
		return RoleViewer, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleUnverified, RoleViewer, RoleAdmin:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(r))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User represents a registered account. Users are soft-deleted, never removed.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsActive reports whether the user may hold a session.
func (u *User) IsActive() bool {
	return u.DeletedAt == nil && u.Role != RoleUnverified
}

// Token is an opaque bearer secret bound to one user. Refresh tokens and
// verification tokens share this shape and live in separate tables.
type Token struct {
	ID     int64
	UserID int64

	// Value is the raw secret. It is only populated on issuance and lookup
	// by value; the store keeps a SHA-256 digest.
	Value string

	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time

	// User is the owner, loaded by GetByValue or set on issuance.
	User *User
}

// IsActive reports whether the token is unrevoked and unexpired at now.
func (t *Token) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Message is an outbound notification, typically an email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Outcome sentinels returned by Service. They carry no internal cause.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("internal server error")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidRole  = errors.New("invalid role")
)

// Store-level sentinels. They are wrapped with %w between layers and
// translated to outcome sentinels by Service.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrTokenNotFound = errors.New("token not found")
	ErrEmailExists   = errors.New("email already exists")
	ErrStaleWrite    = errors.New("conditional write matched no rows")
	ErrTokenInvalid  = errors.New("invalid token")
)
