package auth

import (
	"context"
	"errors"
	"time"
)

// Operation names reported in Events.
const (
	OpLogin             = "login"
	OpRefresh           = "refresh"
	OpLogout            = "logout"
	OpRegister          = "register"
	OpVerify            = "verify"
	OpUpdateCredentials = "update_credentials"
	OpUpdateRole        = "update_role"
	OpDeleteUser        = "delete_user"
	OpSweep             = "sweep"
)

// OutcomeOK is the outcome of a successful operation.
const OutcomeOK = "ok"

// Event describes one completed Service or Reaper operation.
type Event struct {
	Op      string
	Outcome string
	UserID  int64
	Removed int64
	Took    time.Duration
	At      time.Time
}

// Recorder receives operation events. Implementations must not block.
type Recorder interface {
	Record(Event)
}

// Notifier delivers outbound messages such as verification emails.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Outcome names the outcome sentinel err matches, for metrics and audit.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	default:
		return "error"
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
