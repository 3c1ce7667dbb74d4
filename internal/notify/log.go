package notify

import (
	"context"
	"log/slog"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

// LogNotifier logs messages instead of sending them. The body contains the
// verification link, so use it only in development.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify", "transport", "log")}
}

// Notify logs msg and never fails.
func (n *LogNotifier) Notify(ctx context.Context, msg auth.Message) error {
	n.logger.InfoContext(ctx, "outbound message",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
