package notify

import (
	"fmt"
	"log/slog"

	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
)

// FromConfig builds the notifier selected by cfg.Transport. pub and topic
// are used only by the mqtt transport; pub may be nil otherwise.
func FromConfig(cfg config.EmailConfig, pub Publisher, topic string, logger *slog.Logger) (auth.Notifier, error) {
	switch cfg.Transport {
	case config.TransportLog, "":
		return NewLogNotifier(logger), nil
	case config.TransportSMTP:
		return NewSMTPNotifier(cfg.SMTP, cfg.Sender, logger), nil
	case config.TransportMQTT:
		if pub == nil {
			return nil, fmt.Errorf("email transport %q requires mqtt to be enabled", cfg.Transport)
		}
		return NewMQTTNotifier(pub, topic), nil
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}
