package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
)

// defaultSMTPTimeout bounds a delivery when ctx has no deadline.
const defaultSMTPTimeout = 30 * time.Second

// ErrInvalidMessage is returned for messages that cannot be encoded safely.
var ErrInvalidMessage = errors.New("notify: invalid message")

// SMTPNotifier sends messages through an SMTP relay, one connection per
// message.
type SMTPNotifier struct {
	cfg    config.SMTPConfig
	sender string
	dialer net.Dialer
	logger *slog.Logger
}

// NewSMTPNotifier returns a notifier for the relay in cfg, sending as sender.
func NewSMTPNotifier(cfg config.SMTPConfig, sender string, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:    cfg,
		sender: sender,
		logger: logger.With("component", "notify", "transport", "smtp"),
	}
}

// Notify delivers msg. STARTTLS is used when the server offers it; PLAIN
// auth is used when a username is configured. The whole exchange is bounded
// by ctx.
func (n *SMTPNotifier) Notify(ctx context.Context, msg auth.Message) error {
	m, err := n.encode(msg)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSMTPTimeout)
		defer cancel()
	}

	client, err := mail.NewClient(n.cfg.Host, n.options()...)
	if err != nil {
		return fmt.Errorf("configuring smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending via %s: %w", n.cfg.Host, err)
	}

	n.logger.Debug("message sent", "to", msg.To)
	return nil
}

func (n *SMTPNotifier) options() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(defaultSMTPTimeout),
		mail.WithDialContextFunc(n.dial),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	return opts
}

// dial bounds the whole connection, not just the dial, by ctx's deadline.
func (n *SMTPNotifier) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := n.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing smtp relay %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("setting smtp deadline: %w", err)
		}
	}
	return conn, nil
}

// encode builds a plain-text message. The body is quoted-printable, so any
// line ending style in msg.Body goes out as CRLF.
func (n *SMTPNotifier) encode(msg auth.Message) (*mail.Msg, error) {
	for _, v := range []string{n.sender, msg.To, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("%w: header contains a line break", ErrInvalidMessage)
		}
	}
	if msg.To == "" {
		return nil, fmt.Errorf("%w: no recipient", ErrInvalidMessage)
	}

	m := mail.NewMsg()
	if err := m.From(n.sender); err != nil {
		return nil, fmt.Errorf("%w: sender: %w", ErrInvalidMessage, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: recipient: %w", ErrInvalidMessage, err)
	}

	domain := "localhost"
	if _, d, ok := strings.Cut(n.sender, "@"); ok && d != "" {
		domain = d
	}
	m.SetMessageIDWithValue(uuid.NewString() + "@" + domain)
	m.SetDate()
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
