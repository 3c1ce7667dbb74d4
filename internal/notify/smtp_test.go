package notify

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"net"
	netmail "net/mail"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
)

// fakeSMTPServer speaks just enough SMTP for one unauthenticated delivery.
type fakeSMTPServer struct {
	ln net.Listener

	mu       sync.Mutex
	commands []string
	data     string
	rcptCode string
}

func startFakeSMTP(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTPServer{ln: ln, rcptCode: "250 OK"}
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck // test cleanup

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeSMTPServer) config() config.SMTPConfig {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String()) //nolint:errcheck // listener address
	p, _ := strconv.Atoi(port)                                //nolint:errcheck // listener address
	return config.SMTPConfig{Host: host, Port: p}
}

func (s *fakeSMTPServer) serve(conn net.Conn) {
	defer conn.Close() //nolint:errcheck // test server
	r := bufio.NewReader(conn)
	reply := func(line string) { conn.Write([]byte(line + "\r\n")) } //nolint:errcheck // test server

	reply("220 fake.example ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		rcpt := s.rcptCode
		s.mu.Unlock()

		verb := strings.ToUpper(strings.SplitN(cmd, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-fake.example")
			reply("250 8BITMIME")
		case "MAIL", "RSET", "NOOP":
			reply("250 OK")
		case "RCPT":
			reply(rcpt)
		case "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(strings.TrimPrefix(l, "."))
			}
			s.mu.Lock()
			s.data = body.String()
			s.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func (s *fakeSMTPServer) received() (commands []string, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...), s.data
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// parseDelivered splits raw DATA into headers and a decoded body.
func parseDelivered(t *testing.T, data string) (netmail.Header, string) {
	t.Helper()
	m, err := netmail.ReadMessage(strings.NewReader(data))
	if err != nil {
		t.Fatalf("parsing delivered message: %v\n%s", err, data)
	}
	var r io.Reader = m.Body
	if strings.EqualFold(m.Header.Get("Content-Transfer-Encoding"), "quoted-printable") {
		r = quotedprintable.NewReader(r)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading delivered body: %v", err)
	}
	return m.Header, string(body)
}

func TestSMTPNotifier_Delivers(t *testing.T) {
	srv := startFakeSMTP(t)
	n := NewSMTPNotifier(srv.config(), "no-reply@tempsys.example", discardLogger())

	msg := auth.Message{
		To:      "alice@example.com",
		Subject: "Temperature System email verification",
		Body:    "click this link https://tempsys.example/api/auth/verify/abc",
	}
	if err := n.Notify(t.Context(), msg); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	commands, data := srv.received()
	joined := strings.Join(commands, "\n")
	for _, want := range []string{"MAIL FROM:<no-reply@tempsys.example>", "RCPT TO:<alice@example.com>", "DATA", "QUIT"} {
		if !strings.Contains(joined, want) {
			t.Errorf("commands missing %q:\n%s", want, joined)
		}
	}

	header, body := parseDelivered(t, data)
	addr := func(key string) string {
		a, err := netmail.ParseAddress(header.Get(key))
		if err != nil {
			t.Errorf("%s header %q: %v", key, header.Get(key), err)
			return ""
		}
		return a.Address
	}
	if got := addr("From"); got != "no-reply@tempsys.example" {
		t.Errorf("From = %q", got)
	}
	if got := addr("To"); got != "alice@example.com" {
		t.Errorf("To = %q", got)
	}
	if got := header.Get("Subject"); got != msg.Subject {
		t.Errorf("Subject = %q, want %q", got, msg.Subject)
	}
	if id := header.Get("Message-Id"); !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@tempsys.example>") {
		t.Errorf("Message-ID = %q, want <uuid@tempsys.example>", id)
	}
	if header.Get("Date") == "" {
		t.Error("Date header missing")
	}
	if !strings.Contains(body, msg.Body) {
		t.Errorf("body = %q, want it to contain %q", body, msg.Body)
	}
}

func TestSMTPNotifier_NormalisesLineEndings(t *testing.T) {
	srv := startFakeSMTP(t)
	n := NewSMTPNotifier(srv.config(), "no-reply@tempsys.example", discardLogger())

	msg := auth.Message{To: "a@example.com", Subject: "s", Body: "windows\r\nunix\nend"}
	if err := n.Notify(t.Context(), msg); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	_, data := srv.received()
	if strings.Contains(data, "\r\r\n") {
		t.Errorf("data contains a doubled CR:\n%q", data)
	}
	for i, c := range data {
		if c == '\n' && (i == 0 || data[i-1] != '\r') {
			t.Fatalf("bare LF at offset %d:\n%q", i, data)
		}
	}
	_, body := parseDelivered(t, data)
	if got := strings.ReplaceAll(body, "\r\n", "\n"); !strings.Contains(got, "windows\nunix\nend") {
		t.Errorf("body = %q, want three lines", body)
	}
}

func TestSMTPNotifier_RecipientRejected(t *testing.T) {
	srv := startFakeSMTP(t)
	srv.mu.Lock()
	srv.rcptCode = "550 no such user"
	srv.mu.Unlock()
	n := NewSMTPNotifier(srv.config(), "no-reply@tempsys.example", discardLogger())

	err := n.Notify(t.Context(), auth.Message{To: "ghost@example.com", Subject: "s", Body: "b"})
	var sendErr *mail.SendError
	if !errors.As(err, &sendErr) || sendErr.Reason != mail.ErrSMTPRcptTo {
		t.Errorf("Notify() error = %v, want RCPT TO failure", err)
	}
	if _, data := srv.received(); data != "" {
		t.Errorf("message body sent despite rejected recipient:\n%s", data)
	}
}

func TestSMTPNotifier_AuthUnavailable(t *testing.T) {
	srv := startFakeSMTP(t)
	cfg := srv.config()
	cfg.Username = "relay"
	cfg.Password = "secret"
	n := NewSMTPNotifier(cfg, "no-reply@tempsys.example", discardLogger())

	err := n.Notify(t.Context(), auth.Message{To: "a@example.com", Subject: "s", Body: "b"})
	if err == nil || !strings.Contains(err.Error(), "AUTH") {
		t.Errorf("Notify() error = %v, want AUTH failure", err)
	}
}

func TestSMTPNotifier_RejectsHeaderInjection(t *testing.T) {
	n := NewSMTPNotifier(config.SMTPConfig{Host: "127.0.0.1", Port: 1}, "no-reply@tempsys.example", discardLogger())

	tests := []struct {
		name string
		msg  auth.Message
	}{
		{"newline in recipient", auth.Message{To: "a@example.com\r\nBcc: b@example.com", Subject: "s"}},
		{"newline in subject", auth.Message{To: "a@example.com", Subject: "s\nBcc: b@example.com"}},
		{"no recipient", auth.Message{Subject: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := n.Notify(t.Context(), tt.msg); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Notify() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestSMTPNotifier_HonoursContext(t *testing.T) {
	// A listener that accepts but never greets.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close() //nolint:errcheck // test cleanup
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(2 * time.Second)
			conn.Close() //nolint:errcheck // test server
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String()) //nolint:errcheck // listener address
	p, _ := strconv.Atoi(port)                           //nolint:errcheck // listener address
	n := NewSMTPNotifier(config.SMTPConfig{Host: "127.0.0.1", Port: p}, "no-reply@tempsys.example", discardLogger())

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := n.Notify(ctx, auth.Message{To: "a@example.com", Subject: "s", Body: "b"}); err == nil {
		t.Fatal("Notify() expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Notify() took %v, want it bounded by ctx", time.Since(start))
	}
}
