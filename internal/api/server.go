package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/tempsys-core/internal/audit"
	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds Close.
const gracefulShutdownTimeout = 10 * time.Second

// Accounts is the slice of auth.Service the handlers use.
type Accounts interface {
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	Refresh(ctx context.Context, value string) (*auth.AuthResult, error)
	Logout(ctx context.Context, value string) error
	Register(ctx context.Context, email, password string) (*auth.User, error)
	Verify(ctx context.Context, value string) error
	Authenticate(accessToken string) (*auth.Claims, error)

	GetUser(ctx context.Context, id int64) (*auth.User, error)
	UpdateCredentials(ctx context.Context, id int64, email, password string) (*auth.User, error)
	UpdateRole(ctx context.Context, id int64, role auth.Role) (*auth.User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Accounts Accounts
	Audit    audit.Repository         // optional: GET /api/audit answers 500 without it
	Health   map[string]HealthChecker // components reported by GET /api/health
	Metrics  http.Handler             // optional: served at /metrics
	Version  string
}

// Server serves the tempsys HTTP API. Create with New, run with Start.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	accounts Accounts
	audit    audit.Repository
	health   map[string]HealthChecker
	metrics  http.Handler
	version  string
	server   *http.Server
	addr     string
	now      func() time.Time
}

// New validates deps. Logger and Accounts are required.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("accounts service is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		accounts: deps.Accounts,
		audit:    deps.Audit,
		health:   deps.Health,
		metrics:  deps.Metrics,
		version:  deps.Version,
		now:      time.Now,
	}, nil
}

// Handler returns the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address, then serves in the background until
// Close. Bind failures are returned here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.addr = ln.Addr().String()

	go func() {
		s.logger.Info("API server starting", "address", s.addr, "tls", s.cfg.TLS.Enabled)
		var serveErr error
		if s.cfg.TLS.Enabled {
			serveErr = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			serveErr = s.server.Serve(ln)
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()
	return nil
}

// Addr is the bound address once started, useful when the port is 0.
func (s *Server) Addr() string { return s.addr }

// Close drains in-flight requests for up to gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has bound the listener.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
