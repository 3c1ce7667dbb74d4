package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/tempsys-core/internal/audit"
	"github.com/nerrad567/tempsys-core/internal/auth"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/database"
	"github.com/nerrad567/tempsys-core/internal/infrastructure/logging"
	"github.com/nerrad567/tempsys-core/migrations"
)

// spyNotifier captures verification emails.
type spyNotifier struct {
	mu   sync.Mutex
	msgs []auth.Message
}

func (n *spyNotifier) Notify(_ context.Context, msg auth.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

// lastToken returns the token segment of the most recent verification link.
func (n *spyNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		t.Fatal("no verification email sent")
	}
	body := n.msgs[len(n.msgs)-1].Body
	return body[strings.LastIndex(body, "/")+1:]
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	notifier *spyNotifier
	store    *auth.SQLiteStore
	hasher   *auth.Hasher
	auditDB  *audit.SQLiteRepository
	logger   *logging.Logger
}

type envOption func(*Deps)

// testServer builds a Server over a real auth.Service on temporary SQLite.
func testServer(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(t.Context(), migrations.SQLite()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		SigningKey: []byte("test-secret-key-at-least-32-characters-long"),
		Issuer:     "tempsys-test",
		Audience:   "tempsys-test-clients",
	})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	env := &testEnv{
		notifier: &spyNotifier{},
		store:    auth.NewSQLiteStore(db.DB),
		hasher:   auth.NewHasher(auth.HashParams{Parallelism: 1, MemoryKiB: 1024, Iterations: 1, SaltLength: 16, HashLength: 32}),
		auditDB:  audit.NewSQLiteRepository(db.DB),
		logger:   log,
	}
	svc := auth.NewService(auth.ServiceDeps{
		Store:           env.store,
		Hasher:          env.hasher,
		Issuer:          issuer,
		Notifier:        env.notifier,
		VerificationURL: "http://localhost:8080/api/auth/verify",
		Logger:          log.Logger,
	})

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
			Cookie:   config.CookieConfig{Secure: true},
		},
		Logger:   log,
		Accounts: svc,
		Audit:    env.auditDB,
		Health:   map[string]HealthChecker{"database": db},
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.srv, err = New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.handler = env.srv.Handler()
	return env
}

type reqOption func(*http.Request)

func withBearer(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) reqOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withHeader(k, v string) reqOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOption) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == defaultCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response (status %d)", defaultCookieName, rec.Code)
	return nil
}

// registerVerified creates and verifies an account through the API.
func (e *testEnv) registerVerified(t *testing.T, email, password string) userResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/users", credentialsRequest{Email: email, Password: password})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	user := decode[userResponse](t, rec)
	if rec := e.do(t, http.MethodGet, "/api/auth/verify/"+e.notifier.lastToken(t), nil); rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body)
	}
	return user
}

func (e *testEnv) login(t *testing.T, email, password string) (sessionResponse, *http.Cookie) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth", credentialsRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}
	return decode[sessionResponse](t, rec), refreshCookie(t, rec)
}

// seedAdmin creates the bootstrap admin and logs in.
func (e *testEnv) seedAdmin(t *testing.T) (string, int64) {
	t.Helper()
	const email = "admin@example.com"
	pw, err := auth.SeedAdmin(t.Context(), e.store, e.hasher, email, e.logger.Logger)
	if err != nil || pw == "" {
		t.Fatalf("SeedAdmin() = %q, %v", pw, err)
	}
	session, _ := e.login(t, email, pw)
	return session.AccessToken, session.User.ID
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{}, "test")
	if _, err := New(Deps{Accounts: &auth.Service{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without accounts should fail")
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := testServer(t)
	env.registerVerified(t, "alice@example.com", "correct horse")

	session, cookie := env.login(t, "alice@example.com", "correct horse")
	if session.TokenType != "Bearer" || session.AccessToken == "" {
		t.Errorf("session = %+v", session)
	}
	if session.ExpiresIn < 890 || session.ExpiresIn > 900 {
		t.Errorf("expires_in = %d, want about 900", session.ExpiresIn)
	}
	if session.User.Email != "alice@example.com" || session.User.Role != "viewer" {
		t.Errorf("user = %+v", session.User)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode || cookie.Path != refreshCookiePath {
		t.Errorf("cookie attributes = %+v", cookie)
	}
	if cookie.Expires.Unix() != session.RefreshExpiresAt.Unix() {
		t.Errorf("cookie expires %v, refresh_expires_at %v", cookie.Expires, session.RefreshExpiresAt)
	}

	rec := env.do(t, http.MethodPut, "/api/auth/refresh", nil, withCookie(cookie))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body)
	}
	rotated := refreshCookie(t, rec)
	if rotated.Value == cookie.Value {
		t.Error("refresh did not rotate the cookie")
	}

	if rec := env.do(t, http.MethodPut, "/api/auth/refresh", nil, withCookie(cookie)); rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed refresh status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/auth/logout", nil, withCookie(rotated))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", rec.Code, rec.Body)
	}
	if cleared := refreshCookie(t, rec); cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Errorf("logout cookie = %+v, want cleared", cleared)
	}

	if rec := env.do(t, http.MethodPut, "/api/auth/refresh", nil, withCookie(rotated)); rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout status = %d, want 401", rec.Code)
	}
}

func TestLogin_Rejects(t *testing.T) {
	env := testServer(t)
	env.registerVerified(t, "bob@example.com", "pw-bob")
	if rec := env.do(t, http.MethodPost, "/api/users", credentialsRequest{Email: "pending@example.com", Password: "pw"}); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"wrong password", credentialsRequest{Email: "bob@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"unknown email", credentialsRequest{Email: "ghost@example.com", Password: "pw"}, http.StatusUnauthorized},
		{"unverified", credentialsRequest{Email: "pending@example.com", Password: "pw"}, http.StatusUnauthorized},
		{"malformed json", "{", http.StatusBadRequest},
		{"unknown field", `{"email":"bob@example.com","password":"pw-bob","admin":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Error("rejected login must not set a cookie")
			}
		})
	}
}

func TestSessionEndpoints_MissingCookie(t *testing.T) {
	env := testServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPut, "/api/auth/refresh"},
		{http.MethodDelete, "/api/auth/logout"},
	} {
		if rec := env.do(t, tc.method, tc.path, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
	bogus := &http.Cookie{Name: defaultCookieName, Value: "not-a-token"}
	if rec := env.do(t, http.MethodDelete, "/api/auth/logout", nil, withCookie(bogus)); rec.Code != http.StatusUnauthorized {
		t.Errorf("logout with unknown token status = %d, want 401", rec.Code)
	}
}

func TestRegister(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodPost, "/api/users", credentialsRequest{Email: "carol@example.com", Password: "pw"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	user := decode[userResponse](t, rec)
	if user.Role != "unverified" || user.ID == 0 {
		t.Errorf("user = %+v", user)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/users/"+jsonNumber(user.ID) {
		t.Errorf("Location = %q", loc)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("response leaks password data: %s", rec.Body)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate", credentialsRequest{Email: "carol@example.com", Password: "other"}, http.StatusConflict},
		{"empty email", credentialsRequest{Email: "  ", Password: "pw"}, http.StatusBadRequest},
		{"empty password", credentialsRequest{Email: "dave@example.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/api/users", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestVerify(t *testing.T) {
	env := testServer(t)
	if rec := env.do(t, http.MethodPost, "/api/users", credentialsRequest{Email: "erin@example.com", Password: "pw"}); rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	token := env.notifier.lastToken(t)

	if rec := env.do(t, http.MethodGet, "/api/auth/verify/unknown-token", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/auth/verify/"+token, nil); rec.Code != http.StatusOK {
		t.Errorf("verify status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/auth/verify/"+token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second verify status = %d, want 404", rec.Code)
	}
}

func TestUserEndpoints_Authorisation(t *testing.T) {
	env := testServer(t)
	adminToken, _ := env.seedAdmin(t)
	frank := env.registerVerified(t, "frank@example.com", "pw-frank")
	grace := env.registerVerified(t, "grace@example.com", "pw-grace")
	frankSession, _ := env.login(t, "frank@example.com", "pw-frank")
	viewer := frankSession.AccessToken

	path := func(id int64, suffix string) string { return "/api/users/" + jsonNumber(id) + suffix }
	creds := credentialsRequest{Email: "frank2@example.com", Password: "pw-new"}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		token  string
		want   int
	}{
		{"get without token", http.MethodGet, path(grace.ID, ""), nil, "", http.StatusUnauthorized},
		{"get with garbage token", http.MethodGet, path(grace.ID, ""), nil, "garbage", http.StatusUnauthorized},
		{"viewer reads other user", http.MethodGet, path(grace.ID, ""), nil, viewer, http.StatusOK},
		{"get unknown user", http.MethodGet, path(9999, ""), nil, viewer, http.StatusNotFound},
		{"get invalid id", http.MethodGet, "/api/users/abc", nil, viewer, http.StatusBadRequest},
		{"viewer changes role", http.MethodPut, path(grace.ID, "/role"), updateRoleRequest{Role: "admin"}, viewer, http.StatusForbidden},
		{"admin sets invalid role", http.MethodPut, path(grace.ID, "/role"), updateRoleRequest{Role: "root"}, adminToken, http.StatusBadRequest},
		{"admin cannot unverify", http.MethodPut, path(grace.ID, "/role"), updateRoleRequest{Role: "unverified"}, adminToken, http.StatusBadRequest},
		{"admin role unknown user", http.MethodPut, path(9999, "/role"), updateRoleRequest{Role: "admin"}, adminToken, http.StatusNotFound},
		{"admin promotes", http.MethodPut, path(grace.ID, "/role"), updateRoleRequest{Role: "admin"}, adminToken, http.StatusOK},
		{"viewer edits other", http.MethodPut, path(grace.ID, "/credentials"), creds, viewer, http.StatusForbidden},
		{"viewer deletes other", http.MethodDelete, path(grace.ID, ""), nil, viewer, http.StatusForbidden},
		{"credentials conflict", http.MethodPut, path(frank.ID, "/credentials"), credentialsRequest{Email: "grace@example.com", Password: "x"}, viewer, http.StatusConflict},
		{"credentials empty", http.MethodPut, path(frank.ID, "/credentials"), credentialsRequest{}, viewer, http.StatusBadRequest},
		{"viewer edits self", http.MethodPut, path(frank.ID, "/credentials"), creds, viewer, http.StatusOK},
		{"admin deletes other", http.MethodDelete, path(grace.ID, ""), nil, adminToken, http.StatusNoContent},
		{"deleted user is gone", http.MethodGet, path(grace.ID, ""), nil, adminToken, http.StatusNotFound},
		{"delete twice", http.MethodDelete, path(grace.ID, ""), nil, adminToken, http.StatusNotFound},
		{"viewer deletes self", http.MethodDelete, path(frank.ID, ""), nil, viewer, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []reqOption
			if tt.token != "" {
				opts = append(opts, withBearer(tt.token))
			}
			rec := env.do(t, tt.method, tt.path, tt.body, opts...)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	// The credential change above moved frank to a new email.
	if rec := env.do(t, http.MethodPost, "/api/auth", credentialsRequest{Email: "frank@example.com", Password: "pw-frank"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("login with old credentials status = %d, want 401", rec.Code)
	}
}

func TestAuditEndpoint(t *testing.T) {
	env := testServer(t)
	adminToken, adminID := env.seedAdmin(t)
	env.registerVerified(t, "heidi@example.com", "pw")
	viewerSession, _ := env.login(t, "heidi@example.com", "pw")

	for _, e := range []audit.Entry{
		{Action: auth.OpLogin, Outcome: "ok", UserID: adminID},
		{Action: auth.OpLogin, Outcome: "unauthorized"},
		{Action: auth.OpSweep, Outcome: "ok", Source: audit.SourceReaper},
	} {
		if err := env.auditDB.Create(t.Context(), &e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/audit", nil, withBearer(viewerSession.AccessToken)); rec.Code != http.StatusForbidden {
		t.Errorf("viewer status = %d, want 403", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/audit?action=login&limit=1", nil, withBearer(adminToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, body %s", rec.Code, rec.Body)
	}
	page := decode[audit.ListResult](t, rec)
	if page.Total != 2 || len(page.Logs) != 1 || page.Limit != 1 {
		t.Errorf("page = %+v", page)
	}

	if rec := env.do(t, http.MethodGet, "/api/audit?user_id=x", nil, withBearer(adminToken)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad user_id status = %d, want 400", rec.Code)
	}
}

func TestAuditEndpoint_NotConfigured(t *testing.T) {
	env := testServer(t, func(d *Deps) { d.Audit = nil })
	adminToken, _ := env.seedAdmin(t)
	if rec := env.do(t, http.MethodGet, "/api/audit", nil, withBearer(adminToken)); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"all healthy", map[string]HealthChecker{"mqtt": fakeChecker{}}, http.StatusOK, "ok"},
		{"one failing", map[string]HealthChecker{"mqtt": fakeChecker{}, "influxdb": fakeChecker{errors.New("down")}}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, func(d *Deps) {
				for name, c := range tt.checkers {
					d.Health[name] = c
				}
			})
			rec := env.do(t, http.MethodGet, "/api/health", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decode[healthResponse](t, rec)
			if resp.Status != tt.wantBody || resp.Version != "test" {
				t.Errorf("response = %+v", resp)
			}
			if resp.Components["database"].Status != "ok" {
				t.Errorf("database = %+v", resp.Components["database"])
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "tempsys_up 1\n") //nolint:errcheck // test handler
	})

	env := testServer(t, func(d *Deps) { d.Metrics = metrics })
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tempsys_up") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body)
	}

	bare := testServer(t)
	if rec := bare.do(t, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unset metrics status = %d, want 404", rec.Code)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	env := testServer(t)

	rec := env.do(t, http.MethodGet, "/api/health", nil, withHeader("X-Request-ID", "req-123"))
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want echoed value", got)
	}
	rec = env.do(t, http.MethodGet, "/api/health", nil)
	if got := rec.Header().Get("X-Request-ID"); len(got) != 2*requestIDBytes {
		t.Errorf("generated X-Request-ID = %q", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"https://app.example"}
	})

	rec := env.do(t, http.MethodOptions, "/api/auth", nil, withHeader("Origin", "https://app.example"))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" ||
		rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("CORS headers = %v", rec.Header())
	}

	rec = env.do(t, http.MethodOptions, "/api/auth", nil, withHeader("Origin", "https://evil.example"))
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin received CORS headers")
	}
}

func TestMiddleware_BodyLimit(t *testing.T) {
	env := testServer(t)
	huge := `{"email":"` + strings.Repeat("a", maxRequestBodySize) + `","password":"x"}`
	if rec := env.do(t, http.MethodPost, "/api/users", huge); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := testServer(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", tt.header)
			got, ok := bearerToken(r)
			if got != tt.want || ok != tt.ok {
				t.Errorf("bearerToken(%q) = %q, %v", tt.header, got, ok)
			}
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrUnauthorized, http.StatusUnauthorized},
		{auth.ErrNotFound, http.StatusNotFound},
		{auth.ErrConflict, http.StatusConflict},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrInvalidRole, http.StatusBadRequest},
		{auth.ErrServer, http.StatusInternalServerError},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_StartClose(t *testing.T) {
	env := testServer(t)
	if err := env.srv.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}

	if err := env.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	resp.Body.Close() //nolint:errcheck // test
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_StartBindError(t *testing.T) {
	first := testServer(t)
	if err := first.srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { first.srv.Close() }) //nolint:errcheck // test cleanup

	_, port, err := net.SplitHostPort(first.srv.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	second := testServer(t, func(d *Deps) { d.Config.Port, _ = strconv.Atoi(port) })
	if err := second.srv.Start(t.Context()); err == nil {
		second.srv.Close() //nolint:errcheck // test cleanup
		t.Error("Start() on a bound port should fail")
	}
}

func TestAuditFilter(t *testing.T) {
	tests := []struct {
		query   string
		want    audit.Filter
		wantBad string
	}{
		{"", audit.Filter{}, ""},
		{"action=login&outcome=ok&user_id=7&limit=10&offset=20", audit.Filter{Action: "login", Outcome: "ok", UserID: 7, Limit: 10, Offset: 20}, ""},
		{"limit=100000", audit.Filter{Limit: audit.MaxLimit}, ""},
		{"limit=ten", audit.Filter{}, "limit"},
		{"offset=-", audit.Filter{}, "offset"},
		{"user_id=1.5", audit.Filter{}, "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			got, bad := auditFilter(q)
			if bad != tt.wantBad {
				t.Fatalf("bad = %q, want %q", bad, tt.wantBad)
			}
			if got != tt.want {
				t.Errorf("auditFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
