package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tempsys-core/internal/infrastructure/database"
	"github.com/nerrad567/tempsys-core/migrations"
)

// testHashParams keep Argon2id cheap in tests.
var testHashParams = HashParams{Parallelism: 1, MemoryKiB: 1024, Iterations: 1, SaltLength: 16, HashLength: 32}

const testSigningKey = "test-signing-key-at-least-32-bytes!!"

// testDB creates a temporary SQLite database with the embedded schema applied.
// The database is closed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
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
	return db.DB
}

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(IssuerConfig{
		SigningKey: []byte(testSigningKey),
		Issuer:     "tempsys-test",
		Audience:   "tempsys-test-clients",
	})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return iss
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// spyNotifier records messages and optionally fails.
type spyNotifier struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (n *spyNotifier) Notify(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *spyNotifier) sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.msgs...)
}

// spyRecorder records events.
type spyRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *spyRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *spyRecorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

// clock is a settable time source shared by the service and issuer.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *sql.DB
	store    *SQLiteStore
	hasher   *Hasher
	issuer   *Issuer
	notifier *spyNotifier
	recorder *spyRecorder
	clock    *clock
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	env := &testEnv{
		db:       db,
		store:    NewSQLiteStore(db),
		hasher:   NewHasher(testHashParams),
		issuer:   testIssuer(t),
		notifier: &spyNotifier{},
		recorder: &spyRecorder{},
		clock:    &clock{now: time.Now().UTC()},
	}
	env.issuer.now = env.clock.Now
	env.svc = NewService(ServiceDeps{
		Store:           env.store,
		Hasher:          env.hasher,
		Issuer:          env.issuer,
		Notifier:        env.notifier,
		VerificationURL: "https://tempsys.example/api/auth/verify",
		Logger:          discardLogger(),
		Recorder:        env.recorder,
	})
	env.svc.now = env.clock.Now
	return env
}

// seedUser inserts a user with the given role and password.
func (e *testEnv) seedUser(t *testing.T, email, password string, role Role) *User {
	t.Helper()

	hash, err := e.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &User{Email: email, PasswordHash: hash, Role: role}

	uow := e.store.Begin()
	uow.Users().Add(user)
	if _, err := uow.Commit(t.Context()); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// seedToken inserts a refresh token for user expiring at expires.
func (e *testEnv) seedToken(t *testing.T, repo func(UnitOfWork) TokenRepository, user *User, expires time.Time, revoked bool) *Token {
	t.Helper()

	tok, err := e.issuer.IssueRefreshToken(user)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	tok.ExpiresAt = expires
	if revoked {
		at := e.clock.Now().Add(-time.Minute)
		tok.RevokedAt = &at
	}

	uow := e.store.Begin()
	repo(uow).Add(tok)
	if _, err := uow.Commit(t.Context()); err != nil {
		t.Fatalf("seeding token: %v", err)
	}
	return tok
}

func refreshRepo(u UnitOfWork) TokenRepository      { return u.RefreshTokens() }
func verificationRepo(u UnitOfWork) TokenRepository { return u.VerificationTokens() }

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}
