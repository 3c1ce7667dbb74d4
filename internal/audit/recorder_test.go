package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

type memRepository struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
}

func (m *memRepository) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRepository) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (m *memRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestEntryFor(t *testing.T) {
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	login := entryFor(auth.Event{Op: auth.OpLogin, Outcome: "ok", UserID: 9, Took: 40 * time.Millisecond, At: at})
	if login.Source != SourceAPI || login.UserID != 9 || !login.CreatedAt.Equal(at) {
		t.Errorf("login entry = %+v", login)
	}
	if login.Details["duration_ms"] != int64(40) {
		t.Errorf("login details = %v", login.Details)
	}
	if _, ok := login.Details["removed"]; ok {
		t.Error("login entry should not carry removed")
	}

	sweep := entryFor(auth.Event{Op: auth.OpSweep, Outcome: "ok", Removed: 6})
	if sweep.Source != SourceReaper || sweep.Details["removed"] != int64(6) {
		t.Errorf("sweep entry = %+v", sweep)
	}
}

func TestRecorder_RunDrainsOnCancel(t *testing.T) {
	repo := &memRepository{}
	rec := NewRecorder(repo, discardLogger())

	for range 5 {
		rec.Record(auth.Event{Op: auth.OpRefresh, Outcome: "ok"})
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec.Run(ctx) // returns once the queue is empty

	if n := repo.count(); n != 5 {
		t.Errorf("written = %d, want 5", n)
	}
}

func TestRecorder_RunWritesWhileLive(t *testing.T) {
	repo := &memRepository{}
	rec := NewRecorder(repo, discardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	rec.Record(auth.Event{Op: auth.OpLogin, Outcome: "ok"})
	deadline := time.Now().Add(2 * time.Second)
	for repo.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := repo.count(); n != 1 {
		t.Errorf("written = %d, want 1", n)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &memRepository{}
	rec := NewRecorder(repo, discardLogger())

	for range queueSize + 10 {
		rec.Record(auth.Event{Op: auth.OpLogin, Outcome: "ok"})
	}
	if got := len(rec.queue); got != queueSize {
		t.Errorf("queued = %d, want %d", got, queueSize)
	}
}

func TestRecorder_WriteFailureIsLogged(t *testing.T) {
	repo := &memRepository{err: errors.New("disk full")}
	rec := NewRecorder(repo, discardLogger())
	rec.Record(auth.Event{Op: auth.OpLogin, Outcome: "ok"})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec.Run(ctx)

	if len(rec.queue) != 0 {
		t.Error("failed entry should still be consumed")
	}
}

func TestRecorder_WithSQLite(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	rec := NewRecorder(repo, discardLogger())

	rec.Record(auth.Event{Op: auth.OpDeleteUser, Outcome: "not_found", UserID: 4, At: time.Now().UTC()})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec.Run(ctx)

	res, err := repo.List(t.Context(), Filter{Action: auth.OpDeleteUser})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Logs[0].Outcome != "not_found" {
		t.Errorf("List() = %+v", res)
	}
}
