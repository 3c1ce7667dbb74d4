package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

// queueSize is the number of entries buffered ahead of the writer.
const queueSize = 256

// writeTimeout bounds each repository write made by Run.
const writeTimeout = 5 * time.Second

// Recorder turns auth events into audit entries. It implements auth.Recorder.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger *slog.Logger
}

// NewRecorder returns a recorder writing to repo. Call Run to start the writer.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: logger,
	}
}

// Record enqueues an entry for e. It drops the entry when the queue is full.
func (r *Recorder) Record(e auth.Event) {
	entry := entryFor(e)
	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", entry.Action,
			"outcome", entry.Outcome,
		)
	}
}

func entryFor(e auth.Event) *Entry {
	entry := &Entry{
		Action:    e.Op,
		Outcome:   e.Outcome,
		UserID:    e.UserID,
		Source:    SourceAPI,
		Details:   map[string]any{"duration_ms": e.Took.Milliseconds()},
		CreatedAt: e.At,
	}
	if e.Op == auth.OpSweep {
		entry.Source = SourceReaper
		entry.Details["removed"] = e.Removed
	}
	return entry
}

// Run writes queued entries serially until ctx is cancelled, then drains
// whatever is still queued before returning.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

// write uses a context detached from Run's so entries drained during
// shutdown still reach the database.
func (r *Recorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"error", err,
		)
	}
}
