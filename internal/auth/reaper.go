package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reaper defaults.
const (
	DefaultReapInterval = 24 * time.Hour
	DefaultReapTimeout  = 5 * time.Minute
)

// ReaperOptions configure a Reaper. Zero durations take the defaults.
type ReaperOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder Recorder
}

// Reaper periodically removes revoked and expired tokens.
type Reaper struct {
	store    Store
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewReaper returns a Reaper over store.
func NewReaper(store Store, opts ReaperOptions) *Reaper {
	r := &Reaper{
		store:    store,
		interval: orDefault(opts.Interval, DefaultReapInterval),
		timeout:  orDefault(opts.Timeout, DefaultReapTimeout),
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      time.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "reaper")
	if r.recorder == nil {
		r.recorder = nopRecorder{}
	}
	return r
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// A sweep in progress is not interrupted by cancellation; it is bounded by
// the sweep timeout instead. Failed sweeps are logged and retried on the
// next tick.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("token reaper started", "interval", r.interval.String())
	defer r.logger.Info("token reaper stopped")

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		if _, err := r.Sweep(sweepCtx); err != nil {
			r.logger.Error("token sweep failed", "error", err)
		}
		cancel()

		timer.Reset(r.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// Sweep removes every inactive refresh and verification token in one
// commit and returns how many rows were deleted.
func (r *Reaper) Sweep(ctx context.Context) (removed int64, err error) {
	start := r.now()
	defer func() {
		r.recorder.Record(Event{
			Op:      OpSweep,
			Outcome: Outcome(err),
			Removed: removed,
			Took:    r.now().Sub(start),
			At:      start,
		})
	}()

	uow := r.store.Begin()

	refresh, err := uow.RefreshTokens().ListInactive(ctx, start)
	if err != nil {
		return 0, fmt.Errorf("listing inactive refresh tokens: %w", err)
	}
	verification, err := uow.VerificationTokens().ListInactive(ctx, start)
	if err != nil {
		return 0, fmt.Errorf("listing inactive verification tokens: %w", err)
	}

	for _, t := range refresh {
		uow.RefreshTokens().Remove(t)
	}
	for _, t := range verification {
		uow.VerificationTokens().Remove(t)
	}

	removed, err = uow.Commit(ctx)
	if err != nil {
		return 0, fmt.Errorf("removing inactive tokens: %w", err)
	}

	r.logger.Info("token sweep complete",
		"removed", removed,
		"refresh_tokens", len(refresh),
		"verification_tokens", len(verification),
	)
	return removed, nil
}
