package core

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const reapTimeout = 10 * time.Second

// Reaper drops expired records from the store. It never fails loudly:
// storage errors are logged and the store is left as it was.
type Reaper struct {
	store   Store
	window  time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

func NewReaper(store Store, window time.Duration, logger *slog.Logger, metrics *Metrics) *Reaper {
	if window <= 0 {
		window = DefaultExpirationWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, window: window, logger: logger, metrics: metrics}
}

func (r *Reaper) Window() time.Duration { return r.window }

// Reap removes every record with now - IssuedAt >= window and returns how
// many lines were dropped.
func (r *Reaper) Reap(ctx context.Context, now time.Time) int {
	if ctx.Err() != nil {
		return 0
	}
	cctx, cancel := context.WithTimeout(ctx, reapTimeout)
	defer cancel()

	dropped, err := r.store.Compact(cctx, func(c Credential) bool {
		return now.Sub(c.IssuedAt) < r.window
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0
		}
		r.metrics.reaped(0, true)
		r.logger.Error("credential reap failed", "err", err)
		return 0
	}
	r.metrics.reaped(dropped, false)
	if dropped > 0 {
		r.logger.Info("expired credentials reaped", "count", dropped, "window", r.window)
	}
	return dropped
}

// Run reaps once immediately and then every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		r.logger.Error("credential reaper disabled: interval must be positive", "interval", interval)
		return
	}

	r.Reap(ctx, now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(ctx, now())
		}
	}
}
