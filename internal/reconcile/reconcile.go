package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/adfaaly/cashd/internal/ledger"
)

const staleReason = "expired before settlement"

// Reconciler periodically fails pending entries that outlived their grace
// period and resets agent daily usage counters once their window rolls over.
// Sweeps are idempotent, so overlapping instances are safe.
type Reconciler struct {
	store    ledger.Store
	grace    time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a reconciler. grace is how long an entry may stay pending
// before it is written off; interval is the sweep cadence.
func New(store ledger.Store, grace, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		grace:    grace,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep executes one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	now := r.now().UTC()

	failed, err := r.store.FailStalePending(ctx, now.Add(-r.grace), staleReason)
	if err != nil {
		r.logger.Error("fail stale pending", "error", err)
	} else if failed > 0 {
		r.logger.Info("failed stale pending entries", "count", failed)
	}

	reset, err := r.store.ResetDailyUsage(ctx, now.Truncate(24*time.Hour))
	if err != nil {
		r.logger.Error("reset daily usage", "error", err)
	} else if reset > 0 {
		r.logger.Info("reset agent daily usage", "count", reset)
	}
}
