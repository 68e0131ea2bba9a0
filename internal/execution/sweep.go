package execution

import (
	"context"
	"log/slog"
	"time"
)

// Sweep periodically reconciles local state against the venue: tracked
// orders that have not moved recently are re-queried, and the venue's
// open-order list is folded back in so orders from a prior process
// instance are adopted. The sweep only ever reads from the venue; it
// never re-submits an order and never retries a cancel.
type Sweep struct {
	log        *slog.Logger
	manager    *Manager
	interval   time.Duration
	staleAfter time.Duration
}

// NewSweep creates a Sweep that runs every interval and re-queries orders
// untouched for staleAfter. Non-positive durations fall back to 30s and
// the interval respectively.
func NewSweep(log *slog.Logger, m *Manager, interval, staleAfter time.Duration) *Sweep {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = interval
	}
	return &Sweep{
		log:        log.With("component", "sweep"),
		manager:    m,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Run blocks until ctx is canceled.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("reconciliation sweep started", "interval", s.interval.String())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.log.Info("reconciliation sweep stopped")
			return
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (s *Sweep) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)

	requeried := 0
	for _, rec := range s.manager.Tracked() {
		if rec.UpdatedAt.After(cutoff) {
			continue
		}
		requeried++
		if _, err := s.manager.RefreshOrder(ctx, rec.Key(), rec.Symbol); err != nil {
			s.log.Warn("stale order refresh failed", "order_id", rec.Key(), "error", err)
		}
	}

	open := s.manager.ListOpenOrders(ctx, "")
	s.log.Debug("reconciliation pass complete",
		"requeried", requeried, "venue_open", len(open), "tracked", s.manager.TrackedCount())
}
