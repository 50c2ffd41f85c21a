package pgqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// LeaseSweeper reclaims processing rows whose worker stopped heartbeating.
// Reclaimed rows go back to pending with run_after=now, so at-least-once
// delivery holds across worker crashes.
type LeaseSweeper struct {
	jobs     domain.JobRepository
	clock    domain.Clock
	lease    time.Duration
	interval time.Duration
}

// NewLeaseSweeper constructs a sweeper. Zero durations get defaults of a
// 15 minute lease swept every minute.
func NewLeaseSweeper(jobs domain.JobRepository, clk domain.Clock, lease, interval time.Duration) *LeaseSweeper {
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &LeaseSweeper{jobs: jobs, clock: clk, lease: lease, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *LeaseSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("lease sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *LeaseSweeper) sweepOnce(ctx context.Context) {
	n, err := s.jobs.ReclaimExpired(ctx, s.lease, s.clock.Now())
	if err != nil {
		slog.Error("lease sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Warn("reclaimed expired job leases", slog.Int("count", n))
	}
}
