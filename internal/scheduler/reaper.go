package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/metrics"
	"github.com/ErlanBelekov/cart-recovery/internal/repository"
)

const reapBatch = 500

// Reaper deletes completed jobs once they are older than the retention period. Failed
// jobs are left for operator inspection; expired locks need no sweeping because Claim
// picks those jobs up directly.
type Reaper struct {
	repo      repository.JobRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewReaper(repo repository.JobRepository, logger *slog.Logger, interval, retention time.Duration) *Reaper {
	return &Reaper{
		repo:      repo,
		logger:    logger.With("component", "reaper"),
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "retention", r.retention)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}

// Reap runs one purge cycle and returns how many jobs were removed.
func (r *Reaper) Reap(ctx context.Context) int {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := r.now().Add(-r.retention)
	total := 0
	for {
		n, err := r.repo.PurgeCompleted(ctx, cutoff, reapBatch)
		if err != nil {
			r.logger.Error("purge completed jobs", "error", err)
			break
		}
		total += n
		if n < reapBatch {
			break
		}
	}
	if total > 0 {
		metrics.ReaperPurgedTotal.Add(float64(total))
		r.logger.Info("purged completed jobs", "count", total, "cutoff", cutoff)
	}
	return total
}
