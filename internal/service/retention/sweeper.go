package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/apiwatch/internal/repository"
)

const (
	defaultInterval  = time.Hour
	defaultRetention = 7 * 24 * time.Hour
)

// Sweeper periodically deletes records older than the retention window. A
// failed sweep is logged and retried naturally on the next tick; it never
// stops ingestion.
type Sweeper struct {
	repo      repository.RetentionRepository
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// New constructs a Sweeper with sane defaults.
func New(repo repository.RetentionRepository, logger *slog.Logger, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = defaultRetention
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger != nil {
		logger = logger.With("component", "retention")
	} else {
		logger = slog.Default()
	}
	return &Sweeper{repo: repo, interval: interval, retention: retention, logger: logger}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("retention sweeper started", "retention", s.retention, "interval", s.interval)
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	removed, err := s.repo.PurgeOlderThan(ctx, s.retention)
	if err != nil {
		s.logger.Warn("retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("retention sweep removed old metrics", "count", removed)
	}
}
