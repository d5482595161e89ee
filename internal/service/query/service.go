package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/apiwatch/internal/domain"
	"github.com/splax/apiwatch/internal/repository"
)

const (
	defaultWindowMinutes = 60
	defaultLatencyLimit  = 50
	maxLatencyLimit      = 500
	defaultExportLimit   = 25
	maxExportLimit       = 200
	errorBucketLimit     = 50
)

// Service answers windowed aggregation queries over the metric store.
// It is read-only; reads run concurrently with ingestion writes.
type Service struct {
	repo   repository.MetricRepository
	logger *slog.Logger
}

// New constructs the aggregation query layer.
func New(repo repository.MetricRepository, logger *slog.Logger) *Service {
	if logger != nil {
		logger = logger.With("component", "query")
	} else {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Summary returns volume, average latency and error rate for the trailing
// window. All fields are zero when no rows match.
func (s *Service) Summary(ctx context.Context, minutes int, service string) (domain.Summary, error) {
	return s.repo.Summary(ctx, window(minutes), service)
}

// Routes returns per-(route, method) statistics, busiest first.
func (s *Service) Routes(ctx context.Context, minutes int, service string) ([]domain.RouteStat, error) {
	return s.repo.RouteStats(ctx, window(minutes), service)
}

// Latency returns the most recent latency points in chronological order. The
// store fetches newest first to bound the scan; the slice is reversed here so
// charts read oldest-to-newest.
func (s *Service) Latency(ctx context.Context, minutes, limit int, service string) ([]domain.LatencyPoint, error) {
	if limit <= 0 {
		limit = defaultLatencyLimit
	}
	if limit > maxLatencyLimit {
		limit = maxLatencyLimit
	}
	points, err := s.repo.LatencySeries(ctx, window(minutes), service, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// Errors returns error counts grouped by minute and route, most recent first,
// capped at 50 groups.
func (s *Service) Errors(ctx context.Context, minutes int, service string) ([]domain.ErrorBucket, error) {
	return s.repo.ErrorBuckets(ctx, window(minutes), service, errorBucketLimit)
}

// Export returns the most recent full records, newest first. The dashboard
// also uses this as its liveness probe.
func (s *Service) Export(ctx context.Context, limit int, service string) ([]domain.MetricRecord, error) {
	if limit <= 0 {
		limit = defaultExportLimit
	}
	if limit > maxExportLimit {
		limit = maxExportLimit
	}
	return s.repo.ListRecent(ctx, service, limit)
}

// Services returns the distinct service names with request counts.
func (s *Service) Services(ctx context.Context) ([]domain.ServiceCount, error) {
	return s.repo.ListServices(ctx)
}

// Stats describes the metric table as a whole.
func (s *Service) Stats(ctx context.Context) (domain.StoreStats, error) {
	return s.repo.Stats(ctx)
}

func window(minutes int) time.Duration {
	if minutes <= 0 {
		minutes = defaultWindowMinutes
	}
	return time.Duration(minutes) * time.Minute
}
