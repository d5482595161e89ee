package repository

import (
	"context"
	"time"

	"github.com/splax/apiwatch/internal/domain"
)

// MetricRepository persists metric records and serves windowed aggregates.
// Windowed queries include records whose timestamp is exactly at the window
// boundary.
type MetricRepository interface {
	InsertMetric(ctx context.Context, record *domain.MetricRecord) error
	ListRecent(ctx context.Context, service string, limit int) ([]domain.MetricRecord, error)
	Summary(ctx context.Context, window time.Duration, service string) (domain.Summary, error)
	RouteStats(ctx context.Context, window time.Duration, service string) ([]domain.RouteStat, error)
	LatencySeries(ctx context.Context, window time.Duration, service string, limit int) ([]domain.LatencyPoint, error)
	ErrorBuckets(ctx context.Context, window time.Duration, service string, limit int) ([]domain.ErrorBucket, error)
	ListServices(ctx context.Context) ([]domain.ServiceCount, error)
	Stats(ctx context.Context) (domain.StoreStats, error)
	ClearService(ctx context.Context, service string) error
}

// RetentionRepository removes records older than a cutoff.
type RetentionRepository interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
