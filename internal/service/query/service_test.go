package query

import (
	"context"
	"testing"
	"time"

	"github.com/splax/apiwatch/internal/domain"
)

// recordingRepo captures the arguments the query layer passes down.
type recordingRepo struct {
	window  time.Duration
	service string
	limit   int

	latency []domain.LatencyPoint
	records []domain.MetricRecord
}

func (r *recordingRepo) InsertMetric(context.Context, *domain.MetricRecord) error { return nil }

func (r *recordingRepo) ClearService(context.Context, string) error { return nil }

func (r *recordingRepo) ListRecent(_ context.Context, service string, limit int) ([]domain.MetricRecord, error) {
	r.service = service
	r.limit = limit
	return r.records, nil
}

func (r *recordingRepo) Summary(_ context.Context, window time.Duration, service string) (domain.Summary, error) {
	r.window = window
	r.service = service
	return domain.Summary{TotalRequests: 5, AvgResponseTime: 120, ErrorRate: 2.5}, nil
}

func (r *recordingRepo) RouteStats(_ context.Context, window time.Duration, service string) ([]domain.RouteStat, error) {
	r.window = window
	r.service = service
	return nil, nil
}

func (r *recordingRepo) LatencySeries(_ context.Context, window time.Duration, service string, limit int) ([]domain.LatencyPoint, error) {
	r.window = window
	r.service = service
	r.limit = limit
	return r.latency, nil
}

func (r *recordingRepo) ErrorBuckets(_ context.Context, window time.Duration, service string, limit int) ([]domain.ErrorBucket, error) {
	r.window = window
	r.service = service
	r.limit = limit
	return nil, nil
}

func (r *recordingRepo) ListServices(context.Context) ([]domain.ServiceCount, error) {
	return nil, nil
}

func (r *recordingRepo) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{TotalRecords: 42}, nil
}

func TestSummaryDefaultsToOneHourWindow(t *testing.T) {
	repo := &recordingRepo{}
	svc := New(repo, nil)

	summary, err := svc.Summary(context.Background(), 0, "svc-a")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if repo.window != time.Hour {
		t.Fatalf("expected default 60m window, got %v", repo.window)
	}
	if repo.service != "svc-a" {
		t.Fatalf("expected service filter forwarded, got %q", repo.service)
	}
	if summary.TotalRequests != 5 || summary.AvgResponseTime != 120 || summary.ErrorRate != 2.5 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRoutesForwardsRequestedWindow(t *testing.T) {
	repo := &recordingRepo{}
	svc := New(repo, nil)

	if _, err := svc.Routes(context.Background(), 30, ""); err != nil {
		t.Fatalf("routes: %v", err)
	}
	if repo.window != 30*time.Minute {
		t.Fatalf("expected 30m window, got %v", repo.window)
	}
}

func TestLatencyLimitDefaultsAndCaps(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 50},
		{"explicit", 10, 10},
		{"capped", 10000, 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &recordingRepo{}
			svc := New(repo, nil)
			if _, err := svc.Latency(context.Background(), 0, tc.limit, ""); err != nil {
				t.Fatalf("latency: %v", err)
			}
			if repo.limit != tc.want {
				t.Fatalf("expected limit %d, got %d", tc.want, repo.limit)
			}
		})
	}
}

func TestLatencyReversesToChronologicalOrder(t *testing.T) {
	repo := &recordingRepo{latency: []domain.LatencyPoint{
		{Time: "10:02:00", Latency: 3},
		{Time: "10:01:00", Latency: 2},
		{Time: "10:00:00", Latency: 1},
	}}
	svc := New(repo, nil)

	points, err := svc.Latency(context.Background(), 0, 0, "")
	if err != nil {
		t.Fatalf("latency: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, want := range []int64{1, 2, 3} {
		if points[i].Latency != want {
			t.Fatalf("expected chronological order, got %+v", points)
		}
	}
}

func TestExportLimitDefaultsAndCaps(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, 25},
		{"explicit", 100, 100},
		{"capped", 1000, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &recordingRepo{}
			svc := New(repo, nil)
			if _, err := svc.Export(context.Background(), tc.limit, "svc-a"); err != nil {
				t.Fatalf("export: %v", err)
			}
			if repo.limit != tc.want {
				t.Fatalf("expected limit %d, got %d", tc.want, repo.limit)
			}
			if repo.service != "svc-a" {
				t.Fatalf("expected service filter forwarded, got %q", repo.service)
			}
		})
	}
}

func TestErrorsUsesBucketCap(t *testing.T) {
	repo := &recordingRepo{}
	svc := New(repo, nil)

	if _, err := svc.Errors(context.Background(), 15, "svc-a"); err != nil {
		t.Fatalf("errors: %v", err)
	}
	if repo.window != 15*time.Minute {
		t.Fatalf("expected 15m window, got %v", repo.window)
	}
	if repo.limit != 50 {
		t.Fatalf("expected bucket cap 50, got %d", repo.limit)
	}
}

func TestStatsPassesThrough(t *testing.T) {
	svc := New(&recordingRepo{}, nil)
	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRecords != 42 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
