package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splax/apiwatch/internal/domain"
	"github.com/splax/apiwatch/internal/ws"
)

type stubRepo struct {
	mu        sync.Mutex
	inserted  []domain.MetricRecord
	insertErr error
	cleared   []string
}

func (s *stubRepo) InsertMetric(_ context.Context, record *domain.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	record.ID = int64(len(s.inserted) + 1)
	record.Timestamp = time.Now().UTC()
	s.inserted = append(s.inserted, *record)
	return nil
}

func (s *stubRepo) ClearService(_ context.Context, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, service)
	return nil
}

func (s *stubRepo) ListRecent(context.Context, string, int) ([]domain.MetricRecord, error) {
	return nil, nil
}

func (s *stubRepo) Summary(context.Context, time.Duration, string) (domain.Summary, error) {
	return domain.Summary{}, nil
}

func (s *stubRepo) RouteStats(context.Context, time.Duration, string) ([]domain.RouteStat, error) {
	return nil, nil
}

func (s *stubRepo) LatencySeries(context.Context, time.Duration, string, int) ([]domain.LatencyPoint, error) {
	return nil, nil
}

func (s *stubRepo) ErrorBuckets(context.Context, time.Duration, string, int) ([]domain.ErrorBucket, error) {
	return nil, nil
}

func (s *stubRepo) ListServices(context.Context) ([]domain.ServiceCount, error) {
	return nil, nil
}

func (s *stubRepo) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{}, nil
}

func (s *stubRepo) insertedSnapshot() []domain.MetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MetricRecord, len(s.inserted))
	copy(out, s.inserted)
	return out
}

type testSubscriber struct {
	ch chan []byte
}

func newTestSubscriber() *testSubscriber {
	return &testSubscriber{ch: make(chan []byte, 8)}
}

func (s *testSubscriber) Send(payload []byte) error {
	s.ch <- payload
	return nil
}

func (s *testSubscriber) Close() {}

func TestIngestPersistsAndBroadcasts(t *testing.T) {
	repo := &stubRepo{}
	hub := ws.NewHub()
	svc := New(repo, hub, nil, 10)

	subscriber := newTestSubscriber()
	hub.Join("svc-a", subscriber)

	result, err := svc.Ingest(context.Background(), Payload{
		Route:        "/x",
		Method:       "get",
		Status:       200,
		ResponseTime: 120,
		ServiceName:  "svc-a",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result != ResultAccepted {
		t.Fatalf("expected ResultAccepted, got %v", result)
	}

	inserted := repo.insertedSnapshot()
	if len(inserted) != 1 {
		t.Fatalf("expected 1 record persisted, got %d", len(inserted))
	}
	rec := inserted[0]
	if rec.Method != "GET" {
		t.Fatalf("expected method normalized to GET, got %q", rec.Method)
	}
	if rec.IsError {
		t.Fatal("expected isError false for status 200")
	}
	if rec.ServiceName != "svc-a" {
		t.Fatalf("unexpected service name %q", rec.ServiceName)
	}

	select {
	case payload := <-subscriber.ch:
		var msg struct {
			Type string              `json:"type"`
			Data domain.MetricRecord `json:"data"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if msg.Type != "new_metric" {
			t.Fatalf("expected new_metric event, got %q", msg.Type)
		}
		if msg.Data.Route != "/x" || msg.Data.ID != 1 {
			t.Fatalf("unexpected broadcast record %+v", msg.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected metric broadcast")
	}
}

func TestIngestRejectsInvalidPayloads(t *testing.T) {
	cases := map[string]Payload{
		"missing route":          {Method: "GET", Status: 200, ResponseTime: 10},
		"missing method":         {Route: "/x", Status: 200, ResponseTime: 10},
		"status below range":     {Route: "/x", Method: "GET", Status: 50, ResponseTime: 10},
		"status above range":     {Route: "/x", Method: "GET", Status: 600, ResponseTime: 10},
		"negative response time": {Route: "/x", Method: "GET", Status: 200, ResponseTime: -1},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &stubRepo{}
			svc := New(repo, nil, nil, 10)
			if _, err := svc.Ingest(context.Background(), payload); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(repo.insertedSnapshot()) != 0 {
				t.Fatal("expected no records persisted on validation failure")
			}
		})
	}
}

func TestIngestIgnoresNoiseRoutes(t *testing.T) {
	repo := &stubRepo{}
	svc := New(repo, nil, nil, 10)

	for _, route := range []string{"/metrics/summary", "/api/metrics/summary", "/healthz", "/favicon.ico"} {
		result, err := svc.Ingest(context.Background(), Payload{
			Route:        route,
			Method:       "GET",
			Status:       200,
			ResponseTime: 5,
		})
		if err != nil {
			t.Fatalf("ingest %q: %v", route, err)
		}
		if result != ResultIgnored {
			t.Fatalf("expected %q to be ignored", route)
		}
	}
	if len(repo.insertedSnapshot()) != 0 {
		t.Fatal("expected noise routes never persisted")
	}
	if svc.RecentCount() != 0 {
		t.Fatal("expected noise routes never cached")
	}
}

func TestIngestKeepsAssetLikeUpstreamRoutes(t *testing.T) {
	repo := &stubRepo{}
	svc := New(repo, nil, nil, 10)

	routes := []string{"/api/orders.json", "/static/app.css", "/assets/report.png", "/v1/export.css.map"}
	for _, route := range routes {
		result, err := svc.Ingest(context.Background(), Payload{
			Route:        route,
			Method:       "GET",
			Status:       200,
			ResponseTime: 5,
			ServiceName:  "svc-a",
		})
		if err != nil {
			t.Fatalf("ingest %q: %v", route, err)
		}
		if result != ResultAccepted {
			t.Fatalf("expected %q accepted as real upstream traffic", route)
		}
	}
	if got := len(repo.insertedSnapshot()); got != len(routes) {
		t.Fatalf("expected %d records persisted, got %d", len(routes), got)
	}
}

func TestIngestServiceNameFallback(t *testing.T) {
	port := 3001
	cases := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"explicit wins", Payload{Route: "/x", Method: "GET", Status: 200, SourcePort: &port, ServiceName: "checkout"}, "checkout"},
		{"port fallback", Payload{Route: "/x", Method: "GET", Status: 200, SourcePort: &port}, "port-3001"},
		{"unknown fallback", Payload{Route: "/x", Method: "GET", Status: 200}, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubRepo{}
			svc := New(repo, nil, nil, 10)
			if _, err := svc.Ingest(context.Background(), tc.payload); err != nil {
				t.Fatalf("ingest: %v", err)
			}
			inserted := repo.insertedSnapshot()
			if len(inserted) != 1 || inserted[0].ServiceName != tc.want {
				t.Fatalf("expected service %q, got %+v", tc.want, inserted)
			}
		})
	}
}

func TestIngestDerivesIsError(t *testing.T) {
	repo := &stubRepo{}
	svc := New(repo, nil, nil, 10)

	if _, err := svc.Ingest(context.Background(), Payload{Route: "/a", Method: "GET", Status: 500, ResponseTime: 10}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	explicit := false
	if _, err := svc.Ingest(context.Background(), Payload{Route: "/b", Method: "GET", Status: 502, ResponseTime: 10, IsError: &explicit}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	inserted := repo.insertedSnapshot()
	if !inserted[0].IsError {
		t.Fatal("expected isError derived from status 500")
	}
	if inserted[1].IsError {
		t.Fatal("expected explicit isError=false to be honored")
	}
}

func TestIngestDropsRecordOnPersistenceFailure(t *testing.T) {
	repo := &stubRepo{insertErr: errors.New("disk full")}
	svc := New(repo, nil, nil, 10)

	_, err := svc.Ingest(context.Background(), Payload{Route: "/x", Method: "GET", Status: 200, ResponseTime: 1})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("persistence failure must not look like a validation error")
	}
	if svc.RecentCount() != 0 {
		t.Fatal("expected failed record not cached")
	}
}

func TestClearHistoryClearsStoreAndRing(t *testing.T) {
	repo := &stubRepo{}
	svc := New(repo, nil, nil, 10)

	for _, service := range []string{"svc-a", "svc-a", "svc-b"} {
		if _, err := svc.Ingest(context.Background(), Payload{Route: "/x", Method: "GET", Status: 200, ResponseTime: 1, ServiceName: service}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if err := svc.ClearHistory(context.Background(), "svc-a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(repo.cleared) != 1 || repo.cleared[0] != "svc-a" {
		t.Fatalf("expected store clear for svc-a, got %v", repo.cleared)
	}
	if svc.RecentCount() != 1 {
		t.Fatalf("expected only svc-b left in ring, got %d", svc.RecentCount())
	}
	remaining := svc.Recent(10)
	if len(remaining) != 1 || remaining[0].ServiceName != "svc-b" {
		t.Fatalf("unexpected ring contents %+v", remaining)
	}
}
