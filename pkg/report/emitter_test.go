package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmitPostsMetricToCollector(t *testing.T) {
	received := make(chan Metric, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/metrics" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var metric Metric
		if err := json.NewDecoder(r.Body).Decode(&metric); err != nil {
			t.Errorf("decode metric: %v", err)
		}
		received <- metric
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	emitter, err := NewEmitter(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}

	port := 8081
	sent := Metric{
		Route:        "/orders",
		Method:       "GET",
		Status:       200,
		ResponseTime: 42,
		SourcePort:   &port,
		ServiceName:  "svc-a",
	}
	if err := emitter.Emit(context.Background(), sent); err != nil {
		t.Fatalf("emit: %v", err)
	}

	got := <-received
	if got.Route != sent.Route || got.Method != sent.Method || got.Status != sent.Status {
		t.Fatalf("unexpected metric %+v", got)
	}
	if got.SourcePort == nil || *got.SourcePort != 8081 || got.ServiceName != "svc-a" {
		t.Fatalf("unexpected identity fields %+v", got)
	}
}

func TestEmitMapsBadRequestToInvalidArgument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"error":"status 50 out of range"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	emitter, err := NewEmitter(srv.URL, nil)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	err = emitter.Emit(context.Background(), Metric{Route: "/x", Method: "GET", Status: 50})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument error, got %v", err)
	}
}

func TestEmitReturnsErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	emitter, err := NewEmitter(srv.URL, nil)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	err = emitter.Emit(context.Background(), Metric{Route: "/x", Method: "GET", Status: 200})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	if errors.Is(err, ErrInvalidArgument) {
		t.Fatal("server failure must not look like a validation error")
	}
}

func TestEmitFailsWhenCollectorUnreachable(t *testing.T) {
	emitter, err := NewEmitter("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	if err := emitter.Emit(context.Background(), Metric{Route: "/x", Method: "GET", Status: 200}); err == nil {
		t.Fatal("expected error when collector is unreachable")
	}
}

func TestNewEmitterRequiresBaseURL(t *testing.T) {
	if _, err := NewEmitter("   ", nil); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
