package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/apiwatch/internal/domain"
	"github.com/splax/apiwatch/internal/repository"
	"github.com/splax/apiwatch/internal/ws"
)

// ErrValidation indicates a malformed or out-of-range metric payload. The
// record is rejected before reaching the store.
var ErrValidation = errors.New("invalid metric payload")

// ErrPersistence indicates the store could not write the record. The metric
// is dropped and not retried.
var ErrPersistence = errors.New("metric persistence failed")

// Result describes what happened to an ingested payload.
type Result int

const (
	// ResultAccepted means the record was persisted and broadcast.
	ResultAccepted Result = iota
	// ResultIgnored means the payload was valid noise: acknowledged but
	// neither persisted nor broadcast.
	ResultIgnored
)

// Payload is the inbound metric report. Pointer fields distinguish absent
// from zero so derivation rules apply only when the reporter omitted them.
type Payload struct {
	Route        string `json:"route"`
	Method       string `json:"method"`
	Status       int    `json:"status"`
	ResponseTime int64  `json:"responseTime"`
	IsError      *bool  `json:"isError"`
	SourcePort   *int   `json:"sourcePort"`
	ServiceName  string `json:"serviceName"`
}

// Service validates, classifies and stores inbound metric reports, then
// fans accepted records out to subscribed dashboards.
type Service struct {
	repo   repository.MetricRepository
	hub    *ws.Hub
	recent *Ring
	logger *slog.Logger
}

// New constructs the ingestion service.
func New(repo repository.MetricRepository, hub *ws.Hub, logger *slog.Logger, ringSize int) *Service {
	if hub == nil {
		hub = ws.NewHub()
	}
	if logger != nil {
		logger = logger.With("component", "ingest")
	} else {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		hub:    hub,
		recent: NewRing(ringSize),
		logger: logger,
	}
}

// Ingest normalizes one payload into a MetricRecord, persists it and
// publishes it to the service's room. Publication happens only after a
// successful insert, so subscribers never see a record that failed to
// persist.
func (s *Service) Ingest(ctx context.Context, payload Payload) (Result, error) {
	record, err := normalize(payload)
	if err != nil {
		return ResultIgnored, err
	}
	if IsNoiseRoute(record.Route) {
		return ResultIgnored, nil
	}
	if err := s.repo.InsertMetric(ctx, &record); err != nil {
		s.logger.Error("metric dropped", "route", record.Route, "service", record.ServiceName, "error", err)
		return ResultIgnored, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.recent.Push(record)
	s.broadcast(record)
	return ResultAccepted, nil
}

// ClearHistory removes one service's records from the store and the recent
// ring.
func (s *Service) ClearHistory(ctx context.Context, service string) error {
	if err := s.repo.ClearService(ctx, service); err != nil {
		return err
	}
	s.recent.Clear(service)
	return nil
}

// RecentCount reports how many records the bounded recent ring holds.
func (s *Service) RecentCount() int {
	return s.recent.Len()
}

// Recent returns up to limit recently accepted records, newest first.
func (s *Service) Recent(limit int) []domain.MetricRecord {
	return s.recent.Recent(limit)
}

func (s *Service) broadcast(record domain.MetricRecord) {
	payload, err := MarshalEvent(record)
	if err != nil {
		s.logger.Warn("failed to marshal metric event", "error", err)
		return
	}
	s.hub.Publish(record.ServiceName, payload)
}

// MarshalEvent encodes a record as a new_metric push event.
func MarshalEvent(record domain.MetricRecord) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type": "new_metric",
		"data": record,
	})
}

func normalize(payload Payload) (domain.MetricRecord, error) {
	route := strings.TrimSpace(payload.Route)
	if route == "" {
		return domain.MetricRecord{}, fmt.Errorf("%w: route is required", ErrValidation)
	}
	method := strings.ToUpper(strings.TrimSpace(payload.Method))
	if method == "" {
		return domain.MetricRecord{}, fmt.Errorf("%w: method is required", ErrValidation)
	}
	if payload.Status < 100 || payload.Status > 599 {
		return domain.MetricRecord{}, fmt.Errorf("%w: status %d out of range [100,599]", ErrValidation, payload.Status)
	}
	if payload.ResponseTime < 0 {
		return domain.MetricRecord{}, fmt.Errorf("%w: responseTime must be non-negative", ErrValidation)
	}

	isError := payload.Status >= 400
	if payload.IsError != nil {
		isError = *payload.IsError
	}
	service := strings.TrimSpace(payload.ServiceName)
	if service == "" {
		if payload.SourcePort != nil {
			service = fmt.Sprintf("port-%d", *payload.SourcePort)
		} else {
			service = "unknown"
		}
	}
	return domain.MetricRecord{
		Route:        route,
		Method:       method,
		Status:       payload.Status,
		ResponseTime: payload.ResponseTime,
		IsError:      isError,
		SourcePort:   payload.SourcePort,
		ServiceName:  service,
	}, nil
}
