package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 2 * time.Second
	maxErrorBodySize = 4096
)

// ErrInvalidArgument indicates the collector rejected the payload with validation errors.
var ErrInvalidArgument = errors.New("metric report invalid argument")

// Metric is one observed request/response exchange reported to the collector.
type Metric struct {
	Route        string `json:"route"`
	Method       string `json:"method"`
	Status       int    `json:"status"`
	ResponseTime int64  `json:"responseTime"`
	IsError      bool   `json:"isError"`
	SourcePort   *int   `json:"sourcePort,omitempty"`
	ServiceName  string `json:"serviceName,omitempty"`
}

// Emitter sends metric reports to the collector's ingestion endpoint.
// Delivery is best effort: callers are expected to bound Emit with a short
// context and drop the metric when it fails.
type Emitter struct {
	endpoint string
	client   *http.Client
}

// NewEmitter creates an emitter for the given collector base URL.
func NewEmitter(baseURL string, client *http.Client) (*Emitter, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, errors.New("collector base url required")
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Emitter{endpoint: trimmed + "/metrics", client: client}, nil
}

// Emit posts one metric to the collector.
func (e *Emitter) Emit(ctx context.Context, metric Metric) error {
	if e == nil {
		return errors.New("metric emitter not initialised")
	}
	body, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build metric request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send metric request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return e.errorForStatus(resp)
	}
	return nil
}

func (e *Emitter) errorForStatus(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	buf, _ := io.ReadAll(limited)
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	if resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	}
	return fmt.Errorf("metric report failed: %s", summary)
}
