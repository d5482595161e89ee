package domain

import "time"

// MetricRecord is one persisted observation of a single HTTP request/response
// exchange. Records are normalized once at the ingestion boundary and never
// mutated afterwards.
type MetricRecord struct {
	ID           int64     `json:"id"`
	Route        string    `json:"route"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	ResponseTime int64     `json:"responseTime"`
	IsError      bool      `json:"isError"`
	SourcePort   *int      `json:"sourcePort,omitempty"`
	ServiceName  string    `json:"serviceName"`
	Timestamp    time.Time `json:"timestamp"`
}

// Summary aggregates request volume, latency and error rate over a window.
type Summary struct {
	TotalRequests   int64   `json:"totalRequests"`
	AvgResponseTime int64   `json:"avgResponseTime"`
	ErrorRate       float64 `json:"errorRate"`
}

// RouteStat is one (route, method) aggregation row.
type RouteStat struct {
	Route        string  `json:"route"`
	Method       string  `json:"method"`
	Hits         int64   `json:"hits"`
	AvgTime      int64   `json:"avgTime"`
	MaxTime      int64   `json:"maxTime"`
	MinTime      int64   `json:"minTime"`
	ErrorPercent float64 `json:"errorPercent"`
}

// LatencyPoint is one point on the latency-over-time chart.
type LatencyPoint struct {
	Time    string `json:"time"`
	Latency int64  `json:"latency"`
	Route   string `json:"route"`
	Method  string `json:"method"`
}

// ErrorBucket counts error records grouped by minute and route.
type ErrorBucket struct {
	Time   string `json:"time"`
	Count  int64  `json:"count"`
	Route  string `json:"route"`
	Status int    `json:"status"`
}

// ServiceCount pairs a service name with its stored request count.
type ServiceCount struct {
	ServiceName string `json:"serviceName"`
	Requests    int64  `json:"requests"`
}

// StoreStats describes the metric table as a whole.
type StoreStats struct {
	TotalRecords int64  `json:"totalRecords"`
	UniqueRoutes int64  `json:"uniqueRoutes"`
	Services     int64  `json:"services"`
	OldestRecord string `json:"oldestRecord"`
	NewestRecord string `json:"newestRecord"`
}
