package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/apiwatch/internal/repository"
	"github.com/splax/apiwatch/internal/service/ingest"
	"github.com/splax/apiwatch/internal/service/query"
	"github.com/splax/apiwatch/internal/ws"
)

const (
	rateWindowIngest   = time.Minute
	healthCheckTimeout = 2 * time.Second
)

// Router wires the collector's HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	ingest      *ingest.Service
	query       *query.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	ingestLimit int
	prom        http.Handler
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, ingestSvc *ingest.Service, querySvc *query.Service, hub *ws.Hub, limiter RateLimiter, ingestLimit int, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		ingest: ingestSvc,
		query:  querySvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		ingestLimit: ingestLimit,
		prom:        promhttp.Handler(),
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/metrics", r.audit(r.handleMetrics))
	r.mux.HandleFunc("/metrics/", r.audit(r.handleMetricsSub))
	r.mux.HandleFunc("/services", r.audit(r.handleServices))
	r.mux.HandleFunc("/ws", r.audit(r.handleWS))
}

// handleMetrics serves the shared /metrics path: POST ingests one record,
// GET exposes the collector's own Prometheus metrics.
func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("/metrics", r.ingestLimit, rateWindowIngest, r.handleIngest)(w, req)
	case http.MethodGet:
		r.prom.ServeHTTP(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	var payload ingest.Payload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeIngestError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := r.ingest.Ingest(req.Context(), payload); err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			writeIngestError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeIngestError(w, http.StatusInternalServerError, "failed to store metric")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (r *Router) handleMetricsSub(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/metrics/")
	if service, ok := strings.CutPrefix(trimmed, "clear/"); ok {
		r.handleClear(w, req, service)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	switch trimmed {
	case "summary":
		r.handleSummary(w, req)
	case "routes":
		r.handleRoutes(w, req)
	case "latency":
		r.handleLatency(w, req)
	case "export":
		r.handleExport(w, req)
	case "errors":
		r.handleErrors(w, req)
	case "stats":
		r.handleStats(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) {
	summary, err := r.query.Summary(req.Context(), queryInt(req, "minutes"), queryService(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (r *Router) handleRoutes(w http.ResponseWriter, req *http.Request) {
	stats, err := r.query.Routes(req.Context(), queryInt(req, "minutes"), queryService(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleLatency(w http.ResponseWriter, req *http.Request) {
	points, err := r.query.Latency(req.Context(), queryInt(req, "minutes"), queryInt(req, "limit"), queryService(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) {
	records, err := r.query.Export(req.Context(), queryInt(req, "limit"), queryService(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) {
	buckets, err := r.query.Errors(req.Context(), queryInt(req, "minutes"), queryService(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.query.Stats(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleClear(w http.ResponseWriter, req *http.Request, service string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	service = strings.TrimSpace(service)
	if service == "" {
		writeError(w, http.StatusBadRequest, "service name required")
		return
	}
	if err := r.ingest.ClearHistory(req.Context(), service); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown service")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "service": service})
}

func (r *Router) handleServices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	services, err := r.query.Services(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, services)
}

// wsCommand is the client-to-server frame on the realtime channel.
type wsCommand struct {
	Type    string `json:"type"`
	Service string `json:"service"`
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	session := ws.NewSession(r.hub, client)
	if service := strings.TrimSpace(req.URL.Query().Get("service")); service != "" {
		session.Join(service)
	}
	go func() {
		defer session.Close()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd wsCommand
			if err := json.Unmarshal(message, &cmd); err != nil {
				continue
			}
			switch cmd.Type {
			case "join":
				session.Join(strings.TrimSpace(cmd.Service))
			case "leave":
				session.Leave()
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	components["recent_cache"] = map[string]any{"size": r.ingest.RecentCount()}
	payload := map[string]any{
		"status":     status,
		"service":    "metrics-collector",
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Debug("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func queryInt(req *http.Request, name string) int {
	value, _ := strconv.Atoi(req.URL.Query().Get(name))
	return value
}

func queryService(req *http.Request) string {
	return strings.TrimSpace(req.URL.Query().Get("service"))
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade work through the audit recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
