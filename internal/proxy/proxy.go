package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/apiwatch/pkg/report"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	defaultReportTimeout   = 2 * time.Second
)

// hopHeaders are transport-level headers that must not be replayed to the
// other side of the proxy.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Reporter delivers one metric to the collector. Delivery is best effort.
type Reporter interface {
	Emit(ctx context.Context, metric report.Metric) error
}

// Options tune the forwarding and reporting behavior.
type Options struct {
	ServiceName     string
	SourcePort      int
	PreserveHost    bool
	UpstreamTimeout time.Duration
	ReportTimeout   time.Duration
}

// Handler forwards every request to one configured upstream, times the round
// trip and reports exactly one metric per forwarded request. The report is
// sent asynchronously after the client response and can never affect it.
type Handler struct {
	target   *url.URL
	client   *http.Client
	reporter Reporter
	logger   *slog.Logger
	opts     Options
}

// New builds a measuring proxy for the given upstream base URL.
func New(upstream string, reporter Reporter, logger *slog.Logger, opts Options) (*Handler, error) {
	target, err := url.Parse(strings.TrimSpace(upstream))
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url requires scheme and host")
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = defaultUpstreamTimeout
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = defaultReportTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{
		Timeout: opts.UpstreamTimeout,
		// Redirects belong to the caller; pass 3xx responses through.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Handler{
		target:   target,
		client:   client,
		reporter: reporter,
		logger:   logger.With("component", "proxy"),
		opts:     opts,
	}, nil
}

// ServeHTTP forwards the request and streams the upstream response back.
// Upstream failures are converted to well-formed gateway errors: 503 when the
// upstream is unreachable, 504 on timeout.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	route := req.URL.RequestURI()

	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, h.rewriteURL(req.URL), req.Body)
	if err != nil {
		h.writeGatewayError(w, http.StatusBadGateway, "invalid upstream request")
		h.report(route, req.Method, http.StatusBadGateway, time.Since(start), true)
		return
	}
	copyHeaders(outReq.Header, req.Header)
	if h.opts.PreserveHost {
		outReq.Host = req.Host
	}

	resp, err := h.client.Do(outReq)
	if err != nil {
		status := http.StatusServiceUnavailable
		message := "upstream unreachable"
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
			message = "upstream timeout"
		}
		h.logger.Warn("forward failed", "route", route, "status", status, "error", err)
		h.writeGatewayError(w, status, message)
		h.report(route, req.Method, status, time.Since(start), true)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	if resp.Uncompressed {
		// The transport already decoded the body; the original encoding
		// headers no longer describe it.
		w.Header().Del("Content-Encoding")
		w.Header().Del("Content-Length")
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn("response copy interrupted", "route", route, "error", err)
	}
	h.report(route, req.Method, resp.StatusCode, time.Since(start), resp.StatusCode >= 400)
}

// report dispatches the metric without blocking the response path. Failures
// are swallowed; a stalled collector only costs the report goroutine its
// bounded timeout.
func (h *Handler) report(route, method string, status int, elapsed time.Duration, isError bool) {
	if h.reporter == nil {
		return
	}
	metric := report.Metric{
		Route:        route,
		Method:       method,
		Status:       status,
		ResponseTime: elapsed.Milliseconds(),
		IsError:      isError,
		ServiceName:  h.opts.ServiceName,
	}
	if h.opts.SourcePort > 0 {
		port := h.opts.SourcePort
		metric.SourcePort = &port
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.ReportTimeout)
		defer cancel()
		if err := h.reporter.Emit(ctx, metric); err != nil {
			h.logger.Debug("metric report dropped", "route", route, "error", err)
		}
	}()
}

func (h *Handler) rewriteURL(in *url.URL) string {
	out := *h.target
	out.Path = singleJoiningSlash(h.target.Path, in.Path)
	out.RawQuery = in.RawQuery
	return out.String()
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopHeader(name) {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

func isHopHeader(name string) bool {
	for _, hop := range hopHeaders {
		if strings.EqualFold(name, hop) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
