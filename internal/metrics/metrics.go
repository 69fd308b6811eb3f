// Package metrics provides Prometheus instrumentation for the PnL engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AccountsComputed counts finished account passes, partitioned by cohort tier.
	AccountsComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_accounts_computed_total",
		Help: "Total number of account PnL computations",
	}, []string{"tier"})

	// AccountComputeDuration tracks the latency of one account pass.
	AccountComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pnl_account_compute_seconds",
		Help:    "Account PnL computation latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})

	// LedgerFaults counts ledger faults by code.
	LedgerFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_ledger_faults_total",
		Help: "Ledger faults recorded during replay",
	}, []string{"code"})

	// Warnings counts diagnostic warnings by code.
	Warnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_warnings_total",
		Help: "Diagnostic warnings attached to account results",
	}, []string{"code"})

	// BatchDuration tracks wall time of batch runs.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pnl_batch_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SourceErrors counts failed reads of account events.
	SourceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_source_errors_total",
		Help: "Failed event source reads",
	})

	// CacheLookups counts Redis cache lookups by data kind and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_cache_lookups_total",
		Help: "Redis cache lookups",
	}, []string{"kind", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels requests by chi route pattern so account IDs in the
// path do not create one series each.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
