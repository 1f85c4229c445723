// Package metrics provides Prometheus instrumentation for the wager engine.
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
	// WagersPlaced counts accepted wagers, partitioned by bet type.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wk_wagers_placed_total",
		Help: "Total number of wagers accepted",
	}, []string{"bet_type"})

	// WagerRejections counts refused wagers by error class.
	WagerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wk_wager_rejections_total",
		Help: "Wagers refused by the ledger",
	}, []string{"reason"})

	// AmountWagered tracks cumulative stake.
	AmountWagered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wk_amount_wagered_total",
		Help: "Cumulative stake accepted",
	})

	// LinesGenerated counts generated lines by bet type.
	LinesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wk_lines_generated_total",
		Help: "Total number of lines generated",
	}, []string{"bet_type"})

	// LinesResolved counts resolved lines by outcome.
	LinesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wk_lines_resolved_total",
		Help: "Total number of lines resolved",
	}, []string{"outcome"})

	// ResolutionFailures counts lines that could not be resolved.
	ResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wk_resolution_failures_total",
		Help: "Line resolutions that failed",
	})

	// AmountPaidOut tracks cumulative credited returns.
	AmountPaidOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wk_amount_paid_out_total",
		Help: "Cumulative total return credited to winners",
	})

	// UpstreamLatency tracks weather and geocoding call duration.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wk_upstream_latency_seconds",
		Help:    "Upstream API call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"adapter", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5},
	}, []string{"method", "path"})
)

// ObserveUpstream records one upstream call started at start.
func ObserveUpstream(adapter string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamLatency.WithLabelValues(adapter, result).Observe(time.Since(start).Seconds())
}

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
