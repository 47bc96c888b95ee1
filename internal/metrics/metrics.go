// Package metrics provides Prometheus metrics for the PearDrive server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peardrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peardrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Retrieval pipeline metrics
	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peardrive_download_bytes_total",
			Help: "Total bytes delivered to clients",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peardrive_downloads_total",
			Help: "Total number of content downloads",
		},
		[]string{"kind", "status"},
	)

	stagingSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peardrive_staging_sessions_active",
			Help: "Number of staging sessions currently held",
		},
	)

	// Bridge (object store) metrics
	bridgeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peardrive_bridge_operation_duration_seconds",
			Help:    "Bridge operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	bridgeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peardrive_bridge_operations_total",
			Help: "Total bridge operations by outcome",
		},
		[]string{"operation", "status"},
	)

	bridgeRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peardrive_bridge_rate_limited_total",
			Help: "Total bridge operations rejected by provider rate limiting",
		},
	)

	// Channel transport metrics
	socketEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peardrive_socket_events_total",
			Help: "Total events emitted on the duplex channel transport",
		},
		[]string{"event"},
	)

	socketSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peardrive_socket_sessions_active",
			Help: "Number of connected duplex channel sessions",
		},
	)
)

// RecordDownload records a completed (or failed) content download.
func RecordDownload(kind string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(kind, status).Inc()
	if bytes > 0 {
		downloadBytesTotal.Add(float64(bytes))
	}
}

// RecordBridgeOperation records a bridge operation's duration and outcome.
func RecordBridgeOperation(op string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	bridgeOperationDuration.WithLabelValues(op).Observe(d.Seconds())
	bridgeOperationsTotal.WithLabelValues(op, status).Inc()
}

// RecordBridgeRateLimited records a rate-limit rejection from the provider.
func RecordBridgeRateLimited() {
	bridgeRateLimitedTotal.Inc()
}

// SetStagingSessionsActive sets the active staging session gauge.
func SetStagingSessionsActive(n int64) {
	stagingSessionsActive.Set(float64(n))
}

// RecordSocketEvent records an emitted channel event.
func RecordSocketEvent(event string) {
	socketEventsTotal.WithLabelValues(event).Inc()
}

// SetSocketSessionsActive sets the connected socket session gauge.
func SetSocketSessionsActive(n int64) {
	socketSessionsActive.Set(float64(n))
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
