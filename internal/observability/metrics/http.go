package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal         *prometheus.CounterVec
	chunksReceivedTotal  *prometheus.CounterVec
	idempotencyHitsTotal *prometheus.CounterVec
	recoveriesTotal      *prometheus.CounterVec
	retryAttemptsTotal   *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Total upload outcomes per file.",
		},
		[]string{"service", "outcome"},
	)
	chunksReceivedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "ingest",
			Name:      "chunks_received_total",
			Help:      "Total upload chunks accepted.",
		},
		[]string{"service"},
	)
	idempotencyHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "idempotency_hits_total",
			Help:      "Total requests answered from the idempotency cache.",
		},
		[]string{"service"},
	)
	recoveriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "ingest",
			Name:      "recoveries_total",
			Help:      "Total recovery attempts by outcome.",
		},
		[]string{"service", "outcome"},
	)
	retryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "ingest",
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		uploadsTotal,
		chunksReceivedTotal,
		idempotencyHitsTotal,
		recoveriesTotal,
		retryAttemptsTotal,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		uploadsTotal:         uploadsTotal,
		chunksReceivedTotal:  chunksReceivedTotal,
		idempotencyHitsTotal: idempotencyHitsTotal,
		recoveriesTotal:      recoveriesTotal,
		retryAttemptsTotal:   retryAttemptsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/documents/") {
		return path
	}
	rest := strings.Trim(strings.TrimPrefix(path, "/v1/documents/"), "/")
	switch rest {
	case "chunk", "check-duplicate":
		return path
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return "/v1/documents/{document_id}/" + rest[idx+1:]
	}
	return "/v1/documents/{document_id}"
}

func (m *HTTPServerMetrics) RecordUpload(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.uploadsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordChunk(service string) {
	m.chunksReceivedTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordIdempotencyHit(service string) {
	m.idempotencyHitsTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordRecovery(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.recoveriesTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordRetry(service, operation string) {
	m.retryAttemptsTotal.WithLabelValues(service, operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
