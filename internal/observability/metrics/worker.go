package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal       *prometheus.CounterVec
	processDuration    *prometheus.HistogramVec
	processInFlight    prometheus.Gauge
	queueLag           *prometheus.HistogramVec
	resultsStashed     *prometheus.CounterVec
	retriesEnqueued    *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "document_process_total",
			Help:      "Total processed documents by outcome class.",
		},
		[]string{"service", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by outcome class.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "document_process_in_flight",
			Help:      "Number of in-flight document processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	resultsStashed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "results_stashed_total",
			Help:      "Total enrichment results stashed for recovery after exhausted persistence retries.",
		},
		[]string{"service"},
	)
	retriesEnqueued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "retries_enqueued_total",
			Help:      "Total failed documents re-queued by the retry sweep.",
		},
		[]string{"service"},
	)
	retryAttemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "worker",
			Name:      "retry_attempts_total",
			Help:      "Total retry attempts by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueLag,
		resultsStashed,
		retriesEnqueued,
		retryAttemptsTotal,
	)

	return &WorkerMetrics{
		registry:           registry,
		processTotal:       processTotal,
		processDuration:    processDuration,
		processInFlight:    processInFlight,
		queueLag:           queueLag,
		resultsStashed:     resultsStashed,
		retriesEnqueued:    retriesEnqueued,
		retryAttemptsTotal: retryAttemptsTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

// FinishDocument records the pass outcome. Successful passes count as
// "success"; failures are labelled with their failure class.
func (m *WorkerMetrics) FinishDocument(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	outcome := "success"
	if err != nil {
		outcome = string(domain.ClassifyFailure(err))
		if domain.IsKind(err, domain.ErrWriteFailure) {
			m.resultsStashed.WithLabelValues(service).Inc()
		}
	}

	m.processTotal.WithLabelValues(service, outcome).Inc()
	m.processDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordRetryEnqueued(service string, count int) {
	if count <= 0 {
		return
	}
	m.retriesEnqueued.WithLabelValues(service).Add(float64(count))
}

func (m *WorkerMetrics) RecordRetry(service, operation string) {
	m.retryAttemptsTotal.WithLabelValues(service, operation).Inc()
}
