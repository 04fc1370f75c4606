package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// WorkerMetrics observes the ingestion pipeline of cmd/worker.
type WorkerMetrics struct {
	registry *prometheus.Registry

	documents *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	chunks    prometheus.Histogram
	queueLag  prometheus.Histogram
	retries   *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "erag", Subsystem: "worker", Name: name, Help: help, ConstLabels: labels}
	}
	histogram := func(name, help string, buckets []float64) prometheus.HistogramOpts {
		o := opts(name, help)
		return prometheus.HistogramOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
			ConstLabels: o.ConstLabels, Buckets: buckets,
		}
	}

	documents := prometheus.NewCounterVec(prometheus.CounterOpts(opts("documents_total",
		"Processed documents by outcome. Failures carry the error kind as reason.")),
		[]string{"status", "reason"})
	duration := prometheus.NewHistogramVec(histogram("document_duration_seconds",
		"Wall time from dequeue to final status.", []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}),
		[]string{"status"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts(opts("documents_in_flight",
		"Documents currently in the pipeline.")))
	chunks := prometheus.NewHistogram(histogram("chunks_per_document",
		"Vectors written per ready document, summaries included.", prometheus.ExponentialBuckets(1, 2, 12)))
	queueLag := prometheus.NewHistogram(histogram("queue_lag_seconds",
		"Delay between upload and the start of processing.", []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}))
	retries := prometheus.NewCounterVec(prometheus.CounterOpts(opts("retries_total",
		"Retried worker operations.")), []string{"operation"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(documents, duration, inFlight, chunks, queueLag, retries)

	return &WorkerMetrics{
		registry:  registry,
		documents: documents,
		duration:  duration,
		inFlight:  inFlight,
		chunks:    chunks,
		queueLag:  queueLag,
		retries:   retries,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartDocument() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(duration time.Duration, chunks int, err error) {
	m.inFlight.Dec()
	if err != nil {
		m.documents.WithLabelValues("error", failureReason(err)).Inc()
		m.duration.WithLabelValues("error").Observe(duration.Seconds())
		return
	}
	m.documents.WithLabelValues("success", "").Inc()
	m.duration.WithLabelValues("success").Observe(duration.Seconds())
	m.chunks.Observe(float64(chunks))
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag >= 0 {
		m.queueLag.Observe(lag.Seconds())
	}
}

// Retry matches resilience.RetryObserver.
func (m *WorkerMetrics) Retry(operation string, _ int, _ error) {
	m.retries.WithLabelValues(operation).Inc()
}

func failureReason(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case domain.IsKind(err, domain.ErrTemporary):
		return "upstream_unavailable"
	case domain.IsKind(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
