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
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	disconnects     *prometheus.CounterVec

	retrievalTotal    *prometheus.CounterVec
	retrievedDocs     *prometheus.HistogramVec
	retrievalDuration *prometheus.HistogramVec
	noContextTotal    *prometheus.CounterVec
	rerankFallbacks   *prometheus.CounterVec
	streamErrors      *prometheus.CounterVec
	upstreamRetries   *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "erag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "erag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	disconnects := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "http",
			Name:      "client_disconnects_total",
			Help:      "Requests cancelled because the client went away.",
		},
		[]string{"service", "path"},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "rag",
			Name:      "retrievals_total",
			Help:      "Total successful retrievals by search type.",
		},
		[]string{"service", "search_type"},
	)
	retrievedDocs := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "erag",
			Subsystem: "rag",
			Name:      "retrieved_docs",
			Help:      "Distribution of retrieved documents per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service", "search_type"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "erag",
			Subsystem: "rag",
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds, embedding included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "search_type"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "rag",
			Name:      "no_context_total",
			Help:      "Total retrievals that returned no documents.",
		},
		[]string{"service", "search_type"},
	)
	rerankFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "rag",
			Name:      "rerank_fallback_total",
			Help:      "Prompts built from all retrieved docs because scoring failed.",
		},
		[]string{"service"},
	)
	streamErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "llm",
			Name:      "stream_errors_total",
			Help:      "Streams terminated with an error frame.",
		},
		[]string{"service"},
	)
	upstreamRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erag",
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retried calls to model servers and brokers by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		disconnects,
		retrievalTotal,
		retrievedDocs,
		retrievalDuration,
		noContextTotal,
		rerankFallbacks,
		streamErrors,
		upstreamRetries,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		service:           service,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		disconnects:       disconnects,
		retrievalTotal:    retrievalTotal,
		retrievedDocs:     retrievedDocs,
		retrievalDuration: retrievalDuration,
		noContextTotal:    noContextTotal,
		rerankFallbacks:   rerankFallbacks,
		streamErrors:      streamErrors,
		upstreamRetries:   upstreamRetries,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
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
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{id}"
	case strings.HasPrefix(path, "/v1/chat/history/"):
		return "/v1/chat/history/{id}"
	case strings.HasPrefix(path, "/v1/fingerprint/"):
		return "/v1/fingerprint/{id}"
	default:
		return path
	}
}

// ClientDisconnected counts a request abandoned by its client (logged as 499).
func (m *HTTPServerMetrics) ClientDisconnected(path string) {
	m.disconnects.WithLabelValues(m.service, normalizePath(path)).Inc()
}

func (m *HTTPServerMetrics) ObserveRetrieval(searchType string, docs int, duration time.Duration) {
	if searchType == "" {
		searchType = "unknown"
	}
	m.retrievalTotal.WithLabelValues(m.service, searchType).Inc()
	m.retrievedDocs.WithLabelValues(m.service, searchType).Observe(float64(docs))
	m.retrievalDuration.WithLabelValues(m.service, searchType).Observe(duration.Seconds())
	if docs == 0 {
		m.noContextTotal.WithLabelValues(m.service, searchType).Inc()
	}
}

func (m *HTTPServerMetrics) RerankFallback() {
	m.rerankFallbacks.WithLabelValues(m.service).Inc()
}

func (m *HTTPServerMetrics) StreamError() {
	m.streamErrors.WithLabelValues(m.service).Inc()
}

// UpstreamRetry matches resilience.RetryObserver.
func (m *HTTPServerMetrics) UpstreamRetry(operation string, _ int, _ error) {
	m.upstreamRetries.WithLabelValues(m.service, operation).Inc()
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
