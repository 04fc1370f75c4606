package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/config"
	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
	"github.com/kirillkom/enterprise-rag/internal/observability/metrics"
)

const defaultMaxBodyBytes = 64 << 20

// Services groups the inbound ports served over HTTP. A nil service leaves
// its routes unregistered.
type Services struct {
	Ingestor     ports.DocumentIngestor
	Documents    ports.DocumentReader
	DataPrep     ports.DataPreparer
	Embeddings   ports.EmbeddingService
	Retrieval    ports.RetrievalService
	Rerank       ports.RerankService
	Chat         ports.ChatService
	History      ports.HistoryService
	Fingerprints ports.FingerprintService
}

type Router struct {
	cfg      config.Config
	services Services
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(cfg config.Config, services Services, httpMetrics *metrics.HTTPServerMetrics) *Router {
	return &Router{
		cfg:      cfg,
		services: services,
		metrics:  httpMetrics,
	}
}

// Handler builds the mux and its middleware chain. ctx bounds background
// work owned by the chain, such as rate limiter cleanup.
func (rt *Router) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	if rt.services.Ingestor != nil {
		mux.HandleFunc("/v1/documents", rt.uploadDocument)
	}
	if rt.services.Documents != nil {
		mux.HandleFunc("/v1/documents/", rt.getDocumentByID)
	}
	if rt.services.DataPrep != nil {
		mux.HandleFunc("/v1/dataprep", rt.prepareData)
	}
	if rt.services.Embeddings != nil {
		mux.HandleFunc("/v1/embeddings", rt.embed)
	}
	if rt.services.Retrieval != nil {
		mux.HandleFunc("/v1/retrieval", rt.retrieve)
	}
	if rt.services.Rerank != nil {
		mux.HandleFunc("/v1/reranking", rt.rerank)
	}
	if rt.services.Chat != nil {
		mux.HandleFunc("/v1/chat/completions", rt.chatCompletions)
	}
	if rt.services.History != nil {
		mux.HandleFunc("/v1/chat/history", rt.chatHistoryCollection)
		mux.HandleFunc("/v1/chat/history/", rt.chatHistoryItem)
	}
	if rt.services.Fingerprints != nil {
		mux.HandleFunc("/v1/fingerprint", rt.recordFingerprint)
		mux.HandleFunc("/v1/fingerprint/", rt.getFingerprint)
	}

	queueWait := time.Duration(rt.cfg.QueueWaitMillis) * time.Millisecond
	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, queueWait)
	handler = rateLimitMiddleware(ctx, handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)

	var observer disconnectObserver
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
		observer = rt.metrics
	}
	handler = accessLogMiddleware(handler, observer)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) maxBodyBytes() int64 {
	if rt.cfg.MaxUploadBytes > 0 {
		return rt.cfg.MaxUploadBytes
	}
	return defaultMaxBodyBytes
}

// allowMethod writes 405 and reports false when r.Method is not one of methods.
func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

// pathID returns the single path segment after prefix, or "" when the
// remainder is empty or nested.
func pathID(r *http.Request, prefix string) string {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func (rt *Router) decodeJSON(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	body := http.MaxBytesReader(w, r.Body, rt.maxBodyBytes())
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return domain.InvalidInput(op, "request body exceeds %d bytes", tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return domain.InvalidInput(op, "request body is empty")
		default:
			return domain.WrapError(domain.ErrInvalidInput, op, err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
