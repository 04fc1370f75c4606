package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/enterprise-rag/internal/adapters/http"
	"github.com/kirillkom/enterprise-rag/internal/bootstrap"
	"github.com/kirillkom/enterprise-rag/internal/config"
	"github.com/kirillkom/enterprise-rag/internal/observability/logging"
	"github.com/kirillkom/enterprise-rag/internal/observability/metrics"
)

const serviceName = "erag-api"

func main() {
	cfg := config.Load()
	logger := logging.Setup(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		WithHistory: true,
		Metrics:     httpMetrics,
		OnRetry:     httpMetrics.UpstreamRetry,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Without a reachable LLM no chat request can succeed, so refuse to start.
	if err := app.LLM.Warmup(ctx); err != nil {
		logger.Error("llm_warmup_failed", "error", err)
		app.Close()
		os.Exit(1)
	}
	app.Reranker.Warmup(ctx)

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Ingestor:     app.IngestUC,
		Documents:    app.Repo,
		DataPrep:     app.DataPrepUC,
		Embeddings:   app.EmbedUC,
		Retrieval:    app.RetrieveUC,
		Rerank:       app.RerankUC,
		Chat:         app.ChatUC,
		History:      app.HistoryUC,
		Fingerprints: app.FingerprintUC,
	}, httpMetrics)

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams can run as long as the LLM allows.
		WriteTimeout: time.Duration(cfg.LLMTimeoutSeconds+30) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
