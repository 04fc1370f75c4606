package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/enterprise-rag/internal/config"
	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
	"github.com/kirillkom/enterprise-rag/internal/core/usecase"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/access"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/embedding"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/llm"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/loaders"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/repository/mongo"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/rerank"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector/milvus"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector/qdrant"
	redisstore "github.com/kirillkom/enterprise-rag/internal/infrastructure/vector/redis"
)

const (
	historyCollection     = "chat_history"
	fingerprintCollection = "fingerprints"
	upstreamTimeout       = 60 * time.Second
)

// Options selects the parts a binary needs. The API wants history and
// pipeline metrics; the worker wants a document observer.
type Options struct {
	WithHistory bool
	Metrics     ports.PipelineMetrics
	Observer    ports.DocumentObserver
	OnRetry     resilience.RetryObserver
}

type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Repo     ports.DocumentRepository
	LLM      *llm.Connector
	Reranker *rerank.Client

	IngestUC      ports.DocumentIngestor
	ProcessUC     ports.DocumentProcessor
	DataPrepUC    ports.DataPreparer
	EmbedUC       ports.EmbeddingService
	RetrieveUC    ports.RetrievalService
	RerankUC      ports.RerankService
	ChatUC        ports.ChatService
	HistoryUC     ports.HistoryService
	FingerprintUC ports.FingerprintService

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilience.DefaultConfig()).OnRetry(opts.OnRetry)

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Repo = repo

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.IngestSubject, nats.Options{
		ResilienceExecutor: executor,
		HandlerRetry:       resilience.NewExecutor(resilience.FixedBackoff(3, 2*time.Second)).OnRetry(opts.OnRetry),
		// Each attempt is bounded by the process use case; this covers all three.
		HandlerTimeout: 3*seconds(cfg.DocumentTimeoutSeconds) + 10*time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	app.onClose(queue.Close)
	app.Queue = queue

	embedder, err := embedding.New(embedding.Options{
		Server:    cfg.EmbeddingModelServer,
		Endpoint:  cfg.EmbeddingModelEndpoint,
		ModelName: cfg.EmbeddingModelName,
		BatchSize: cfg.EmbeddingBatchSize,
		Dimension: cfg.EmbeddingDimension,
		Timeout:   upstreamTimeout,
	})
	if err != nil {
		return nil, err
	}

	generator, err := llm.New(llm.Options{
		Server:           cfg.LLMModelServer,
		Endpoint:         cfg.LLMModelEndpoint,
		ModelName:        cfg.LLMModelName,
		Timeout:          seconds(cfg.LLMTimeoutSeconds),
		DisableStreaming: cfg.LLMDisableStreaming,
	})
	if err != nil {
		return nil, err
	}
	app.LLM = generator

	rerankExecutor := resilience.NewExecutor(resilience.FixedBackoff(rerank.DefaultAttempts, rerank.DefaultBackoff)).OnRetry(opts.OnRetry)
	reranker, err := rerank.New(cfg.RerankEndpoint, upstreamTimeout, rerankExecutor)
	if err != nil {
		return nil, err
	}
	app.Reranker = reranker

	splitter, err := newSplitter(cfg, embedder)
	if err != nil {
		return nil, err
	}
	chunker := chunking.Chunker{Splitter: splitter, Overlap: cfg.ChunkOverlap}

	parser := loaders.NewDefaultDispatcher(loaders.Options{
		OCREndpoint:         cfg.OCREndpoint,
		OCRFallbackEndpoint: cfg.OCRFallbackEndpoint,
		ASREndpoint:         cfg.ASREndpoint,
		PDFParallel:         cfg.PDFParallelProcessing,
		PDFMaxWorkers:       cfg.PDFMaxWorkers,
		DocConverterCommand: cfg.DocConverterCommand,
		Timeout:             upstreamTimeout,
	})

	var redisClient *goredis.Client
	redisOnce := func() (*goredis.Client, error) {
		if redisClient != nil {
			return redisClient, nil
		}
		client, err := redisstore.NewClient(cfg.RedisAddress())
		if err != nil {
			return nil, err
		}
		app.onClose(func() { _ = client.Close() })
		redisClient = client
		return client, nil
	}

	backend, err := newVectorBackend(cfg, redisOnce)
	if err != nil {
		return nil, err
	}
	vectorDB := vector.NewStore(backend)
	slog.Info("vector_store_selected", "backend", backend.Name(), "index", cfg.VectorIndexName)

	var resolver ports.AccessResolver
	if cfg.AccessControlEnabled {
		cache, err := redisOnce()
		if err != nil {
			return nil, fmt.Errorf("access cache: %w", err)
		}
		r, err := access.NewResolver(access.Options{
			JWTSecret:    cfg.AccessJWTSecret,
			RBACEndpoint: cfg.RBACEndpoint,
			CacheTTL:     seconds(cfg.AccessCacheTTLSeconds),
			Timeout:      upstreamTimeout,
		}, cache)
		if err != nil {
			return nil, err
		}
		resolver = r
	}

	searchType, ok := domain.ParseSearchType(cfg.RetrieverSearchType)
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "bootstrap", fmt.Errorf("unsupported RETRIEVER_SEARCH_TYPE %q", cfg.RetrieverSearchType))
	}
	retrieveUC := usecase.NewRetrieveUseCase(embedder, vectorDB, usecase.RetrieveOptions{
		SearchType:     searchType,
		K:              cfg.RetrieverK,
		FetchK:         cfg.RetrieverFetchK,
		LambdaMult:     cfg.RetrieverLambdaMult,
		ScoreThreshold: cfg.RetrieverScoreThreshold,
		KSummaries:     cfg.RetrieverKSummaries,
		KChunks:        cfg.RetrieverKChunks,
		MaxWorkers:     cfg.MaxPoolWorkers,
		Access:         resolver,
		Metrics:        opts.Metrics,
	})
	rerankUC := usecase.NewRerankUseCase(reranker, opts.Metrics)

	processOpts := usecase.ProcessOptions{
		Timeout:  seconds(cfg.DocumentTimeoutSeconds),
		Observer: opts.Observer,
	}
	if cfg.IngestSummaries {
		processOpts.Summarizer = generator
	}

	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue)
	app.ProcessUC = usecase.NewProcessDocumentUseCase(repo, storage, parser, chunker, embedder, vectorDB, processOpts)
	app.DataPrepUC = usecase.NewDataPrepUseCase(storage, parser, chunker)
	app.EmbedUC = usecase.NewEmbedUseCase(embedder)
	app.RetrieveUC = retrieveUC
	app.RerankUC = rerankUC

	var history *usecase.HistoryUseCase
	if opts.WithHistory {
		mdb, disconnect, err := mongo.Connect(ctx, cfg.MongoURI(), cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		app.onClose(func() { _ = disconnect(context.Background()) })
		history = usecase.NewHistoryUseCase(mongo.NewStore[domain.ChatHistory](mdb, historyCollection))
		app.HistoryUC = history
		app.FingerprintUC = usecase.NewFingerprintUseCase(mongo.NewStore[domain.Fingerprint](mdb, fingerprintCollection))
	}

	// A nil *HistoryUseCase must not become a non-nil interface.
	if history != nil {
		app.ChatUC = usecase.NewChatUseCase(retrieveUC, rerankUC, generator, history, opts.Metrics, cfg.RerankTopN)
	} else {
		app.ChatUC = usecase.NewChatUseCase(retrieveUC, rerankUC, generator, nil, opts.Metrics, cfg.RerankTopN)
	}

	return app, nil
}

func newSplitter(cfg config.Config, embedder ports.Embedder) (ports.TextSplitter, error) {
	switch cfg.SplitterStrategy {
	case "semantic":
		return chunking.NewSemanticSplitter(embedder, chunking.SemanticOptions{
			BreakpointType: chunking.BreakpointType(cfg.SemanticBreakpointType),
			Amount:         cfg.SemanticBreakpointValue,
			BufferSize:     cfg.SemanticBufferSize,
			MinChunkSize:   cfg.SemanticMinChunkSize,
			MaxChunkSize:   cfg.SemanticMaxChunkSize,
		})
	default:
		return chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	}
}

func newVectorBackend(cfg config.Config, redisClient func() (*goredis.Client, error)) (vector.Backend, error) {
	switch cfg.VectorStore {
	case "qdrant":
		return qdrant.New(cfg.QdrantAddress(), cfg.VectorIndexName, cfg.QdrantAPIKey), nil
	case "milvus":
		return milvus.New(cfg.MilvusURL, cfg.VectorIndexName, cfg.MilvusToken), nil
	case "redis":
		client, err := redisClient()
		if err != nil {
			return nil, fmt.Errorf("init redis vector store: %w", err)
		}
		return redisstore.New(client, cfg.VectorIndexName), nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "bootstrap", fmt.Errorf("unsupported VECTOR_STORE %q", cfg.VectorStore))
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
