package config

import (
	"strings"
	"testing"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

func validConfig() Config {
	return Config{
		LLMModelServer:         "vllm",
		LLMModelEndpoint:       "http://vllm:8000",
		LLMModelName:           "meta-llama/Llama-3.1-8B-Instruct",
		EmbeddingModelServer:   "tei",
		EmbeddingModelEndpoint: "http://tei:80",
		EmbeddingModelName:     "BAAI/bge-base-en-v1.5",
		RerankEndpoint:         "http://reranker:80",
		RerankTopN:             1,
		VectorStore:            "redis",
		SplitterStrategy:       "fixed",
		RetrieverSearchType:    "similarity",
		ChunkSize:              1500,
		ChunkOverlap:           100,
	}
}

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVER_SEARCH_TYPE", "")
	t.Setenv("RETRIEVER_FETCH_K", "")
	t.Setenv("RETRIEVER_LAMBDA_MULT", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("VECTOR_STORE", "")

	cfg := Load()
	if cfg.RetrieverSearchType != "similarity" {
		t.Fatalf("expected default search type similarity, got %q", cfg.RetrieverSearchType)
	}
	if cfg.RetrieverFetchK != 20 {
		t.Fatalf("expected default fetch_k 20, got %d", cfg.RetrieverFetchK)
	}
	if cfg.RetrieverLambdaMult != 0.5 {
		t.Fatalf("expected default lambda 0.5, got %v", cfg.RetrieverLambdaMult)
	}
	if cfg.ChunkSize != 1500 {
		t.Fatalf("expected default chunk size 1500, got %d", cfg.ChunkSize)
	}
	if cfg.VectorStore != "redis" {
		t.Fatalf("expected default vector store redis, got %q", cfg.VectorStore)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL_SERVER", "OVMS")
	t.Setenv("EMBEDDING_BATCH_SIZE", "8")
	t.Setenv("PDF_PARALLEL_PROCESSING", "false")
	t.Setenv("RETRIEVER_SCORE_THRESHOLD", "0.75")
	t.Setenv("MAX_POOL_WORKERS", "not-a-number")

	cfg := Load()
	if cfg.EmbeddingModelServer != "ovms" {
		t.Fatalf("expected lower-cased embedding server, got %q", cfg.EmbeddingModelServer)
	}
	if cfg.EmbeddingBatchSize != 8 {
		t.Fatalf("expected batch size 8, got %d", cfg.EmbeddingBatchSize)
	}
	if cfg.PDFParallelProcessing {
		t.Fatalf("expected pdf parallel processing disabled")
	}
	if cfg.RetrieverScoreThreshold != 0.75 {
		t.Fatalf("expected score threshold 0.75, got %v", cfg.RetrieverScoreThreshold)
	}
	if cfg.MaxPoolWorkers != 8 {
		t.Fatalf("expected invalid int to fall back to 8, got %d", cfg.MaxPoolWorkers)
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.LLMModelName = ""
	cfg.EmbeddingModelServer = "onnx"
	cfg.VectorStore = "faiss"
	cfg.ChunkOverlap = cfg.ChunkSize

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration kind, got %v", err)
	}
	for _, want := range []string{"LLM_MODEL_NAME", "EMBEDDING_MODEL_SERVER", "VECTOR_STORE", "CHUNK_OVERLAP"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestValidateRequiresAccessSource(t *testing.T) {
	cfg := validConfig()
	cfg.AccessControlEnabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when access control has no jwt secret or rbac endpoint")
	}
	cfg.AccessJWTSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateSemanticBreakpointAmount(t *testing.T) {
	cases := []struct {
		breakpoint string
		amount     float64
		ok         bool
	}{
		{"percentile", 0, true},
		{"percentile", 100, true},
		{"percentile", 150, false},
		{"gradient", -1, false},
		{"standard_deviation", 5, true},
		{"interquartile", -0.5, false},
		{"kmeans", 1, false},
	}
	for _, tc := range cases {
		cfg := validConfig()
		cfg.SplitterStrategy = "semantic"
		cfg.SemanticBreakpointType = tc.breakpoint
		cfg.SemanticBreakpointValue = tc.amount
		err := cfg.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s amount %v: Validate() error = %v, want ok=%v", tc.breakpoint, tc.amount, err, tc.ok)
		}
		if err != nil && !strings.Contains(err.Error(), "SEMANTIC_BREAKPOINT") {
			t.Fatalf("unexpected error %v", err)
		}
	}
}

func TestRedisAddressBuildsFromParts(t *testing.T) {
	cfg := Config{RedisHost: "cache", RedisPort: 6380, RedisSSL: true, RedisPassword: "pw"}
	if got := cfg.RedisAddress(); got != "rediss://:pw@cache:6380" {
		t.Fatalf("unexpected redis address %q", got)
	}
	cfg.RedisURL = "redis://explicit:6379"
	if got := cfg.RedisAddress(); got != "redis://explicit:6379" {
		t.Fatalf("expected explicit REDIS_URL, got %q", got)
	}
}
