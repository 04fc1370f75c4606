package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// DocumentRepository persists and reads ingestion records.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveChunkCount(ctx context.Context, id string, count int) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// LocalPath resolves a key to a file on disk for format loaders.
	LocalPath(key string) (string, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// FileParser turns a file on disk into plain text.
type FileParser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// TextSplitter cuts text into ordered chunks.
type TextSplitter interface {
	SplitText(ctx context.Context, text string) ([]string, error)
}

// DocumentSplitter splits parsed documents, tagging each chunk with its
// parent's metadata and start_index.
type DocumentSplitter interface {
	SplitDocuments(ctx context.Context, docs []domain.TextDoc) ([]domain.TextDoc, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore indexes embedded chunks and serves the retriever's search modes.
type VectorStore interface {
	AddTexts(ctx context.Context, docs []domain.EmbedDoc) ([]string, error)
	SimilaritySearchByVector(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.ScoredDoc, error)
	SimilaritySearchWithRelevanceScores(ctx context.Context, vector []float32, k int, scoreThreshold float64, filter domain.Filter) ([]domain.ScoredDoc, error)
	SimilaritySearchWithDistanceThreshold(ctx context.Context, vector []float32, k int, distanceThreshold float64, filter domain.Filter) ([]domain.ScoredDoc, error)
	MaxMarginalRelevanceSearch(ctx context.Context, vector []float32, k, fetchK int, lambdaMult float64, filter domain.Filter) ([]domain.ScoredDoc, error)
	SearchBySiblings(ctx context.Context, fileID string, startIndex, radius int) ([]domain.TextDoc, error)
	// DeleteByObject removes the chunks of a bucket object except the ids in keep.
	DeleteByObject(ctx context.Context, bucketName, objectName string, keep ...string) error
}

// RerankScorer scores passages against a query with a cross-encoder.
type RerankScorer interface {
	Score(ctx context.Context, query string, texts []string) ([]domain.RerankScore, error)
}

// LLMGenerator produces completions, either whole or token by token.
type LLMGenerator interface {
	Generate(ctx context.Context, params domain.LLMParams) (*domain.GeneratedDoc, error)
	Stream(ctx context.Context, params domain.LLMParams, emit func(token string) error) error
}

// AccessResolver maps a caller's Authorization header to the buckets it may read.
type AccessResolver interface {
	Buckets(ctx context.Context, authorization string) ([]string, error)
}

// DocumentStore is generic CRUD over one document-database collection.
type DocumentStore[T any] interface {
	Insert(ctx context.Context, doc *T) (string, error)
	GetByID(ctx context.Context, id string) (*T, error)
	GetAll(ctx context.Context, filter map[string]any) ([]T, error)
	Replace(ctx context.Context, id string, doc *T) error
	Delete(ctx context.Context, id string) error
}

// PipelineMetrics receives RAG stage observations.
type PipelineMetrics interface {
	ObserveRetrieval(searchType string, docs int, duration time.Duration)
	RerankFallback()
	StreamError()
}

// DocumentObserver receives per-document ingestion outcomes.
type DocumentObserver interface {
	StartDocument()
	FinishDocument(duration time.Duration, chunks int, err error)
	ObserveQueueLag(lag time.Duration)
}
