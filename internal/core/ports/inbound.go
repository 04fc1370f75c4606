package ports

import (
	"context"
	"io"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// UploadRequest is the inbound payload of a document upload.
type UploadRequest struct {
	Filename   string
	MimeType   string
	BucketName string
	ObjectName string
	Body       io.Reader
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DataPreparer parses and splits one file synchronously.
type DataPreparer interface {
	Prepare(ctx context.Context, filename string, body io.Reader, metadata map[string]any) ([]domain.TextDoc, error)
}

// EmbeddingService embeds raw texts for the embeddings endpoint.
type EmbeddingService interface {
	EmbedTexts(ctx context.Context, texts []string) ([]domain.EmbedDoc, error)
}

// RetrievalService runs similarity, threshold, MMR and hierarchical searches.
type RetrievalService interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.SearchedDoc, error)
}

// RerankService turns retrieved passages into an LLM prompt.
type RerankService interface {
	Rerank(ctx context.Context, doc domain.SearchedDoc, topN int) (*domain.LLMParams, error)
}

// ChatService runs the whole pipeline for one question.
type ChatService interface {
	Complete(ctx context.Context, req domain.ChatRequest) (*domain.GeneratedDoc, error)
	Stream(ctx context.Context, req domain.ChatRequest, emit func(token string) error) error
}

// HistoryService manages stored conversations.
type HistoryService interface {
	Create(ctx context.Context, history *domain.ChatHistory) (string, error)
	Get(ctx context.Context, id string) (*domain.ChatHistory, error)
	List(ctx context.Context, userID string) ([]domain.ChatHistory, error)
	Delete(ctx context.Context, id string) error
}

// FingerprintService stores component configuration snapshots.
type FingerprintService interface {
	Record(ctx context.Context, fp *domain.Fingerprint) (string, error)
	Get(ctx context.Context, id string) (*domain.Fingerprint, error)
}
