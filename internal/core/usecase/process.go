package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

const (
	defaultDocumentTimeout = 5 * time.Minute
	summaryInputRunes      = 8000
	summaryPrompt          = "Summarize the following document in a few sentences. Keep names and figures.\n\n"
)

type ProcessOptions struct {
	// Timeout bounds one document end to end. Defaults to five minutes.
	Timeout time.Duration
	// Summarizer, when set, adds one summary vector per document so
	// hierarchical retrieval can find it.
	Summarizer ports.LLMGenerator
	Observer   ports.DocumentObserver
}

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	storage    ports.ObjectStorage
	parser     ports.FileParser
	splitter   ports.DocumentSplitter
	embedder   ports.Embedder
	vectorDB   ports.VectorStore
	summarizer ports.LLMGenerator
	observer   ports.DocumentObserver
	timeout    time.Duration
	now        func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	parser ports.FileParser,
	splitter ports.DocumentSplitter,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	opts ProcessOptions,
) *ProcessDocumentUseCase {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDocumentTimeout
	}
	return &ProcessDocumentUseCase{
		repo:       repo,
		storage:    storage,
		parser:     parser,
		splitter:   splitter,
		embedder:   embedder,
		vectorDB:   vectorDB,
		summarizer: opts.Summarizer,
		observer:   opts.Observer,
		timeout:    opts.Timeout,
		now:        time.Now,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	start := uc.now()
	if uc.observer != nil {
		uc.observer.StartDocument()
	}
	chunks, err := uc.process(ctx, documentID)
	if uc.observer != nil {
		uc.observer.FinishDocument(uc.now().Sub(start), chunks, err)
	}
	if err != nil {
		slog.Error("document_process_failed", "doc_id", documentID, "error", err)
		return err
	}
	slog.Info("document_ready", "doc_id", documentID, "chunks", chunks, "duration_ms", uc.now().Sub(start).Milliseconds())
	return nil
}

func (uc *ProcessDocumentUseCase) process(ctx context.Context, documentID string) (int, error) {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return 0, fmt.Errorf("set status=processing: %w", err)
	}

	count, err := uc.processPipeline(ctx, documentID)
	if err == nil {
		err = uc.repo.SaveChunkCount(ctx, documentID, count)
		if err != nil {
			err = fmt.Errorf("save chunk count: %w", err)
		}
	}
	if err != nil {
		// The status write must land even when the deadline is what failed.
		if failErr := uc.markFailed(context.WithoutCancel(ctx), documentID, err); failErr != nil {
			return 0, fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return 0, err
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return 0, fmt.Errorf("set status=ready: %w", err)
	}
	return count, nil
}

func (uc *ProcessDocumentUseCase) processPipeline(ctx context.Context, documentID string) (int, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if uc.observer != nil && !doc.CreatedAt.IsZero() {
		uc.observer.ObserveQueueLag(uc.now().Sub(doc.CreatedAt))
	}

	text, err := uc.extractText(ctx, doc)
	if err != nil {
		return 0, err
	}

	metadata := documentMetadata(doc)
	chunks, err := uc.chunk(ctx, text, metadata)
	if err != nil {
		return 0, err
	}

	docs := chunks
	if uc.summarizer != nil {
		summary, err := uc.summarize(ctx, text, metadata)
		if err != nil {
			return 0, err
		}
		docs = append([]domain.TextDoc{summary}, chunks...)
	}

	embedded, err := uc.embed(ctx, docs)
	if err != nil {
		return 0, err
	}

	if err := uc.index(ctx, doc, embedded); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document) (string, error) {
	path, err := uc.storage.LocalPath(doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("resolve stored file: %w", err)
	}
	text, err := uc.parser.Parse(ctx, path)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", doc.Filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

func documentMetadata(doc *domain.Document) map[string]any {
	metadata := map[string]any{
		domain.MetaPath:    doc.Filename,
		domain.MetaDocID:   doc.ID,
		domain.MetaFileID:  doc.ID,
		domain.MetaPage:    0,
		domain.MetaSummary: 0,
	}
	if doc.BucketName != "" {
		metadata[domain.MetaBucketName] = doc.BucketName
		metadata[domain.MetaObjectName] = doc.ObjectName
	}
	return metadata
}

func (uc *ProcessDocumentUseCase) chunk(ctx context.Context, text string, metadata map[string]any) ([]domain.TextDoc, error) {
	chunks, err := uc.splitter.SplitDocuments(ctx, []domain.TextDoc{{Text: text, Metadata: metadata}})
	if err != nil {
		return nil, fmt.Errorf("split document: %w", err)
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "split document", errors.New("splitting produced zero chunks"))
	}
	return chunks, nil
}

func (uc *ProcessDocumentUseCase) summarize(ctx context.Context, text string, metadata map[string]any) (domain.TextDoc, error) {
	if runes := []rune(text); len(runes) > summaryInputRunes {
		text = string(runes[:summaryInputRunes])
	}
	params := domain.DefaultLLMParams()
	params.Query = summaryPrompt + text
	params.MaxNewTokens = 256
	params.Streaming = false

	generated, err := uc.summarizer.Generate(ctx, params)
	if err != nil {
		return domain.TextDoc{}, fmt.Errorf("summarize document: %w", err)
	}
	summary := strings.TrimSpace(generated.Text)
	if summary == "" {
		return domain.TextDoc{}, domain.WrapError(domain.ErrInvalidInput, "summarize document", errors.New("empty summary"))
	}
	return domain.TextDoc{Text: summary}.WithMetadata(metadata, map[string]any{
		domain.MetaSummary:    1,
		domain.MetaStartIndex: 0,
	}), nil
}

func (uc *ProcessDocumentUseCase) embed(ctx context.Context, docs []domain.TextDoc) ([]domain.EmbedDoc, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := uc.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(docs)),
		)
	}
	out := make([]domain.EmbedDoc, len(docs))
	for i, d := range docs {
		out[i] = domain.EmbedDoc{Text: d.Text, Embedding: vectors[i], Metadata: d.Metadata}
	}
	return out, nil
}

// index replaces any vectors previously stored for the same bucket object.
// New chunks are written first and the old ones pruned after, so a failed
// write leaves the previous version searchable.
func (uc *ProcessDocumentUseCase) index(ctx context.Context, doc *domain.Document, docs []domain.EmbedDoc) error {
	ids, err := uc.vectorDB.AddTexts(ctx, docs)
	if err != nil {
		return fmt.Errorf("index chunks in vector db: %w", err)
	}
	if doc.BucketName == "" || doc.ObjectName == "" {
		return nil
	}
	if err := uc.vectorDB.DeleteByObject(ctx, doc.BucketName, doc.ObjectName, ids...); err != nil {
		return fmt.Errorf("drop previous vectors of %s/%s: %w", doc.BucketName, doc.ObjectName, err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}
