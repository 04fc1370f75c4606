package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

// DataPrepUseCase parses and splits a file in-request, without indexing it.
type DataPrepUseCase struct {
	storage  ports.ObjectStorage
	parser   ports.FileParser
	splitter ports.DocumentSplitter
}

func NewDataPrepUseCase(storage ports.ObjectStorage, parser ports.FileParser, splitter ports.DocumentSplitter) *DataPrepUseCase {
	return &DataPrepUseCase{storage: storage, parser: parser, splitter: splitter}
}

func (uc *DataPrepUseCase) Prepare(ctx context.Context, filename string, body io.Reader, metadata map[string]any) ([]domain.TextDoc, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.InvalidInput("prepare document", "filename is required")
	}

	// Loaders sniff content and pick a format by extension, so the upload
	// lands on disk under its own name first.
	key := "dataprep/" + uuid.NewString() + "/" + sanitizeFilename(filename)
	if err := uc.storage.Save(ctx, key, body); err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	defer func() {
		if err := uc.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("dataprep_cleanup_failed", "key", key, "error", err)
		}
	}()

	path, err := uc.storage.LocalPath(key)
	if err != nil {
		return nil, fmt.Errorf("resolve staged upload: %w", err)
	}
	text, err := uc.parser.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.InvalidInput("prepare document", "no text extracted from %s", filename)
	}

	parent := domain.TextDoc{Text: text}.WithMetadata(metadata, map[string]any{domain.MetaPath: filename})
	docs, err := uc.splitter.SplitDocuments(ctx, []domain.TextDoc{parent})
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", filename, err)
	}
	slog.Debug("dataprep_done", "filename", filename, "chunks", len(docs))
	return docs, nil
}
