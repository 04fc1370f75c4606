package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	now     func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		now:     time.Now,
	}
}

// Upload stores the file, records it as uploaded and queues it for the
// worker. An object name defaults to the filename when a bucket is given.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Document, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, domain.InvalidInput("upload document", "filename is required")
	}
	if req.Body == nil {
		return nil, domain.InvalidInput("upload document", "file body is required")
	}
	objectName := strings.TrimSpace(req.ObjectName)
	bucketName := strings.TrimSpace(req.BucketName)
	if objectName != "" && bucketName == "" {
		return nil, domain.InvalidInput("upload document", "object_name requires bucket_name")
	}
	if bucketName != "" && objectName == "" {
		objectName = req.Filename
	}

	id := uuid.NewString()
	storageKey := id + "/" + sanitizeFilename(req.Filename)
	now := uc.now().UTC()

	if err := uc.storage.Save(ctx, storageKey, req.Body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		StoragePath: storageKey,
		BucketName:  bucketName,
		ObjectName:  objectName,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		if rmErr := uc.storage.Delete(context.WithoutCancel(ctx), storageKey); rmErr != nil {
			slog.Warn("orphan_upload_cleanup_failed", "key", storageKey, "error", rmErr)
		}
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		if statusErr := uc.repo.UpdateStatus(context.WithoutCancel(ctx), doc.ID, domain.StatusFailed, "queue unavailable"); statusErr != nil {
			slog.Warn("document_status_update_failed", "doc_id", doc.ID, "error", statusErr)
		}
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	slog.Info("document_uploaded", "doc_id", doc.ID, "filename", doc.Filename, "bucket", bucketName)
	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
