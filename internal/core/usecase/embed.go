package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

type EmbedUseCase struct {
	embedder ports.Embedder
}

func NewEmbedUseCase(embedder ports.Embedder) *EmbedUseCase {
	return &EmbedUseCase{embedder: embedder}
}

func (uc *EmbedUseCase) EmbedTexts(ctx context.Context, texts []string) ([]domain.EmbedDoc, error) {
	if len(texts) == 0 {
		return nil, domain.InvalidInput("embed texts", "at least one text is required")
	}
	vectors, err := uc.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed texts: got %d vectors for %d texts", len(vectors), len(texts))
	}
	out := make([]domain.EmbedDoc, len(texts))
	for i, text := range texts {
		out[i] = domain.EmbedDoc{Text: text, Embedding: vectors[i]}
	}
	return out, nil
}
