package chunking

import (
	"context"
	"errors"
	"slices"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

// SplitDocuments splits every doc and tags each chunk with its parent's
// metadata plus the rune offset of the chunk in the parent text.
func SplitDocuments(ctx context.Context, splitter ports.TextSplitter, overlap int, docs []domain.TextDoc) ([]domain.TextDoc, error) {
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "split documents", errors.New("no documents to split"))
	}
	var out []domain.TextDoc
	for _, doc := range docs {
		chunks, err := splitter.SplitText(ctx, doc.Text)
		if err != nil {
			return nil, err
		}
		text := []rune(doc.Text)
		index, prevLen := 0, 0
		for _, chunk := range chunks {
			from := index + prevLen - overlap
			if from < 0 {
				from = 0
			}
			if found := runeIndex(text, []rune(chunk), from); found >= 0 {
				index = found
			} else {
				index = from
			}
			prevLen = runeLen(chunk)
			out = append(out, domain.TextDoc{Text: chunk}.WithMetadata(doc.Metadata, map[string]any{
				domain.MetaStartIndex: index,
			}))
		}
	}
	return out, nil
}

func runeIndex(text, sub []rune, from int) int {
	for i := from; i+len(sub) <= len(text); i++ {
		if slices.Equal(text[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// Chunker binds a splitter to its overlap for ports.DocumentSplitter.
type Chunker struct {
	Splitter ports.TextSplitter
	Overlap  int
}

func (c Chunker) SplitDocuments(ctx context.Context, docs []domain.TextDoc) ([]domain.TextDoc, error) {
	return SplitDocuments(ctx, c.Splitter, c.Overlap, docs)
}
