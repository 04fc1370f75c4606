package chunking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// DefaultSeparators are tried in order; the empty separator splits runes.
var DefaultSeparators = []string{
	"\n\n", "\n", " ", ".", ",",
	"\u200b", // zero-width space
	"\uff0c", // fullwidth comma
	"\u3001", // ideographic comma
	"\uff0e", // fullwidth full stop
	"\u3002", // ideographic full stop
	"",
}

// Splitter is a recursive character splitter. Sizes are counted in runes;
// a separator stays attached to the start of the piece that follows it.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

func NewSplitter(chunkSize, overlap int, separators ...string) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "new splitter", fmt.Errorf("chunk size must be positive, got %d", chunkSize))
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, domain.WrapError(domain.ErrConfiguration, "new splitter", fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, chunkSize))
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap, Separators: separators}, nil
}

func (s *Splitter) SplitText(_ context.Context, text string) ([]string, error) {
	return s.Split(text), nil
}

func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := ""
	var rest []string
	if len(separators) > 0 {
		separator = separators[len(separators)-1]
	}
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var chunks, good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}
	return chunks
}

// merge packs pieces into chunks of at most ChunkSize runes, carrying up to
// Overlap runes of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.ChunkSize {
			if total > s.ChunkSize {
				slog.Warn("chunk_exceeds_size", "size", total, "chunk_size", s.ChunkSize)
			}
			if len(current) > 0 {
				if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
					out = append(out, chunk)
				}
				for total > s.Overlap || (total+n > s.ChunkSize && total > 0) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func splitKeepingSeparator(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	raw := strings.Split(text, separator)
	parts = make([]string, 0, len(raw))
	if raw[0] != "" {
		parts = append(parts, raw[0])
	}
	for _, p := range raw[1:] {
		parts = append(parts, separator+p)
	}
	return parts
}

func runeLen(s string) int {
	return len([]rune(s))
}
