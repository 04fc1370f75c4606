package chunking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

type BreakpointType string

const (
	BreakpointPercentile        BreakpointType = "percentile"
	BreakpointStandardDeviation BreakpointType = "standard_deviation"
	BreakpointInterquartile     BreakpointType = "interquartile"
	BreakpointGradient          BreakpointType = "gradient"
)

var defaultBreakpointAmount = map[BreakpointType]float64{
	BreakpointPercentile:        95,
	BreakpointStandardDeviation: 3,
	BreakpointInterquartile:     1.5,
	BreakpointGradient:          95,
}

type SemanticOptions struct {
	BreakpointType BreakpointType
	// Amount of 0 selects the default for BreakpointType.
	Amount       float64
	BufferSize   int
	MinChunkSize int
	MaxChunkSize int
}

// SemanticSplitter groups sentences, cutting where the embedding distance
// between neighbouring sentence windows jumps above a threshold.
type SemanticSplitter struct {
	embedder ports.Embedder
	opts     SemanticOptions
	fallback *Splitter
}

func NewSemanticSplitter(embedder ports.Embedder, opts SemanticOptions) (*SemanticSplitter, error) {
	if opts.BreakpointType == "" {
		opts.BreakpointType = BreakpointPercentile
	}
	def, ok := defaultBreakpointAmount[opts.BreakpointType]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "new semantic splitter", fmt.Errorf("unknown breakpoint type %q", opts.BreakpointType))
	}
	if opts.Amount == 0 {
		opts.Amount = def
	}
	if err := checkAmount(opts.BreakpointType, opts.Amount); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "new semantic splitter", err)
	}
	if opts.BufferSize < 0 {
		opts.BufferSize = 0
	}
	s := &SemanticSplitter{embedder: embedder, opts: opts}
	if opts.MaxChunkSize > 0 {
		fallback, err := NewSplitter(opts.MaxChunkSize, 0)
		if err != nil {
			return nil, err
		}
		s.fallback = fallback
	}
	return s, nil
}

// checkAmount keeps percentiles within [0, 100] and deviation multipliers
// non-negative.
func checkAmount(t BreakpointType, amount float64) error {
	switch t {
	case BreakpointPercentile, BreakpointGradient:
		if amount < 0 || amount > 100 {
			return fmt.Errorf("%s breakpoint amount must be in [0, 100], got %v", t, amount)
		}
	default:
		if amount < 0 {
			return fmt.Errorf("%s breakpoint amount must not be negative, got %v", t, amount)
		}
	}
	return nil
}

func (s *SemanticSplitter) SplitText(ctx context.Context, text string) ([]string, error) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return s.limit([]string{strings.TrimSpace(text)}), nil
	}

	windows := combineSentences(sentences, s.opts.BufferSize)
	vectors, err := s.embedder.EmbedDocuments(ctx, windows)
	if err != nil {
		return nil, fmt.Errorf("embed sentence windows: %w", err)
	}
	if len(vectors) != len(windows) {
		return nil, fmt.Errorf("embed sentence windows: got %d vectors for %d windows", len(vectors), len(windows))
	}

	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - cosine(vectors[i], vectors[i+1])
	}
	scores, threshold := s.threshold(distances)

	var chunks []string
	start := 0
	for i, score := range scores {
		if score <= threshold {
			continue
		}
		chunk := strings.Join(sentences[start:i+1], " ")
		if runeLen(chunk) < s.opts.MinChunkSize {
			continue
		}
		chunks = append(chunks, chunk)
		start = i + 1
	}
	if start < len(sentences) {
		chunks = append(chunks, strings.Join(sentences[start:], " "))
	}
	return s.limit(chunks), nil
}

func (s *SemanticSplitter) threshold(distances []float64) ([]float64, float64) {
	amount := s.opts.Amount
	switch s.opts.BreakpointType {
	case BreakpointStandardDeviation:
		mean, std := meanStd(distances)
		return distances, mean + amount*std
	case BreakpointInterquartile:
		mean, _ := meanStd(distances)
		iqr := percentile(distances, 75) - percentile(distances, 25)
		return distances, mean + amount*iqr
	case BreakpointGradient:
		grad := gradient(distances)
		return grad, percentile(grad, amount)
	default:
		return distances, percentile(distances, amount)
	}
}

// limit re-splits chunks longer than MaxChunkSize.
func (s *SemanticSplitter) limit(chunks []string) []string {
	if s.fallback == nil {
		return chunks
	}
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if runeLen(c) <= s.opts.MaxChunkSize {
			out = append(out, c)
			continue
		}
		out = append(out, s.fallback.Split(c)...)
	}
	return out
}

// splitSentences cuts after '.', '?' or '!' when followed by whitespace.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".?!", runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			i++
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func combineSentences(sentences []string, buffer int) []string {
	out := make([]string, len(sentences))
	for i := range sentences {
		lo := max(0, i-buffer)
		hi := min(len(sentences), i+buffer+1)
		out[i] = strings.Join(sentences[lo:hi], " ")
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := min(max(p, 0), 100) / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// gradient uses one-sided differences at the edges and central ones inside.
func gradient(values []float64) []float64 {
	n := len(values)
	if n < 2 {
		return append([]float64(nil), values...)
	}
	out := make([]float64, n)
	out[0] = values[1] - values[0]
	out[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (values[i+1] - values[i-1]) / 2
	}
	return out
}
