package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

const (
	DefaultFetchK     = 20
	DefaultLambdaMult = 0.5
	siblingScanLimit  = 256
)

// Hit is one backend search result. Score is a relevance in [0,1] where
// higher is closer; Distance is the metric distance where lower is closer.
type Hit struct {
	ID        string
	Doc       domain.TextDoc
	Score     float64
	Distance  float64
	Embedding []float32
}

// Backend is the narrow contract each database adapter fulfils.
type Backend interface {
	Name() string
	Add(ctx context.Context, ids []string, docs []domain.EmbedDoc) error
	Query(ctx context.Context, vector []float32, k int, filter domain.Filter, withVectors bool) ([]Hit, error)
	Scan(ctx context.Context, filter domain.Filter, limit int) ([]domain.TextDoc, error)
	Delete(ctx context.Context, filter domain.Filter) error
}

// Store implements ports.VectorStore on top of a Backend.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) AddTexts(ctx context.Context, docs []domain.EmbedDoc) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	dim := len(docs[0].Embedding)
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			return nil, domain.InvalidInput("vector add texts", "document %d has no embedding", i)
		}
		if len(doc.Embedding) != dim {
			return nil, domain.InvalidInput("vector add texts", "document %d has dimension %d, expected %d", i, len(doc.Embedding), dim)
		}
	}

	ids := make([]string, len(docs))
	stamped := make([]domain.EmbedDoc, len(docs))
	for i, doc := range docs {
		ids[i] = uuid.NewString()
		meta := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[domain.MetaChunkID] = ids[i]
		doc.Metadata = meta
		stamped[i] = doc
	}
	if err := s.backend.Add(ctx, ids, stamped); err != nil {
		return nil, s.wrap("add texts", err)
	}
	return ids, nil
}

func (s *Store) SimilaritySearchByVector(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.ScoredDoc, error) {
	hits, err := s.query(ctx, "similarity search", vector, k, filter, false)
	if err != nil {
		return nil, err
	}
	return toScored(hits, false), nil
}

func (s *Store) SimilaritySearchWithRelevanceScores(ctx context.Context, vector []float32, k int, scoreThreshold float64, filter domain.Filter) ([]domain.ScoredDoc, error) {
	if scoreThreshold < 0 || scoreThreshold > 1 {
		return nil, domain.InvalidInput("similarity search with relevance scores", "score_threshold must be between 0 and 1, got %v", scoreThreshold)
	}
	hits, err := s.query(ctx, "similarity search with relevance scores", vector, k, filter, false)
	if err != nil {
		return nil, err
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= scoreThreshold {
			kept = append(kept, h)
		}
	}
	return toScored(kept, false), nil
}

func (s *Store) SimilaritySearchWithDistanceThreshold(ctx context.Context, vector []float32, k int, distanceThreshold float64, filter domain.Filter) ([]domain.ScoredDoc, error) {
	if distanceThreshold < 0 {
		return nil, domain.InvalidInput("similarity search with distance threshold", "distance_threshold must not be negative, got %v", distanceThreshold)
	}
	hits, err := s.query(ctx, "similarity search with distance threshold", vector, k, filter, false)
	if err != nil {
		return nil, err
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Distance <= distanceThreshold {
			kept = append(kept, h)
		}
	}
	return toScored(kept, false), nil
}

func (s *Store) MaxMarginalRelevanceSearch(ctx context.Context, vector []float32, k, fetchK int, lambdaMult float64, filter domain.Filter) ([]domain.ScoredDoc, error) {
	if lambdaMult < 0 || lambdaMult > 1 {
		return nil, domain.InvalidInput("max marginal relevance search", "lambda_mult must be between 0 and 1, got %v", lambdaMult)
	}
	if fetchK <= 0 {
		fetchK = DefaultFetchK
	}
	if fetchK < k {
		fetchK = k
	}
	hits, err := s.query(ctx, "max marginal relevance search", vector, fetchK, filter, true)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(hits))
	for i, h := range hits {
		embeddings[i] = h.Embedding
	}
	selected := MaximalMarginalRelevance(vector, embeddings, lambdaMult, k)
	out := make([]Hit, 0, len(selected))
	for _, idx := range selected {
		out = append(out, hits[idx])
	}
	return toScored(out, true), nil
}

// SearchBySiblings returns the chunks of fileID whose start_index lies within
// radius characters of startIndex, in document order.
func (s *Store) SearchBySiblings(ctx context.Context, fileID string, startIndex, radius int) ([]domain.TextDoc, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, domain.InvalidInput("search by siblings", "file_id is empty")
	}
	if radius < 0 {
		return nil, domain.InvalidInput("search by siblings", "radius must not be negative")
	}
	filter := domain.And(
		domain.Eq(domain.MetaFileID, fileID),
		domain.Range(domain.MetaStartIndex, float64(startIndex-radius), float64(startIndex+radius)),
	)
	docs, err := s.backend.Scan(ctx, filter, siblingScanLimit)
	if err != nil {
		return nil, s.wrap("search by siblings", err)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return metaInt(docs[i], domain.MetaStartIndex) < metaInt(docs[j], domain.MetaStartIndex)
	})
	return docs, nil
}

// DeleteByObject drops the chunks of a bucket object, except those whose
// chunk ids are listed in keep.
func (s *Store) DeleteByObject(ctx context.Context, bucketName, objectName string, keep ...string) error {
	if strings.TrimSpace(bucketName) == "" || strings.TrimSpace(objectName) == "" {
		return domain.InvalidInput("delete by object", "bucket_name and object_name are required")
	}
	var kept domain.Filter
	if len(keep) > 0 {
		kept = domain.Not(domain.In(domain.MetaChunkID, keep...))
	}
	filter := domain.And(
		domain.Eq(domain.MetaBucketName, bucketName),
		domain.Eq(domain.MetaObjectName, objectName),
		kept,
	)
	if err := s.backend.Delete(ctx, filter); err != nil {
		return s.wrap("delete by object", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, operation string, vector []float32, k int, filter domain.Filter, withVectors bool) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, domain.InvalidInput(operation, "query embedding is empty")
	}
	if k < 1 {
		return nil, domain.InvalidInput(operation, "k must be at least 1, got %d", k)
	}
	if Unsatisfiable(filter) {
		return nil, nil
	}
	hits, err := s.backend.Query(ctx, vector, k, filter, withVectors)
	if err != nil {
		return nil, s.wrap(operation, err)
	}
	return hits, nil
}

func (s *Store) wrap(operation string, err error) error {
	return httpx.Wrap(fmt.Sprintf("%s %s", s.backend.Name(), operation), err)
}

// Unsatisfiable reports filters that can match nothing, such as an empty
// bucket list or an empty bucket name. Those short-circuit to zero results.
func Unsatisfiable(f domain.Filter) bool {
	switch f.Op {
	case domain.FilterIn:
		return len(f.Values) == 0
	case domain.FilterEq:
		return len(f.Values) == 0 || strings.TrimSpace(f.Values[0]) == ""
	case domain.FilterAnd:
		for _, c := range f.Children {
			if Unsatisfiable(c) {
				return true
			}
		}
		return false
	case domain.FilterOr:
		if len(f.Children) == 0 {
			return false
		}
		for _, c := range f.Children {
			if !Unsatisfiable(c) {
				return false
			}
		}
		return true
	case domain.FilterRange:
		return f.Min > f.Max
	case domain.FilterNot:
		return false
	default:
		return false
	}
}

func toScored(hits []Hit, keepVectors bool) []domain.ScoredDoc {
	out := make([]domain.ScoredDoc, 0, len(hits))
	for _, h := range hits {
		sd := domain.ScoredDoc{Doc: h.Doc, Score: h.Score, Distance: h.Distance}
		if keepVectors {
			sd.Embedding = h.Embedding
		}
		out = append(out, sd)
	}
	return out
}

func metaInt(doc domain.TextDoc, key string) int {
	n, _ := strconv.Atoi(doc.MetaString(key))
	return n
}
