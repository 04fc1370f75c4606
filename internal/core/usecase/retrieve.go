package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

// RetrieveOptions holds the defaults applied to zero request fields.
type RetrieveOptions struct {
	SearchType     domain.SearchType
	K              int
	FetchK         int
	LambdaMult     float64
	ScoreThreshold float64
	KSummaries     int
	KChunks        int
	// MaxWorkers bounds concurrent retrievals. Zero means eight.
	MaxWorkers int
	// Access is nil when access control is disabled.
	Access  ports.AccessResolver
	Metrics ports.PipelineMetrics
}

type RetrieveUseCase struct {
	embedder ports.Embedder
	store    ports.VectorStore
	access   ports.AccessResolver
	metrics  ports.PipelineMetrics
	defaults RetrieveOptions
	slots    chan struct{}
}

func NewRetrieveUseCase(embedder ports.Embedder, store ports.VectorStore, opts RetrieveOptions) *RetrieveUseCase {
	if opts.SearchType == "" {
		opts.SearchType = domain.SearchSimilarity
	}
	if opts.K <= 0 {
		opts.K = 4
	}
	if opts.FetchK <= 0 {
		opts.FetchK = 20
	}
	if opts.LambdaMult <= 0 {
		opts.LambdaMult = 0.5
	}
	if opts.KSummaries <= 0 {
		opts.KSummaries = 3
	}
	if opts.KChunks <= 0 {
		opts.KChunks = 3
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 8
	}
	return &RetrieveUseCase{
		embedder: embedder,
		store:    store,
		access:   opts.Access,
		metrics:  opts.Metrics,
		defaults: opts,
		slots:    make(chan struct{}, opts.MaxWorkers),
	}
}

func (uc *RetrieveUseCase) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.SearchedDoc, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" && len(req.Embedding) == 0 {
		return nil, domain.InvalidInput("retrieve", "text or embedding is required")
	}
	req, err := uc.withDefaults(req)
	if err != nil {
		return nil, err
	}

	select {
	case uc.slots <- struct{}{}:
		defer func() { <-uc.slots }()
	case <-ctx.Done():
		return nil, domain.WrapError(domain.ErrTimeout, "retrieve", ctx.Err())
	}

	start := time.Now()
	result := &domain.SearchedDoc{InitialQuery: req.Query, UserPrompt: req.Query, RetrievedDocs: []domain.TextDoc{}}

	filter, ok, err := uc.accessFilter(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		uc.observe(req.SearchType, 0, start)
		return result, nil
	}

	vector := req.Embedding
	if len(vector) == 0 {
		vector, err = uc.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}

	if req.Hierarchical {
		result.RetrievedDocs, err = uc.hierarchical(ctx, req, vector, filter)
	} else {
		result.RetrievedDocs, err = uc.search(ctx, req, vector, req.K, filter)
	}
	if err != nil {
		return nil, err
	}
	uc.observe(req.SearchType, len(result.RetrievedDocs), start)
	return result, nil
}

func (uc *RetrieveUseCase) withDefaults(req domain.RetrievalRequest) (domain.RetrievalRequest, error) {
	if req.SearchType == "" {
		req.SearchType = uc.defaults.SearchType
	}
	searchType, ok := domain.ParseSearchType(string(req.SearchType))
	if !ok {
		return req, domain.InvalidInput("retrieve", "unsupported search_type %q", req.SearchType)
	}
	req.SearchType = searchType
	if req.K <= 0 {
		req.K = uc.defaults.K
	}
	if req.FetchK <= 0 {
		req.FetchK = uc.defaults.FetchK
	}
	if req.LambdaMult == 0 {
		req.LambdaMult = uc.defaults.LambdaMult
	}
	if req.ScoreThreshold == 0 {
		req.ScoreThreshold = uc.defaults.ScoreThreshold
	}
	if req.KSummaries <= 0 {
		req.KSummaries = uc.defaults.KSummaries
	}
	if req.KChunks <= 0 {
		req.KChunks = uc.defaults.KChunks
	}
	if req.SearchType == domain.SearchSimilarityDistanceThreshold && req.DistanceThreshold == nil {
		return req, domain.InvalidInput("retrieve", "distance_threshold must be provided for similarity_distance_threshold retriever")
	}
	return req, nil
}

// accessFilter intersects the caller's readable buckets with the requested
// ones. ok is false when nothing can match, which yields zero docs.
func (uc *RetrieveUseCase) accessFilter(ctx context.Context, req domain.RetrievalRequest) (domain.Filter, bool, error) {
	var buckets []string
	restricted := false
	if uc.access != nil {
		allowed, err := uc.access.Buckets(ctx, req.Authorization)
		if err != nil {
			return domain.Filter{}, false, err
		}
		buckets, restricted = allowed, true
	}
	if len(req.BucketNames) > 0 {
		if restricted {
			buckets = intersect(buckets, req.BucketNames)
		} else {
			buckets = req.BucketNames
		}
		restricted = true
	}
	if req.ObjectName != "" && !restricted {
		return domain.Filter{}, false, domain.InvalidInput("retrieve", "object_name requires bucket_names")
	}
	if !restricted {
		return domain.Filter{}, true, nil
	}
	if len(buckets) == 0 || slices.Contains(buckets, "") {
		return domain.Filter{}, false, nil
	}

	filter := domain.In(domain.MetaBucketName, buckets...)
	if req.ObjectName != "" {
		filter = domain.And(filter, domain.Eq(domain.MetaObjectName, req.ObjectName))
	}
	return filter, true, nil
}

// hierarchical finds the best summaries first, then the chunks of each
// summary's page. Output is summary-major, chunk-minor.
func (uc *RetrieveUseCase) hierarchical(ctx context.Context, req domain.RetrievalRequest, vector []float32, base domain.Filter) ([]domain.TextDoc, error) {
	summaries, err := uc.search(ctx, req, vector, max(req.K, req.KSummaries), domain.And(base, domain.Range(domain.MetaSummary, 1, 1)))
	if err != nil {
		return nil, fmt.Errorf("summary stage: %w", err)
	}
	if len(summaries) > req.KSummaries {
		summaries = summaries[:req.KSummaries]
	}

	out := make([]domain.TextDoc, 0, len(summaries)*req.KChunks)
	for _, summary := range summaries {
		docID := summary.MetaString(domain.MetaDocID)
		page := metaNumber(summary, domain.MetaPage)
		chunkFilter := domain.And(
			base,
			domain.Eq(domain.MetaDocID, docID),
			domain.Range(domain.MetaPage, page, page),
			domain.Range(domain.MetaSummary, 0, 0),
		)
		chunks, err := uc.search(ctx, req, vector, max(req.K, req.KChunks), chunkFilter)
		if err != nil {
			return nil, fmt.Errorf("chunk stage for %s page %v: %w", docID, page, err)
		}
		if len(chunks) > req.KChunks {
			chunks = chunks[:req.KChunks]
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func (uc *RetrieveUseCase) search(ctx context.Context, req domain.RetrievalRequest, vector []float32, k int, filter domain.Filter) ([]domain.TextDoc, error) {
	var (
		hits []domain.ScoredDoc
		err  error
	)
	switch req.SearchType {
	case domain.SearchSimilarityDistanceThreshold:
		hits, err = uc.store.SimilaritySearchWithDistanceThreshold(ctx, vector, k, *req.DistanceThreshold, filter)
	case domain.SearchSimilarityScoreThreshold:
		hits, err = uc.store.SimilaritySearchWithRelevanceScores(ctx, vector, k, req.ScoreThreshold, filter)
	case domain.SearchMMR:
		hits, err = uc.store.MaxMarginalRelevanceSearch(ctx, vector, k, req.FetchK, req.LambdaMult, filter)
	default:
		hits, err = uc.store.SimilaritySearchByVector(ctx, vector, k, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", req.SearchType, err)
	}
	docs := make([]domain.TextDoc, len(hits))
	for i, h := range hits {
		docs[i] = h.Doc
	}
	return docs, nil
}

func (uc *RetrieveUseCase) observe(searchType domain.SearchType, docs int, start time.Time) {
	if uc.metrics != nil {
		uc.metrics.ObserveRetrieval(string(searchType), docs, time.Since(start))
	}
}

func intersect(allowed, requested []string) []string {
	out := make([]string, 0, len(requested))
	for _, b := range requested {
		if slices.Contains(allowed, b) && !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	return out
}

func metaNumber(doc domain.TextDoc, key string) float64 {
	var n float64
	if _, err := fmt.Sscan(doc.MetaString(key), &n); err != nil {
		return 0
	}
	return n
}
