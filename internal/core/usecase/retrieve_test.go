package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

type accessFake struct {
	buckets []string
	err     error
	auth    string
}

func (a *accessFake) Buckets(_ context.Context, authorization string) ([]string, error) {
	a.auth = authorization
	return a.buckets, a.err
}

func docs(texts ...string) []domain.TextDoc {
	out := make([]domain.TextDoc, len(texts))
	for i, t := range texts {
		out[i] = domain.TextDoc{Text: t}
	}
	return out
}

func TestRetrieveDispatchesSearchTypes(t *testing.T) {
	distance := 0.4
	cases := []struct {
		req  domain.RetrievalRequest
		mode string
	}{
		{domain.RetrievalRequest{Query: "q"}, "similarity"},
		{domain.RetrievalRequest{Query: "q", SearchType: domain.SearchMMR}, "mmr"},
		{domain.RetrievalRequest{Query: "q", SearchType: domain.SearchSimilarityScoreThreshold}, "score_threshold"},
		{domain.RetrievalRequest{Query: "q", SearchType: domain.SearchSimilarityDistanceThreshold, DistanceThreshold: &distance}, "distance_threshold"},
	}
	for _, tc := range cases {
		store := &vectorStoreFake{hits: docs("a", "b", "c", "d", "e")}
		uc := NewRetrieveUseCase(&embedderFake{}, store, RetrieveOptions{K: 2})
		got, err := uc.Retrieve(context.Background(), tc.req)
		if err != nil {
			t.Fatalf("Retrieve(%s) error = %v", tc.mode, err)
		}
		if store.calls[0].mode != tc.mode || store.calls[0].k != 2 {
			t.Fatalf("expected %s with k=2, got %+v", tc.mode, store.calls[0])
		}
		if len(got.RetrievedDocs) != 2 || got.InitialQuery != "q" || got.UserPrompt != "q" {
			t.Fatalf("unexpected result %+v", got)
		}
	}
}

func TestRetrieveValidation(t *testing.T) {
	uc := NewRetrieveUseCase(&embedderFake{}, &vectorStoreFake{}, RetrieveOptions{})
	bad := []domain.RetrievalRequest{
		{Query: "  "},
		{Query: "q", SearchType: "keyword"},
		{Query: "q", SearchType: domain.SearchSimilarityDistanceThreshold},
		{Query: "q", ObjectName: "a.pdf"},
	}
	for _, req := range bad {
		if _, err := uc.Retrieve(context.Background(), req); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Retrieve(%+v) expected invalid input, got %v", req, err)
		}
	}
}

func TestRetrieveUsesGivenEmbedding(t *testing.T) {
	embedder := &embedderFake{}
	uc := NewRetrieveUseCase(embedder, &vectorStoreFake{hits: docs("a")}, RetrieveOptions{})
	if _, err := uc.Retrieve(context.Background(), domain.RetrievalRequest{Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(embedder.queries) != 0 {
		t.Fatalf("query must not be embedded when a vector is given")
	}
}

func TestRetrieveAccessFilterIntersectsBuckets(t *testing.T) {
	access := &accessFake{buckets: []string{"hr", "finance"}}
	store := &vectorStoreFake{hits: docs("a")}
	metrics := &metricsFake{}
	uc := NewRetrieveUseCase(&embedderFake{}, store, RetrieveOptions{Access: access, Metrics: metrics})

	_, err := uc.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:         "q",
		BucketNames:   []string{"finance", "legal"},
		ObjectName:    "q1.pdf",
		Authorization: "Bearer t",
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if access.auth != "Bearer t" {
		t.Fatalf("authorization not forwarded, got %q", access.auth)
	}
	filter := store.calls[0].filter
	if filter.Op != domain.FilterAnd || len(filter.Children) != 2 {
		t.Fatalf("unexpected filter %+v", filter)
	}
	buckets := filter.Children[0]
	if buckets.Op != domain.FilterIn || len(buckets.Values) != 1 || buckets.Values[0] != "finance" {
		t.Fatalf("expected intersection [finance], got %+v", buckets)
	}
	if object := filter.Children[1]; object.Field != domain.MetaObjectName || object.Values[0] != "q1.pdf" {
		t.Fatalf("unexpected object filter %+v", object)
	}
	if len(metrics.retrievals) != 1 || metrics.retrievals[0] != 1 {
		t.Fatalf("unexpected retrieval observations %v", metrics.retrievals)
	}
}

func TestRetrieveReturnsZeroDocsWhenNothingIsReadable(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		req     domain.RetrievalRequest
	}{
		{"no buckets", []string{}, domain.RetrievalRequest{Query: "q"}},
		{"empty bucket name", []string{""}, domain.RetrievalRequest{Query: "q"}},
		{"empty intersection", []string{"hr"}, domain.RetrievalRequest{Query: "q", BucketNames: []string{"finance"}}},
	}
	for _, tc := range cases {
		store := &vectorStoreFake{hits: docs("secret")}
		embedder := &embedderFake{}
		uc := NewRetrieveUseCase(embedder, store, RetrieveOptions{Access: &accessFake{buckets: tc.allowed}})
		got, err := uc.Retrieve(context.Background(), tc.req)
		if err != nil {
			t.Fatalf("%s: Retrieve() error = %v", tc.name, err)
		}
		if got.RetrievedDocs == nil || len(got.RetrievedDocs) != 0 || len(store.calls) != 0 {
			t.Fatalf("%s: expected zero docs without searching, got %+v", tc.name, got)
		}
		if len(embedder.queries) != 0 {
			t.Fatalf("%s: query must not be embedded", tc.name)
		}
	}
}

func TestRetrieveAccessErrorsPropagate(t *testing.T) {
	denied := domain.WrapError(domain.ErrUnauthorized, "resolve buckets", errors.New("expired"))
	uc := NewRetrieveUseCase(&embedderFake{}, &vectorStoreFake{}, RetrieveOptions{Access: &accessFake{err: denied}})
	if _, err := uc.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"}); !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRetrieveHierarchicalIsSummaryMajor(t *testing.T) {
	summary := func(docID string, page int) domain.TextDoc {
		return domain.TextDoc{Text: "summary " + docID, Metadata: map[string]any{domain.MetaDocID: docID, domain.MetaPage: page}}
	}
	store := &vectorStoreFake{
		summaries: []domain.TextDoc{summary("d2", 4), summary("d1", 1), summary("d3", 0)},
		chunks: map[string][]domain.TextDoc{
			"d1": docs("d1-a", "d1-b", "d1-c"),
			"d2": docs("d2-a", "d2-b", "d2-c"),
		},
	}
	uc := NewRetrieveUseCase(&embedderFake{}, store, RetrieveOptions{})

	got, err := uc.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q", Hierarchical: true, KSummaries: 2, KChunks: 2})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	want := []string{"d2-a", "d2-b", "d1-a", "d1-b"}
	if len(got.RetrievedDocs) != len(want) {
		t.Fatalf("unexpected docs %+v", got.RetrievedDocs)
	}
	for i, w := range want {
		if got.RetrievedDocs[i].Text != w {
			t.Fatalf("doc %d = %q, want %q", i, got.RetrievedDocs[i].Text, w)
		}
	}

	pageFilter := store.calls[1].filter.Children[1]
	if pageFilter.Field != domain.MetaPage || pageFilter.Min != 4 || pageFilter.Max != 4 {
		t.Fatalf("expected page 4 filter for d2, got %+v", pageFilter)
	}
}

func TestRetrieveBoundsConcurrency(t *testing.T) {
	store := &vectorStoreFake{hits: docs("a"), delay: 20 * time.Millisecond}
	uc := NewRetrieveUseCase(&embedderFake{}, store, RetrieveOptions{MaxWorkers: 2})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uc.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"}); err != nil {
				t.Errorf("Retrieve() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if store.peak > 2 {
		t.Fatalf("expected at most 2 concurrent searches, saw %d", store.peak)
	}
}

func TestRetrieveWaitingForSlotHonoursContext(t *testing.T) {
	uc := NewRetrieveUseCase(&embedderFake{}, &vectorStoreFake{}, RetrieveOptions{MaxWorkers: 1})
	uc.slots <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := uc.Retrieve(ctx, domain.RetrievalRequest{Query: "q"}); !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
