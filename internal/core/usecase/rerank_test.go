package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

type scorerFake struct {
	scores []domain.RerankScore
	err    error
	calls  int
}

func (f *scorerFake) Score(context.Context, string, []string) ([]domain.RerankScore, error) {
	f.calls++
	return f.scores, f.err
}

func searched(query string, texts ...string) domain.SearchedDoc {
	return domain.SearchedDoc{InitialQuery: query, RetrievedDocs: docs(texts...)}
}

func TestRerankKeepsTopNInRetrievalOrder(t *testing.T) {
	scorer := &scorerFake{scores: []domain.RerankScore{{Index: 0, Score: 0.9}, {Index: 1, Score: 0.1}, {Index: 2, Score: 0.5}}}
	uc := NewRerankUseCase(scorer, nil)

	params, err := uc.Rerank(context.Background(), searched("Which?", "first", "second", "third"), 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if params.Query != BuildPrompt("Which?", "first third") {
		t.Fatalf("unexpected prompt %q", params.Query)
	}
	if params.MaxNewTokens != domain.DefaultLLMParams().MaxNewTokens {
		t.Fatalf("expected default generation params, got %+v", params)
	}
}

func TestRerankSingleBestPassage(t *testing.T) {
	scorer := &scorerFake{scores: []domain.RerankScore{{Index: 1, Score: 0.9988}, {Index: 0, Score: 0.0229}, {Index: 2, Score: 0.5294}}}
	uc := NewRerankUseCase(scorer, nil)

	params, err := uc.Rerank(context.Background(), searched("This is my sample query?", "Document 1", "Document 2", "Document 3"), 1)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if !strings.Contains(params.Query, "### Search results: Document 2 \n\n### Question: This is my sample query? \n\n### Answer:") {
		t.Fatalf("unexpected prompt %q", params.Query)
	}
	if strings.Contains(params.Query, "Document 1") || strings.Contains(params.Query, "Document 3") {
		t.Fatalf("only the best passage belongs in the prompt: %q", params.Query)
	}
}

func TestRerankFallsBackToAllDocs(t *testing.T) {
	metrics := &metricsFake{}
	uc := NewRerankUseCase(&scorerFake{err: errors.New("reranker unreachable")}, metrics)

	params, err := uc.Rerank(context.Background(), searched("q", "a", "b", "c"), 1)
	if err != nil {
		t.Fatalf("Rerank() must degrade, got %v", err)
	}
	if params.Query != BuildPrompt("q", "a b c") {
		t.Fatalf("expected all passages, got %q", params.Query)
	}
	if metrics.fallbacks != 1 {
		t.Fatalf("expected fallback metric, got %d", metrics.fallbacks)
	}
}

func TestRerankWithoutDocsUsesBareQuery(t *testing.T) {
	scorer := &scorerFake{}
	uc := NewRerankUseCase(scorer, nil)

	params, err := uc.Rerank(context.Background(), searched("What is DL?"), 3)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if params.Query != "What is DL?" || scorer.calls != 0 {
		t.Fatalf("expected bare query without scoring, got %q (calls %d)", params.Query, scorer.calls)
	}
}

func TestRerankValidation(t *testing.T) {
	uc := NewRerankUseCase(&scorerFake{}, nil)
	if _, err := uc.Rerank(context.Background(), searched(" ", "a"), 1); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty query, got %v", err)
	}
	if _, err := uc.Rerank(context.Background(), searched("q", "a"), 0); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for top_n 0, got %v", err)
	}
}

func TestTopN(t *testing.T) {
	scores := []domain.RerankScore{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.5},
		{Index: 3, Score: 0.9},
		{Index: 4, Score: 0.1},
	}
	got := TopN(scores, 3)
	want := []int{1, 3, 2}
	if len(got) != len(want) {
		t.Fatalf("unexpected top n %+v", got)
	}
	for i, idx := range want {
		if got[i].Index != idx {
			t.Fatalf("position %d = index %d, want %d (%+v)", i, got[i].Index, idx, got)
		}
	}
	if all := TopN(scores, 10); len(all) != 5 || all[4].Index != 4 {
		t.Fatalf("n beyond length must return every score sorted, got %+v", all)
	}
	if TopN(scores, 0) != nil {
		t.Fatalf("n=0 must return nil")
	}
}
