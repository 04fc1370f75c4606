package usecase

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

const promptTemplate = "### You are a helpful, respectful, and honest assistant to help the user with questions. " +
	"Please refer to the search results obtained from the local knowledge base. " +
	"But be careful to not incorporate information that you think is not relevant to the question. " +
	"If you don't know the answer to a question, please don't share false information. " +
	"### Search results: %s \n\n### Question: %s \n\n### Answer:"

// RerankUseCase scores retrieved passages and builds the LLM prompt. Scoring
// failures degrade to using every passage; they never fail the request.
type RerankUseCase struct {
	scorer  ports.RerankScorer
	metrics ports.PipelineMetrics
}

func NewRerankUseCase(scorer ports.RerankScorer, metrics ports.PipelineMetrics) *RerankUseCase {
	return &RerankUseCase{scorer: scorer, metrics: metrics}
}

func (uc *RerankUseCase) Rerank(ctx context.Context, doc domain.SearchedDoc, topN int) (*domain.LLMParams, error) {
	query := strings.TrimSpace(doc.InitialQuery)
	if query == "" {
		return nil, domain.InvalidInput("rerank", "initial query cannot be empty")
	}
	if topN < 1 {
		return nil, domain.InvalidInput("rerank", "top_n must be greater than 0, but it is %d", topN)
	}

	params := domain.DefaultLLMParams()
	if len(doc.RetrievedDocs) == 0 {
		slog.Warn("rerank_no_documents")
		params.Query = doc.InitialQuery
		return &params, nil
	}

	texts := make([]string, len(doc.RetrievedDocs))
	for i, d := range doc.RetrievedDocs {
		texts[i] = d.Text
	}

	var selected map[int]bool
	scores, err := uc.scorer.Score(ctx, doc.InitialQuery, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.ErrTimeout, "rerank", ctx.Err())
		}
		slog.Warn("rerank_fallback", "docs", len(texts), "error", err)
		if uc.metrics != nil {
			uc.metrics.RerankFallback()
		}
	} else {
		selected = make(map[int]bool, topN)
		for _, s := range TopN(scores, topN) {
			selected[s.Index] = true
		}
	}

	passages := make([]string, 0, len(texts))
	for i, text := range texts {
		if selected == nil || selected[i] {
			passages = append(passages, text)
		}
	}
	params.Query = BuildPrompt(doc.InitialQuery, strings.Join(passages, " "))
	return &params, nil
}

func BuildPrompt(question, passages string) string {
	return fmt.Sprintf(promptTemplate, passages, question)
}

// TopN returns the n highest scores, best first, using a bounded min-heap.
func TopN(scores []domain.RerankScore, n int) []domain.RerankScore {
	if n <= 0 {
		return nil
	}
	h := make(scoreHeap, 0, n+1)
	for _, s := range scores {
		if h.Len() < n {
			heap.Push(&h, s)
			continue
		}
		if s.Score > h[0].Score {
			h[0] = s
			heap.Fix(&h, 0)
		}
	}
	out := make([]domain.RerankScore, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(domain.RerankScore)
	}
	return out
}

type scoreHeap []domain.RerankScore

func (h scoreHeap) Len() int      { return len(h) }
func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Less orders worst first; on equal scores the later index is worse.
func (h scoreHeap) Less(i, j int) bool {
	if h[i].Score == h[j].Score {
		return h[i].Index > h[j].Index
	}
	return h[i].Score < h[j].Score
}

func (h *scoreHeap) Push(x any) {
	*h = append(*h, x.(domain.RerankScore))
}

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
