package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/resilience"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 3 * time.Second
)

// Client scores passages with a cross-encoder served behind POST /rerank
// (TEI reranker wire format).
type Client struct {
	http     *httpx.Client
	executor *resilience.Executor
}

func New(endpoint string, timeout time.Duration, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "reranker", fmt.Errorf("the 'RERANKING_SERVICE_ENDPOINT' cannot be empty"))
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.FixedBackoff(DefaultAttempts, DefaultBackoff))
	}
	return &Client{http: httpx.New("reranker", endpoint, timeout), executor: executor}, nil
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

func (c *Client) Score(ctx context.Context, query string, texts []string) ([]domain.RerankScore, error) {
	scores, err := resilience.Run(ctx, c.executor, "reranker.rerank", func(callCtx context.Context) ([]domain.RerankScore, error) {
		var out []domain.RerankScore
		if err := c.http.PostJSON(callCtx, "/rerank", rerankRequest{Query: query, Texts: texts}, &out, "rerank"); err != nil {
			return nil, err
		}
		return out, nil
	}, resilience.RetryAll)
	if err != nil {
		return nil, httpx.Wrap("rerank", err)
	}

	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(texts) {
			return nil, fmt.Errorf("rerank: score index %d out of range for %d texts", s.Index, len(texts))
		}
	}
	return scores, nil
}

// Warmup checks the service once. A failure is only logged.
func (c *Client) Warmup(ctx context.Context) {
	if _, err := c.Score(ctx, "What is DL?", []string{"DL is not...", "DL is..."}); err != nil {
		slog.Warn("reranker_warmup_failed", "endpoint", c.http.BaseURL(), "error", err)
		return
	}
	slog.Info("reranker_reachable", "endpoint", c.http.BaseURL())
}
