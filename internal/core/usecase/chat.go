package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

type historyAppender interface {
	AppendMessage(ctx context.Context, id string, msg domain.ChatMessage) error
}

// ChatUseCase runs retrieve, rerank and generate in sequence for one question.
type ChatUseCase struct {
	retriever   ports.RetrievalService
	reranker    ports.RerankService
	llm         ports.LLMGenerator
	history     historyAppender
	metrics     ports.PipelineMetrics
	defaultTopN int
}

func NewChatUseCase(
	retriever ports.RetrievalService,
	reranker ports.RerankService,
	llm ports.LLMGenerator,
	history historyAppender,
	metrics ports.PipelineMetrics,
	defaultTopN int,
) *ChatUseCase {
	if defaultTopN < 1 {
		defaultTopN = 1
	}
	return &ChatUseCase{
		retriever:   retriever,
		reranker:    reranker,
		llm:         llm,
		history:     history,
		metrics:     metrics,
		defaultTopN: defaultTopN,
	}
}

func (uc *ChatUseCase) Complete(ctx context.Context, req domain.ChatRequest) (*domain.GeneratedDoc, error) {
	params, err := uc.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	params.Streaming = false
	generated, err := uc.llm.Generate(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	uc.remember(ctx, req, generated.Text)
	return generated, nil
}

// Stream emits tokens as the LLM produces them. An error after the first
// token is still returned so the transport can send its error frame.
func (uc *ChatUseCase) Stream(ctx context.Context, req domain.ChatRequest, emit func(token string) error) error {
	params, err := uc.prepare(ctx, req)
	if err != nil {
		return err
	}
	params.Streaming = true

	var answer strings.Builder
	err = uc.llm.Stream(ctx, *params, func(token string) error {
		answer.WriteString(token)
		return emit(token)
	})
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.StreamError()
		}
		return fmt.Errorf("stream answer: %w", err)
	}
	uc.remember(ctx, req, answer.String())
	return nil
}

func (uc *ChatUseCase) prepare(ctx context.Context, req domain.ChatRequest) (*domain.LLMParams, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.InvalidInput("chat", "query cannot be empty")
	}

	retrieval := req.Retrieval
	retrieval.Query = query
	retrieval.Authorization = req.Authorization
	searched, err := uc.retriever.Retrieve(ctx, retrieval)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	topN := req.RerankTopN
	if topN < 1 {
		topN = uc.defaultTopN
	}
	params, err := uc.reranker.Rerank(ctx, *searched, topN)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	mergeGeneration(params, req.LLM)
	slog.Debug("chat_prompt_ready", "docs", len(searched.RetrievedDocs), "prompt_chars", len(params.Query))
	return params, nil
}

// mergeGeneration copies caller overrides onto the reranker's params. The
// prompt always comes from the reranker.
func mergeGeneration(params *domain.LLMParams, override domain.LLMParams) {
	if override.MaxNewTokens > 0 {
		params.MaxNewTokens = override.MaxNewTokens
	}
	if override.TopK > 0 {
		params.TopK = override.TopK
	}
	if override.TopP > 0 {
		params.TopP = override.TopP
	}
	if override.Temperature > 0 {
		params.Temperature = override.Temperature
	}
	if override.RepetitionPenalty > 0 {
		params.RepetitionPenalty = override.RepetitionPenalty
	}
}

func (uc *ChatUseCase) remember(ctx context.Context, req domain.ChatRequest, answer string) {
	if uc.history == nil || req.HistoryID == "" {
		return
	}
	msg := domain.ChatMessage{Question: req.Query, Answer: answer}
	if err := uc.history.AppendMessage(context.WithoutCancel(ctx), req.HistoryID, msg); err != nil {
		slog.Warn("chat_history_append_failed", "history_id", req.HistoryID, "error", err)
	}
}
