package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

// vllmBackend talks to vLLM's OpenAI-compatible chat completions API.
type vllmBackend struct {
	client *openai.Client
	model  string
}

func newVLLMBackend(endpoint, model string, timeout time.Duration) *vllmBackend {
	cfg := openai.DefaultConfig("EMPTY")
	cfg.BaseURL = strings.TrimRight(endpoint, "/") + "/v1"
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &vllmBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

func (b *vllmBackend) request(params domain.LLMParams) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: params.Query},
		},
		MaxTokens:   params.MaxNewTokens,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
	}
}

func (b *vllmBackend) Generate(ctx context.Context, params domain.LLMParams) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.request(params))
	if err != nil {
		return "", httpx.FromOpenAI("vllm", "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vllm chat completion: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *vllmBackend) Stream(ctx context.Context, params domain.LLMParams, emit func(token string) error) error {
	req := b.request(params)
	req.Stream = true
	stream, err := b.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return httpx.FromOpenAI("vllm", "chat completion stream", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return httpx.FromOpenAI("vllm", "chat completion stream", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		// vLLM opens with a role-only delta.
		if choice.Delta.Content != "" {
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
		if choice.FinishReason == openai.FinishReasonStop {
			return nil
		}
	}
}
