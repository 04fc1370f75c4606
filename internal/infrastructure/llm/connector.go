package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

// Backend is one model server. emit is called once per generated token.
type Backend interface {
	Generate(ctx context.Context, params domain.LLMParams) (string, error)
	Stream(ctx context.Context, params domain.LLMParams, emit func(token string) error) error
}

type Options struct {
	Server           string
	Endpoint         string
	ModelName        string
	Timeout          time.Duration
	DisableStreaming bool
}

// Connector implements ports.LLMGenerator.
type Connector struct {
	server           string
	backend          Backend
	disableStreaming bool
}

func New(opts Options) (*Connector, error) {
	server := strings.ToLower(strings.TrimSpace(opts.Server))
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "llm connector", fmt.Errorf("the 'LLM_MODEL_SERVER_ENDPOINT' cannot be empty"))
	}
	if strings.TrimSpace(opts.ModelName) == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "llm connector", fmt.Errorf("the 'LLM_MODEL_NAME' cannot be empty"))
	}

	var backend Backend
	switch server {
	case "vllm":
		backend = newVLLMBackend(opts.Endpoint, opts.ModelName, opts.Timeout)
	case "tgi":
		backend = newTGIBackend(opts.Endpoint, opts.Timeout)
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "llm connector",
			fmt.Errorf("invalid model server: %q, available: vllm, tgi", opts.Server))
	}
	return NewWithBackend(server, backend, opts.DisableStreaming), nil
}

func NewWithBackend(server string, backend Backend, disableStreaming bool) *Connector {
	return &Connector{server: server, backend: backend, disableStreaming: disableStreaming}
}

// Warmup sends a tiny non-streaming request. Callers treat a failure as fatal.
func (c *Connector) Warmup(ctx context.Context) error {
	_, err := c.Generate(ctx, domain.LLMParams{Query: "test", MaxNewTokens: 5, TopK: 10, TopP: 0.95, Temperature: 0.01, RepetitionPenalty: 1.03})
	if err != nil {
		return fmt.Errorf("error initializing the LLM: %w", err)
	}
	slog.Info("llm_connection_validated", "server", c.server)
	return nil
}

func (c *Connector) Generate(ctx context.Context, params domain.LLMParams) (*domain.GeneratedDoc, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.InvalidInput("llm generate", "query is empty")
	}
	text, err := c.backend.Generate(ctx, params)
	if err != nil {
		slog.Error("llm_generate_failed", "server", c.server, "error", err)
		return nil, httpx.Wrap("llm generate", err)
	}
	return &domain.GeneratedDoc{Text: text, Prompt: params.Query, Stream: false}, nil
}

// Stream emits tokens as they arrive. With streaming disabled the whole answer
// is emitted as a single token.
func (c *Connector) Stream(ctx context.Context, params domain.LLMParams, emit func(token string) error) error {
	if strings.TrimSpace(params.Query) == "" {
		return domain.InvalidInput("llm stream", "query is empty")
	}
	if c.disableStreaming {
		doc, err := c.Generate(ctx, params)
		if err != nil {
			return err
		}
		return emit(doc.Text)
	}

	if err := c.backend.Stream(ctx, params, emit); err != nil {
		slog.Error("llm_stream_failed", "server", c.server, "error", err)
		return httpx.Wrap("llm stream", err)
	}
	return nil
}
