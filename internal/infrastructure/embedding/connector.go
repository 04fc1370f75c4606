package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

const maxParallelBatches = 4

// Backend is one model-server wire format.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Server    string
	Endpoint  string
	ModelName string
	BatchSize int
	// Dimension, when positive, is the vector length every response must have.
	Dimension int
	Timeout   time.Duration
}

// Connector implements ports.Embedder on top of a model-server backend.
type Connector struct {
	server    string
	backend   Backend
	batchSize int
	dimension int
}

func New(opts Options) (*Connector, error) {
	server := strings.ToLower(strings.TrimSpace(opts.Server))
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "embedding connector", fmt.Errorf("endpoint is empty"))
	}

	var backend Backend
	switch server {
	case "tei":
		backend = newJSONBackend(httpx.New(server, endpoint, opts.Timeout), "/embed", false)
	case "mosec":
		backend = newJSONBackend(httpx.New(server, endpoint, opts.Timeout), "/embed", true)
	case "torchserve":
		backend = newJSONBackend(httpx.New(server, endpoint, opts.Timeout), "/predictions/"+shortModelName(opts.ModelName), false)
	case "ovms":
		backend = newOVMSBackend(httpx.New(server, endpoint, opts.Timeout), opts.ModelName)
	case "vllm":
		backend = newVLLMBackend(endpoint, opts.ModelName, opts.Timeout)
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "embedding connector",
			fmt.Errorf("invalid model server: %q, available: tei, mosec, ovms, torchserve, vllm", opts.Server))
	}
	return NewWithBackend(server, backend, opts.BatchSize, opts.Dimension), nil
}

func NewWithBackend(server string, backend Backend, batchSize, dimension int) *Connector {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Connector{
		server:    server,
		backend:   backend,
		batchSize: batchSize,
		dimension: dimension,
	}
}

func (c *Connector) Server() string {
	return c.server
}

func (c *Connector) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.InvalidInput("embed documents", "no texts to embed")
	}
	lines := make([]string, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.InvalidInput("embed documents", "text at index %d is empty", i)
		}
		lines[i] = toSingleLine(text)
	}

	batches := (len(lines) + c.batchSize - 1) / c.batchSize
	results := make([][][]float32, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelBatches)
	for b := 0; b < batches; b++ {
		lo := b * c.batchSize
		hi := min(lo+c.batchSize, len(lines))
		g.Go(func() error {
			vectors, err := c.embedBatch(gctx, lines[lo:hi])
			if err != nil {
				return err
			}
			results[b] = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(lines))
	for _, batch := range results {
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Connector) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Connector) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.backend.Embed(ctx, texts)
	if err != nil {
		slog.Error("embedding_request_failed", "server", c.server, "texts", len(texts), "error", err)
		return nil, httpx.Wrap("embed documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed documents: %s returned %d vectors for %d texts", c.server, len(vectors), len(texts))
	}
	if c.dimension > 0 {
		for i, v := range vectors {
			if len(v) != c.dimension {
				return nil, domain.InvalidInput("embed documents",
					"%s returned a vector of dimension %d at index %d, expected %d", c.server, len(v), i, c.dimension)
			}
		}
	}
	return vectors, nil
}

// Models misbehave on embedded newlines.
func toSingleLine(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}

func shortModelName(model string) string {
	model = strings.TrimRight(model, "/")
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
