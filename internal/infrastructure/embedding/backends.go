package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

// jsonBackend covers the servers that accept {"inputs": [...]}: TEI and
// TorchServe answer with a bare matrix, Mosec wraps it in "embedding".
type jsonBackend struct {
	client  *httpx.Client
	path    string
	wrapped bool
}

func newJSONBackend(client *httpx.Client, path string, wrapped bool) *jsonBackend {
	return &jsonBackend{client: client, path: path, wrapped: wrapped}
}

func (b *jsonBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{"inputs": texts}
	if !b.wrapped {
		var out [][]float32
		if err := b.client.PostJSON(ctx, b.path, payload, &out, "embed"); err != nil {
			return nil, err
		}
		return out, nil
	}

	var out struct {
		Embedding [][]float32 `json:"embedding"`
	}
	if err := b.client.PostJSON(ctx, b.path, payload, &out, "embed"); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// ovmsBackend speaks the KServe v2 inference protocol.
type ovmsBackend struct {
	client *httpx.Client
	model  string

	mu        sync.Mutex
	inputName string
}

func newOVMSBackend(client *httpx.Client, model string) *ovmsBackend {
	return &ovmsBackend{client: client, model: model}
}

type ovmsTensor struct {
	Name     string   `json:"name"`
	Shape    []int    `json:"shape"`
	Datatype string   `json:"datatype"`
	Data     []string `json:"data,omitempty"`
}

type ovmsInferResponse struct {
	Outputs []struct {
		Name  string    `json:"name"`
		Shape []int     `json:"shape"`
		Data  []float32 `json:"data"`
	} `json:"outputs"`
}

func (b *ovmsBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	input, err := b.resolveInputName(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"inputs": []ovmsTensor{{
			Name:     input,
			Shape:    []int{len(texts)},
			Datatype: "BYTES",
			Data:     texts,
		}},
	}
	var out ovmsInferResponse
	if err := b.client.PostJSON(ctx, "/v2/models/"+b.model+"/infer", payload, &out, "infer"); err != nil {
		return nil, err
	}
	if len(out.Outputs) == 0 || len(out.Outputs[0].Data) == 0 {
		return nil, fmt.Errorf("ovms infer: response has no outputs")
	}

	data := out.Outputs[0].Data
	dim := len(data) / len(texts)
	if shape := out.Outputs[0].Shape; len(shape) == 2 && shape[1] > 0 {
		dim = shape[1]
	}
	if dim == 0 || dim*len(texts) != len(data) {
		return nil, fmt.Errorf("ovms infer: %d values cannot be reshaped into %d vectors", len(data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = data[i*dim : (i+1)*dim]
	}
	return vectors, nil
}

func (b *ovmsBackend) resolveInputName(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inputName != "" {
		return b.inputName, nil
	}

	var meta struct {
		Inputs []struct {
			Name string `json:"name"`
		} `json:"inputs"`
	}
	if err := b.client.GetJSON(ctx, "/v2/models/"+b.model, &meta, "model metadata"); err != nil {
		return "", err
	}
	if len(meta.Inputs) == 0 || strings.TrimSpace(meta.Inputs[0].Name) == "" {
		return "", fmt.Errorf("ovms model metadata: model %q declares no inputs", b.model)
	}
	b.inputName = meta.Inputs[0].Name
	return b.inputName, nil
}

// vllmBackend uses the OpenAI-compatible embeddings API.
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

func (b *vllmBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(b.model),
	})
	if err != nil {
		return nil, httpx.FromOpenAI("vllm", "embed", err)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("vllm embed: response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("vllm embed: no embedding for input %d", i)
		}
	}
	return vectors, nil
}
