package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

// tgiBackend uses text-generation-inference's native API.
type tgiBackend struct {
	client *httpx.Client
}

func newTGIBackend(endpoint string, timeout time.Duration) *tgiBackend {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &tgiBackend{client: httpx.New("tgi", endpoint, timeout)}
}

type tgiParameters struct {
	MaxNewTokens      int     `json:"max_new_tokens,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopK              int     `json:"top_k,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
}

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
	Stream     bool          `json:"stream,omitempty"`
}

type tgiStreamEvent struct {
	Token *struct {
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

func newTGIRequest(params domain.LLMParams, stream bool) tgiRequest {
	return tgiRequest{
		Inputs: params.Query,
		Parameters: tgiParameters{
			MaxNewTokens:      params.MaxNewTokens,
			RepetitionPenalty: params.RepetitionPenalty,
			Temperature:       params.Temperature,
			TopK:              params.TopK,
			TopP:              params.TopP,
		},
		Stream: stream,
	}
}

func (b *tgiBackend) Generate(ctx context.Context, params domain.LLMParams) (string, error) {
	var out struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := b.client.PostJSON(ctx, "/generate", newTGIRequest(params, false), &out, "generate"); err != nil {
		return "", err
	}
	return out.GeneratedText, nil
}

func (b *tgiBackend) Stream(ctx context.Context, params domain.LLMParams, emit func(token string) error) error {
	resp, err := b.client.Stream(ctx, "/generate_stream", newTGIRequest(params, true), "generate stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return readTGIStream(resp.Body, emit)
}

func readTGIStream(body io.Reader, emit func(token string) error) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			var event tgiStreamEvent
			if jsonErr := json.Unmarshal([]byte(data), &event); jsonErr != nil {
				return fmt.Errorf("decode tgi stream event: %w", jsonErr)
			}
			if event.Error != "" {
				return fmt.Errorf("tgi stream %s: %s", event.ErrorType, event.Error)
			}
			if event.Token != nil && !event.Token.Special && event.Token.Text != "" {
				if emitErr := emit(event.Token.Text); emitErr != nil {
					return emitErr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tgi stream: %w", err)
		}
	}
}
