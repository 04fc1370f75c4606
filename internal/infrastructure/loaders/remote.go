package loaders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
)

// OCR sends images to a layout-aware OCR service and, when that fails, to a
// plain fallback service. Both answer {"text": "..."} to a multipart upload.
type OCR struct {
	primary  *httpx.Client
	fallback *httpx.Client
}

func NewOCR(endpoint, fallbackEndpoint string, timeout time.Duration) *OCR {
	o := &OCR{}
	if strings.TrimSpace(endpoint) != "" {
		o.primary = httpx.New("ocr", endpoint, timeout)
	}
	if strings.TrimSpace(fallbackEndpoint) != "" {
		o.fallback = httpx.New("ocr-fallback", fallbackEndpoint, timeout)
	}
	return o
}

// Enabled reports whether at least one OCR endpoint is configured.
func (o *OCR) Enabled() bool {
	return o != nil && (o.primary != nil || o.fallback != nil)
}

func (o *OCR) Recognize(ctx context.Context, path string) (string, error) {
	if !o.Enabled() {
		return "", domain.WrapError(domain.ErrConfiguration, "ocr", errors.New("OCR_ENDPOINT is not configured"))
	}
	var firstErr error
	for _, client := range []*httpx.Client{o.primary, o.fallback} {
		if client == nil {
			continue
		}
		text, err := o.recognizeWith(ctx, client, path)
		if err == nil && text != "" {
			return cleanOCRText(text), nil
		}
		if err == nil {
			err = errors.New("empty ocr result")
		}
		slog.Debug("ocr_attempt_failed", "service", client.Service(), "file", filepath.Base(path), "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", httpx.Wrap("ocr", firstErr)
}

func (o *OCR) recognizeWith(ctx context.Context, client *httpx.Client, path string) (string, error) {
	body, contentType, err := multipartFile(path)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.URL(""), body)
	if err != nil {
		return "", fmt.Errorf("create ocr request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := client.Do(req, "recognize")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if out.Text == nil {
		return "", errors.New("ocr response does not contain text")
	}
	return strings.TrimSpace(*out.Text), nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// cleanOCRText normalizes dashes, underscores and whitespace runs.
func cleanOCRText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.NewReplacer("—", "-", "_", " ").Replace(text)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// ImageLoader OCRs a single image file. SVGs are rasterized to PNG first.
type ImageLoader struct {
	OCR *OCR
}

func (l ImageLoader) Extract(ctx context.Context, path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".svg") || !l.OCR.Enabled() {
		return l.OCR.Recognize(ctx, path)
	}
	raster, err := rasterizeSVG(path)
	if err != nil {
		return "", err
	}
	defer os.Remove(raster)
	return l.OCR.Recognize(ctx, raster)
}

// AudioLoader transcribes mp3 and wav files through an OpenAI-compatible
// ASR service.
type AudioLoader struct {
	endpoint string
	client   *openai.Client
}

func NewAudioLoader(endpoint string, timeout time.Duration) *AudioLoader {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return &AudioLoader{}
	}
	cfg := openai.DefaultConfig("EMPTY")
	cfg.BaseURL = strings.TrimRight(endpoint, "/") + "/v1"
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &AudioLoader{endpoint: endpoint, client: openai.NewClientWithConfig(cfg)}
}

func (l *AudioLoader) Extract(ctx context.Context, path string) (string, error) {
	if l.client == nil {
		return "", domain.WrapError(domain.ErrConfiguration, "transcribe audio", errors.New("ASR_MODEL_SERVER_ENDPOINT is not configured, cannot process audio files"))
	}
	slog.Info("asr_request", "file", filepath.Base(path), "endpoint", l.endpoint)
	resp, err := l.client.CreateTranscription(ctx, openai.AudioRequest{
		FilePath: path,
		Language: "auto",
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		err = httpx.Wrap("transcribe audio", httpx.FromOpenAI("asr", "transcribe", err))
		slog.Error("asr_request_failed", "file", filepath.Base(path), "endpoint", l.endpoint, "error", err)
		return "", fmt.Errorf("transcribe %s (is the ASR service running at %s?): %w", filepath.Base(path), l.endpoint, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("transcribe %s: ASR response does not contain text", filepath.Base(path))
	}
	return resp.Text, nil
}

func multipartFile(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// writeTemp fills a new temp file with the given extension and returns its
// path. The caller removes it.
func writeTemp(ext string, fill func(io.Writer) error) (string, error) {
	tmp, err := os.CreateTemp("", "erag-img-*"+ext)
	if err != nil {
		return "", err
	}
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
