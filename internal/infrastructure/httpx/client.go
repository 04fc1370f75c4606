package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a small JSON-over-HTTP helper shared by the model-server and
// vector-store adapters.
type Client struct {
	service    string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

func New(service, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    map[string]string{},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHeader sets a header sent on every request.
func (c *Client) WithHeader(key, value string) *Client {
	if strings.TrimSpace(value) != "" {
		c.headers[key] = value
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Service() string {
	return c.service
}

func (c *Client) PostJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	return c.doJSON(ctx, http.MethodPost, path, payload, out, operation)
}

func (c *Client) PutJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	return c.doJSON(ctx, http.MethodPut, path, payload, out, operation)
}

func (c *Client) GetJSON(ctx context.Context, path string, out any, operation string) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out, operation)
}

// Stream issues a JSON POST and hands back the open response for incremental
// reads. The caller closes the body.
func (c *Client) Stream(ctx context.Context, path string, payload any, operation string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, payload, operation)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	return c.Do(req, operation)
}

// Do sends a prepared request and converts non-2xx responses to *StatusError.
func (c *Client) Do(req *http.Request, operation string) (*http.Response, error) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s request: %w", c.service, operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newStatusError(c.service, operation, resp)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	req, err := c.newRequest(ctx, method, path, payload, operation)
	if err != nil {
		return err
	}
	resp, err := c.Do(req, operation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", c.service, operation, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any, operation string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s request: %w", c.service, operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("create %s %s request: %w", c.service, operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// URL joins the base URL and a path.
func (c *Client) URL(path string) string {
	if path == "" {
		return c.baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
