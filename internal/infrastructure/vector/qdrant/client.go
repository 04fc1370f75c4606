package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
)

// Client is a vector.Backend over the Qdrant REST API. Chunks are stored with
// payload {"text", "metadata"}.
type Client struct {
	http       *httpx.Client
	collection string

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection, apiKey string) *Client {
	return &Client{
		http:       httpx.New("qdrant", baseURL, 60*time.Second).WithHeader("api-key", apiKey),
		collection: collection,
	}
}

func (c *Client) Name() string {
	return "qdrant"
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

func (c *Client) Add(ctx context.Context, ids []string, docs []domain.EmbedDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(docs[0].Embedding)); err != nil {
		return err
	}

	points := make([]point, 0, len(docs))
	for i, doc := range docs {
		points = append(points, point{
			ID:     ids[i],
			Vector: doc.Embedding,
			Payload: map[string]any{
				"text":     doc.Text,
				"metadata": payloadMetadata(doc.Metadata),
			},
		})
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.http.PutJSON(ctx, path, map[string]any{"points": points}, nil, "upsert")
}

func (c *Client) Query(ctx context.Context, queryVector []float32, k int, filter domain.Filter, withVectors bool) ([]vector.Hit, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  withVectors,
	}
	if !filter.IsZero() {
		reqBody["filter"] = RenderFilter(filter)
	}

	var searchResp struct {
		Result []scoredPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.http.PostJSON(ctx, path, reqBody, &searchResp, "search"); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]vector.Hit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, vector.Hit{
			ID:        fmt.Sprintf("%v", r.ID),
			Doc:       docFromPayload(r.Payload),
			Score:     r.Score,
			Distance:  1 - r.Score,
			Embedding: r.Vector,
		})
	}
	return out, nil
}

func (c *Client) Scan(ctx context.Context, filter domain.Filter, limit int) ([]domain.TextDoc, error) {
	reqBody := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if !filter.IsZero() {
		reqBody["filter"] = RenderFilter(filter)
	}

	var scrollResp struct {
		Result struct {
			Points []scoredPoint `json:"points"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", c.collection)
	if err := c.http.PostJSON(ctx, path, reqBody, &scrollResp, "scroll"); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]domain.TextDoc, 0, len(scrollResp.Result.Points))
	for _, p := range scrollResp.Result.Points {
		out = append(out, docFromPayload(p.Payload))
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, filter domain.Filter) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	err := c.http.PostJSON(ctx, path, map[string]any{"filter": RenderFilter(filter)}, nil, "delete")
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := c.http.PutJSON(ctx, "/collections/"+c.collection, reqBody, nil, "ensure collection")

	// 409 when the collection already exists (depends on version/config).
	var statusErr *httpx.StatusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict) {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

// payloadMetadata stores numeric filter fields as numbers so range and
// match conditions compare them correctly.
func payloadMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	for k, v := range vector.FilterFields(metadata) {
		out[k] = v
	}
	return out
}

func docFromPayload(payload map[string]any) domain.TextDoc {
	doc := domain.TextDoc{Text: getStringPayload(payload, "text")}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		doc.Metadata = meta
	}
	return doc
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func isNotFound(err error) bool {
	var statusErr *httpx.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
