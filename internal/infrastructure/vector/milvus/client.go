package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/httpx"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
)

const (
	idField     = "id"
	vectorField = "vector"
	textField   = "text"
	metaField   = "metadata"
	scanLimit   = 16384
)

// Client is a vector.Backend over the Milvus RESTful API v2. Filter fields are
// stored as dynamic fields next to the vector.
type Client struct {
	http       *httpx.Client
	collection string

	ensureMu   sync.Mutex
	ensuredDim int
}

func New(baseURL, collection, token string) *Client {
	client := httpx.New("milvus", baseURL, 60*time.Second)
	if token != "" {
		client.WithHeader("Authorization", "Bearer "+token)
	}
	return &Client{http: client, collection: collection}
}

func (c *Client) Name() string {
	return "milvus"
}

// envelope is the common v2 response shape; code 0 means success.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, path string, payload any, out any, operation string) error {
	var env envelope
	if err := c.http.PostJSON(ctx, path, payload, &env, operation); err != nil {
		return err
	}
	if env.Code != 0 {
		return &APIError{Operation: operation, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode milvus %s data: %w", operation, err)
	}
	return nil
}

type APIError struct {
	Operation string
	Code      int
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("milvus %s: code %d: %s", e.Operation, e.Code, e.Message)
}

func (e *APIError) collectionMissing() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "collection not found") || strings.Contains(msg, "can't find collection")
}

func (c *Client) Add(ctx context.Context, ids []string, docs []domain.EmbedDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(docs[0].Embedding)); err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(docs))
	for i, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		row := map[string]any{
			idField:     ids[i],
			vectorField: doc.Embedding,
			textField:   doc.Text,
			metaField:   string(meta),
		}
		for k, v := range vector.FilterFields(doc.Metadata) {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return c.call(ctx, "/v2/vectordb/entities/insert", map[string]any{
		"collectionName": c.collection,
		"data":           rows,
	}, nil, "insert")
}

func (c *Client) Query(ctx context.Context, queryVector []float32, k int, filter domain.Filter, withVectors bool) ([]vector.Hit, error) {
	output := []string{textField, metaField}
	if withVectors {
		output = append(output, vectorField)
	}
	payload := map[string]any{
		"collectionName": c.collection,
		"data":           [][]float32{queryVector},
		"annsField":      vectorField,
		"limit":          k,
		"outputFields":   output,
		"searchParams":   map[string]any{"metricType": "COSINE"},
	}
	if expr := RenderExpr(filter); expr != "" {
		payload["filter"] = expr
	}

	var rows []map[string]any
	if err := c.call(ctx, "/v2/vectordb/entities/search", payload, &rows, "search"); err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, err
	}

	hits := make([]vector.Hit, 0, len(rows))
	for _, row := range rows {
		// COSINE reports similarity in the distance field.
		similarity, _ := vector.Number(row["distance"])
		hit := vector.Hit{
			ID:       fmt.Sprint(row[idField]),
			Doc:      docFromRow(row),
			Score:    similarity,
			Distance: 1 - similarity,
		}
		if withVectors {
			hit.Embedding = toFloat32s(row[vectorField])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (c *Client) Scan(ctx context.Context, filter domain.Filter, limit int) ([]domain.TextDoc, error) {
	payload := map[string]any{
		"collectionName": c.collection,
		"filter":         RenderExpr(filter),
		"limit":          limit,
		"outputFields":   []string{textField, metaField},
	}
	var rows []map[string]any
	if err := c.call(ctx, "/v2/vectordb/entities/query", payload, &rows, "query"); err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.TextDoc, 0, len(rows))
	for _, row := range rows {
		out = append(out, docFromRow(row))
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, filter domain.Filter) error {
	err := c.call(ctx, "/v2/vectordb/entities/delete", map[string]any{
		"collectionName": c.collection,
		"filter":         RenderExpr(filter),
	}, nil, "delete")
	if isMissing(err) {
		return nil
	}
	return err
}

func (c *Client) ensureCollection(ctx context.Context, dim int) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensuredDim == dim {
		return nil
	}

	var has struct {
		Has bool `json:"has"`
	}
	if err := c.call(ctx, "/v2/vectordb/collections/has", map[string]any{"collectionName": c.collection}, &has, "has collection"); err != nil {
		return err
	}
	if !has.Has {
		err := c.call(ctx, "/v2/vectordb/collections/create", map[string]any{
			"collectionName":   c.collection,
			"dimension":        dim,
			"metricType":       "COSINE",
			"idType":           "VarChar",
			"primaryFieldName": idField,
			"vectorFieldName":  vectorField,
			"params":           map[string]any{"max_length": 64, "enableDynamicField": true},
		}, nil, "create collection")
		if err != nil {
			return err
		}
	}
	c.ensuredDim = dim
	return nil
}

func docFromRow(row map[string]any) domain.TextDoc {
	doc := domain.TextDoc{Text: fmt.Sprint(row[textField])}
	if raw, ok := row[metaField].(string); ok && raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			doc.Metadata = meta
		}
	}
	return doc
}

func toFloat32s(v any) []float32 {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(items))
	for _, item := range items {
		f, _ := vector.Number(item)
		out = append(out, float32(f))
	}
	return out
}

func isMissing(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.collectionMissing()
}
