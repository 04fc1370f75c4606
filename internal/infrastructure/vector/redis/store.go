package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/vector"
)

const (
	contentField  = "content"
	metadataField = "metadata"
	vectorField   = "content_vector"
	distanceAlias = "vector_distance"
	deleteBatch   = 1000
)

// Doer is the part of a go-redis client the store needs. RediSearch has no
// typed API in go-redis, so every call goes through Do.
type Doer interface {
	Do(ctx context.Context, args ...any) *goredis.Cmd
}

// NewClient connects with RESP2 so FT.SEARCH replies keep their flat array shape.
func NewClient(url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.Protocol = 2
	return goredis.NewClient(opt), nil
}

// Store is a vector.Backend over a RediSearch HNSW index of hashes.
type Store struct {
	client Doer
	index  string
	prefix string

	ensureMu   sync.Mutex
	ensuredDim int
}

func New(client Doer, index string) *Store {
	return &Store{client: client, index: index, prefix: "doc:" + index + ":"}
}

func (s *Store) Name() string {
	return "redis"
}

func (s *Store) Add(ctx context.Context, ids []string, docs []domain.EmbedDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureIndex(ctx, len(docs[0].Embedding)); err != nil {
		return err
	}

	for i, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		args := []any{"HSET", s.prefix + ids[i],
			contentField, doc.Text,
			metadataField, string(meta),
			vectorField, encodeVector(doc.Embedding),
		}
		for k, v := range vector.FilterFields(doc.Metadata) {
			args = append(args, k, formatValue(v))
		}
		if err := s.client.Do(ctx, args...).Err(); err != nil {
			return fmt.Errorf("redis hset: %w", err)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, queryVector []float32, k int, filter domain.Filter, withVectors bool) ([]vector.Hit, error) {
	base := RenderQuery(filter)
	if base != "*" {
		base = "(" + base + ")"
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $vec AS %s]", base, k, vectorField, distanceAlias)

	returnFields := []any{contentField, metadataField, distanceAlias}
	if withVectors {
		returnFields = append(returnFields, vectorField)
	}
	args := []any{"FT.SEARCH", s.index, query,
		"PARAMS", 2, "vec", encodeVector(queryVector),
		"SORTBY", distanceAlias, "ASC",
		"RETURN", len(returnFields)}
	args = append(args, returnFields...)
	args = append(args, "LIMIT", 0, k, "DIALECT", 2)

	docs, err := s.search(ctx, args)
	if err != nil {
		return nil, err
	}

	hits := make([]vector.Hit, 0, len(docs))
	for _, d := range docs {
		distance, _ := strconv.ParseFloat(d.fields[distanceAlias], 64)
		hit := vector.Hit{
			ID:       strings.TrimPrefix(d.key, s.prefix),
			Doc:      d.textDoc(),
			Score:    1 - distance,
			Distance: distance,
		}
		if withVectors {
			hit.Embedding = decodeVector(d.fields[vectorField])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) Scan(ctx context.Context, filter domain.Filter, limit int) ([]domain.TextDoc, error) {
	args := []any{"FT.SEARCH", s.index, RenderQuery(filter),
		"RETURN", 2, contentField, metadataField,
		"LIMIT", 0, limit, "DIALECT", 2}
	docs, err := s.search(ctx, args)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TextDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.textDoc())
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, filter domain.Filter) error {
	for {
		args := []any{"FT.SEARCH", s.index, RenderQuery(filter), "NOCONTENT", "LIMIT", 0, deleteBatch, "DIALECT", 2}
		docs, err := s.search(ctx, args)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		del := []any{"DEL"}
		for _, d := range docs {
			del = append(del, d.key)
		}
		if err := s.client.Do(ctx, del...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		if len(docs) < deleteBatch {
			return nil
		}
	}
}

func (s *Store) ensureIndex(ctx context.Context, dim int) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensuredDim == dim {
		return nil
	}

	if err := s.client.Do(ctx, "FT.INFO", s.index).Err(); err == nil {
		s.ensuredDim = dim
		return nil
	} else if !isUnknownIndex(err) {
		return fmt.Errorf("redis ft.info: %w", err)
	}

	args := []any{"FT.CREATE", s.index, "ON", "HASH", "PREFIX", 1, s.prefix, "SCHEMA", contentField, "TEXT"}
	for _, f := range vector.TagFields {
		args = append(args, f, "TAG")
	}
	for _, f := range vector.NumericFields {
		args = append(args, f, "NUMERIC")
	}
	args = append(args, vectorField, "VECTOR", "HNSW", 6, "TYPE", "FLOAT32", "DIM", dim, "DISTANCE_METRIC", "COSINE")

	if err := s.client.Do(ctx, args...).Err(); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("redis ft.create: %w", err)
	}
	s.ensuredDim = dim
	return nil
}

type searchDoc struct {
	key    string
	fields map[string]string
}

func (d searchDoc) textDoc() domain.TextDoc {
	doc := domain.TextDoc{Text: d.fields[contentField]}
	if raw := d.fields[metadataField]; raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			doc.Metadata = meta
		}
	}
	return doc
}

func (s *Store) search(ctx context.Context, args []any) ([]searchDoc, error) {
	res, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		if isUnknownIndex(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis ft.search: %w", err)
	}
	return parseSearchReply(res)
}

// parseSearchReply reads the RESP2 reply [total, key1, [f, v, ...], key2, ...].
// NOCONTENT replies omit the field arrays.
func parseSearchReply(res any) ([]searchDoc, error) {
	rows, ok := res.([]any)
	if !ok || len(rows) == 0 {
		return nil, fmt.Errorf("redis ft.search: unexpected reply type %T", res)
	}

	out := make([]searchDoc, 0, len(rows)/2)
	for i := 1; i < len(rows); i++ {
		key := fmt.Sprint(rows[i])
		doc := searchDoc{key: key, fields: map[string]string{}}
		if i+1 < len(rows) {
			if pairs, ok := rows[i+1].([]any); ok {
				for j := 0; j+1 < len(pairs); j += 2 {
					doc.fields[fmt.Sprint(pairs[j])] = fmt.Sprint(pairs[j+1])
				}
				i++
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index") || strings.Contains(msg, "not found")
}

func encodeVector(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func decodeVector(raw string) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(raw[i*4 : i*4+4])))
	}
	return out
}

func formatValue(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
