package milvus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

func TestAddCreatesCollectionWhenMissing(t *testing.T) {
	var creates, inserts atomic.Int32
	var inserted map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		switch r.URL.Path {
		case "/v2/vectordb/collections/has":
			_, _ = w.Write([]byte(`{"code":0,"data":{"has":false}}`))
		case "/v2/vectordb/collections/create":
			creates.Add(1)
			_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
		case "/v2/vectordb/entities/insert":
			inserts.Add(1)
			_ = json.NewDecoder(r.Body).Decode(&inserted)
			_, _ = w.Write([]byte(`{"code":0,"data":{"insertCount":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "rag", "tok")
	docs := []domain.EmbedDoc{{Text: "t", Embedding: []float32{1, 2}, Metadata: map[string]any{domain.MetaPage: 3}}}
	for i := 0; i < 2; i++ {
		if err := client.Add(context.Background(), []string{"id"}, docs); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if creates.Load() != 1 || inserts.Load() != 2 {
		t.Fatalf("expected 1 create and 2 inserts, got %d and %d", creates.Load(), inserts.Load())
	}
	rows := inserted["data"].([]any)
	row := rows[0].(map[string]any)
	if row["page"] != float64(3) || row["text"] != "t" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestQueryMapsSimilarityAndFilter(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{"code":0,"data":[{"id":"a","distance":0.75,"text":"hello","metadata":"{\"page\":2}","vector":[0.1,0.2]}]}`))
	}))
	defer server.Close()

	hits, err := New(server.URL, "rag", "").Query(context.Background(), []float32{1}, 5, domain.Eq(domain.MetaSummary, "1"), true)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Score != 0.75 || hits[0].Distance != 0.25 || hits[0].Doc.MetaString("page") != "2" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if len(hits[0].Embedding) != 2 {
		t.Fatalf("expected embedding, got %v", hits[0].Embedding)
	}
	if payload["filter"] != "summary == 1" {
		t.Fatalf("unexpected filter %v", payload["filter"])
	}
}

func TestAPIErrorCodeIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":1100,"message":"invalid parameter"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "rag", "").Scan(context.Background(), domain.Filter{}, 10)
	if err == nil {
		t.Fatalf("expected api error")
	}
}

func TestMissingCollectionSearchIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":100,"message":"collection not found[collection=rag]"}`))
	}))
	defer server.Close()

	hits, err := New(server.URL, "rag", "").Query(context.Background(), []float32{1}, 5, domain.Filter{}, false)
	if err != nil || len(hits) != 0 {
		t.Fatalf("expected empty result, got %v, %v", hits, err)
	}
}

func TestRenderExpr(t *testing.T) {
	f := domain.And(
		domain.In(domain.MetaBucketName, "a", `b"q`),
		domain.Or(domain.Eq(domain.MetaDocID, "d1"), domain.Range(domain.MetaStartIndex, 10, 20)),
	)
	want := `(bucket_name in ["a", "b\"q"] and (doc_id == "d1" or (start_index >= 10 and start_index <= 20)))`
	if got := RenderExpr(f); got != want {
		t.Fatalf("RenderExpr()\n got %s\nwant %s", got, want)
	}
	if got := RenderExpr(domain.Filter{}); got != "" {
		t.Fatalf("expected empty expression, got %q", got)
	}
	not := domain.And(domain.Eq(domain.MetaObjectName, "a"), domain.Not(domain.In(domain.MetaChunkID, "x")))
	if got := RenderExpr(not); got != `(object_name == "a" and not (chunk_id in ["x"]))` {
		t.Fatalf("RenderExpr(not) = %s", got)
	}
}
