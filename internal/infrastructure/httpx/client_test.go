package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

func TestPostJSONIncludesBodyInStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New("tei", server.URL, time.Second)
	err := client.PostJSON(context.Background(), "/embed", map[string]any{"inputs": []string{"a"}}, &struct{}{}, "embed")
	if err == nil {
		t.Fatalf("expected error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %T", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", statusErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(Wrap("embed", err), domain.ErrTemporary) {
		t.Fatalf("expected 502 to be wrapped as temporary")
	}
}

func TestWrapMapsTimeoutToTimeoutKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New("vllm", server.URL, 10*time.Millisecond)
	err := client.GetJSON(context.Background(), "/health", &struct{}{}, "health")
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !domain.IsKind(Wrap("health", err), domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", Wrap("health", err))
	}
}

func TestWrapLeavesClientErrorsUntagged(t *testing.T) {
	err := &StatusError{Service: "tei", Operation: "embed", StatusCode: http.StatusUnprocessableEntity, Status: "422"}
	wrapped := Wrap("embed", err)
	if domain.IsKind(wrapped, domain.ErrTemporary) || domain.IsKind(wrapped, domain.ErrTimeout) {
		t.Fatalf("422 must not be tagged as transient: %v", wrapped)
	}
}

func TestClientSendsConfiguredHeaders(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New("qdrant", server.URL+"/", time.Second).WithHeader("Authorization", "Bearer t")
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.GetJSON(context.Background(), "collections", &out, "list"); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if !out.OK || auth != "Bearer t" {
		t.Fatalf("unexpected result ok=%v auth=%q", out.OK, auth)
	}
}
