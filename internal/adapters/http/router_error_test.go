package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/enterprise-rag/internal/config"
	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.InvalidInput("op", "bad"), http.StatusBadRequest},
		{domain.WrapError(domain.ErrUnauthorized, "op", errors.New("token")), http.StatusUnauthorized},
		{domain.WrapError(domain.ErrNotFound, "op", errors.New("id")), http.StatusNotFound},
		{domain.WrapError(domain.ErrTimeout, "op", errors.New("slow")), http.StatusRequestTimeout},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{domain.WrapError(domain.ErrTemporary, "op", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrievalMapsInvalidInputTo400(t *testing.T) {
	services := newTestServices()
	services.retrieval.err = domain.InvalidInput("retrieve", "search type %q is not supported", "fuzzy")
	handler := services.handler(config.Config{})

	res := postJSON(t, handler, "/v1/retrieval", map[string]any{"text": "q", "search_type": "fuzzy"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "fuzzy") {
		t.Fatalf("client errors must keep their cause, got %s", res.Body.String())
	}
}

func TestInternalErrorsHideTheCause(t *testing.T) {
	services := newTestServices()
	services.retrieval.err = errors.New("redis: password=hunter2")
	handler := services.handler(config.Config{})

	res := postJSON(t, handler, "/v1/retrieval", map[string]any{"text": "q"})
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "hunter2") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}

func TestMalformedJSONIs400(t *testing.T) {
	handler := newTestServices().handler(config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieval", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	handler := NewRouter(config.Config{}, Services{
		Documents: docsFake{err: domain.WrapError(domain.ErrNotFound, "get", errors.New("id=missing"))},
	}, nil).Handler(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUnconfiguredServiceRoutesAreNotRegistered(t *testing.T) {
	handler := NewRouter(config.Config{}, Services{}, nil).Handler(context.Background())
	res := postJSON(t, handler, "/v1/chat/completions", map[string]any{"query": "q"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered route, got %d", res.Code)
	}
}
