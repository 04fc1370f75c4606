package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.FixedBackoff(DefaultAttempts, time.Millisecond))
}

func TestScoreRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		var req rerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "q" || len(req.Texts) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`[{"index":1,"score":0.8},{"index":0,"score":0.1}]`))
	}))
	defer server.Close()

	client, err := New(server.URL, time.Second, fastExecutor())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	scores, err := client.Score(context.Background(), "q", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(scores) != 2 || scores[0].Index != 1 {
		t.Fatalf("unexpected scores %+v", scores)
	}
}

func TestScoreGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := New(server.URL, time.Second, fastExecutor())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := client.Score(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != DefaultAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultAttempts, calls.Load())
	}
}

func TestScoreRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":5,"score":0.8}]`))
	}))
	defer server.Close()

	client, _ := New(server.URL, time.Second, fastExecutor())
	if _, err := client.Score(context.Background(), "q", []string{"a"}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(" ", time.Second, nil); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
