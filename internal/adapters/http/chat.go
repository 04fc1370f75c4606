package httpadapter

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// chatCompletionRequest accepts the streaming switch in two places: the
// top-level "stream" and "parameters.streaming". Either one set to true
// streams the answer.
type chatCompletionRequest struct {
	Query      string                  `json:"query"`
	Stream     bool                    `json:"stream"`
	TopN       int                     `json:"top_n"`
	HistoryID  string                  `json:"history_id"`
	UserID     string                  `json:"user_id"`
	Retrieval  domain.RetrievalRequest `json:"retrieval"`
	Parameters domain.LLMParams        `json:"parameters"`
}

func (req chatCompletionRequest) streaming() bool {
	return req.Stream || req.Parameters.Streaming
}

func (req chatCompletionRequest) toDomain(authorization string) domain.ChatRequest {
	return domain.ChatRequest{
		Query:         req.Query,
		Authorization: authorization,
		Retrieval:     req.Retrieval,
		RerankTopN:    req.TopN,
		LLM:           req.Parameters,
		HistoryID:     req.HistoryID,
		UserID:        req.UserID,
	}
}

func (rt *Router) chatCompletions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var body chatCompletionRequest
	if err := rt.decodeJSON(w, r, "chat", &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := body.toDomain(r.Header.Get("Authorization"))

	if !body.streaming() {
		generated, err := rt.services.Chat.Complete(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, generated)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = rt.services.Chat.Stream(r.Context(), req, stream.Send)
	switch {
	case err == nil:
		stream.Done()
	case !stream.started:
		// Nothing was sent yet, so the failure still gets a proper status.
		writeError(w, r, err)
	default:
		slog.Warn("chat_stream_aborted",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		stream.Fail()
	}
}

// sseWriter frames tokens as server-sent events. Headers are written with
// the first event so that failures before any token can still use a JSON
// error response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

// Send writes one token. Multi-line tokens become multi-line events, which
// clients join back with newlines.
func (s *sseWriter) Send(token string) error {
	s.start()
	var b strings.Builder
	for _, line := range strings.Split(token, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) Done() {
	s.start()
	_, _ = io.WriteString(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *sseWriter) Fail() {
	s.start()
	_, _ = io.WriteString(s.w, "data: [ERROR]\n\n")
	s.flusher.Flush()
}
