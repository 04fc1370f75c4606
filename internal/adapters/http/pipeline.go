package httpadapter

import (
	"net/http"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

type embeddingRequest struct {
	Text  string   `json:"text"`
	Texts []string `json:"texts"`
}

// embed accepts either a single "text" (answered with one EmbedDoc) or a
// "texts" batch (answered with a list in input order).
func (rt *Router) embed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req embeddingRequest
	if err := rt.decodeJSON(w, r, "embeddings", &req); err != nil {
		writeError(w, r, err)
		return
	}

	single := len(req.Texts) == 0
	texts := req.Texts
	if single {
		if strings.TrimSpace(req.Text) == "" {
			writeError(w, r, domain.InvalidInput("embeddings", "either 'text' or 'texts' is required"))
			return
		}
		texts = []string{req.Text}
	}

	docs, err := rt.services.Embeddings.EmbedTexts(r.Context(), texts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if single {
		writeJSON(w, http.StatusOK, docs[0])
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": docs})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req domain.RetrievalRequest
	if err := rt.decodeJSON(w, r, "retrieval", &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Authorization = r.Header.Get("Authorization")

	searched, err := rt.services.Retrieval.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searched)
}

type rerankRequest struct {
	domain.SearchedDoc
	TopN int `json:"top_n"`
}

func (rt *Router) rerank(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req rerankRequest
	if err := rt.decodeJSON(w, r, "reranking", &req); err != nil {
		writeError(w, r, err)
		return
	}
	topN := req.TopN
	if topN < 1 {
		topN = max(rt.cfg.RerankTopN, 1)
	}

	params, err := rt.services.Rerank.Rerank(r.Context(), req.SearchedDoc, topN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}
