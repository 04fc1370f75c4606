package httpadapter

import (
	"net/http"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

func (rt *Router) chatHistoryCollection(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		histories, err := rt.services.History.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("user_id")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, histories)
		return
	}

	var history domain.ChatHistory
	if err := rt.decodeJSON(w, r, "create history", &history); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := rt.services.History.Create(r.Context(), &history)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (rt *Router) chatHistoryItem(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	id := pathID(r, "/v1/chat/history/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "history id is required"})
		return
	}

	if r.Method == http.MethodDelete {
		if err := rt.services.History.Delete(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	history, err := rt.services.History.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (rt *Router) recordFingerprint(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var fp domain.Fingerprint
	if err := rt.decodeJSON(w, r, "record fingerprint", &fp); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := rt.services.Fingerprints.Record(r.Context(), &fp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (rt *Router) getFingerprint(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	id := pathID(r, "/v1/fingerprint/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fingerprint id is required"})
		return
	}

	fp, err := rt.services.Fingerprints.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}
