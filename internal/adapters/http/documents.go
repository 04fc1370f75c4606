package httpadapter

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	file, fileHeader, err := rt.formFile(w, r, "upload")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	doc, err := rt.services.Ingestor.Upload(r.Context(), ports.UploadRequest{
		Filename:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get("Content-Type"),
		BucketName: strings.TrimSpace(r.FormValue("bucket_name")),
		ObjectName: strings.TrimSpace(r.FormValue("object_name")),
		Body:       file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	id := pathID(r, "/v1/documents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	doc, err := rt.services.Documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// prepareData parses and splits an uploaded file without indexing it. An
// optional "metadata" form field holds a JSON object copied onto every chunk.
func (rt *Router) prepareData(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	file, fileHeader, err := rt.formFile(w, r, "dataprep")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	var metadata map[string]any
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "dataprep", err))
			return
		}
	}

	docs, err := rt.services.DataPrep.Prepare(r.Context(), fileHeader.Filename, file, metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (rt *Router) formFile(w http.ResponseWriter, r *http.Request, op string) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxBodyBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, domain.InvalidInput(op, "upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, domain.InvalidInput(op, "multipart field 'file' is required")
	}
	return file, header, nil
}
