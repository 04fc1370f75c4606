package httpadapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/config"
	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

type ingestFake struct {
	err  error
	last ports.UploadRequest
	body string
}

func (f *ingestFake) Upload(_ context.Context, req ports.UploadRequest) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.last = req
	f.body = string(raw)
	now := time.Now().UTC()
	return &domain.Document{
		ID:          "doc-1",
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		StoragePath: "doc-1/" + req.Filename,
		BucketName:  req.BucketName,
		ObjectName:  req.ObjectName,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Filename: "a.txt", Status: domain.StatusReady, ChunkCount: 3}, nil
}

type dataPrepFake struct {
	metadata map[string]any
}

func (f *dataPrepFake) Prepare(_ context.Context, filename string, body io.Reader, metadata map[string]any) ([]domain.TextDoc, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.metadata = metadata
	return []domain.TextDoc{{Text: string(raw), Metadata: map[string]any{domain.MetaPath: filename}}}, nil
}

type embedFake struct {
	texts []string
}

func (f *embedFake) EmbedTexts(_ context.Context, texts []string) ([]domain.EmbedDoc, error) {
	f.texts = texts
	out := make([]domain.EmbedDoc, len(texts))
	for i, text := range texts {
		out[i] = domain.EmbedDoc{Text: text, Embedding: []float32{float32(len(text))}}
	}
	return out, nil
}

type retrievalFake struct {
	err  error
	last domain.RetrievalRequest
}

func (f *retrievalFake) Retrieve(_ context.Context, req domain.RetrievalRequest) (*domain.SearchedDoc, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SearchedDoc{
		InitialQuery:  req.Query,
		RetrievedDocs: []domain.TextDoc{{Text: "passage"}},
		UserPrompt:    req.Query,
	}, nil
}

type rerankFake struct {
	topN int
	doc  domain.SearchedDoc
}

func (f *rerankFake) Rerank(_ context.Context, doc domain.SearchedDoc, topN int) (*domain.LLMParams, error) {
	f.topN = topN
	f.doc = doc
	params := domain.DefaultLLMParams()
	params.Query = "prompt for " + doc.InitialQuery
	return &params, nil
}

type chatFake struct {
	tokens []string
	err    error
	failAt int
	last   domain.ChatRequest
}

func (f *chatFake) Complete(_ context.Context, req domain.ChatRequest) (*domain.GeneratedDoc, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.GeneratedDoc{Text: "answer", Prompt: "prompt"}, nil
}

// Stream fails with f.err after failAt tokens; failAt 0 fails before any.
func (f *chatFake) Stream(_ context.Context, req domain.ChatRequest, emit func(string) error) error {
	f.last = req
	for i, token := range f.tokens {
		if f.err != nil && i == f.failAt {
			return f.err
		}
		if err := emit(token); err != nil {
			return err
		}
	}
	return f.err
}

type historyFake struct {
	items   map[string]domain.ChatHistory
	deleted []string
	userID  string
}

func newHistoryFake() *historyFake {
	return &historyFake{items: map[string]domain.ChatHistory{}}
}

func (f *historyFake) Create(_ context.Context, h *domain.ChatHistory) (string, error) {
	if h.UserID == "" {
		return "", domain.InvalidInput("create history", "user_id is required")
	}
	h.ID = "h-1"
	f.items[h.ID] = *h
	return h.ID, nil
}

func (f *historyFake) Get(_ context.Context, id string) (*domain.ChatHistory, error) {
	h, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get history", io.EOF)
	}
	return &h, nil
}

func (f *historyFake) List(_ context.Context, userID string) ([]domain.ChatHistory, error) {
	f.userID = userID
	out := make([]domain.ChatHistory, 0, len(f.items))
	for _, h := range f.items {
		out = append(out, h)
	}
	return out, nil
}

func (f *historyFake) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fingerprintFake struct {
	last domain.Fingerprint
}

func (f *fingerprintFake) Record(_ context.Context, fp *domain.Fingerprint) (string, error) {
	fp.ID = "fp-1"
	f.last = *fp
	return fp.ID, nil
}

func (f *fingerprintFake) Get(_ context.Context, id string) (*domain.Fingerprint, error) {
	if id != f.last.ID {
		return nil, domain.WrapError(domain.ErrNotFound, "get fingerprint", io.EOF)
	}
	fp := f.last
	return &fp, nil
}

type testServices struct {
	ingest      *ingestFake
	dataprep    *dataPrepFake
	embed       *embedFake
	retrieval   *retrievalFake
	rerank      *rerankFake
	chat        *chatFake
	history     *historyFake
	fingerprint *fingerprintFake
}

func newTestServices() *testServices {
	return &testServices{
		ingest:      &ingestFake{},
		dataprep:    &dataPrepFake{},
		embed:       &embedFake{},
		retrieval:   &retrievalFake{},
		rerank:      &rerankFake{},
		chat:        &chatFake{tokens: []string{"Hel", "lo"}},
		history:     newHistoryFake(),
		fingerprint: &fingerprintFake{},
	}
}

func (s *testServices) handler(cfg config.Config) http.Handler {
	if cfg.RerankTopN == 0 {
		cfg.RerankTopN = 2
	}
	return NewRouter(cfg, Services{
		Ingestor:     s.ingest,
		Documents:    docsFake{},
		DataPrep:     s.dataprep,
		Embeddings:   s.embed,
		Retrieval:    s.retrieval,
		Rerank:       s.rerank,
		Chat:         s.chat,
		History:      s.history,
		Fingerprints: s.fingerprint,
	}, nil).Handler(context.Background())
}
