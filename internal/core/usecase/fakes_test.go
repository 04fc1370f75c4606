package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

type repoFake struct {
	mu          sync.Mutex
	doc         *domain.Document
	created     *domain.Document
	createErr   error
	getErr      error
	statusErr   error
	chunkCount  int
	statusCalls []statusCall
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.created = &copyDoc
	return nil
}

func (f *repoFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *repoFake) UpdateStatus(_ context.Context, _ string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if status != domain.StatusFailed && f.statusErr != nil {
		return f.statusErr
	}
	return nil
}

func (f *repoFake) SaveChunkCount(_ context.Context, _ string, count int) error {
	f.chunkCount = count
	return nil
}

func (f *repoFake) lastStatus() statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusCalls) == 0 {
		return statusCall{}
	}
	return f.statusCalls[len(f.statusCalls)-1]
}

type storageFake struct {
	files   map[string]string
	deleted []string
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{files: map[string]string{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.files[key] = string(raw)
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.files, key)
	return nil
}

func (f *storageFake) LocalPath(key string) (string, error) {
	return "/data/" + key, nil
}

type queueFake struct {
	documentID string
	err        error
}

func (f *queueFake) PublishDocumentIngested(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.documentID = documentID
	return nil
}

func (f *queueFake) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type parserFake struct {
	text string
	err  error
	path string
}

func (f *parserFake) Parse(_ context.Context, path string) (string, error) {
	f.path = path
	return f.text, f.err
}

// wordSplitter cuts on spaces and records offsets like the real chunker.
type wordSplitter struct {
	err error
}

func (s wordSplitter) SplitDocuments(_ context.Context, docs []domain.TextDoc) ([]domain.TextDoc, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.TextDoc
	for _, doc := range docs {
		offset := 0
		for _, word := range strings.Fields(doc.Text) {
			idx := strings.Index(doc.Text[offset:], word) + offset
			out = append(out, domain.TextDoc{Text: word}.WithMetadata(doc.Metadata, map[string]any{domain.MetaStartIndex: idx}))
			offset = idx + len(word)
		}
	}
	return out, nil
}

type embedderFake struct {
	calls   int
	dropOne bool
	err     error
	queries []string
}

func (f *embedderFake) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.dropOne {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type searchCall struct {
	mode   string
	k      int
	filter domain.Filter
}

// vectorStoreFake serves hits by filter: summary filters get summaries,
// everything else gets chunks tagged with the filter's doc_id.
type vectorStoreFake struct {
	mu        sync.Mutex
	added     []domain.EmbedDoc
	deleted   [][2]string
	kept      [][]string
	ops       []string
	addErr    error
	searchErr error
	summaries []domain.TextDoc
	chunks    map[string][]domain.TextDoc
	hits      []domain.TextDoc
	calls     []searchCall
	inFlight  int
	peak      int
	delay     time.Duration
}

func (f *vectorStoreFake) AddTexts(_ context.Context, docs []domain.EmbedDoc) ([]string, error) {
	f.ops = append(f.ops, "add")
	if f.addErr != nil {
		return nil, f.addErr
	}
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = fmt.Sprintf("chunk-%d", len(f.added)+i)
	}
	f.added = append(f.added, docs...)
	return ids, nil
}

func (f *vectorStoreFake) record(mode string, k int, filter domain.Filter) []domain.ScoredDoc {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{mode: mode, k: k, filter: filter})
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	docs := f.hits
	if summary, docID, ok := summaryStage(filter); ok {
		if summary {
			docs = f.summaries
		} else {
			docs = f.chunks[docID]
		}
	}
	if len(docs) > k {
		docs = docs[:k]
	}
	out := make([]domain.ScoredDoc, len(docs))
	for i, d := range docs {
		out[i] = domain.ScoredDoc{Doc: d, Score: 1 - float64(i)/10}
	}
	return out
}

func summaryStage(f domain.Filter) (summary bool, docID string, ok bool) {
	for _, c := range f.Children {
		switch {
		case c.Op == domain.FilterRange && c.Field == domain.MetaSummary:
			ok, summary = true, c.Min == 1
		case c.Op == domain.FilterEq && c.Field == domain.MetaDocID:
			docID = c.Values[0]
		}
	}
	return summary, docID, ok
}

func (f *vectorStoreFake) SimilaritySearchByVector(_ context.Context, _ []float32, k int, filter domain.Filter) ([]domain.ScoredDoc, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.record("similarity", k, filter), nil
}

func (f *vectorStoreFake) SimilaritySearchWithRelevanceScores(_ context.Context, _ []float32, k int, _ float64, filter domain.Filter) ([]domain.ScoredDoc, error) {
	return f.record("score_threshold", k, filter), nil
}

func (f *vectorStoreFake) SimilaritySearchWithDistanceThreshold(_ context.Context, _ []float32, k int, _ float64, filter domain.Filter) ([]domain.ScoredDoc, error) {
	return f.record("distance_threshold", k, filter), nil
}

func (f *vectorStoreFake) MaxMarginalRelevanceSearch(_ context.Context, _ []float32, k, _ int, _ float64, filter domain.Filter) ([]domain.ScoredDoc, error) {
	return f.record("mmr", k, filter), nil
}

func (f *vectorStoreFake) SearchBySiblings(context.Context, string, int, int) ([]domain.TextDoc, error) {
	return nil, nil
}

func (f *vectorStoreFake) DeleteByObject(_ context.Context, bucket, object string, keep ...string) error {
	f.ops = append(f.ops, "delete")
	f.deleted = append(f.deleted, [2]string{bucket, object})
	f.kept = append(f.kept, keep)
	return nil
}

type llmFake struct {
	text   string
	tokens []string
	err    error
	params []domain.LLMParams
	failAt int
}

func (f *llmFake) Generate(_ context.Context, params domain.LLMParams) (*domain.GeneratedDoc, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.GeneratedDoc{Text: f.text, Prompt: params.Query}, nil
}

func (f *llmFake) Stream(_ context.Context, params domain.LLMParams, emit func(string) error) error {
	f.params = append(f.params, params)
	for i, token := range f.tokens {
		if f.err != nil && i == f.failAt {
			return f.err
		}
		if err := emit(token); err != nil {
			return err
		}
	}
	return nil
}

type metricsFake struct {
	mu            sync.Mutex
	retrievals    []int
	fallbacks     int
	streamErrors  int
	started       int
	finishedErr   []error
	finishedCount []int
}

func (m *metricsFake) ObserveRetrieval(_ string, docs int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals = append(m.retrievals, docs)
}
func (m *metricsFake) RerankFallback() { m.fallbacks++ }
func (m *metricsFake) StreamError()    { m.streamErrors++ }
func (m *metricsFake) StartDocument()  { m.started++ }

func (m *metricsFake) FinishDocument(_ time.Duration, chunks int, err error) {
	m.finishedCount = append(m.finishedCount, chunks)
	m.finishedErr = append(m.finishedErr, err)
}
func (m *metricsFake) ObserveQueueLag(time.Duration) {}

// memStore is an in-memory ports.DocumentStore.
type memStore[T any] struct {
	next       int
	docs       map[string]T
	lastFilter map[string]any
}

func newMemStore[T any]() *memStore[T] {
	return &memStore[T]{docs: map[string]T{}}
}

func (s *memStore[T]) Insert(_ context.Context, doc *T) (string, error) {
	s.next++
	id := fmt.Sprintf("id-%d", s.next)
	s.docs[id] = *doc
	return id, nil
}

func (s *memStore[T]) GetByID(_ context.Context, id string) (*T, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get", errors.New(id))
	}
	return &doc, nil
}

func (s *memStore[T]) GetAll(_ context.Context, filter map[string]any) ([]T, error) {
	s.lastFilter = filter
	out := make([]T, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

func (s *memStore[T]) Replace(_ context.Context, id string, doc *T) error {
	if _, ok := s.docs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "replace", errors.New(id))
	}
	s.docs[id] = *doc
	return nil
}

func (s *memStore[T]) Delete(_ context.Context, id string) error {
	if _, ok := s.docs[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "delete", errors.New(id))
	}
	delete(s.docs, id)
	return nil
}
