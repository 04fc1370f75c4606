package domain

import "fmt"

// Metadata keys shared by loaders, splitters and vector stores.
const (
	MetaPath       = "path"
	MetaStartIndex = "start_index"
	MetaBucketName = "bucket_name"
	MetaObjectName = "object_name"
	MetaDocID      = "doc_id"
	MetaFileID     = "file_id"
	MetaPage       = "page"
	MetaSummary    = "summary"
	MetaChunkID    = "chunk_id"
)

type TextDoc struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WithMetadata returns a copy of the doc carrying the parent's metadata plus extra keys.
func (d TextDoc) WithMetadata(parent map[string]any, extra map[string]any) TextDoc {
	merged := make(map[string]any, len(parent)+len(extra))
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return TextDoc{Text: d.Text, Metadata: merged}
}

func (d TextDoc) MetaString(key string) string {
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

type EmbedDoc struct {
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type SearchedDoc struct {
	InitialQuery  string    `json:"initial_query"`
	RetrievedDocs []TextDoc `json:"retrieved_docs"`
	UserPrompt    string    `json:"user_prompt,omitempty"`
}

type LLMParams struct {
	Query             string  `json:"query"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	Temperature       float64 `json:"temperature"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Streaming         bool    `json:"streaming"`
}

// DefaultLLMParams mirrors the generation defaults of the chat endpoint.
func DefaultLLMParams() LLMParams {
	return LLMParams{
		MaxNewTokens:      1024,
		TopK:              10,
		TopP:              0.95,
		Temperature:       0.01,
		RepetitionPenalty: 1.03,
		Streaming:         true,
	}
}

type GeneratedDoc struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}
