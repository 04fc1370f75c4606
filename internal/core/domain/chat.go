package domain

import "time"

type ChatMessage struct {
	Question string    `json:"question" bson:"question"`
	Answer   string    `json:"answer" bson:"answer"`
	Metadata any       `json:"metadata,omitempty" bson:"metadata,omitempty"`
	At       time.Time `json:"at" bson:"at"`
}

type ChatHistory struct {
	ID        string        `json:"id" bson:"-"`
	UserID    string        `json:"user_id" bson:"user_id"`
	Title     string        `json:"title" bson:"title"`
	Messages  []ChatMessage `json:"messages" bson:"messages"`
	CreatedAt time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" bson:"updated_at"`
}

// Fingerprint records the effective configuration of a pipeline component.
type Fingerprint struct {
	ID         string         `json:"id" bson:"-"`
	Component  string         `json:"component" bson:"component"`
	Attributes map[string]any `json:"attributes" bson:"attributes"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
}

// ChatRequest drives one pass of the full pipeline: retrieve, rerank, generate.
type ChatRequest struct {
	Query         string
	Authorization string
	Retrieval     RetrievalRequest
	RerankTopN    int
	LLM           LLMParams
	HistoryID     string
	UserID        string
}

func (h *ChatHistory) SetID(id string) { h.ID = id }

func (f *Fingerprint) SetID(id string) { f.ID = id }
