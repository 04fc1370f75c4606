package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
	"github.com/kirillkom/enterprise-rag/internal/core/ports"
)

type HistoryUseCase struct {
	store ports.DocumentStore[domain.ChatHistory]
	now   func() time.Time
}

func NewHistoryUseCase(store ports.DocumentStore[domain.ChatHistory]) *HistoryUseCase {
	return &HistoryUseCase{store: store, now: time.Now}
}

func (uc *HistoryUseCase) Create(ctx context.Context, history *domain.ChatHistory) (string, error) {
	if history == nil || strings.TrimSpace(history.UserID) == "" {
		return "", domain.InvalidInput("create chat history", "user_id is required")
	}
	now := uc.now().UTC()
	history.CreatedAt, history.UpdatedAt = now, now
	if history.Messages == nil {
		history.Messages = []domain.ChatMessage{}
	}
	if history.Title == "" {
		history.Title = defaultTitle(history.Messages)
	}
	id, err := uc.store.Insert(ctx, history)
	if err != nil {
		return "", fmt.Errorf("insert chat history: %w", err)
	}
	return id, nil
}

func (uc *HistoryUseCase) Get(ctx context.Context, id string) (*domain.ChatHistory, error) {
	return uc.store.GetByID(ctx, id)
}

// List returns the histories of one user, or all of them for an empty id.
func (uc *HistoryUseCase) List(ctx context.Context, userID string) ([]domain.ChatHistory, error) {
	filter := map[string]any{}
	if userID != "" {
		filter["user_id"] = userID
	}
	return uc.store.GetAll(ctx, filter)
}

func (uc *HistoryUseCase) Delete(ctx context.Context, id string) error {
	return uc.store.Delete(ctx, id)
}

func (uc *HistoryUseCase) AppendMessage(ctx context.Context, id string, msg domain.ChatMessage) error {
	history, err := uc.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if msg.At.IsZero() {
		msg.At = uc.now().UTC()
	}
	history.Messages = append(history.Messages, msg)
	if history.Title == "" {
		history.Title = defaultTitle(history.Messages)
	}
	history.UpdatedAt = uc.now().UTC()
	return uc.store.Replace(ctx, id, history)
}

func defaultTitle(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	title := strings.TrimSpace(messages[0].Question)
	if r := []rune(title); len(r) > 64 {
		title = string(r[:64]) + "..."
	}
	return title
}

type FingerprintUseCase struct {
	store ports.DocumentStore[domain.Fingerprint]
	now   func() time.Time
}

func NewFingerprintUseCase(store ports.DocumentStore[domain.Fingerprint]) *FingerprintUseCase {
	return &FingerprintUseCase{store: store, now: time.Now}
}

func (uc *FingerprintUseCase) Record(ctx context.Context, fp *domain.Fingerprint) (string, error) {
	if fp == nil || strings.TrimSpace(fp.Component) == "" {
		return "", domain.InvalidInput("record fingerprint", "component is required")
	}
	if fp.Attributes == nil {
		fp.Attributes = map[string]any{}
	}
	fp.CreatedAt = uc.now().UTC()
	id, err := uc.store.Insert(ctx, fp)
	if err != nil {
		return "", fmt.Errorf("insert fingerprint: %w", err)
	}
	return id, nil
}

func (uc *FingerprintUseCase) Get(ctx context.Context, id string) (*domain.Fingerprint, error) {
	return uc.store.GetByID(ctx, id)
}
