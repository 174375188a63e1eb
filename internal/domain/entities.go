package domain

import "time"

// RecordKind различает виды записей хранилища.
type RecordKind string

const (
	RecordKindMemory   RecordKind = "memory"
	RecordKindFeedback RecordKind = "feedback"
)

// DefaultMessageType используется, если тип сообщения не передан.
const DefaultMessageType = "chat"

const (
	MinRating = 1
	MaxRating = 5
)

// MemoryEntry описывает сообщение из истории диалога арендатора.
type MemoryEntry struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FeedbackEntry описывает оценку ответа пользователем.
type FeedbackEntry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id"`
	ResponseID   string         `json:"response_id"`
	Rating       int            `json:"rating"`
	FeedbackText string         `json:"feedback_text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
