package domain

import (
	"fmt"
	"strings"
)

const (
	// DefaultListLimit применяется, если limit не передан.
	DefaultListLimit = 100
	maxIdentifierLen = 255
)

// RatingMessage возвращается клиенту при некорректной оценке.
const RatingMessage = "Rating must be an integer between 1 and 5"

// CreateMemoryParams содержит входные данные create_memory.
type CreateMemoryParams struct {
	ID          string
	TenantID    string
	UserID      string
	SessionID   string
	Content     string
	MessageType string
	Metadata    map[string]any
}

// Normalize обрезает пробелы и проставляет значения по умолчанию.
func (p *CreateMemoryParams) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.TenantID = strings.TrimSpace(p.TenantID)
	p.UserID = strings.TrimSpace(p.UserID)
	p.SessionID = strings.TrimSpace(p.SessionID)
	p.MessageType = strings.TrimSpace(p.MessageType)
	if p.MessageType == "" {
		p.MessageType = DefaultMessageType
	}
}

// Validate проверяет обязательные поля в порядке их объявления.
func (p CreateMemoryParams) Validate() error {
	if err := requireIdentifier("tenant_id", p.TenantID); err != nil {
		return err
	}
	if err := requireIdentifier("user_id", p.UserID); err != nil {
		return err
	}
	if err := requireIdentifier("session_id", p.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Content) == "" {
		return Required("content")
	}
	if err := optionalIdentifier("id", p.ID); err != nil {
		return err
	}
	return optionalIdentifier("message_type", p.MessageType)
}

// CreateFeedbackParams содержит входные данные create_feedback.
type CreateFeedbackParams struct {
	ID           string
	TenantID     string
	UserID       string
	ResponseID   string
	Rating       int
	FeedbackText string
	Metadata     map[string]any
}

// Normalize обрезает пробелы в идентификаторах.
func (p *CreateFeedbackParams) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.TenantID = strings.TrimSpace(p.TenantID)
	p.UserID = strings.TrimSpace(p.UserID)
	p.ResponseID = strings.TrimSpace(p.ResponseID)
}

// Validate проверяет обязательные поля и диапазон оценки.
func (p CreateFeedbackParams) Validate() error {
	if err := requireIdentifier("tenant_id", p.TenantID); err != nil {
		return err
	}
	if err := requireIdentifier("user_id", p.UserID); err != nil {
		return err
	}
	if err := requireIdentifier("response_id", p.ResponseID); err != nil {
		return err
	}
	if !ValidRating(p.Rating) {
		return Invalid("rating", RatingMessage)
	}
	return optionalIdentifier("id", p.ID)
}

// ValidRating сообщает, входит ли оценка в [MinRating, MaxRating].
func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

// MemoryFilter задаёт выборку list_memory.
type MemoryFilter struct {
	TenantID  string
	UserID    string
	SessionID string
	Limit     int
}

// Normalize обрезает пробелы и подставляет limit по умолчанию.
func (f *MemoryFilter) Normalize(maxLimit int) {
	f.TenantID = strings.TrimSpace(f.TenantID)
	f.UserID = strings.TrimSpace(f.UserID)
	f.SessionID = strings.TrimSpace(f.SessionID)
	f.Limit = clampLimit(f.Limit, maxLimit)
}

// Validate проверяет обязательный tenant_id.
func (f MemoryFilter) Validate() error {
	if err := requireIdentifier("tenant_id", f.TenantID); err != nil {
		return err
	}
	if err := optionalIdentifier("user_id", f.UserID); err != nil {
		return err
	}
	if err := optionalIdentifier("session_id", f.SessionID); err != nil {
		return err
	}
	return validLimit(f.Limit)
}

// FeedbackFilter задаёт выборку list_feedback.
type FeedbackFilter struct {
	TenantID   string
	UserID     string
	ResponseID string
	Limit      int
}

// Normalize обрезает пробелы и подставляет limit по умолчанию.
func (f *FeedbackFilter) Normalize(maxLimit int) {
	f.TenantID = strings.TrimSpace(f.TenantID)
	f.UserID = strings.TrimSpace(f.UserID)
	f.ResponseID = strings.TrimSpace(f.ResponseID)
	f.Limit = clampLimit(f.Limit, maxLimit)
}

// Validate проверяет обязательный tenant_id.
func (f FeedbackFilter) Validate() error {
	if err := requireIdentifier("tenant_id", f.TenantID); err != nil {
		return err
	}
	if err := optionalIdentifier("user_id", f.UserID); err != nil {
		return err
	}
	if err := optionalIdentifier("response_id", f.ResponseID); err != nil {
		return err
	}
	return validLimit(f.Limit)
}

func requireIdentifier(field, value string) error {
	if value == "" {
		return Required(field)
	}
	return optionalIdentifier(field, value)
}

func optionalIdentifier(field, value string) error {
	if len(value) > maxIdentifierLen {
		return Invalid(field, fmt.Sprintf("%s must be at most %d characters", field, maxIdentifierLen))
	}
	return nil
}

// clampLimit оставляет отрицательные значения как есть, чтобы Validate их отклонил.
func clampLimit(limit, maxLimit int) int {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func validLimit(limit int) error {
	if limit <= 0 {
		return Invalid("limit", "limit must be a positive integer")
	}
	return nil
}
