package domain

import (
	"context"
	"time"
)

// MemoryRepo хранит записи памяти.
type MemoryRepo interface {
	CreateMemory(ctx context.Context, entry MemoryEntry) (MemoryEntry, error)
	ListMemory(ctx context.Context, filter MemoryFilter) ([]MemoryEntry, error)
}

// FeedbackRepo хранит отзывы.
type FeedbackRepo interface {
	CreateFeedback(ctx context.Context, entry FeedbackEntry) (FeedbackEntry, error)
	ListFeedback(ctx context.Context, filter FeedbackFilter) ([]FeedbackEntry, error)
}

// SchemaEnsurer создаёт таблицы, если их ещё нет.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// HealthChecker проверяет доступность бэкенда.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}

// EventPublisher доставляет события о созданных записях.
type EventPublisher interface {
	Publish(ctx context.Context, event RecordEvent) error
}
