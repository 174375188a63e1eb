package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

const (
	memoryTable   = "memory"
	feedbackTable = "feedback"
)

var postgresSchema = map[string][]string{
	memoryTable: {
		`CREATE TABLE IF NOT EXISTS memory (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    session_id   TEXT NOT NULL,
    content      TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'chat',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    metadata     JSONB
)`,
		`CREATE INDEX IF NOT EXISTS memory_tenant_created_idx ON memory (tenant_id, created_at DESC)`,
	},
	feedbackTable: {
		`CREATE TABLE IF NOT EXISTS feedback (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    response_id   TEXT NOT NULL,
    feedback_text TEXT NOT NULL DEFAULT '',
    rating        INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    metadata      JSONB
)`,
		`CREATE INDEX IF NOT EXISTS feedback_tenant_created_idx ON feedback (tenant_id, created_at DESC)`,
	},
}

var sqliteSchema = map[string][]string{
	memoryTable: {
		`CREATE TABLE IF NOT EXISTS memory (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    session_id   TEXT NOT NULL,
    content      TEXT NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'chat',
    created_at   TEXT NOT NULL,
    metadata     TEXT
)`,
		`CREATE INDEX IF NOT EXISTS memory_tenant_created_idx ON memory (tenant_id, created_at DESC)`,
	},
	feedbackTable: {
		`CREATE TABLE IF NOT EXISTS feedback (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    response_id   TEXT NOT NULL,
    feedback_text TEXT NOT NULL DEFAULT '',
    rating        INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
    created_at    TEXT NOT NULL,
    metadata      TEXT
)`,
		`CREATE INDEX IF NOT EXISTS feedback_tenant_created_idx ON feedback (tenant_id, created_at DESC)`,
	},
}

// schemaGuard запоминает таблицы, для которых схема уже создана.
// Неудачная попытка не запоминается и повторяется при следующем обращении.
type schemaGuard struct {
	mu    sync.Mutex
	ready map[string]bool
}

func (g *schemaGuard) ensure(ctx context.Context, table string, create func(ctx context.Context, table string) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready[table] {
		return nil
	}
	if err := create(ctx, table); err != nil {
		return err
	}
	if g.ready == nil {
		g.ready = make(map[string]bool)
	}
	g.ready[table] = true
	return nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	// Числа остаются json.Number: float64 теряет целые больше 2^53.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	return meta, nil
}
