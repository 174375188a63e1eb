package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"apex-api/internal/domain"
	"apex-api/internal/infra/metrics"
)

// sqliteTimeLayout фиксированной ширины: лексикографический порядок совпадает с временным.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLite реализует репозитории поверх database/sql и modernc.org/sqlite.
type SQLite struct {
	db     *sql.DB
	schema schemaGuard
}

var (
	_ domain.MemoryRepo    = (*SQLite)(nil)
	_ domain.FeedbackRepo  = (*SQLite)(nil)
	_ domain.HealthChecker = (*SQLite)(nil)
	_ domain.SchemaEnsurer = (*SQLite)(nil)
)

// NewSQLite создаёт адаптер поверх открытой базы.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// EnsureSchema создаёт обе таблицы.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for _, table := range []string{memoryTable, feedbackTable} {
		if err := s.schema.ensure(ctx, table, s.createTable); err != nil {
			return domain.WrapStorage("ensure_schema", err)
		}
	}
	return nil
}

func (s *SQLite) createTable(ctx context.Context, table string) error {
	for _, stmt := range sqliteSchema[table] {
		start := time.Now()
		_, err := s.db.ExecContext(ctx, stmt)
		metrics.ObserveNetworkRequest("sqlite", "ensure_schema", table, start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// Ping проверяет доступность файла базы.
func (s *SQLite) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// CreateMemory сохраняет запись памяти.
func (s *SQLite) CreateMemory(ctx context.Context, entry domain.MemoryEntry) (domain.MemoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.schema.ensure(ctx, memoryTable, s.createTable); err != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_ensure", err)
	}
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_encode_metadata", err)
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx, insertQuery(questionPlaceholders, memoryTable, memoryColumns),
		entry.ID, entry.TenantID, entry.UserID, entry.SessionID, entry.Content, entry.MessageType, nullableText(meta), formatTime(entry.CreatedAt))
	metrics.ObserveNetworkRequest("sqlite", "memory_insert", memoryTable, start, err)
	if err != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_insert", err)
	}
	return entry, nil
}

// ListMemory возвращает последние записи памяти арендатора.
func (s *SQLite) ListMemory(ctx context.Context, filter domain.MemoryFilter) ([]domain.MemoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.schema.ensure(ctx, memoryTable, s.createTable); err != nil {
		return nil, domain.WrapStorage("memory_ensure", err)
	}
	query, args := memoryListQuery(questionPlaceholders, filter.TenantID, filter.UserID, filter.SessionID, filter.Limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "memory_list", memoryTable, start, err)
	if err != nil {
		return nil, domain.WrapStorage("memory_list", err)
	}
	defer rows.Close()

	entries := make([]domain.MemoryEntry, 0)
	for rows.Next() {
		var (
			e       domain.MemoryEntry
			meta    sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.SessionID, &e.Content, &e.MessageType, &meta, &created); err != nil {
			return nil, domain.WrapStorage("memory_scan", err)
		}
		if e.Metadata, err = decodeMetadata([]byte(meta.String)); err != nil {
			return nil, domain.WrapStorage("memory_decode_metadata", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, domain.WrapStorage("memory_decode_created_at", err)
		}
		entries = append(entries, e)
	}
	return entries, domain.WrapStorage("memory_rows", rows.Err())
}

// CreateFeedback сохраняет отзыв.
func (s *SQLite) CreateFeedback(ctx context.Context, entry domain.FeedbackEntry) (domain.FeedbackEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.schema.ensure(ctx, feedbackTable, s.createTable); err != nil {
		return domain.FeedbackEntry{}, domain.WrapStorage("feedback_ensure", err)
	}
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return domain.FeedbackEntry{}, domain.WrapStorage("feedback_encode_metadata", err)
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx, insertQuery(questionPlaceholders, feedbackTable, feedbackColumns),
		entry.ID, entry.TenantID, entry.UserID, entry.ResponseID, entry.Rating, entry.FeedbackText, nullableText(meta), formatTime(entry.CreatedAt))
	metrics.ObserveNetworkRequest("sqlite", "feedback_insert", feedbackTable, start, err)
	if err != nil {
		return domain.FeedbackEntry{}, domain.WrapStorage("feedback_insert", err)
	}
	return entry, nil
}

// ListFeedback возвращает последние отзывы арендатора.
func (s *SQLite) ListFeedback(ctx context.Context, filter domain.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.schema.ensure(ctx, feedbackTable, s.createTable); err != nil {
		return nil, domain.WrapStorage("feedback_ensure", err)
	}
	query, args := feedbackListQuery(questionPlaceholders, filter.TenantID, filter.UserID, filter.ResponseID, filter.Limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveNetworkRequest("sqlite", "feedback_list", feedbackTable, start, err)
	if err != nil {
		return nil, domain.WrapStorage("feedback_list", err)
	}
	defer rows.Close()

	entries := make([]domain.FeedbackEntry, 0)
	for rows.Next() {
		var (
			e       domain.FeedbackEntry
			meta    sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.ResponseID, &e.Rating, &e.FeedbackText, &meta, &created); err != nil {
			return nil, domain.WrapStorage("feedback_scan", err)
		}
		if e.Metadata, err = decodeMetadata([]byte(meta.String)); err != nil {
			return nil, domain.WrapStorage("feedback_decode_metadata", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, domain.WrapStorage("feedback_decode_created_at", err)
		}
		entries = append(entries, e)
	}
	return entries, domain.WrapStorage("feedback_rows", rows.Err())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at %q: %w", value, err)
	}
	return t.UTC(), nil
}

func nullableText(raw []byte) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
