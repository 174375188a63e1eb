package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"apex-api/internal/domain"
	"apex-api/internal/infra/metrics"
)

const queryTimeout = 5 * time.Second

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool   *pgxpool.Pool
	schema schemaGuard
}

var (
	_ domain.MemoryRepo    = (*Postgres)(nil)
	_ domain.FeedbackRepo  = (*Postgres)(nil)
	_ domain.HealthChecker = (*Postgres)(nil)
	_ domain.SchemaEnsurer = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), queryTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// EnsureSchema создаёт обе таблицы.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	for _, table := range []string{memoryTable, feedbackTable} {
		if err := p.schema.ensure(ctx, table, p.createTable); err != nil {
			return domain.WrapStorage("ensure_schema", err)
		}
	}
	return nil
}

func (p *Postgres) createTable(ctx context.Context, table string) error {
	for _, stmt := range postgresSchema[table] {
		start := time.Now()
		_, err := p.pool.Exec(ctx, stmt)
		metrics.ObserveNetworkRequest("postgres", "ensure_schema", table, start, err)
		if err != nil && !isConcurrentDDL(err) {
			return err
		}
	}
	return nil
}

// isConcurrentDDL распознаёт гонку CREATE ... IF NOT EXISTS между инстансами.
func isConcurrentDDL(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "42P07", "42710":
		return true
	}
	return false
}

// Ping проверяет соединение с БД.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.Ping(ctx)
	metrics.ObserveNetworkRequest("postgres", "ping", "pool", start, err)
	return err
}

// CreateMemory сохраняет запись памяти.
func (p *Postgres) CreateMemory(ctx context.Context, entry domain.MemoryEntry) (domain.MemoryEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if err := p.schema.ensure(ctx, memoryTable, p.createTable); err != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_ensure", err)
	}
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_encode_metadata", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, insertQuery(dollarPlaceholders, memoryTable, memoryColumns),
		entry.ID, entry.TenantID, entry.UserID, entry.SessionID, entry.Content, entry.MessageType, meta, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "memory_insert", memoryTable, start, err)
	if err != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_insert", err)
	}
	return entry, nil
}

// ListMemory возвращает последние записи памяти арендатора.
func (p *Postgres) ListMemory(ctx context.Context, filter domain.MemoryFilter) ([]domain.MemoryEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if err := p.schema.ensure(ctx, memoryTable, p.createTable); err != nil {
		return nil, domain.WrapStorage("memory_ensure", err)
	}
	query, args := memoryListQuery(dollarPlaceholders, filter.TenantID, filter.UserID, filter.SessionID, filter.Limit)

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "memory_list", memoryTable, start, err)
	if err != nil {
		return nil, domain.WrapStorage("memory_list", err)
	}
	defer rows.Close()

	entries := make([]domain.MemoryEntry, 0)
	for rows.Next() {
		var (
			e    domain.MemoryEntry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.SessionID, &e.Content, &e.MessageType, &meta, &e.CreatedAt); err != nil {
			return nil, domain.WrapStorage("memory_scan", err)
		}
		if e.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, domain.WrapStorage("memory_decode_metadata", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, domain.WrapStorage("memory_rows", rows.Err())
}

// CreateFeedback сохраняет отзыв.
func (p *Postgres) CreateFeedback(ctx context.Context, entry domain.FeedbackEntry) (domain.FeedbackEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if err := p.schema.ensure(ctx, feedbackTable, p.createTable); err != nil {
		return domain.FeedbackEntry{}, domain.WrapStorage("feedback_ensure", err)
	}
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return domain.FeedbackEntry{}, domain.WrapStorage("feedback_encode_metadata", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, insertQuery(dollarPlaceholders, feedbackTable, feedbackColumns),
		entry.ID, entry.TenantID, entry.UserID, entry.ResponseID, entry.Rating, entry.FeedbackText, meta, entry.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "feedback_insert", feedbackTable, start, err)
	if err != nil {
		return domain.FeedbackEntry{}, domain.WrapStorage("feedback_insert", err)
	}
	return entry, nil
}

// ListFeedback возвращает последние отзывы арендатора.
func (p *Postgres) ListFeedback(ctx context.Context, filter domain.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if err := p.schema.ensure(ctx, feedbackTable, p.createTable); err != nil {
		return nil, domain.WrapStorage("feedback_ensure", err)
	}
	query, args := feedbackListQuery(dollarPlaceholders, filter.TenantID, filter.UserID, filter.ResponseID, filter.Limit)

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "feedback_list", feedbackTable, start, err)
	if err != nil {
		return nil, domain.WrapStorage("feedback_list", err)
	}
	defer rows.Close()

	entries := make([]domain.FeedbackEntry, 0)
	for rows.Next() {
		var (
			e    domain.FeedbackEntry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.ResponseID, &e.Rating, &e.FeedbackText, &meta, &e.CreatedAt); err != nil {
			return nil, domain.WrapStorage("feedback_scan", err)
		}
		if e.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, domain.WrapStorage("feedback_decode_metadata", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, domain.WrapStorage("feedback_rows", rows.Err())
}
