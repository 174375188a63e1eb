package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"apex-api/internal/domain"
	"apex-api/internal/infra/metrics"
)

const (
	cachePrefix   = "apex:records"
	healthTimeout = 2 * time.Second
)

// Service реализует операции хранилища записей арендаторов.
type Service struct {
	memory   domain.MemoryRepo
	feedback domain.FeedbackRepo
	health   domain.HealthChecker

	cache         domain.Cache
	cacheTTL      time.Duration
	events        domain.EventPublisher
	eventsBackend string

	// stale хранит ключи версий, которые не удалось увеличить: их кэш не читаем.
	staleMu sync.Mutex
	stale   map[string]struct{}

	maxLimit int
	clock    *clock
	newID    func() string
	log      zerolog.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithHealthChecker задаёт проверку доступности хранилища.
func WithHealthChecker(h domain.HealthChecker) Option {
	return func(s *Service) { s.health = h }
}

// WithListCache включает кэширование выборок.
func WithListCache(c domain.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithEvents включает публикацию событий; backend используется как метка метрик.
func WithEvents(p domain.EventPublisher, backend string) Option {
	return func(s *Service) {
		s.events = p
		s.eventsBackend = backend
	}
}

// WithMaxLimit ограничивает limit выборок.
func WithMaxLimit(n int) Option {
	return func(s *Service) { s.maxLimit = n }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = newClock(now) }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService создаёт сервис записей.
func NewService(memory domain.MemoryRepo, feedback domain.FeedbackRepo, opts ...Option) *Service {
	s := &Service{
		memory:   memory,
		feedback: feedback,
		clock:    newClock(nil),
		newID:    uuid.NewString,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMemory проверяет и сохраняет запись памяти.
func (s *Service) CreateMemory(ctx context.Context, params domain.CreateMemoryParams) (domain.MemoryEntry, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		s.rejected(domain.RecordKindMemory, err)
		return domain.MemoryEntry{}, err
	}
	entry := domain.MemoryEntry{
		ID:          params.ID,
		TenantID:    params.TenantID,
		UserID:      params.UserID,
		SessionID:   params.SessionID,
		Content:     params.Content,
		MessageType: params.MessageType,
		Metadata:    params.Metadata,
	}
	if entry.ID == "" {
		entry.ID = s.newID()
	}
	entry.CreatedAt = s.clock.Next()

	stored, err := s.memory.CreateMemory(ctx, entry)
	if err != nil {
		return domain.MemoryEntry{}, err
	}
	metrics.IncRecordCreated(string(domain.RecordKindMemory))
	s.log.Debug().Str("tenant_id", stored.TenantID).Str("id", stored.ID).Msg("records: memory entry created")
	s.afterCreate(ctx, domain.RecordKindMemory, stored.TenantID, stored.ID, stored.CreatedAt, stored)
	return stored, nil
}

// CreateFeedback проверяет и сохраняет отзыв.
func (s *Service) CreateFeedback(ctx context.Context, params domain.CreateFeedbackParams) (domain.FeedbackEntry, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		s.rejected(domain.RecordKindFeedback, err)
		return domain.FeedbackEntry{}, err
	}
	entry := domain.FeedbackEntry{
		ID:           params.ID,
		TenantID:     params.TenantID,
		UserID:       params.UserID,
		ResponseID:   params.ResponseID,
		Rating:       params.Rating,
		FeedbackText: params.FeedbackText,
		Metadata:     params.Metadata,
	}
	if entry.ID == "" {
		entry.ID = s.newID()
	}
	entry.CreatedAt = s.clock.Next()

	stored, err := s.feedback.CreateFeedback(ctx, entry)
	if err != nil {
		return domain.FeedbackEntry{}, err
	}
	metrics.IncRecordCreated(string(domain.RecordKindFeedback))
	s.log.Debug().Str("tenant_id", stored.TenantID).Str("id", stored.ID).Msg("records: feedback entry created")
	s.afterCreate(ctx, domain.RecordKindFeedback, stored.TenantID, stored.ID, stored.CreatedAt, stored)
	return stored, nil
}

// ListMemory возвращает последние записи памяти, новые первыми.
func (s *Service) ListMemory(ctx context.Context, filter domain.MemoryFilter) ([]domain.MemoryEntry, error) {
	filter.Normalize(s.maxLimit)
	if err := filter.Validate(); err != nil {
		s.rejected(domain.RecordKindMemory, err)
		return nil, err
	}
	key := s.listKey(ctx, domain.RecordKindMemory, filter.TenantID, url.Values{
		"user_id":    {filter.UserID},
		"session_id": {filter.SessionID},
		"limit":      {fmt.Sprint(filter.Limit)},
	})
	var entries []domain.MemoryEntry
	if s.cachedList(ctx, domain.RecordKindMemory, key, &entries) {
		return entries, nil
	}
	entries, err := s.memory.ListMemory(ctx, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.MemoryEntry{}
	}
	s.storeList(ctx, key, entries)
	return entries, nil
}

// ListFeedback возвращает последние отзывы, новые первыми.
func (s *Service) ListFeedback(ctx context.Context, filter domain.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	filter.Normalize(s.maxLimit)
	if err := filter.Validate(); err != nil {
		s.rejected(domain.RecordKindFeedback, err)
		return nil, err
	}
	key := s.listKey(ctx, domain.RecordKindFeedback, filter.TenantID, url.Values{
		"user_id":     {filter.UserID},
		"response_id": {filter.ResponseID},
		"limit":       {fmt.Sprint(filter.Limit)},
	})
	var entries []domain.FeedbackEntry
	if s.cachedList(ctx, domain.RecordKindFeedback, key, &entries) {
		return entries, nil
	}
	entries, err := s.feedback.ListFeedback(ctx, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.FeedbackEntry{}
	}
	s.storeList(ctx, key, entries)
	return entries, nil
}

// Health проверяет хранилище и кэш. Ошибки не возвращаются: деградация отражается в статусах.
func (s *Service) Health(ctx context.Context) domain.HealthReport {
	h := domain.HealthReport{Database: "connected"}
	if s.health != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := s.health.Ping(pingCtx)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Msg("records: health check failed")
			h.Database = "connecting"
		}
	}
	if s.cache != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := s.cache.Ping(pingCtx)
		cancel()
		h.Cache = "connected"
		if err != nil {
			s.log.Warn().Err(err).Msg("records: cache unavailable")
			h.Cache = "unavailable"
		}
	}
	return h
}

func (s *Service) rejected(kind domain.RecordKind, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		metrics.IncValidationFailure(string(kind), ve.Field)
	}
}

func (s *Service) afterCreate(ctx context.Context, kind domain.RecordKind, tenantID, id string, at time.Time, payload any) {
	s.bumpVersion(ctx, kind, tenantID)
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, domain.RecordEvent{
		Kind:       kind,
		TenantID:   tenantID,
		RecordID:   id,
		OccurredAt: at,
		Payload:    payload,
	})
	metrics.ObserveEventPublish(s.eventsBackend, err)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Str("id", id).Msg("records: event publish failed")
	}
}

// bumpVersion делает устаревшими кэшированные выборки арендатора.
// Если Redis не ответил, выборки читаются мимо кэша до первого удачного увеличения.
func (s *Service) bumpVersion(ctx context.Context, kind domain.RecordKind, tenantID string) bool {
	if s.cache == nil {
		return true
	}
	key := versionKey(kind, tenantID)
	if _, err := s.cache.Incr(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("records: cache version bump failed")
		s.staleMu.Lock()
		if s.stale == nil {
			s.stale = make(map[string]struct{})
		}
		s.stale[key] = struct{}{}
		s.staleMu.Unlock()
		return false
	}
	s.staleMu.Lock()
	delete(s.stale, key)
	s.staleMu.Unlock()
	return true
}

func (s *Service) isStale(key string) bool {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	_, ok := s.stale[key]
	return ok
}

func versionKey(kind domain.RecordKind, tenantID string) string {
	return cachePrefix + ":" + string(kind) + ":" + url.QueryEscape(tenantID) + ":version"
}

// listKey включает версию арендатора: создание записи делает старые ключи недостижимыми.
func (s *Service) listKey(ctx context.Context, kind domain.RecordKind, tenantID string, params url.Values) string {
	if s.cache == nil {
		return ""
	}
	vkey := versionKey(kind, tenantID)
	if s.isStale(vkey) && !s.bumpVersion(ctx, kind, tenantID) {
		metrics.ObserveCacheLookup(string(kind), "bypass")
		return ""
	}
	version := "0"
	raw, err := s.cache.Get(ctx, vkey)
	switch {
	case err == nil:
		version = string(raw)
	case errors.Is(err, domain.ErrCacheMiss):
	default:
		s.log.Warn().Err(err).Msg("records: cache version lookup failed")
		metrics.ObserveCacheLookup(string(kind), "error")
		return ""
	}
	return cachePrefix + ":" + string(kind) + ":" + url.QueryEscape(tenantID) + ":v" + version + ":" + params.Encode()
}

func (s *Service) cachedList(ctx context.Context, kind domain.RecordKind, key string, out any) bool {
	if key == "" {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrCacheMiss):
		metrics.ObserveCacheLookup(string(kind), "miss")
		return false
	case err != nil:
		metrics.ObserveCacheLookup(string(kind), "error")
		s.log.Warn().Err(err).Msg("records: cache lookup failed")
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		metrics.ObserveCacheLookup(string(kind), "error")
		return false
	}
	metrics.ObserveCacheLookup(string(kind), "hit")
	return true
}

func (s *Service) storeList(ctx context.Context, key string, entries any) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("records: cache store failed")
	}
}
