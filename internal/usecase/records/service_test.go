package records

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"apex-api/internal/domain"
)

type memRepo struct {
	mu        sync.Mutex
	memory    []domain.MemoryEntry
	feedback  []domain.FeedbackEntry
	listCalls int
	failWith  error
}

func (r *memRepo) CreateMemory(_ context.Context, e domain.MemoryEntry) (domain.MemoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return domain.MemoryEntry{}, domain.WrapStorage("memory_insert", r.failWith)
	}
	r.memory = append(r.memory, e)
	return e, nil
}

func (r *memRepo) ListMemory(_ context.Context, f domain.MemoryFilter) ([]domain.MemoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []domain.MemoryEntry
	for _, e := range r.memory {
		if e.TenantID == f.TenantID && (f.UserID == "" || e.UserID == f.UserID) && (f.SessionID == "" || e.SessionID == f.SessionID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) CreateFeedback(_ context.Context, e domain.FeedbackEntry) (domain.FeedbackEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = append(r.feedback, e)
	return e, nil
}

func (r *memRepo) ListFeedback(_ context.Context, f domain.FeedbackFilter) ([]domain.FeedbackEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []domain.FeedbackEntry
	for _, e := range r.feedback {
		if e.TenantID == f.TenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	down     bool
	incrDown bool
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errors.New("redis down")
	}
	v, ok := c.data[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errors.New("redis down")
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down || c.incrDown {
		return 0, errors.New("redis down")
	}
	n, _ := strconv.ParseInt(string(c.data[key]), 10, 64)
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (c *fakeCache) Ping(context.Context) error {
	if c.down {
		return errors.New("redis down")
	}
	return nil
}

type recordingPublisher struct {
	events []domain.RecordEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.RecordEvent) error {
	p.events = append(p.events, e)
	return p.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func memoryParams(tenant string) domain.CreateMemoryParams {
	return domain.CreateMemoryParams{TenantID: tenant, UserID: "u1", SessionID: "s1", Content: "hello"}
}

func TestCreateMemoryAssignsUniqueIDs(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		entry, err := svc.CreateMemory(context.Background(), memoryParams("acme"))
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if _, err := uuid.Parse(entry.ID); err != nil {
			t.Fatalf("ожидали UUID, получили %q", entry.ID)
		}
		if seen[entry.ID] {
			t.Fatalf("повторный id %s", entry.ID)
		}
		seen[entry.ID] = true
	}
}

func TestCreateMemoryDefaultsAndExplicitID(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	params := memoryParams("acme")
	params.ID = "client-id"
	entry, err := svc.CreateMemory(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID != "client-id" {
		t.Fatalf("expected client id to be kept, got %q", entry.ID)
	}
	if entry.MessageType != "chat" {
		t.Fatalf("expected default message type, got %q", entry.MessageType)
	}
	if entry.CreatedAt.IsZero() || entry.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC created_at, got %v", entry.CreatedAt)
	}
}

func TestCreateMemoryValidationNamesField(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	params := memoryParams("acme")
	params.SessionID = ""
	_, err := svc.CreateMemory(context.Background(), params)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "session_id" {
		t.Fatalf("expected session_id validation error, got %v", err)
	}
	if len(repo.memory) != 0 {
		t.Fatal("invalid record must not be stored")
	}
}

func TestCreateMemoryStorageErrorPropagates(t *testing.T) {
	repo := &memRepo{failWith: errors.New("connection refused")}
	pub := &recordingPublisher{}
	svc := NewService(repo, repo, WithEvents(pub, "test"))
	_, err := svc.CreateMemory(context.Background(), memoryParams("acme"))
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("no event expected for failed insert")
	}
}

func TestCreateFeedbackRatingBoundaries(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	for _, rating := range []int{1, 5} {
		entry, err := svc.CreateFeedback(context.Background(), domain.CreateFeedbackParams{
			TenantID: "acme", UserID: "u1", ResponseID: "r1", Rating: rating,
		})
		if err != nil {
			t.Fatalf("rating %d: unexpected error %v", rating, err)
		}
		if entry.FeedbackText != "" {
			t.Fatalf("expected empty feedback text, got %q", entry.FeedbackText)
		}
	}
	_, err := svc.CreateFeedback(context.Background(), domain.CreateFeedbackParams{
		TenantID: "acme", UserID: "u1", ResponseID: "r1", Rating: 6,
	})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Message != domain.RatingMessage {
		t.Fatalf("expected rating error, got %v", err)
	}
}

func TestCreatedAtStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &memRepo{}
	svc := NewService(repo, repo, WithClock(func() time.Time { return frozen }))
	var prev time.Time
	for i := 0; i < 3; i++ {
		entry, err := svc.CreateMemory(context.Background(), memoryParams("t1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !entry.CreatedAt.After(prev) {
			t.Fatalf("created_at %v is not after %v", entry.CreatedAt, prev)
		}
		prev = entry.CreatedAt
	}
}

func TestListMemoryTenantScopedMostRecentFirst(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	ctx := context.Background()
	first, _ := svc.CreateMemory(ctx, memoryParams("t1"))
	_, _ = svc.CreateMemory(ctx, memoryParams("t2"))
	second, _ := svc.CreateMemory(ctx, memoryParams("t1"))

	entries, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != second.ID || entries[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", entries)
	}

	one, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(one) != 1 || one[0].ID != second.ID {
		t.Fatalf("expected most recent only, got %+v", one)
	}
}

func TestListFeedbackEmptyIsNonNil(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	entries, err := svc.ListFeedback(context.Background(), domain.FeedbackFilter{TenantID: "empty"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", entries)
	}
}

func TestListRequiresTenant(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo)
	_, err := svc.ListMemory(context.Background(), domain.MemoryFilter{})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListCacheInvalidatedByCreate(t *testing.T) {
	repo := &memRepo{}
	cache := newFakeCache()
	svc := NewService(repo, repo, WithListCache(cache, time.Minute))
	ctx := context.Background()

	_, _ = svc.CreateMemory(ctx, memoryParams("t1"))
	if _, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cached, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected second read from cache, repo calls = %d", repo.listCalls)
	}
	if len(cached) != 1 {
		t.Fatalf("expected 1 cached entry, got %d", len(cached))
	}

	_, _ = svc.CreateMemory(ctx, memoryParams("t1"))
	fresh, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.listCalls != 2 || len(fresh) != 2 {
		t.Fatalf("expected fresh read after create, calls=%d len=%d", repo.listCalls, len(fresh))
	}
}

func TestListCacheFailureFallsBackToStorage(t *testing.T) {
	repo := &memRepo{}
	cache := newFakeCache()
	cache.down = true
	svc := NewService(repo, repo, WithListCache(cache, time.Minute))
	ctx := context.Background()

	if _, err := svc.CreateMemory(ctx, memoryParams("t1")); err != nil {
		t.Fatalf("create must not fail on cache errors: %v", err)
	}
	entries, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestListCacheBypassedWhileVersionBumpFails(t *testing.T) {
	repo := &memRepo{}
	cache := newFakeCache()
	svc := NewService(repo, repo, WithListCache(cache, time.Minute))
	ctx := context.Background()

	_, _ = svc.CreateMemory(ctx, memoryParams("t1"))
	if _, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cache.mu.Lock()
	cache.incrDown = true
	cache.mu.Unlock()
	_, _ = svc.CreateMemory(ctx, memoryParams("t1"))
	entries, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("новая запись должна быть видна сразу, получили %d", len(entries))
	}

	cache.mu.Lock()
	cache.incrDown = false
	cache.mu.Unlock()
	calls := repo.listCalls
	entries, _ = svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if len(entries) != 2 || repo.listCalls != calls+1 {
		t.Fatalf("expected storage read after recovery, len=%d calls=%d", len(entries), repo.listCalls-calls)
	}
	entries, _ = svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if len(entries) != 2 || repo.listCalls != calls+1 {
		t.Fatalf("expected cache hit after recovery, len=%d calls=%d", len(entries), repo.listCalls-calls)
	}
}

func TestListCacheKeepsLargeIntegers(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo, WithListCache(newFakeCache(), time.Minute))
	ctx := context.Background()

	params := memoryParams("t1")
	params.Metadata = map[string]any{"n": json.Number("9007199254740993")}
	_, _ = svc.CreateMemory(ctx, params)
	_, _ = svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	cached, err := svc.ListMemory(ctx, domain.MemoryFilter{TenantID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.listCalls != 1 {
		t.Fatalf("expected cached read, repo calls = %d", repo.listCalls)
	}
	if got := cached[0].Metadata["n"]; got != json.Number("9007199254740993") {
		t.Fatalf("metadata changed in cache: %v (%T)", got, got)
	}
}

func TestEventsPublishedAfterCreate(t *testing.T) {
	repo := &memRepo{}
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	svc := NewService(repo, repo, WithEvents(pub, "test"))

	entry, err := svc.CreateFeedback(context.Background(), domain.CreateFeedbackParams{
		TenantID: "acme", UserID: "u1", ResponseID: "r1", Rating: 4,
	})
	if err != nil {
		t.Fatalf("publish failure must not fail create: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Kind != domain.RecordKindFeedback || ev.RecordID != entry.ID || ev.TenantID != "acme" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.RoutingKey() != "feedback.created" {
		t.Fatalf("unexpected routing key %q", ev.RoutingKey())
	}
}

func TestHealthReportsDegradedDatabase(t *testing.T) {
	repo := &memRepo{}
	svc := NewService(repo, repo, WithHealthChecker(pinger{err: errors.New("dial tcp: refused")}))
	h := svc.Health(context.Background())
	if h.Database != "connecting" {
		t.Fatalf("expected connecting, got %q", h.Database)
	}

	svc = NewService(repo, repo, WithHealthChecker(pinger{}), WithListCache(newFakeCache(), time.Second))
	h = svc.Health(context.Background())
	if h.Database != "connected" || h.Cache != "connected" {
		t.Fatalf("unexpected health %+v", h)
	}
}
