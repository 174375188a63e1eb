package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"apex-api/internal/domain"
	httpinfra "apex-api/internal/infra/http"
	"apex-api/internal/infra/metrics"
)

const (
	maxBodyBytes = 1 << 20
	apiName      = "Apex MVP API"
)

// RecordService описывает операции, которые нужны обработчикам.
type RecordService interface {
	CreateMemory(ctx context.Context, params domain.CreateMemoryParams) (domain.MemoryEntry, error)
	CreateFeedback(ctx context.Context, params domain.CreateFeedbackParams) (domain.FeedbackEntry, error)
	ListMemory(ctx context.Context, filter domain.MemoryFilter) ([]domain.MemoryEntry, error)
	ListFeedback(ctx context.Context, filter domain.FeedbackFilter) ([]domain.FeedbackEntry, error)
	Health(ctx context.Context) domain.HealthReport
}

// Handler обслуживает эндпоинты /memory, /feedback и /health.
type Handler struct {
	svc          RecordService
	tenantHeader string
	version      string
	now          func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(svc RecordService, tenantHeader, version string) *Handler {
	if tenantHeader == "" {
		tenantHeader = "X-Tenant-ID"
	}
	return &Handler{svc: svc, tenantHeader: tenantHeader, version: version, now: time.Now}
}

// Register подключает маршруты.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/health", h.handleHealth)
	r.Get("/memory", h.handleListMemory)
	r.Post("/memory", h.handleCreateMemory)
	r.Get("/feedback", h.handleListFeedback)
	r.Post("/feedback", h.handleCreateFeedback)
}

type createMemoryRequest struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata"`
}

type createFeedbackRequest struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id"`
	ResponseID   string          `json:"response_id"`
	Rating       json.RawMessage `json:"rating"`
	FeedbackText string          `json:"feedback_text"`
	Metadata     map[string]any  `json:"metadata"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database"`
	Cache     string `json:"cache,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"message": apiName,
		"version": h.version,
		"endpoints": map[string]string{
			"health":   "/health",
			"memory":   "/memory",
			"feedback": "/feedback",
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Health(r.Context())
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		Database:  report.Database,
		Cache:     report.Cache,
	}
	if report.Database != "connected" {
		resp.Message = "Database connection in progress"
	}
	httpinfra.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListMemory(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.requireTenant(r)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, err := h.svc.ListMemory(r.Context(), domain.MemoryFilter{
		TenantID:  tenantID,
		UserID:    q.Get("user_id"),
		SessionID: q.Get("session_id"),
		Limit:     limit,
	})
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	httpinfra.WriteList(w, tenantID, "Memory entries", entries)
}

func (h *Handler) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	tenantID, err := h.resolveTenant(r, req.TenantID)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	entry, err := h.svc.CreateMemory(r.Context(), domain.CreateMemoryParams{
		ID:          req.ID,
		TenantID:    tenantID,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	httpinfra.WriteSuccess(w, http.StatusCreated, entry.TenantID, "Memory entry created", entry)
}

func (h *Handler) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	tenantID, err := h.requireTenant(r)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, err := h.svc.ListFeedback(r.Context(), domain.FeedbackFilter{
		TenantID:   tenantID,
		UserID:     q.Get("user_id"),
		ResponseID: q.Get("response_id"),
		Limit:      limit,
	})
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	httpinfra.WriteList(w, tenantID, "Feedback entries", entries)
}

func (h *Handler) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	var req createFeedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	tenantID, err := h.resolveTenant(r, req.TenantID)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	rating, ratingErr := parseRating(req.Rating)
	params := domain.CreateFeedbackParams{
		ID:           req.ID,
		TenantID:     tenantID,
		UserID:       req.UserID,
		ResponseID:   req.ResponseID,
		Rating:       rating,
		FeedbackText: req.FeedbackText,
		Metadata:     req.Metadata,
	}
	if ratingErr != nil {
		// Отсутствующие идентификаторы сообщаются раньше оценки.
		probe := params
		probe.Rating = domain.MinRating
		probe.Normalize()
		if err := probe.Validate(); err != nil {
			ratingErr = err
		}
		var ve *domain.ValidationError
		if errors.As(ratingErr, &ve) {
			metrics.IncValidationFailure(string(domain.RecordKindFeedback), ve.Field)
		}
		httpinfra.WriteDomainError(w, r, ratingErr)
		return
	}
	entry, err := h.svc.CreateFeedback(r.Context(), params)
	if err != nil {
		httpinfra.WriteDomainError(w, r, err)
		return
	}
	httpinfra.WriteSuccess(w, http.StatusCreated, entry.TenantID, "Feedback entry created", entry)
}

func (h *Handler) requireTenant(r *http.Request) (string, error) {
	tenantID, ok := httpinfra.TenantFromContext(r.Context())
	if !ok {
		return "", domain.Invalid("tenant_id", h.tenantHeader+" header is required")
	}
	return tenantID, nil
}

// resolveTenant берёт tenant_id из тела, а при его отсутствии из заголовка.
func (h *Handler) resolveTenant(r *http.Request, fromBody string) (string, error) {
	fromBody = strings.TrimSpace(fromBody)
	fromHeader, _ := httpinfra.TenantFromContext(r.Context())
	switch {
	case fromBody == "":
		return fromHeader, nil
	case fromHeader != "" && fromHeader != fromBody:
		return "", domain.Invalid("tenant_id", "tenant_id does not match "+h.tenantHeader+" header")
	}
	return fromBody, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	// metadata хранит числа как json.Number, чтобы не терять точность.
	dec.UseNumber()
	err := dec.Decode(dst)
	if err == nil {
		var extra json.RawMessage
		if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
			return domain.Invalid("body", "invalid request body")
		}
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return domain.Invalid(typeErr.Field, fmt.Sprintf("%s must be %s", typeErr.Field, jsonTypeName(typeErr.Type.Kind())))
	case errors.As(err, &maxErr):
		return domain.Invalid("body", "request body too large")
	}
	return domain.Invalid("body", "invalid request body")
}

func jsonTypeName(kind reflect.Kind) string {
	switch kind {
	case reflect.String:
		return "a string"
	case reflect.Map, reflect.Struct:
		return "an object"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Int, reflect.Int64, reflect.Float64:
		return "a number"
	case reflect.Bool:
		return "a boolean"
	}
	return "a valid value"
}

// parseRating принимает только целое JSON-число: строки и дроби отклоняются.
func parseRating(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, domain.Required("rating")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, domain.Invalid("rating", domain.RatingMessage)
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, domain.Invalid("rating", domain.RatingMessage)
	}
	rating, err := strconv.Atoi(num.String())
	if err != nil || !domain.ValidRating(rating) {
		return 0, domain.Invalid("rating", domain.RatingMessage)
	}
	return rating, nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, domain.Invalid("limit", "limit must be a positive integer")
	}
	return limit, nil
}
