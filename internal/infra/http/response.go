package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"apex-api/internal/domain"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	internalErrorMessage = "Internal server error"
)

// Envelope единый формат ответа всех эндпоинтов.
type Envelope struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Data     any    `json:"data,omitempty"`
	Count    *int   `json:"count,omitempty"`
	Error    string `json:"error,omitempty"`
}

// WriteJSON пишет произвольное тело с кодом ответа.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess пишет успешный ответ с данными.
func WriteSuccess(w http.ResponseWriter, status int, tenantID, message string, data any) {
	WriteJSON(w, status, Envelope{Status: StatusSuccess, Message: message, TenantID: tenantID, Data: data})
}

// WriteList пишет коллекцию вместе с count. Пустая коллекция отдаётся как [].
func WriteList[T any](w http.ResponseWriter, tenantID, message string, items []T) {
	if items == nil {
		items = []T{}
	}
	count := len(items)
	WriteJSON(w, http.StatusOK, Envelope{Status: StatusSuccess, Message: message, TenantID: tenantID, Data: items, Count: &count})
}

// WriteError пишет ответ об ошибке.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{Status: StatusError, Message: message})
}

// WriteDomainError переводит ошибку домена в HTTP-ответ.
// Причина StorageError только логируется.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteJSON(w, http.StatusBadRequest, Envelope{Status: StatusError, Message: ve.Error(), Error: "validation_error"})
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Endpoint not found")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("http: request failed")
		WriteJSON(w, http.StatusInternalServerError, Envelope{Status: StatusError, Message: internalErrorMessage, Error: "storage_error"})
	}
}
