package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type tenantKey struct{}

// TenantMiddleware кладёт идентификатор арендатора из заголовка в контекст.
// Отсутствие заголовка здесь не ошибка: решение принимает обработчик.
func TenantMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(header))
			logger := hlog.FromRequest(r)
			if tenantID == "" {
				logger.Debug().Str("path", r.URL.Path).Msgf("http: no %s header provided", header)
				next.ServeHTTP(w, r)
				return
			}
			logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("tenant_id", tenantID)
			})
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}

// WithTenant возвращает контекст с арендатором.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext возвращает арендатора, если он был передан.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(string)
	return tenantID, ok && tenantID != ""
}
