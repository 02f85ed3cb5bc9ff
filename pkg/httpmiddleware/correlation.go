// Package httpmiddleware provides the HTTP middleware stack shared by
// the relay's public endpoints.
package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{}

// CorrelationHeader carries the request correlation id in responses.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID assigns every request a fresh correlation id.
// Client-provided ids are ignored so the ids stay trustworthy.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()
			w.Header().Set(CorrelationHeader, id)
			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), contextKey{}, id)))
		})
	}
}

// CorrelationFromContext returns the correlation id assigned to the
// request, or "" outside the middleware.
func CorrelationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
