package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is the propagation header. X-Request-ID is what proxies,
// load balancers, and log shippers already understand.
const requestIDHeader = "X-Request-ID"

// requestIDKey is the unexported context key for the request ID.
type requestIDKey struct{}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID, or "" when none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID propagates or mints a request ID for every request. An incoming
// X-Request-ID header wins; otherwise a fresh UUID is minted. The ID lands
// in the request context, on the response header, and on a request-scoped
// slog logger (see LoggerFromContext).
//
// Belongs early in the chain: after CORS (which must answer preflight before
// anything else) and security headers, before auth and handlers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := ContextWithRequestID(r.Context(), id)
		ctx = contextWithLogger(ctx, requestLogger(id))
		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
