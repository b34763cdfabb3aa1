package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholargrid/harvester/internal/api"
)

// traceOneRequest sends a single request through the RequestID middleware and
// returns the ID the inner handler observed plus the recorded response.
func traceOneRequest(t *testing.T, mutate func(*http.Request)) (string, *httptest.ResponseRecorder) {
	t.Helper()

	var seen string
	h := api.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/records", http.NoBody)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestID_MintsUUIDWhenHeaderMissing(t *testing.T) {
	seen, rec := traceOneRequest(t, nil)

	require.NotEmpty(t, seen)
	_, err := uuid.Parse(seen)
	require.NoError(t, err, "minted request id should be a UUID")
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"), "response header should echo the id")
}

func TestRequestID_TrustsCallerHeader(t *testing.T) {
	seen, rec := traceOneRequest(t, func(r *http.Request) {
		r.Header.Set("X-Request-ID", "portal-sync-0042")
	})

	assert.Equal(t, "portal-sync-0042", seen)
	assert.Equal(t, "portal-sync-0042", rec.Header().Get("X-Request-ID"))
}

func TestRequestID_DistinctAcrossRequests(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, _ := traceOneRequest(t, nil)
		assert.False(t, seen[id], "request id %q repeated", id)
		seen[id] = true
	}
}

func TestRequestID_AttachesScopedLogger(t *testing.T) {
	h := api.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, api.LoggerFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDContext_RoundTrip(t *testing.T) {
	ctx := api.ContextWithRequestID(context.Background(), "req-7f")
	assert.Equal(t, "req-7f", api.RequestIDFromContext(ctx))
}

func TestRequestIDFromContext_BareContext(t *testing.T) {
	assert.Empty(t, api.RequestIDFromContext(context.Background()))
}

func TestLoggerFromContext_DefaultsWithoutMiddleware(t *testing.T) {
	assert.NotNil(t, api.LoggerFromContext(context.Background()))
}
