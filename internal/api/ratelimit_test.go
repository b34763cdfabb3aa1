package api_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholargrid/harvester/internal/api"
)

func triggerLimitHandler(t *testing.T, cfg api.TriggerRateLimitConfig) http.Handler {
	t.Helper()
	rl, mw := api.TriggerRateLimit(cfg)
	t.Cleanup(rl.Stop)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestTriggerRateLimit_AllowsBudgetThenDenies(t *testing.T) {
	handler := triggerLimitHandler(t, api.TriggerRateLimitConfig{PerHour: 3, CleanupInterval: time.Minute})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
		req.RemoteAddr = "1.2.3.4:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "call %d should fit the budget", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "1.2.3.4:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rate_limited"`)
}

func TestTriggerRateLimit_DifferentIPsAreIndependent(t *testing.T) {
	handler := triggerLimitHandler(t, api.TriggerRateLimitConfig{PerHour: 1, CleanupInterval: time.Minute})

	req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "1.1.1.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// 1.1.1.1 is out of budget, 2.2.2.2 is untouched.
	req = httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "1.1.1.1:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "2.2.2.2:5678"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRateLimit_HeadersOnAllowedCall(t *testing.T) {
	handler := triggerLimitHandler(t, api.TriggerRateLimitConfig{PerHour: 5, CleanupInterval: time.Minute})

	req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "3.3.3.3:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("RateLimit-Remaining"))
	assert.Empty(t, rec.Header().Get("Retry-After"), "Retry-After only appears on denials")
}

func TestTriggerRateLimit_DeniedCallsDoNotConsumeBudget(t *testing.T) {
	handler := triggerLimitHandler(t, api.TriggerRateLimitConfig{PerHour: 1, CleanupInterval: time.Minute})

	req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "4.4.4.4:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Repeated denials must keep Retry-After near one refill period. If a
	// denial consumed a token the wait would grow by an hour per attempt.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
		req.RemoteAddr = "4.4.4.4:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, secs, 1)
		assert.LessOrEqual(t, secs, 3601)
	}
}

func TestTriggerRateLimit_ZeroConfigUsesDefaults(t *testing.T) {
	handler := triggerLimitHandler(t, api.TriggerRateLimitConfig{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/runAll", http.NoBody)
	req.RemoteAddr = "5.5.5.5:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("RateLimit-Limit"))
}

func TestTriggerRateLimit_StopIsIdempotent(t *testing.T) {
	rl, _ := api.TriggerRateLimit(api.TriggerRateLimitConfig{PerHour: 1, CleanupInterval: time.Minute})

	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
