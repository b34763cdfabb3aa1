package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TriggerRateLimitConfig bounds how often one caller may hit the trigger
// endpoints. Each accepted trigger starts real outbound crawling, so the
// budget is hourly and small, unlike the usual per-second API limits.
type TriggerRateLimitConfig struct {
	PerHour         int           // bucket capacity, refilled at PerHour tokens per hour
	CleanupInterval time.Duration // how often stale caller entries are evicted
}

// DefaultTriggerRateLimitConfig allows 10 trigger calls per hour per caller.
func DefaultTriggerRateLimitConfig() TriggerRateLimitConfig {
	return TriggerRateLimitConfig{
		PerHour:         10,
		CleanupInterval: 10 * time.Minute,
	}
}

// callerBucket pairs a token bucket with its last-seen time for eviction.
type callerBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// TriggerRateLimiter is a concurrent-safe per-IP hourly token bucket.
type TriggerRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*callerBucket
	config  TriggerRateLimitConfig
	stop    chan struct{}
}

// newTriggerRateLimiter creates a limiter and starts background cleanup.
func newTriggerRateLimiter(cfg TriggerRateLimitConfig) *TriggerRateLimiter {
	def := DefaultTriggerRateLimitConfig()
	if cfg.PerHour < 1 {
		cfg.PerHour = def.PerHour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	rl := &TriggerRateLimiter{
		buckets: make(map[string]*callerBucket),
		config:  cfg,
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// triggerRateResult holds the outcome of one rate limit check, including
// values for the response headers.
type triggerRateResult struct {
	Allowed    bool
	RetryAfter time.Duration // wait until a token is available (only when denied)
	Remaining  int           // whole tokens left in the bucket
	Limit      int           // bucket capacity
}

// allow checks whether a trigger call from the given IP fits the budget.
func (rl *TriggerRateLimiter) allow(ip string) triggerRateResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &callerBucket{
			lim: rate.NewLimiter(rate.Every(time.Hour/time.Duration(rl.config.PerHour)), rl.config.PerHour),
		}
		rl.buckets[ip] = b
	}
	b.lastSeen = now

	res := b.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		// Deny and hand the token back rather than queueing the caller.
		res.CancelAt(now)
		return triggerRateResult{
			RetryAfter: delay,
			Remaining:  int(b.lim.TokensAt(now)),
			Limit:      rl.config.PerHour,
		}
	}

	return triggerRateResult{
		Allowed:   true,
		Remaining: int(b.lim.TokensAt(now)),
		Limit:     rl.config.PerHour,
	}
}

// cleanup periodically evicts idle caller entries. The horizon must outlive
// a full bucket refill (one hour), otherwise eviction would hand a heavy
// caller a fresh burst the moment it goes quiet.
func (rl *TriggerRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Hour)
			for ip, b := range rl.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop gracefully shuts down the limiter's background cleanup goroutine.
func (rl *TriggerRateLimiter) Stop() {
	select {
	case <-rl.stop:
		// already closed
	default:
		close(rl.stop)
	}
}

// setTriggerRateHeaders adds standard rate limit headers to the response
// following the IETF RateLimit header fields draft. Retry-After is included
// only on denials.
func setTriggerRateHeaders(w http.ResponseWriter, result triggerRateResult) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Allowed {
		secs := int64(result.RetryAfter.Seconds() + 0.999) // round up
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// TriggerRateLimit returns a middleware limiting trigger calls per IP.
// The returned limiter can be stopped via its Stop() method.
func TriggerRateLimit(cfg TriggerRateLimitConfig) (*TriggerRateLimiter, func(http.Handler) http.Handler) {
	rl := newTriggerRateLimiter(cfg)

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := rl.allow(clientIP(r))
			setTriggerRateHeaders(w, result)

			if !result.Allowed {
				respondError(w, http.StatusTooManyRequests, codeRateLimited, "trigger budget exhausted, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return rl, mw
}
