// Package api provides the HTTP control surface for harvestd: pipeline
// status and triggers, breaker administration, source toggles, stored-record
// and audit views, and the health/metrics endpoints probes scrape.
//
// Every JSON response carries the same envelope: successes are
// {"success": true, "timestamp": <RFC 3339 UTC>, ...}, errors are
// {"success": false, "error": <message>, "code": <machine code>}.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/orchestrator"
)

// Machine-readable error codes carried in the error envelope.
const (
	codeBadRequest        = "bad_request"
	codeUnknownSource     = "unknown_source"
	codeJobAlreadyRunning = "job_already_running"
	codeRunInProgress     = "run_in_progress"
	codeRateLimited       = "rate_limited"
	codeInternal          = "internal_error"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads the limit and offset query parameters, clamping both
// to sane bounds. Absent or malformed values fall back silently; a list
// endpoint should never 400 over paging hints.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = queryInt(r, "limit", defaultPageLimit)
	switch {
	case limit < 1:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	if offset = queryInt(r, "offset", 0); offset < 0 {
		offset = 0
	}
	return limit, offset
}

// queryInt parses an integer query parameter, returning fallback when the
// parameter is absent or not a number.
func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envelope carries the payload fields of one successful response.
type envelope map[string]any

// respond writes a success envelope with the given payload fields merged in.
func respond(w http.ResponseWriter, status int, payload envelope) {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = true
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, status, body)
}

// respondError writes the error envelope.
func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// internalError logs the full error server-side and returns a generic
// envelope to the client.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	LoggerFromContext(r.Context()).Error(msg, "error", err)
	respondError(w, http.StatusInternalServerError, codeInternal, msg)
}

// writeJSON serializes v with the given status code. Marshaling happens
// before any bytes go out, so an encode failure still yields a clean 500
// instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response body", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck // a client gone mid-write is not actionable
}

// clientIP returns the caller's address without the port. middleware.RealIP
// has already resolved proxy headers into RemoteAddr by the time handlers run.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// securityHeaders stamps browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		// "0" disables the legacy XSS auditor; CSP-era browsers dropped it.
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// Orchestrator is the slice of the pipeline the handlers drive.
type Orchestrator interface {
	Status() orchestrator.Status
	TriggerAll() (uuid.UUID, error)
	RunSource(sourceID string, trigger domain.Trigger) (domain.ScrapeJob, error)
	RecentJobs(sourceID string, limit int) []domain.ScrapeJob
	Sources() []domain.Source
	SetSourceEnabled(sourceID string, enabled bool) (domain.Source, error)
	BreakerSnapshots() []domain.BreakerSnapshot
	ResetBreakers() int
}

// RecordStore pages through what the pipeline has admitted.
type RecordStore interface {
	FindActive(ctx context.Context, limit, offset int) ([]domain.Scholarship, error)
	CountActive(ctx context.Context) (int, error)
}

// LeaderInfo reports whether this replica holds the scheduling lock.
type LeaderInfo interface {
	IsLeader() bool
}

// Server holds dependencies for all API handlers.
type Server struct {
	Orchestrator Orchestrator
	Records      RecordStore                     // nil hides GET /records
	Audit        AuditStore                      // nil disables audit logging and GET /audit
	Leader       LeaderInfo                      // nil omits the leader flag from /status
	Auth         func(http.Handler) http.Handler // nil disables authentication
	CORSOrigins  []string                        // allowed CORS origins; defaults to ["*"]

	TriggerLimit       *TriggerRateLimitConfig // per-IP hourly budget for trigger endpoints; nil uses defaults
	TriggerLimiterStop func()                  // populated by NewRouter

	StoreHealth   HealthChecker // Postgres health check (pool.Ping). Nil = skip.
	ArchiveHealth HealthChecker // S3/MinIO health check (BucketExists). Nil = skip.
}

// NewRouter creates a configured chi router with all routes mounted.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "RateLimit-Limit", "RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if srv.Auth != nil {
		// The auth middleware exempts health and metrics paths itself so
		// probes and scrapers never need credentials.
		r.Use(srv.Auth)
	}

	// Health & metrics
	r.Get("/health", srv.HandleHealthLive)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Pipeline status & breaker administration
	r.Get("/status", srv.HandleStatus)
	r.Get("/breakers", srv.HandleBreakers)
	r.Post("/breakers/reset", srv.HandleResetBreakers)

	// Trigger endpoints sit behind their own per-IP hourly budget: each one
	// starts real outbound crawling, so they are far more expensive than the
	// read endpoints.
	cfg := DefaultTriggerRateLimitConfig()
	if srv.TriggerLimit != nil {
		cfg = *srv.TriggerLimit
	}
	tl, limitTriggers := TriggerRateLimit(cfg)
	srv.TriggerLimiterStop = tl.Stop
	r.Group(func(r chi.Router) {
		r.Use(limitTriggers)
		r.Post("/jobs/runAll", srv.HandleRunAll)
		r.Post("/jobs/run/{sourceId}", srv.HandleRunSource)
	})
	r.Get("/jobs/recent", srv.HandleRecentJobs)

	// Sources
	r.Get("/sources", srv.HandleListSources)
	r.Post("/sources/{sourceId}/enable", srv.HandleEnableSource)
	r.Post("/sources/{sourceId}/disable", srv.HandleDisableSource)

	// Stored records & audit trail
	if srv.Records != nil {
		r.Get("/records", srv.HandleListRecords)
	}
	if srv.Audit != nil {
		r.Get("/audit", srv.HandleListAuditLog)
	}

	return r
}
