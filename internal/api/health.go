package api

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// readinessTimeout bounds each dependency probe so one slow dependency
// cannot starve the rest of the readiness check.
const readinessTimeout = 2 * time.Second

// Build-time version information, set via -ldflags:
//
//	go build -ldflags "-X github.com/scholargrid/harvester/internal/api.Version=1.4.0"
//
// If not set, defaults are used.
var (
	Version   = "dev"     // Semantic version (e.g., "1.4.0")
	GitCommit = "unknown" // Git commit SHA
	BuildTime = "unknown" // ISO 8601 build timestamp
)

// HealthChecker verifies that a dependency is reachable and healthy.
// Implementations should be lightweight (e.g. Ping, BucketExists).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckResult holds the outcome of a single dependency health check.
type CheckResult struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // human-readable error when status is "error"
}

// HandleHealthLive answers the liveness probe. It always returns 200: the
// process responded, so it is alive. The payload carries version and build
// info for operational visibility.
func (s *Server) HandleHealthLive(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, envelope{
		"status":     "ok",
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	})
}

// HandleHealthReady probes every configured dependency concurrently and
// returns 200 when all pass, 503 when any fails. A server with no
// dependencies wired (tests, API-only replicas without a store) is
// trivially ready.
func (s *Server) HandleHealthReady(w http.ResponseWriter, r *http.Request) {
	checkers := s.healthCheckers()

	checks := make(map[string]CheckResult, len(checkers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()

			res := CheckResult{Status: "ok"}
			if err := checker.HealthCheck(ctx); err != nil {
				res = CheckResult{Status: "error", Error: err.Error()}
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status, code := "ready", http.StatusOK
	for _, res := range checks {
		if res.Status != "ok" {
			status, code = "not_ready", http.StatusServiceUnavailable
			break
		}
	}
	respond(w, code, envelope{
		"status": status,
		"checks": checks,
	})
}

// healthCheckers maps dependency names to their configured checkers. Nil
// checkers are skipped, so the map is empty when neither store nor archive
// is wired.
func (s *Server) healthCheckers() map[string]HealthChecker {
	checkers := make(map[string]HealthChecker)
	if s.StoreHealth != nil {
		checkers["postgres"] = s.StoreHealth
	}
	if s.ArchiveHealth != nil {
		checkers["archive"] = s.ArchiveHealth
	}
	return checkers
}
