// Package auth guards the harvestd API with a static key scheme: requests
// must carry "Authorization: Bearer <key>". An empty key disables
// authentication entirely. Probe and scrape paths stay open so Kubernetes
// and Prometheus never need credentials.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// exemptPaths are the GET paths that bypass the key check: liveness and
// readiness probes plus the Prometheus scrape endpoint.
var exemptPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Noop returns a pass-through middleware for deployments that run without
// authentication.
func Noop() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// APIKey guards every request behind a static bearer key. Comparison is
// constant-time so the key cannot be probed byte by byte. An empty key
// turns the guard off.
func APIKey(key string) func(http.Handler) http.Handler {
	if key == "" {
		return Noop()
	}

	keyBytes := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "missing or invalid Authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), keyBytes) != 1 {
				unauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// unauthorized writes the same error envelope the API handlers use, so
// clients parse one shape regardless of which layer rejected them.
func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // the 401 status is already on the wire
		"success": false,
		"error":   msg,
		"code":    "unauthorized",
	})
}

// bearerToken pulls the credential out of the Authorization header, or ""
// when the scheme is missing or not Bearer.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
