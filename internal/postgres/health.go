package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker reports store readiness for the API's /health/ready probe.
// A bare Ping only proves the server accepts connections, so the check also
// confirms the schema has been migrated; a replica pointed at an empty
// database stays unready instead of serving 500s on every record query.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker wraps the pool in an api.HealthChecker.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// HealthCheck returns nil when the store is reachable and migrated.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	var applied int
	err := h.pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&applied)
	if err != nil {
		return fmt.Errorf("store schema check: %w", err)
	}
	if applied == 0 {
		return fmt.Errorf("store schema check: no migrations applied")
	}
	return nil
}
