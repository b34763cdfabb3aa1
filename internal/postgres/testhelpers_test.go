package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/scholargrid/harvester/internal/postgres"
)

// testPool returns a migrated pool wiped clean of rows. Tests skip when
// STORE_URI is not set, so the default run needs no database.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	uri := os.Getenv("STORE_URI")
	if uri == "" {
		t.Skip("STORE_URI not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))

	for _, table := range []string{"scholarships", "audit_log"} {
		_, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE")
		require.NoError(t, err, "truncate %s", table)
	}

	return pool
}
