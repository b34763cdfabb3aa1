package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/scholargrid/harvester/internal/postgres"
)

// rawPool connects without migrating, so tests can exercise Migrate itself.
func rawPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	uri := os.Getenv("STORE_URI")
	if uri == "" {
		t.Skip("STORE_URI not set, skipping integration test")
	}

	pool, err := postgres.NewPool(context.Background(), uri)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// migrationLockFree reports whether the migration advisory lock is
// claimable, releasing it again if the probe grabbed it.
func migrationLockFree(t *testing.T, pool *pgxpool.Pool) bool {
	t.Helper()
	ctx := context.Background()

	var got bool
	require.NoError(t, pool.QueryRow(ctx, "SELECT pg_try_advisory_lock(824901157)").Scan(&got))
	if got {
		_, err := pool.Exec(ctx, "SELECT pg_advisory_unlock(824901157)")
		require.NoError(t, err)
	}
	return got
}

func TestMigrate_AppliesSchemaAndRecordsVersions(t *testing.T) {
	pool := rawPool(t)
	ctx := context.Background()

	require.NoError(t, postgres.Migrate(ctx, pool))

	for _, table := range []string{"schema_migrations", "scholarships", "audit_log"} {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)",
			table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	// Both dedup keys must be enforced by the database, not only the gate.
	for _, index := range []string{"scholarships_title_provider_key", "scholarships_application_url_key"} {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)",
			index).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "unique index %s should exist", index)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, versions, "0001_scholarships.sql")
	assert.Contains(t, versions, "0002_audit_log.sql")
}

func TestMigrate_SecondRunAppliesNothing(t *testing.T) {
	pool := rawPool(t)
	ctx := context.Background()

	require.NoError(t, postgres.Migrate(ctx, pool))

	var before int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&before))
	require.Greater(t, before, 0)

	require.NoError(t, postgres.Migrate(ctx, pool))

	var after int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&after))
	assert.Equal(t, before, after, "a repeat run must not re-record migrations")
}

func TestMigrate_ReleasesAdvisoryLock(t *testing.T) {
	pool := rawPool(t)

	require.NoError(t, postgres.Migrate(context.Background(), pool))

	assert.True(t, migrationLockFree(t, pool),
		"advisory lock should be free once Migrate returns")
}

func TestMigrate_ParallelReplicasSerialize(t *testing.T) {
	pool := rawPool(t)
	ctx := context.Background()

	// Three "replicas" race; the advisory lock lines them up and the
	// schema_migrations bookkeeping makes the followers no-ops.
	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			return postgres.Migrate(ctx, pool)
		})
	}
	require.NoError(t, g.Wait())

	assert.True(t, migrationLockFree(t, pool))
}

func TestMigrate_HeldLockBlocksUntilContextExpires(t *testing.T) {
	pool := rawPool(t)
	ctx := context.Background()

	// Claim the migration lock on a dedicated connection, standing in for
	// another replica mid-migration.
	holder, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer holder.Release()

	_, err = holder.Exec(ctx, "SELECT pg_advisory_lock(824901157)")
	require.NoError(t, err)
	defer holder.Exec(ctx, "SELECT pg_advisory_unlock(824901157)") //nolint:errcheck

	shortCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = postgres.Migrate(shortCtx, pool)
	assert.Error(t, err, "Migrate should give up when the lock never frees")
}
