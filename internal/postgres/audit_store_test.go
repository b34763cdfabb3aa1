package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/postgres"
)

func TestAuditStore_LogFillsDefaults(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewAuditStore(pool)
	ctx := context.Background()

	err := store.Log(ctx, domain.AuditEntry{
		Actor:  "api-key",
		Action: "breakers.reset",
		Detail: "reset 4 breakers",
	})
	require.NoError(t, err)

	entries, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, "api-key", e.Actor)
	assert.Equal(t, "breakers.reset", e.Action)
	assert.Empty(t, e.IP, "NULL ip must come back as empty string")
	assert.WithinDuration(t, time.Now().UTC(), e.OccurredAt, 5*time.Second)
}

func TestAuditStore_List_MostRecentFirst(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewAuditStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, action := range []string{"jobs.run_all", "source.disable", "source.enable"} {
		require.NoError(t, store.Log(ctx, domain.AuditEntry{
			Actor:      "admin",
			Action:     action,
			IP:         "10.0.0.8",
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "source.enable", entries[0].Action)
	assert.Equal(t, "source.disable", entries[1].Action)
	assert.Equal(t, "10.0.0.8", entries[0].IP)

	rest, err := store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "jobs.run_all", rest[0].Action)
}

func TestAuditStore_List_Empty_ReturnsEmptySlice(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewAuditStore(pool)

	entries, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestAuditStore_DeleteOlderThan(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewAuditStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Log(ctx, domain.AuditEntry{
		Actor: "admin", Action: "jobs.run_all", OccurredAt: now.AddDate(0, 0, -120),
	}))
	require.NoError(t, store.Log(ctx, domain.AuditEntry{
		Actor: "admin", Action: "breakers.reset", OccurredAt: now,
	}))

	n, err := store.DeleteOlderThan(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "breakers.reset", entries[0].Action)
}
