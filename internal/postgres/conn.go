// Package postgres implements the Postgres-backed stores behind harvestd:
// the scholarship record store the ingestion gate writes through and the
// audit log for admin actions.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// tunePool applies pool limits. The pipeline is write-light (a few upserts
// per job), so the defaults stay small. Each knob has an environment
// override:
//
//	DB_MAX_CONNS            pool ceiling (default 10)
//	DB_MIN_CONNS            idle connections kept warm (default 2)
//	DB_MAX_CONN_LIFETIME    connection recycle age (default 1h)
//	DB_MAX_CONN_IDLE_TIME   idle close threshold (default 30m)
//	DB_HEALTH_CHECK_PERIOD  idle health probe interval (default 1m)
func tunePool(cfg *pgxpool.Config) {
	cfg.MaxConns = int32(intFromEnv("DB_MAX_CONNS", 10))
	cfg.MinConns = int32(intFromEnv("DB_MIN_CONNS", 2))
	cfg.MaxConnLifetime = durationFromEnv("DB_MAX_CONN_LIFETIME", time.Hour)
	cfg.MaxConnIdleTime = durationFromEnv("DB_MAX_CONN_IDLE_TIME", 30*time.Minute)
	cfg.HealthCheckPeriod = durationFromEnv("DB_HEALTH_CHECK_PERIOD", time.Minute)
}

// NewPool builds a pgxpool.Pool from the STORE_URI connection string and
// verifies connectivity with a ping. Tuning from the environment overrides
// anything the URI itself carries (e.g. ?pool_max_conns=10).
func NewPool(ctx context.Context, storeURI string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(storeURI)
	if err != nil {
		return nil, fmt.Errorf("parse store uri: %w", err)
	}
	tunePool(cfg)

	slog.Info("store pool configured",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
		"max_conn_lifetime", cfg.MaxConnLifetime,
		"max_conn_idle_time", cfg.MaxConnIdleTime,
		"health_check_period", cfg.HealthCheckPeriod,
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return pool, nil
}

// intFromEnv reads a positive integer override, keeping def when the
// variable is unset or malformed.
func intFromEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("ignoring pool override", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

// durationFromEnv reads a positive Go duration override, keeping def when
// the variable is unset or malformed.
func durationFromEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("ignoring pool override", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}
