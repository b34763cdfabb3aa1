// harvestd is the scholarship harvesting daemon.
// It schedules scrape jobs across the configured sources, validates and
// stores what the adapters extract, and serves the admin API.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scholargrid/harvester/internal/api"
	"github.com/scholargrid/harvester/internal/archive"
	"github.com/scholargrid/harvester/internal/auth"
	"github.com/scholargrid/harvester/internal/breaker"
	"github.com/scholargrid/harvester/internal/config"
	"github.com/scholargrid/harvester/internal/fetch"
	"github.com/scholargrid/harvester/internal/ingest"
	"github.com/scholargrid/harvester/internal/leader"
	"github.com/scholargrid/harvester/internal/orchestrator"
	"github.com/scholargrid/harvester/internal/postgres"
	"github.com/scholargrid/harvester/internal/ratelimit"
	"github.com/scholargrid/harvester/internal/reaper"
	"github.com/scholargrid/harvester/internal/source"
	"github.com/scholargrid/harvester/internal/validate"
)

// Exit codes. Fatal startup errors and the -once mode both use these so
// operators and cron wrappers can tell failure classes apart.
const (
	exitOK        = 0
	exitConfig    = 1 // bad configuration or environment
	exitStore     = 2 // store configured but unreachable
	exitAllFailed = 3 // -once only: every source job failed
	exitCancelled = 4 // -once only: interrupted before the bundle finished
)

// validateEnv checks the shape of environment variables before anything is
// wired. Returns a slice of validation errors (empty if all valid); value
// parsing beyond shape is handled by config.ApplyEnv.
func validateEnv() []string {
	var errs []string

	// Listen address must be host:port.
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("HTTP_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}

	// STORE_URI must be a parseable postgres URL.
	if storeURI := os.Getenv("STORE_URI"); storeURI != "" {
		if _, err := url.Parse(storeURI); err != nil {
			errs = append(errs, fmt.Sprintf("STORE_URI: invalid URL (%v)", err))
		}
	}

	// S3_ENDPOINT may be host:port without scheme; allow that.
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		if _, _, err := net.SplitHostPort(v); err != nil {
			if _, err := url.Parse("http://" + v); err != nil {
				errs = append(errs, fmt.Sprintf("S3_ENDPOINT=%q: must be a valid endpoint", v))
			}
		}
	}

	return errs
}

// warnDefaultCredentials logs security warnings when archive or store
// credentials appear to be well-known defaults (e.g. minioadmin/minioadmin,
// postgres/postgres). Safe for local development, dangerous in production.
func warnDefaultCredentials(cfg *config.Config) {
	if cfg.Archive.AccessKey == "minioadmin" || cfg.Archive.SecretKey == "minioadmin" {
		slog.Warn("archive credentials are set to default values (minioadmin); change these for production deployments")
	}

	if cfg.StoreURI != "" {
		if u, err := url.Parse(cfg.StoreURI); err == nil && u.User != nil {
			user := u.User.Username()
			pass, _ := u.User.Password()
			if (user == "harvester" && pass == "harvester") || (user == "postgres" && pass == "postgres") {
				slog.Warn("store credentials appear to be defaults; change these for production deployments",
					"user", user)
			}
		}
	}
}

// logLevel maps the configured level name onto a slog level. Unknown names
// fall back to info; config.Validate rejects them before this runs.
func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runBundleOnce executes a single bundle over every enabled source and maps
// the outcome onto the exit codes above. Used by the -once flag for cron
// jobs and smoke tests.
func runBundleOnce(ctx context.Context, orch *orchestrator.Orchestrator, pool *pgxpool.Pool) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("running one bundle over all enabled sources")
	summary, err := orch.RunAllNow(ctx)

	orch.Stop()
	pool.Close()

	if err != nil {
		if ctx.Err() != nil {
			slog.Info("bundle cancelled before completion")
			return exitCancelled
		}
		slog.Error("bundle did not run", "error", err)
		return exitAllFailed
	}

	slog.Info("bundle complete",
		"bundle_id", summary.ID,
		"jobs", len(summary.Jobs),
		"candidates", summary.Totals.Candidates,
		"admitted", summary.Totals.Admitted,
		"rejected", summary.Totals.Rejected,
		"duplicates", summary.Totals.Duplicates,
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond).String(),
	)

	switch {
	case ctx.Err() != nil:
		return exitCancelled
	case summary.AllFailed():
		slog.Error("every source job failed")
		return exitAllFailed
	default:
		return exitOK
	}
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /harvestd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		addr := os.Getenv("HTTP_ADDR")
		if addr == "" {
			addr = ":8080"
		}
		_, port, err := net.SplitHostPort(addr)
		if err != nil || port == "" {
			port = "8080"
		}
		resp, err := http.Get("http://localhost:" + port + "/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	once := flag.Bool("once", false, "run one bundle over every enabled source, then exit")
	flag.Parse()

	// Context-aware slog handler so request ids reach every log record.
	// Rebuilt below once the configured level is known.
	logger := slog.New(api.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(logger)

	// Validate critical environment variables before wiring anything.
	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(exitConfig)
	}

	// Load config: HARVESTER_CONFIG env > ./harvester.yaml > built-in defaults,
	// then overlay the environment on top.
	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(exitConfig)
	}
	if problems := cfg.ApplyEnv(); len(problems) > 0 {
		for _, p := range problems {
			slog.Error("invalid environment variable", "error", p)
		}
		os.Exit(exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(exitConfig)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath, "sources", len(cfg.Sources))
	}

	logger = slog.New(api.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))
	slog.SetDefault(logger)

	warnDefaultCredentials(cfg)

	// The daemon cannot admit records without a store, so STORE_URI missing
	// is a configuration error while an unreachable store is exit 2.
	if cfg.StoreURI == "" {
		slog.Error("STORE_URI is not set; harvestd requires a record store")
		os.Exit(exitConfig)
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.StoreURI)
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(exitStore)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		pool.Close()
		os.Exit(exitStore)
	}
	records := postgres.NewScholarshipStore(pool)
	auditStore := postgres.NewAuditStore(pool)
	slog.Info("postgres stores initialized")

	// Outbound HTTP stack: the per-domain politeness limiter feeds the
	// retrying fetcher that every adapter, validator, and probe shares.
	limiter := ratelimit.New()
	fetcher := fetch.New(fetch.Config{
		RequestTimeout: cfg.HTTPTimeout.Duration,
		RelaxedTLS:     cfg.RelaxedTLSEnabled(),
		UserAgents:     cfg.UserAgents,
	}, limiter)

	validator := validate.New(fetcher, validate.Config{
		MinScore: cfg.MinQualityScore,
	}, logger)

	gate := ingest.New(records, logger)

	// Optional page-snapshot archive. Nil stays nil so the orchestrator and
	// readiness checks skip it cleanly.
	var (
		orchArchive   orchestrator.Archiver
		archiveHealth api.HealthChecker
	)
	if cfg.Archive.Enabled() {
		archiveStore, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			slog.Error("failed to connect to page archive", "error", err)
			pool.Close()
			os.Exit(exitConfig)
		}
		orchArchive = archiveStore
		archiveHealth = archiveStore
		slog.Info("page archive initialized",
			"endpoint", cfg.Archive.Endpoint,
			"bucket", cfg.Archive.Bucket,
		)
	} else {
		slog.Warn("archive not configured, running without page snapshots")
	}

	// Build one adapter per configured source.
	registry := source.NewRegistry()
	if err := source.RegisterBuiltins(registry); err != nil {
		slog.Error("failed to register source adapters", "error", err)
		pool.Close()
		os.Exit(exitConfig)
	}
	sources := cfg.DomainSources()
	adapters := make(map[string]source.Adapter, len(sources))
	for _, src := range sources {
		adapter, err := registry.Build(src.Adapter, source.Options{
			SourceID: src.ID,
			BaseURL:  src.BaseURL,
			Fetcher:  fetcher,
			Log:      logger,
		})
		if err != nil {
			slog.Error("failed to build source adapter", "source", src.ID, "adapter", src.Adapter, "error", err)
			pool.Close()
			os.Exit(exitConfig)
		}
		adapters[src.ID] = adapter
	}

	breakers := breaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerCoolDown.Duration)

	orch, err := orchestrator.New(orchestrator.Config{
		Sources:           sources,
		Adapters:          adapters,
		Breakers:          breakers,
		Validator:         validator,
		Gate:              gate,
		Archive:           orchArchive,
		Log:               logger,
		GlobalConcurrency: cfg.GlobalConcurrency,
		JobTimeout:        cfg.JobTimeout.Duration,
		SchedulerTick:     cfg.SchedulerTick.Duration,
		TierHighInterval:  cfg.TierHighInterval.Duration,
		TierStdInterval:   cfg.TierStdInterval.Duration,
	})
	if err != nil {
		slog.Error("failed to build orchestrator", "error", err)
		pool.Close()
		os.Exit(exitConfig)
	}
	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start orchestrator", "error", err)
		pool.Close()
		os.Exit(exitConfig)
	}

	if *once {
		os.Exit(runBundleOnce(ctx, orch, pool))
	}

	srv := &api.Server{
		Orchestrator:  orch,
		Records:       records,
		Audit:         auditStore,
		StoreHealth:   postgres.NewHealthChecker(pool),
		ArchiveHealth: archiveHealth,
	}

	// Auth: API_KEY enables bearer/header auth, otherwise the API is open.
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		srv.Auth = auth.APIKey(apiKey)
		slog.Info("API key authentication enabled")
	} else {
		srv.Auth = auth.Noop()
	}

	// Configurable CORS origins (comma-separated).
	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}

	// Per-caller budget on the manual trigger endpoints.
	triggerLimit := api.DefaultTriggerRateLimitConfig()
	triggerLimit.PerHour = cfg.TriggerRatePerHour
	srv.TriggerLimit = &triggerLimit

	// startBackgroundWorkers launches the scheduler and the reaper. Called by
	// the leader elector when this replica wins the advisory lock, so that
	// multi-replica deployments never scrape a source twice in parallel.
	var (
		stopScheduler func()
		stopReaper    func()
	)
	startBackgroundWorkers := func(ctx context.Context) func() {
		orch.StartScheduler(ctx)
		stopScheduler = func() { orch.StopScheduler() }
		slog.Info("scheduler started")

		reap := reaper.New(records, auditStore, fetcher, reaper.Config{
			Interval:       cfg.ReaperInterval.Duration,
			RetentionGrace: cfg.RetentionGrace.Duration,
			StaleAfter:     cfg.StaleAfter.Duration,
		}, logger)
		reap.Start(ctx)
		stopReaper = func() { reap.Stop() }
		slog.Info("reaper started")

		return func() {
			if stopScheduler != nil {
				stopScheduler()
				stopScheduler = nil
				slog.Info("scheduler stopped")
			}
			if stopReaper != nil {
				stopReaper()
				stopReaper = nil
				slog.Info("reaper stopped")
			}
		}
	}

	// SCHEDULER_ENABLED controls whether this replica can run background
	// workers. Set to "false" to run a pure API-only replica.
	var stopLeader func()
	if os.Getenv("SCHEDULER_ENABLED") != "false" {
		// Leader election via Postgres advisory lock. Only the replica that
		// acquires the lock starts background workers. If the leader dies,
		// Postgres releases the lock and another replica takes over.
		tryLock := func(ctx context.Context) (bool, error) {
			var acquired bool
			err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
			return acquired, err
		}
		elector := leader.New(tryLock, leader.RetryInterval, startBackgroundWorkers, logger)
		elector.Start(ctx)
		srv.Leader = elector
		stopLeader = func() { elector.Stop() }
		slog.Info("leader election started (advisory lock)")
	} else {
		slog.Info("background workers disabled (SCHEDULER_ENABLED=false)")
	}

	router := api.NewRouter(srv)

	// Warn if listening on all interfaces without authentication.
	if strings.HasPrefix(cfg.HTTPAddr, "0.0.0.0") && os.Getenv("API_KEY") == "" {
		slog.Warn("listening on 0.0.0.0 without API_KEY; the admin API is unauthenticated and reachable from the network")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
		},
	}

	// Start HTTP(S) server in a goroutine.
	tlsCertFile := os.Getenv("TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("TLS_KEY_FILE")

	errCh := make(chan error, 1)
	if tlsCertFile != "" && tlsKeyFile != "" {
		go func() {
			errCh <- httpServer.ListenAndServeTLS(tlsCertFile, tlsKeyFile)
		}()
		slog.Info("starting harvestd (HTTPS)", "addr", cfg.HTTPAddr, "sources", len(sources), "version", api.Version)
	} else {
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()
		slog.Info("starting harvestd", "addr", cfg.HTTPAddr, "sources", len(sources), "version", api.Version)
	}

	// Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			pool.Close()
			os.Exit(exitConfig)
		}
	}

	// Graceful shutdown: drain HTTP connections (15s timeout).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: leader (stops scheduler and reaper) before the
	// orchestrator so no new jobs start while running ones drain, then the
	// trigger limiter, then the pool.
	if stopLeader != nil {
		stopLeader()
		slog.Info("leader elector stopped")
	}
	orch.Stop()
	slog.Info("orchestrator stopped")
	if srv.TriggerLimiterStop != nil {
		srv.TriggerLimiterStop()
		slog.Info("trigger rate limiter stopped")
	}
	pool.Close()
	slog.Info("store pool closed")

	slog.Info("harvestd shutdown complete")
}
