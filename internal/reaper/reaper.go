// Package reaper enforces retention on stored scholarship records. A
// background loop deactivates records whose deadline has passed, degrades
// aging validations to stale, re-probes a bounded batch of stale links,
// and prunes old audit entries. Run it on the leader only; every replica
// running it would multiply the probe traffic against upstream sites.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/fetch"
)

const (
	// DefaultInterval is the pass cadence when none is configured.
	DefaultInterval = 15 * time.Minute

	// DefaultRetentionGrace keeps a record active this long past its
	// deadline. Providers routinely extend deadlines by a day or two, so
	// deactivating at the stroke of midnight would drop live schemes.
	DefaultRetentionGrace = 24 * time.Hour

	// DefaultStaleAfter is how old a validation may grow before the link
	// status degrades from verified to stale.
	DefaultStaleAfter = 7 * 24 * time.Hour

	// DefaultAuditMaxAge bounds the audit log.
	DefaultAuditMaxAge = 90 * 24 * time.Hour

	// DefaultProbeBatch caps stale links re-probed per pass so a large
	// backlog cannot monopolize the shared HTTP budget.
	DefaultProbeBatch = 25
)

// RecordStore is the slice of the scholarship store the reaper drives.
type RecordStore interface {
	DeactivateExpired(ctx context.Context, cutoff time.Time) (int, error)
	MarkStale(ctx context.Context, olderThan time.Time) (int, error)
	FindStale(ctx context.Context, limit int) ([]domain.Scholarship, error)
	UpdateLinkStatus(ctx context.Context, id uuid.UUID, status domain.LinkStatus, checkedAt time.Time) error
}

// AuditStore prunes aged audit entries.
type AuditStore interface {
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int, error)
}

// LinkProber re-checks a stale application link without downloading the
// body. *fetch.Fetcher satisfies it, which keeps re-probes behind the same
// per-domain rate limits as scrape traffic.
type LinkProber interface {
	Head(ctx context.Context, url string) (*fetch.Result, error)
}

// Config tunes the retention passes. Zero values fall back to package
// defaults.
type Config struct {
	Interval       time.Duration
	RetentionGrace time.Duration
	StaleAfter     time.Duration
	AuditMaxAge    time.Duration
	ProbeBatch     int
}

func (c *Config) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RetentionGrace <= 0 {
		c.RetentionGrace = DefaultRetentionGrace
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.AuditMaxAge <= 0 {
		c.AuditMaxAge = DefaultAuditMaxAge
	}
	if c.ProbeBatch <= 0 {
		c.ProbeBatch = DefaultProbeBatch
	}
}

// Stats summarizes one retention pass.
type Stats struct {
	Deactivated int `json:"deactivated"`
	MarkedStale int `json:"marked_stale"`
	Reverified  int `json:"reverified"`
	Broken      int `json:"broken"`
	AuditPruned int `json:"audit_pruned"`
}

// Reaper runs the retention passes on a fixed interval.
type Reaper struct {
	records RecordStore
	audit   AuditStore
	prober  LinkProber
	cfg     Config
	log     *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Reaper. audit and prober may be nil; their passes are
// skipped.
func New(records RecordStore, audit AuditStore, prober LinkProber, cfg Config, log *slog.Logger) *Reaper {
	cfg.fillDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		records: records,
		audit:   audit,
		prober:  prober,
		cfg:     cfg,
		log:     log,
	}
}

// Start begins the background reaper goroutine. The first pass runs one
// full interval after Start so daemon startup is not delayed by retention
// work.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// RunNow triggers a manual retention pass and returns the resulting stats.
func (r *Reaper) RunNow(ctx context.Context) (*Stats, error) {
	return r.tick(ctx), nil
}

// tick executes all retention tasks. Each task is isolated; a failure in
// one does not prevent the others from running.
func (r *Reaper) tick(ctx context.Context) *Stats {
	now := time.Now().UTC()
	stats := &Stats{}

	r.safeRun("deactivateExpired", func() {
		stats.Deactivated = r.deactivateExpired(ctx, now)
	})

	r.safeRun("markStale", func() {
		stats.MarkedStale = r.markStale(ctx, now)
	})

	r.safeRun("reprobeStale", func() {
		stats.Reverified, stats.Broken = r.reprobeStale(ctx, now)
	})

	r.safeRun("pruneAuditLog", func() {
		stats.AuditPruned = r.pruneAuditLog(ctx, now)
	})

	r.log.Info("reaper: pass complete",
		"deactivated", stats.Deactivated,
		"marked_stale", stats.MarkedStale,
		"reverified", stats.Reverified,
		"broken", stats.Broken,
		"audit_pruned", stats.AuditPruned,
	)

	return stats
}

// deactivateExpired retires records whose deadline passed more than the
// grace period ago.
func (r *Reaper) deactivateExpired(ctx context.Context, now time.Time) int {
	if r.records == nil {
		return 0
	}

	cutoff := now.Add(-r.cfg.RetentionGrace)
	count, err := r.records.DeactivateExpired(ctx, cutoff)
	if err != nil {
		r.log.Error("reaper: failed to deactivate expired records", "error", err)
		return 0
	}
	return count
}

// markStale degrades verified links whose last validation has aged out.
func (r *Reaper) markStale(ctx context.Context, now time.Time) int {
	if r.records == nil {
		return 0
	}

	olderThan := now.Add(-r.cfg.StaleAfter)
	count, err := r.records.MarkStale(ctx, olderThan)
	if err != nil {
		r.log.Error("reaper: failed to mark stale links", "error", err)
		return 0
	}
	return count
}

// reprobeStale re-checks a bounded batch of stale links with HEAD requests,
// oldest validation first. A link answering below 400 returns to verified
// with a fresh validation time, so it leaves the stale set until the next
// aging cycle; hard failures and error statuses become broken. A probe cut
// short by shutdown leaves the record untouched so the next pass retries it.
func (r *Reaper) reprobeStale(ctx context.Context, now time.Time) (reverified, broken int) {
	if r.records == nil || r.prober == nil {
		return 0, 0
	}

	stale, err := r.records.FindStale(ctx, r.cfg.ProbeBatch)
	if err != nil {
		r.log.Error("reaper: failed to list stale records", "error", err)
		return 0, 0
	}

	for _, rec := range stale {
		res, probeErr := r.prober.Head(ctx, rec.ApplicationURL)
		if ctx.Err() != nil {
			return reverified, broken
		}

		status := domain.LinkVerified
		if probeErr != nil || res.Status >= 400 {
			status = domain.LinkBroken
		}

		if err := r.records.UpdateLinkStatus(ctx, rec.ID, status, now); err != nil {
			r.log.Warn("reaper: failed to update link status",
				"id", rec.ID, "url", rec.ApplicationURL, "error", err)
			continue
		}
		if status == domain.LinkBroken {
			r.log.Debug("reaper: stale link broken",
				"id", rec.ID, "url", rec.ApplicationURL)
			broken++
		} else {
			reverified++
		}
	}
	return reverified, broken
}

// pruneAuditLog deletes audit entries older than the configured max age.
func (r *Reaper) pruneAuditLog(ctx context.Context, now time.Time) int {
	if r.audit == nil {
		return 0
	}

	cutoff := now.Add(-r.cfg.AuditMaxAge)
	count, err := r.audit.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.log.Error("reaper: failed to prune audit log", "error", err)
		return 0
	}
	return count
}

// safeRun executes fn with panic recovery to isolate task failures.
func (r *Reaper) safeRun(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("reaper: task panicked", "task", name, "panic", rec)
		}
	}()
	fn()
}
