// Package scheduler decides when each source is due for a scrape and hands
// due sources to the orchestrator. It runs as a background goroutine inside
// harvestd, checking at a configurable tick (default 30s).
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/scholargrid/harvester/internal/domain"
)

// Dispatcher is the slice of the orchestrator the scheduler drives. The
// dispatcher owns coalescing: a trigger for a source with an active job is
// dropped, not queued.
type Dispatcher interface {
	// Sources returns a snapshot of every configured source.
	Sources() []domain.Source

	// LastStarted reports when the most recent job for the source began.
	// The zero time means the source has never run.
	LastStarted(sourceID string) time.Time

	// TriggerScheduled dispatches a scheduled job for the source. It
	// reports false when the trigger was coalesced into an active job.
	TriggerScheduled(sourceID string) bool
}

// Config tunes the scheduler loop.
type Config struct {
	// Tick is how often due-ness is evaluated.
	Tick time.Duration

	// TierHigh is the default interval for priority-1 sources.
	TierHigh time.Duration

	// TierStd is the default interval for everything else.
	TierStd time.Duration
}

// Scheduler checks configured sources and fires scrapes when they're due.
type Scheduler struct {
	dispatcher Dispatcher
	tick       time.Duration
	tierHigh   time.Duration
	tierStd    time.Duration
	parser     cron.Parser
	cronNext   map[string]time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a Scheduler driving the given dispatcher.
func New(d Dispatcher, cfg Config) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		tick:       cfg.Tick,
		tierHigh:   cfg.TierHigh,
		tierStd:    cfg.TierStd,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cronNext:   make(map[string]time.Time),
	}
}

// Start begins the background scheduler goroutine. A stopped scheduler can
// be started again, which matters when leadership moves between replicas.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(time.Now().UTC())
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Tick evaluates every enabled source and fires the ones that are due.
// Exported so run-once tooling and tests can drive the loop directly.
func (s *Scheduler) Tick(now time.Time) {
	for _, src := range s.dispatcher.Sources() {
		if !src.Enabled {
			continue
		}

		if src.Cron != "" {
			s.tickCron(now, src)
			continue
		}

		interval := s.effectiveInterval(src)
		last := s.dispatcher.LastStarted(src.ID)
		if !last.IsZero() && now.Sub(last) < interval {
			continue
		}

		if !s.dispatcher.TriggerScheduled(src.ID) {
			slog.Debug("scheduler: trigger coalesced, job already active", "source_id", src.ID)
			continue
		}
		slog.Info("scheduler: fired scheduled job",
			"source_id", src.ID,
			"interval", interval,
		)
	}
}

// tickCron handles a source scheduled by cron expression instead of
// interval. The first sighting computes the next fire time without firing,
// mirroring how a fresh cron entry behaves.
func (s *Scheduler) tickCron(now time.Time, src domain.Source) {
	sched, err := s.parser.Parse(src.Cron)
	if err != nil {
		slog.Warn("scheduler: invalid cron expression", "source_id", src.ID, "cron", src.Cron, "error", err)
		return
	}

	next, seen := s.cronNext[src.ID]
	if !seen {
		s.cronNext[src.ID] = sched.Next(now)
		return
	}
	if next.After(now) {
		return
	}

	// Compute the next fire time from NOW: catch up once, then advance.
	s.cronNext[src.ID] = sched.Next(now)

	if !s.dispatcher.TriggerScheduled(src.ID) {
		slog.Debug("scheduler: cron trigger coalesced, job already active", "source_id", src.ID)
		return
	}
	slog.Info("scheduler: fired cron job",
		"source_id", src.ID,
		"cron", src.Cron,
		"next_run_at", s.cronNext[src.ID],
	)
}

// effectiveInterval resolves the scrape interval for a source: the
// per-source override when set, else the tier default.
func (s *Scheduler) effectiveInterval(src domain.Source) time.Duration {
	if src.Interval > 0 {
		return src.Interval
	}
	if src.Priority == domain.PriorityHigh {
		return s.tierHigh
	}
	return s.tierStd
}
