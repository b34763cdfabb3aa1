// Package leader elects one harvestd replica to run the background workers.
// Every replica serves the API, but only the advisory-lock holder may run
// the scrape scheduler and the reaper, otherwise each replica would crawl
// the same sources on the same cadence and hammer the upstream portals.
//
// Election rides on pg_try_advisory_lock: session-scoped, so a crashed
// leader loses the lock the moment Postgres notices the connection die and
// a standby replica picks it up on its next campaign.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AdvisoryLockID keys the leadership lock. It must differ from the
// migration lock (824901157) or a deploy running migrations would
// block scheduling cluster-wide.
const AdvisoryLockID int64 = 3164209771355

// RetryInterval is how often a standby replica campaigns for the lock.
const RetryInterval = 30 * time.Second

// TryLockFunc attempts a non-blocking advisory lock grab. It reports true
// when this session now holds the lock. Callers back it with
// pgxpool.Pool.QueryRow:
//
//	leader.New(func(ctx context.Context) (bool, error) {
//	    var acquired bool
//	    err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
//	    return acquired, err
//	}, ...)
type TryLockFunc func(ctx context.Context) (acquired bool, err error)

// OnElected starts the background workers when this replica wins. The ctx
// stays valid for the whole term; the returned resign function is invoked
// when leadership ends.
type OnElected func(ctx context.Context) (resign func())

// Elector campaigns for the advisory lock on a fixed interval and hands
// the worker lifecycle to OnElected while the lock is held.
type Elector struct {
	tryLock   TryLockFunc
	retry     time.Duration
	onElected OnElected
	log       *slog.Logger

	mu       sync.Mutex
	leading  bool
	resignFn func()

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Elector. retry controls how often a standby replica
// re-campaigns; a nil log falls back to slog.Default().
func New(tryLock TryLockFunc, retry time.Duration, onElected OnElected, log *slog.Logger) *Elector {
	if log == nil {
		log = slog.Default()
	}
	return &Elector{
		tryLock:   tryLock,
		retry:     retry,
		onElected: onElected,
		log:       log,
	}
}

// Start launches the campaign loop. The first attempt happens immediately
// so a single-replica deployment schedules without waiting out RetryInterval.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)
}

// Stop ends the campaign loop, resigns if leading, and waits for the loop
// goroutine to exit. Safe to call without a prior Start.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader reports whether this replica currently holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leading
}

func (e *Elector) run(ctx context.Context) {
	defer close(e.done)

	e.campaign(ctx)

	ticker := time.NewTicker(e.retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.resign()
			return
		case <-ticker.C:
			e.campaign(ctx)
		}
	}
}

// campaign grabs the lock if this replica is not already leading. Lock
// query failures are logged and retried on the next tick rather than
// treated as fatal, since a flapping database should not kill the daemon.
func (e *Elector) campaign(ctx context.Context) {
	if e.IsLeader() {
		return
	}

	acquired, err := e.tryLock(ctx)
	if err != nil {
		e.log.Error("leader: advisory lock query failed", "error", err)
		return
	}
	if !acquired {
		e.log.Debug("leader: lock held by another replica, standing by")
		return
	}

	e.log.Info("leader: advisory lock acquired, starting background workers")

	e.mu.Lock()
	e.leading = true
	e.mu.Unlock()

	resign := e.onElected(ctx)

	e.mu.Lock()
	e.resignFn = resign
	e.mu.Unlock()
}

// resign stops the workers this term started. The advisory lock itself is
// released by Postgres when the session ends, not here.
func (e *Elector) resign() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.leading {
		return
	}

	e.log.Info("leader: resigning, stopping background workers")
	if e.resignFn != nil {
		e.resignFn()
		e.resignFn = nil
	}
	e.leading = false
}
