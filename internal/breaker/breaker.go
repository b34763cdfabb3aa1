// Package breaker tracks per-source failure state so the pipeline stops
// hammering a broken upstream.
//
// One breaker per source. CLOSED admits jobs; after threshold consecutive
// failures the breaker OPENs and jobs are skipped until the cool-down
// elapses, at which point the first attempt runs as a HALF_OPEN trial. A
// successful trial closes the breaker, a failed one reopens it.
//
// Two details diverge from textbook breakers and are deliberate:
//   - A clean run that extracts zero candidates is suspicious but not an
//     error. Three consecutive zero-candidate runs count as ONE failure
//     (a "soft failure"); in between they neither reset nor increment the
//     failure counter.
//   - A cancelled job must leave the breaker exactly as it found it, in
//     every state. Callers simply record nothing for cancelled jobs.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/scholargrid/harvester/internal/domain"
)

// zeroRunsPerSoftFailure is how many consecutive empty runs convert into
// one breaker failure.
const zeroRunsPerSoftFailure = 3

type sourceBreaker struct {
	state               domain.BreakerState
	consecutiveFailures int
	zeroCandidateRuns   int
	lastFailureAt       time.Time
	openedAt            time.Time
}

// Registry holds the breakers for every known source.
// Safe for concurrent use; transitions are atomic per source.
type Registry struct {
	threshold int
	coolDown  time.Duration

	mu       sync.Mutex
	breakers map[string]*sourceBreaker
}

// NewRegistry builds a registry. Threshold is the consecutive-failure count
// that opens a breaker; coolDown is how long an open breaker waits before
// admitting a half-open trial.
func NewRegistry(threshold int, coolDown time.Duration) *Registry {
	return &Registry{
		threshold: threshold,
		coolDown:  coolDown,
		breakers:  make(map[string]*sourceBreaker),
	}
}

// Register creates closed breakers for the given sources so status views
// show every source before its first job runs.
func (r *Registry) Register(sourceIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range sourceIDs {
		if _, ok := r.breakers[id]; !ok {
			r.breakers[id] = &sourceBreaker{state: domain.BreakerClosed}
		}
	}
}

// Allow reports whether a job for the source may start. An OPEN breaker
// whose cool-down has elapsed transitions to HALF_OPEN and admits the
// attempt as a trial.
func (r *Registry) Allow(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.ensure(sourceID)
	switch b.state {
	case domain.BreakerOpen:
		if time.Since(b.openedAt) >= r.coolDown {
			b.state = domain.BreakerHalfOpen
			return true
		}
		return false
	default:
		// CLOSED and HALF_OPEN both admit; per-source jobs are serialized
		// upstream, so at most one half-open trial is in flight.
		return true
	}
}

// OnSuccess records a successful job: the breaker closes and both the
// failure counter and the zero-candidate streak reset.
func (r *Registry) OnSuccess(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.ensure(sourceID)
	b.state = domain.BreakerClosed
	b.consecutiveFailures = 0
	b.zeroCandidateRuns = 0
	b.openedAt = time.Time{}
}

// OnFailure records a failed job. A HALF_OPEN trial failure reopens
// immediately; otherwise the breaker opens once the consecutive-failure
// count reaches the threshold.
func (r *Registry) OnFailure(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordFailure(r.ensure(sourceID))
}

// OnZeroCandidates records a clean run that extracted nothing. Every
// zeroRunsPerSoftFailure consecutive empty runs count as one failure.
// It returns true when this call converted the streak into a failure.
func (r *Registry) OnZeroCandidates(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.ensure(sourceID)
	b.zeroCandidateRuns++
	if b.zeroCandidateRuns < zeroRunsPerSoftFailure {
		return false
	}
	b.zeroCandidateRuns = 0
	r.recordFailure(b)
	return true
}

// Reset forces one breaker CLOSED and clears its counters. Idempotent.
func (r *Registry) Reset(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset(r.ensure(sourceID))
}

// ResetAll forces every breaker CLOSED. Idempotent. Returns how many
// breakers were reset.
func (r *Registry) ResetAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		r.reset(b)
	}
	return len(r.breakers)
}

// State returns the source's current breaker state, applying the
// cool-down view: an OPEN breaker past its cool-down reads as HALF_OPEN
// eligible but stays OPEN until the next Allow.
func (r *Registry) State(sourceID string) domain.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensure(sourceID).state
}

// Snapshot returns a view of every breaker, sorted by source id.
func (r *Registry) Snapshot() []domain.BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.BreakerSnapshot, 0, len(r.breakers))
	for id, b := range r.breakers {
		out = append(out, r.snapshot(id, b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// SnapshotFor returns one source's breaker view.
func (r *Registry) SnapshotFor(sourceID string) domain.BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(sourceID, r.ensure(sourceID))
}

func (r *Registry) snapshot(id string, b *sourceBreaker) domain.BreakerSnapshot {
	s := domain.BreakerSnapshot{
		SourceID:            id,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		ZeroCandidateRuns:   b.zeroCandidateRuns,
		Threshold:           r.threshold,
		CoolDown:            r.coolDown,
		CoolDownMs:          r.coolDown.Milliseconds(),
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

func (r *Registry) recordFailure(b *sourceBreaker) {
	b.consecutiveFailures++
	b.lastFailureAt = time.Now()

	if b.state == domain.BreakerHalfOpen || b.consecutiveFailures >= r.threshold {
		b.state = domain.BreakerOpen
		b.openedAt = time.Now()
	}
}

func (r *Registry) reset(b *sourceBreaker) {
	b.state = domain.BreakerClosed
	b.consecutiveFailures = 0
	b.zeroCandidateRuns = 0
	b.openedAt = time.Time{}
}

// ensure must be called with r.mu held.
func (r *Registry) ensure(sourceID string) *sourceBreaker {
	b, ok := r.breakers[sourceID]
	if !ok {
		b = &sourceBreaker{state: domain.BreakerClosed}
		r.breakers[sourceID] = b
	}
	return b
}
