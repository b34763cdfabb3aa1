// Package ratelimit enforces per-domain politeness for outbound HTTP.
//
// Every domain gets a pacer (minimum spacing between requests) and an
// in-flight semaphore, selected by longest-suffix match against a policy
// table. Government portals are paced the slowest, commercial aggregators
// the fastest. A global floor separates any two outbound requests
// regardless of domain, so a burst across many domains still leaves the
// process looking polite from a single egress IP.
//
// The limiter is enforced inside the fetcher's transport, which means
// retries and redirect hops are paced exactly like first attempts.
package ratelimit

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Policy is the politeness contract for one domain bucket.
type Policy struct {
	MinSpacing    time.Duration // minimum gap between successive requests
	MaxConcurrent int64         // in-flight request cap
}

// GlobalFloor is the minimum gap between any two outbound requests,
// regardless of target domain.
const GlobalFloor = 1000 * time.Millisecond

// DefaultPolicy applies to domains matching no table entry.
var DefaultPolicy = Policy{MinSpacing: 4000 * time.Millisecond, MaxConcurrent: 2}

// DefaultPolicies maps domain suffixes to politeness policies.
// Longest matching suffix wins.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		// Government portals: slow and single-file.
		"gov.in": {MinSpacing: 8000 * time.Millisecond, MaxConcurrent: 1},
		"nic.in": {MinSpacing: 8000 * time.Millisecond, MaxConcurrent: 1},

		// Universities and academic institutions.
		"edu.in": {MinSpacing: 5000 * time.Millisecond, MaxConcurrent: 2},
		"ac.in":  {MinSpacing: 5000 * time.Millisecond, MaxConcurrent: 2},

		// Commercial scholarship aggregators tolerate more traffic.
		"buddy4study.com":       {MinSpacing: 3000 * time.Millisecond, MaxConcurrent: 3},
		"scholarshipsindia.com": {MinSpacing: 3000 * time.Millisecond, MaxConcurrent: 3},
		"wemakescholars.com":    {MinSpacing: 3000 * time.Millisecond, MaxConcurrent: 3},
		"vidhyasaarathi.co.in":  {MinSpacing: 3000 * time.Millisecond, MaxConcurrent: 3},
	}
}

// entry is the live limiter state for one domain.
type entry struct {
	policy Policy
	pacer  *rate.Limiter
	slots  *semaphore.Weighted

	mu          sync.Mutex
	lastRequest time.Time
}

// Limiter coordinates outbound request politeness across all domains.
// Safe for concurrent use.
type Limiter struct {
	policies      map[string]Policy
	defaultPolicy Policy
	global        *rate.Limiter

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a limiter with the default policy table and global floor.
func New() *Limiter {
	return NewWithPolicies(DefaultPolicies(), DefaultPolicy, GlobalFloor)
}

// NewWithPolicies builds a limiter with a custom table. Tests use this to
// run with millisecond-scale policies.
func NewWithPolicies(policies map[string]Policy, def Policy, floor time.Duration) *Limiter {
	return &Limiter{
		policies:      policies,
		defaultPolicy: def,
		global:        rate.NewLimiter(rate.Every(floor), 1),
		entries:       make(map[string]*entry),
	}
}

// PolicyFor resolves the policy for a hostname by longest-suffix match.
// Matches respect label boundaries: "gov.in" matches "scholarships.gov.in"
// but not "mygov.in.example.com" or "fakegov.in".
func (l *Limiter) PolicyFor(host string) Policy {
	host = normalizeHost(host)
	best := ""
	policy := l.defaultPolicy
	for suffix, p := range l.policies {
		if host != suffix && !strings.HasSuffix(host, "."+suffix) {
			continue
		}
		if len(suffix) > len(best) {
			best = suffix
			policy = p
		}
	}
	return policy
}

// Acquire blocks until an in-flight slot and a pacing token are available
// for the host's domain, honoring the global floor. The returned release
// func must be called when the request completes (response body closed).
// Acquire returns early with the context's error if ctx is cancelled while
// waiting.
func (l *Limiter) Acquire(ctx context.Context, host string) (release func(), err error) {
	e := l.entryFor(host)

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.global.Wait(ctx); err != nil {
		e.slots.Release(1)
		return nil, err
	}
	if err := e.pacer.Wait(ctx); err != nil {
		e.slots.Release(1)
		return nil, err
	}

	e.mu.Lock()
	e.lastRequest = time.Now()
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.slots.Release(1) })
	}, nil
}

// LastRequest returns when the most recent request to the host's domain
// was dispatched, or the zero time if none has been.
func (l *Limiter) LastRequest(host string) time.Time {
	l.mu.Lock()
	e, ok := l.entries[normalizeHost(host)]
	l.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRequest
}

func (l *Limiter) entryFor(host string) *entry {
	key := normalizeHost(host)

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e
	}
	p := l.PolicyFor(key)
	e := &entry{
		policy: p,
		pacer:  rate.NewLimiter(rate.Every(p.MinSpacing), 1),
		slots:  semaphore.NewWeighted(p.MaxConcurrent),
	}
	l.entries[key] = e
	return e
}

// normalizeHost lower-cases and strips any port or trailing dot.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
