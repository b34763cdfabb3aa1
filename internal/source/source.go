// Package source defines the plug-in contract for upstream scholarship
// sites and ships the built-in adapters. An adapter extracts raw candidate
// records from one upstream; it never touches the store, never synthesizes
// records it did not extract, and routes every HTTP call through the
// rate-limited fetcher handed to it at construction. If upstream extraction
// finds nothing, the adapter returns an empty slice, not filler.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/fetch"
)

// Adapter kinds selectable from configuration.
const (
	KindNSP         = "nsp"
	KindUGC         = "ugc"
	KindBuddy4Study = "buddy4study"
)

// Adapter is the contract each scraper implements.
type Adapter interface {
	// Identifier returns the stable source id the adapter was built for.
	Identifier() string

	// BaseURL returns the upstream origin, used to resolve relative
	// application links extracted from listings.
	BaseURL() string

	// Fetch extracts raw candidates from the upstream. A clean run with
	// nothing extracted returns (nil, nil).
	Fetch(ctx context.Context) ([]domain.CandidateRecord, error)
}

// Fetcher is the slice of the HTTP layer adapters may use.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

// Options carries everything a Builder needs to construct an adapter for
// one configured source.
type Options struct {
	SourceID string
	BaseURL  string
	Fetcher  Fetcher
	Log      *slog.Logger
}

func (o *Options) fill() error {
	if o.SourceID == "" {
		return errors.New("source id required")
	}
	if o.Fetcher == nil {
		return errors.New("fetcher required")
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return nil
}

// Builder constructs an adapter of one kind.
type Builder func(opts Options) (Adapter, error)

// Registry maps adapter kinds to builders. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under a kind. Registering the same kind twice is
// a wiring bug and returns an error.
func (r *Registry) Register(kind string, b Builder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[kind]; exists {
		return fmt.Errorf("adapter kind %q already registered", kind)
	}
	r.builders[kind] = b
	return nil
}

// Build constructs an adapter of the given kind.
func (r *Registry) Build(kind string, opts Options) (Adapter, error) {
	r.mu.RLock()
	b, ok := r.builders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter kind %q", kind)
	}
	if err := opts.fill(); err != nil {
		return nil, fmt.Errorf("adapter %q: %w", kind, err)
	}
	return b(opts)
}

// Kinds lists registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// RegisterBuiltins wires the shipped adapters into a registry.
func RegisterBuiltins(r *Registry) error {
	for kind, b := range map[string]Builder{
		KindNSP:         newNSPAdapter,
		KindUGC:         newUGCAdapter,
		KindBuddy4Study: newBuddy4StudyAdapter,
	} {
		if err := r.Register(kind, b); err != nil {
			return err
		}
	}
	return nil
}
