// Package orchestrator dispatches scrape jobs over the configured sources.
// It enforces per-source serialization with trigger coalescing, bounds
// cross-source parallelism with a global semaphore, runs each job through
// the normalize/validate/ingest pipeline under circuit-breaker protection,
// and aggregates status for the API.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scholargrid/harvester/internal/breaker"
	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/ingest"
	"github.com/scholargrid/harvester/internal/metrics"
	"github.com/scholargrid/harvester/internal/normalize"
	"github.com/scholargrid/harvester/internal/scheduler"
	"github.com/scholargrid/harvester/internal/source"
	"github.com/scholargrid/harvester/internal/validate"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrRunInProgress rejects a bundle run while another is active.
	ErrRunInProgress = errors.New("a run over all sources is already in progress")

	// ErrUnknownSource rejects a trigger for a source id that was never
	// configured.
	ErrUnknownSource = errors.New("unknown source")

	// ErrJobActive reports that a trigger was coalesced because a job for
	// the source is already running or queued.
	ErrJobActive = errors.New("a job for this source is already active")

	errNotStarted = errors.New("orchestrator not started")
)

// Three store write failures in a row abort the remaining candidates and
// fail the job; the store is clearly not taking writes.
const storeErrorLimit = 3

// Defaults applied when Config leaves tuning fields zero.
const (
	DefaultGlobalConcurrency = 3
	DefaultJobTimeout        = 10 * time.Minute
	DefaultRecentPerSource   = 20
	DefaultSchedulerTick     = 30 * time.Second
	DefaultTierHighInterval  = 30 * time.Minute
	DefaultTierStdInterval   = 60 * time.Minute
	defaultRecentGlobal      = 100
)

// Validator is the slice of the link validator a job drives.
type Validator interface {
	ValidateBatch(ctx context.Context, targets []validate.Target) []validate.Result
}

// Admitter is the slice of the ingestion gate a job drives.
type Admitter interface {
	Admit(ctx context.Context, rec domain.ValidatedRecord) (ingest.Disposition, error)
}

// Archiver persists validated page snapshots for admitted records.
// Optional; jobs never fail on archive errors.
type Archiver interface {
	ArchivePage(ctx context.Context, sourceID, pageURL string, body []byte) error
}

// Config wires an Orchestrator.
type Config struct {
	Sources   []domain.Source
	Adapters  map[string]source.Adapter // keyed by source id
	Breakers  *breaker.Registry
	Validator Validator
	Gate      Admitter
	Archive   Archiver // optional
	Log       *slog.Logger

	GlobalConcurrency int           // parallel jobs across sources
	JobTimeout        time.Duration // soft cap per job
	RecentPerSource   int           // finished jobs retained per source

	SchedulerTick    time.Duration
	TierHighInterval time.Duration
	TierStdInterval  time.Duration
}

// sourceState is everything the orchestrator tracks for one source. All
// fields are guarded by the orchestrator mutex; the adapter itself is
// immutable and safe for concurrent use.
type sourceState struct {
	src         domain.Source
	adapter     source.Adapter
	running     bool
	lastStarted time.Time
	counts      domain.JobCounts
	jobs        []domain.ScrapeJob // finished jobs, oldest first
}

// Orchestrator coordinates every scrape job in the process.
type Orchestrator struct {
	log       *slog.Logger
	breakers  *breaker.Registry
	validator Validator
	gate      Admitter
	archive   Archiver
	sem       *semaphore.Weighted
	sched     *scheduler.Scheduler

	jobTimeout time.Duration
	ringSize   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	sources   map[string]*sourceState
	order     []string // config order, for stable status output
	recent    []domain.ScrapeJob
	totals    domain.JobCounts
	bundleOn  bool
	schedOn   bool
	startedAt time.Time
}

// New builds an Orchestrator from the given wiring. Every source must have
// an adapter; breakers are registered for each source up front so status
// reports cover sources that never ran.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Breakers == nil {
		return nil, errors.New("breaker registry required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("validator required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("ingestion gate required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = DefaultGlobalConcurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.RecentPerSource <= 0 {
		cfg.RecentPerSource = DefaultRecentPerSource
	}
	if cfg.SchedulerTick <= 0 {
		cfg.SchedulerTick = DefaultSchedulerTick
	}
	if cfg.TierHighInterval <= 0 {
		cfg.TierHighInterval = DefaultTierHighInterval
	}
	if cfg.TierStdInterval <= 0 {
		cfg.TierStdInterval = DefaultTierStdInterval
	}

	o := &Orchestrator{
		log:        cfg.Log,
		breakers:   cfg.Breakers,
		validator:  cfg.Validator,
		gate:       cfg.Gate,
		archive:    cfg.Archive,
		sem:        semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
		jobTimeout: cfg.JobTimeout,
		ringSize:   cfg.RecentPerSource,
		sources:    make(map[string]*sourceState, len(cfg.Sources)),
	}

	for _, src := range cfg.Sources {
		adapter, ok := cfg.Adapters[src.ID]
		if !ok {
			return nil, fmt.Errorf("source %q has no adapter", src.ID)
		}
		if _, dup := o.sources[src.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		o.sources[src.ID] = &sourceState{src: src, adapter: adapter}
		o.order = append(o.order, src.ID)
		cfg.Breakers.Register(src.ID)
	}

	o.sched = scheduler.New(o, scheduler.Config{
		Tick:     cfg.SchedulerTick,
		TierHigh: cfg.TierHighInterval,
		TierStd:  cfg.TierStdInterval,
	})
	return o, nil
}

// Start binds the orchestrator to its lifetime context. Jobs dispatched
// later run under this context; Stop cancels them.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return errors.New("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.startedAt = time.Now().UTC()
	return nil
}

// Stop halts the scheduler, cancels in-flight jobs, and waits for every
// job goroutine to finish.
func (o *Orchestrator) Stop() {
	o.StopScheduler()

	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

// StartScheduler begins periodic dispatch. Idempotent: calls while the
// scheduler is running are no-ops. The context bounds the scheduler loop
// only; jobs it fires run under the orchestrator's own lifetime.
func (o *Orchestrator) StartScheduler(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.schedOn {
		return
	}
	o.sched.Start(ctx)
	o.schedOn = true
	o.log.Info("orchestrator: scheduler started")
}

// StopScheduler halts periodic dispatch. In-flight jobs keep running.
func (o *Orchestrator) StopScheduler() {
	o.mu.Lock()
	if !o.schedOn {
		o.mu.Unlock()
		return
	}
	o.schedOn = false
	o.mu.Unlock()

	// Stop outside the lock: a tick in progress calls back into the
	// orchestrator and must not deadlock against us.
	o.sched.Stop()
	o.log.Info("orchestrator: scheduler stopped")
}

// RunSource dispatches a background job for one source and returns the
// freshly started record. Coalescing applies: an active job for the source
// fails the call with ErrJobActive and has no side effects.
func (o *Orchestrator) RunSource(sourceID string, trigger domain.Trigger) (domain.ScrapeJob, error) {
	st, job, ctx, err := o.reserve(sourceID, trigger)
	if err != nil {
		return domain.ScrapeJob{}, err
	}
	go o.execute(ctx, st, job)
	return job, nil
}

// RunAllNow fans one job out per enabled source, bounded by the global
// concurrency cap, and blocks until every dispatched job ends. A second
// concurrent call fails with ErrRunInProgress and has no side effects.
func (o *Orchestrator) RunAllNow(ctx context.Context) (domain.BundleSummary, error) {
	id, err := o.beginBundle()
	if err != nil {
		return domain.BundleSummary{}, err
	}
	defer o.wg.Done()
	return o.runBundle(ctx, id), nil
}

// TriggerAll starts a bundle run in the background and returns its id
// immediately. The API uses this to answer 202 without holding the request
// open for the whole bundle.
func (o *Orchestrator) TriggerAll() (uuid.UUID, error) {
	id, err := o.beginBundle()
	if err != nil {
		return uuid.Nil, err
	}
	go func() {
		defer o.wg.Done()
		o.runBundle(o.ctx, id)
	}()
	return id, nil
}

// Status reports scheduler state, per-source job history, breaker
// positions, and process-lifetime totals.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := Status{
		SchedulerRunning: o.schedOn,
		BundleRunning:    o.bundleOn,
		StartedAt:        o.startedAt,
		Totals:           o.totals,
		Sources:          make([]SourceStatus, 0, len(o.order)),
	}
	for _, id := range o.order {
		st := o.sources[id]
		row := SourceStatus{
			Source:  st.src,
			Breaker: o.breakers.SnapshotFor(id),
			Running: st.running,
			Counts:  st.counts,
		}
		if n := len(st.jobs); n > 0 {
			last := st.jobs[n-1]
			row.LastJob = &last
		}
		out.Sources = append(out.Sources, row)
	}
	return out
}

// SourceStatus is one row of the status report.
type SourceStatus struct {
	Source  domain.Source          `json:"source"`
	Breaker domain.BreakerSnapshot `json:"breaker"`
	Running bool                   `json:"running"`
	LastJob *domain.ScrapeJob      `json:"last_job,omitempty"`
	Counts  domain.JobCounts       `json:"counts"`
}

// Status is the aggregate view behind GET /status.
type Status struct {
	SchedulerRunning bool             `json:"scheduler_running"`
	BundleRunning    bool             `json:"bundle_running"`
	StartedAt        time.Time        `json:"started_at"`
	Totals           domain.JobCounts `json:"totals"`
	Sources          []SourceStatus   `json:"sources"`
}

// RecentJobs returns finished jobs, most recent first. A non-empty
// sourceID narrows to one source; limit caps the result when positive.
func (o *Orchestrator) RecentJobs(sourceID string, limit int) []domain.ScrapeJob {
	o.mu.Lock()
	defer o.mu.Unlock()

	ring := o.recent
	if sourceID != "" {
		ring = nil
		if st, ok := o.sources[sourceID]; ok {
			ring = st.jobs
		}
	}

	out := make([]domain.ScrapeJob, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Sources returns a snapshot of every configured source in config order.
func (o *Orchestrator) Sources() []domain.Source {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.Source, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.sources[id].src)
	}
	return out
}

// SetSourceEnabled flips the runtime enabled flag, returning the updated
// source. The change is process-local: configuration remains the source of
// truth at boot, the toggle exists for operational pause.
func (o *Orchestrator) SetSourceEnabled(sourceID string, enabled bool) (domain.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.sources[sourceID]
	if !ok {
		return domain.Source{}, ErrUnknownSource
	}
	st.src.Enabled = enabled
	return st.src, nil
}

// LastStarted reports when the most recent job for the source began.
func (o *Orchestrator) LastStarted(sourceID string) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.sources[sourceID]; ok {
		return st.lastStarted
	}
	return time.Time{}
}

// TriggerScheduled dispatches a scheduled job, reporting false when the
// trigger was coalesced or could not start.
func (o *Orchestrator) TriggerScheduled(sourceID string) bool {
	_, err := o.RunSource(sourceID, domain.TriggerScheduled)
	if err != nil {
		if !errors.Is(err, ErrJobActive) {
			o.log.Warn("orchestrator: scheduled trigger failed", "source_id", sourceID, "error", err)
		}
		return false
	}
	return true
}

// BreakerSnapshots reports the current position of every breaker.
func (o *Orchestrator) BreakerSnapshots() []domain.BreakerSnapshot {
	return o.breakers.Snapshot()
}

// ResetBreakers forces every breaker closed and returns how many breakers
// were reset.
func (o *Orchestrator) ResetBreakers() int {
	n := o.breakers.ResetAll()

	o.mu.Lock()
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	o.mu.Unlock()

	for _, id := range ids {
		o.observeBreaker(id)
	}
	o.log.Info("orchestrator: breakers reset", "count", n)
	return n
}

// reserve claims the per-source run slot and stamps lastStarted. The
// matching o.wg.Add is released by execute.
func (o *Orchestrator) reserve(sourceID string, trigger domain.Trigger) (*sourceState, domain.ScrapeJob, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return nil, domain.ScrapeJob{}, nil, errNotStarted
	}
	st, ok := o.sources[sourceID]
	if !ok {
		return nil, domain.ScrapeJob{}, nil, ErrUnknownSource
	}
	if st.running {
		return nil, domain.ScrapeJob{}, nil, ErrJobActive
	}

	now := time.Now().UTC()
	st.running = true
	st.lastStarted = now
	job := domain.ScrapeJob{
		ID:        uuid.New(),
		SourceID:  sourceID,
		Trigger:   trigger,
		StartedAt: now,
	}
	o.wg.Add(1)
	return st, job, o.ctx, nil
}

// beginBundle claims the single bundle slot. The matching o.wg.Add is
// released by the caller once runBundle returns.
func (o *Orchestrator) beginBundle() (uuid.UUID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return uuid.Nil, errNotStarted
	}
	if o.bundleOn {
		return uuid.Nil, ErrRunInProgress
	}
	o.bundleOn = true
	o.wg.Add(1)
	return uuid.New(), nil
}

// runBundle executes one job per enabled source and gathers the summary.
// Parallelism comes from the per-job goroutines; the global semaphore
// inside execute enforces the concurrency cap.
func (o *Orchestrator) runBundle(ctx context.Context, id uuid.UUID) domain.BundleSummary {
	defer func() {
		o.mu.Lock()
		o.bundleOn = false
		o.mu.Unlock()
	}()

	summary := domain.BundleSummary{ID: id, StartedAt: time.Now().UTC()}
	o.log.Info("orchestrator: bundle started", "bundle_id", id)

	o.mu.Lock()
	ids := make([]string, 0, len(o.order))
	for _, sid := range o.order {
		if o.sources[sid].src.Enabled {
			ids = append(ids, sid)
		}
	}
	o.mu.Unlock()

	results := make(chan domain.ScrapeJob, len(ids))
	var wg sync.WaitGroup
	for _, sid := range ids {
		st, job, _, err := o.reserve(sid, domain.TriggerBundle)
		if err != nil {
			// A manual or scheduled job won the race; coalesce.
			o.log.Info("orchestrator: bundle trigger coalesced", "bundle_id", id, "source_id", sid)
			continue
		}
		wg.Add(1)
		go func(st *sourceState, job domain.ScrapeJob) {
			defer wg.Done()
			results <- o.execute(ctx, st, job)
		}(st, job)
	}
	wg.Wait()
	close(results)

	for job := range results {
		summary.Jobs = append(summary.Jobs, job)
		summary.Totals.Add(job.Counts)
	}
	sort.Slice(summary.Jobs, func(i, j int) bool {
		return summary.Jobs[i].SourceID < summary.Jobs[j].SourceID
	})
	summary.FinishedAt = time.Now().UTC()

	o.log.Info("orchestrator: bundle finished",
		"bundle_id", id,
		"jobs", len(summary.Jobs),
		"candidates", summary.Totals.Candidates,
		"admitted", summary.Totals.Admitted,
		"rejected", summary.Totals.Rejected,
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary
}

// execute runs one reserved job to completion and seals its record.
func (o *Orchestrator) execute(ctx context.Context, st *sourceState, job domain.ScrapeJob) domain.ScrapeJob {
	defer o.wg.Done()

	metrics.JobsInFlight.Inc()
	o.runJob(ctx, st, &job)
	metrics.JobsInFlight.Dec()

	o.finish(st, &job)
	return job
}

// runJob fills in the job's outcome. Panics inside the pipeline are
// contained here so a misbehaving adapter can't take the process down.
func (o *Orchestrator) runJob(ctx context.Context, st *sourceState, job *domain.ScrapeJob) {
	log := o.log.With("source_id", st.src.ID, "job_id", job.ID, "trigger", job.Trigger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator: job panicked", "panic", r)
			job.Outcome = domain.OutcomeFailed
			job.Reason = fmt.Sprintf("panic: %v", r)
		}
	}()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		job.Outcome = domain.OutcomeFailed
		job.Reason = domain.ReasonCancelled
		return
	}
	defer o.sem.Release(1)

	o.mu.Lock()
	enabled := st.src.Enabled
	o.mu.Unlock()
	if !enabled {
		job.Outcome = domain.OutcomeSkippedDisabled
		job.Reason = "source disabled"
		return
	}

	if !o.breakers.Allow(st.src.ID) {
		job.Outcome = domain.OutcomeSkippedOpenBreaker
		job.Reason = "breaker open"
		log.Warn("orchestrator: job skipped, breaker open")
		return
	}

	jctx, cancelJob := context.WithTimeout(ctx, o.jobTimeout)
	defer cancelJob()

	log.Info("orchestrator: job started")

	cands, err := st.adapter.Fetch(jctx)
	if err != nil {
		if jctx.Err() != nil {
			job.Outcome = domain.OutcomeFailed
			job.Reason = domain.ReasonCancelled
			log.Warn("orchestrator: job cancelled during extraction", "error", err)
			return
		}
		o.breakers.OnFailure(st.src.ID)
		o.observeBreaker(st.src.ID)
		job.Outcome = domain.OutcomeFailed
		job.Reason = "extraction failed"
		job.FirstError = err.Error()
		log.Error("orchestrator: extraction failed", "error", err)
		return
	}

	job.Counts.Candidates = len(cands)
	metrics.CandidatesTotal.WithLabelValues(st.src.ID).Add(float64(len(cands)))

	if len(cands) == 0 {
		job.Outcome = domain.OutcomeSuccess
		job.Reason = "no candidates extracted"
		if o.breakers.OnZeroCandidates(st.src.ID) {
			log.Warn("orchestrator: repeated zero-candidate runs counted as breaker failure")
		}
		o.observeBreaker(st.src.ID)
		return
	}

	cancelled, aborted, firstErr := o.ingestCandidates(jctx, st, job, cands)

	switch {
	case cancelled:
		// Admitted records stay; the breaker never counts cancellation.
		job.Outcome = domain.OutcomeFailed
		job.Reason = domain.ReasonCancelled
	case aborted:
		o.breakers.OnFailure(st.src.ID)
		job.Outcome = domain.OutcomeFailed
		job.Reason = "store unavailable"
		job.FirstError = firstErr.Error()
	case firstErr != nil && job.Counts.Admitted == 0:
		o.breakers.OnFailure(st.src.ID)
		job.Outcome = domain.OutcomeFailed
		job.Reason = "store errors"
		job.FirstError = firstErr.Error()
	default:
		o.breakers.OnSuccess(st.src.ID)
		job.Outcome = domain.OutcomeSuccess
		if firstErr != nil {
			job.FirstError = firstErr.Error()
		}
	}
	o.observeBreaker(st.src.ID)
}

// ingestCandidates runs normalize, validate, admit over one job's
// candidates. Normalization rejects never reach the validator; validation
// runs in bounded batches; admissions are sequential. Returns whether the
// job was cancelled mid-pipeline, whether it aborted on consecutive store
// errors, and the first store error seen.
func (o *Orchestrator) ingestCandidates(ctx context.Context, st *sourceState, job *domain.ScrapeJob, cands []domain.CandidateRecord) (cancelled, aborted bool, firstErr error) {
	log := o.log.With("source_id", st.src.ID, "job_id", job.ID)

	norms := make([]domain.NormalizedRecord, 0, len(cands))
	for _, c := range cands {
		n, err := normalize.Record(c, st.adapter.BaseURL())
		if err != nil {
			job.Counts.Rejected++
			metrics.RejectedTotal.WithLabelValues(st.src.ID, metrics.ReasonInvalid).Inc()
			log.Debug("orchestrator: candidate rejected by normalizer", "title", c.Title, "error", err)
			continue
		}
		norms = append(norms, n)
	}
	if len(norms) == 0 {
		return false, false, nil
	}

	targets := make([]validate.Target, len(norms))
	for i, n := range norms {
		targets[i] = validate.Target{Title: n.Title, URL: n.ApplicationURL}
	}
	results := o.validator.ValidateBatch(ctx, targets)

	consecutiveStoreErrs := 0
	for i, res := range results {
		if ctx.Err() != nil {
			return true, false, firstErr
		}

		if !res.Valid {
			if res.Accessible {
				job.Counts.Rejected++
				metrics.RejectedTotal.WithLabelValues(st.src.ID, metrics.ReasonLowScore).Inc()
				log.Debug("orchestrator: candidate below quality threshold",
					"title", norms[i].Title,
					"url", res.URL,
					"score", res.QualityScore,
				)
			} else {
				job.Counts.ValidationFailures++
				log.Debug("orchestrator: candidate link unreachable",
					"title", norms[i].Title,
					"url", res.URL,
					"errors", res.Errors,
				)
			}
			continue
		}

		rec := domain.ValidatedRecord{
			NormalizedRecord: norms[i],
			SourceID:         st.src.ID,
			FinalURL:         res.FinalURL,
			QualityScore:     res.QualityScore,
			ValidatedAt:      res.CheckedAt,
		}
		disp, err := o.gate.Admit(ctx, rec)
		if err != nil {
			job.Counts.StoreErrors++
			consecutiveStoreErrs++
			if firstErr == nil {
				firstErr = err
			}
			log.Error("orchestrator: store write failed", "title", rec.Title, "error", err)
			if consecutiveStoreErrs >= storeErrorLimit {
				return false, true, fmt.Errorf("%d consecutive store errors: %w", consecutiveStoreErrs, firstErr)
			}
			continue
		}
		consecutiveStoreErrs = 0

		switch disp {
		case ingest.DispositionInserted:
			job.Counts.Admitted++
			metrics.AdmittedTotal.WithLabelValues(st.src.ID, string(disp)).Inc()
			o.archivePage(ctx, st.src.ID, res)
		case ingest.DispositionMerged:
			job.Counts.Admitted++
			job.Counts.Duplicates++
			metrics.AdmittedTotal.WithLabelValues(st.src.ID, string(disp)).Inc()
		case ingest.DispositionRejected:
			job.Counts.Rejected++
			metrics.RejectedTotal.WithLabelValues(st.src.ID, metrics.ReasonPlaceholder).Inc()
		}
	}
	return false, false, firstErr
}

// archivePage stores the validated page body for a newly admitted record.
// Best-effort: failures log and never affect the job.
func (o *Orchestrator) archivePage(ctx context.Context, sourceID string, res validate.Result) {
	if o.archive == nil || len(res.Body) == 0 {
		return
	}
	pageURL := res.FinalURL
	if pageURL == "" {
		pageURL = res.URL
	}
	if err := o.archive.ArchivePage(ctx, sourceID, pageURL, res.Body); err != nil {
		o.log.Warn("orchestrator: page snapshot failed", "source_id", sourceID, "url", pageURL, "error", err)
	}
}

// finish seals the job record and folds it into the rings and counters.
func (o *Orchestrator) finish(st *sourceState, job *domain.ScrapeJob) {
	now := time.Now().UTC()
	job.FinishedAt = &now

	o.mu.Lock()
	st.running = false
	st.counts.Add(job.Counts)
	st.jobs = appendRing(st.jobs, *job, o.ringSize)
	o.recent = appendRing(o.recent, *job, defaultRecentGlobal)
	o.totals.Add(job.Counts)
	o.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(job.SourceID, string(job.Outcome)).Inc()

	o.log.Info("orchestrator: job finished",
		"source_id", job.SourceID,
		"job_id", job.ID,
		"trigger", job.Trigger,
		"outcome", job.Outcome,
		"reason", job.Reason,
		"candidates", job.Counts.Candidates,
		"admitted", job.Counts.Admitted,
		"rejected", job.Counts.Rejected,
		"duplicates", job.Counts.Duplicates,
		"validation_failures", job.Counts.ValidationFailures,
		"elapsed", now.Sub(job.StartedAt),
	)
}

// observeBreaker refreshes the state gauge for one source.
func (o *Orchestrator) observeBreaker(sourceID string) {
	metrics.BreakerState.WithLabelValues(sourceID).Set(metrics.StateValue(o.breakers.State(sourceID)))
}

// appendRing appends keeping only the newest size entries.
func appendRing(ring []domain.ScrapeJob, job domain.ScrapeJob, size int) []domain.ScrapeJob {
	ring = append(ring, job)
	if len(ring) > size {
		ring = ring[len(ring)-size:]
	}
	return ring
}
