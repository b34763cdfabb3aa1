package api_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scholargrid/harvester/internal/api"
	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/orchestrator"
)

// fakeOrchestrator is an in-memory api.Orchestrator for handler tests.
// Error fields inject failures; call counters let tests assert what ran.
type fakeOrchestrator struct {
	mu sync.Mutex

	status   orchestrator.Status
	sources  []domain.Source
	jobs     []domain.ScrapeJob
	breakers []domain.BreakerSnapshot

	triggerErr error
	runErr     error

	bundleID     uuid.UUID
	triggerCalls int
	resetCalls   int
	runRequests  []string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		bundleID: uuid.New(),
		sources: []domain.Source{
			{ID: "nsp", Name: "National Scholarship Portal", Adapter: "nsp", BaseURL: "https://scholarships.gov.in", Priority: 1, Enabled: true},
			{ID: "buddy4study", Name: "Buddy4Study", Adapter: "listing", BaseURL: "https://www.buddy4study.com", Priority: 2, Enabled: true},
		},
	}
}

func (f *fakeOrchestrator) Status() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeOrchestrator) TriggerAll() (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.triggerCalls++
	if f.triggerErr != nil {
		return uuid.Nil, f.triggerErr
	}
	return f.bundleID, nil
}

func (f *fakeOrchestrator) RunSource(sourceID string, trigger domain.Trigger) (domain.ScrapeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runRequests = append(f.runRequests, sourceID)
	if f.runErr != nil {
		return domain.ScrapeJob{}, f.runErr
	}
	for _, src := range f.sources {
		if src.ID == sourceID {
			return domain.ScrapeJob{
				ID:        uuid.New(),
				SourceID:  sourceID,
				Trigger:   trigger,
				StartedAt: time.Now().UTC(),
			}, nil
		}
	}
	return domain.ScrapeJob{}, orchestrator.ErrUnknownSource
}

func (f *fakeOrchestrator) RecentJobs(sourceID string, limit int) []domain.ScrapeJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.ScrapeJob, 0, len(f.jobs))
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if sourceID != "" && f.jobs[i].SourceID != sourceID {
			continue
		}
		out = append(out, f.jobs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (f *fakeOrchestrator) Sources() []domain.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(make([]domain.Source, 0, len(f.sources)), f.sources...)
}

func (f *fakeOrchestrator) SetSourceEnabled(sourceID string, enabled bool) (domain.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, src := range f.sources {
		if src.ID == sourceID {
			f.sources[i].Enabled = enabled
			return f.sources[i], nil
		}
	}
	return domain.Source{}, orchestrator.ErrUnknownSource
}

func (f *fakeOrchestrator) BreakerSnapshots() []domain.BreakerSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(make([]domain.BreakerSnapshot, 0, len(f.breakers)), f.breakers...)
}

func (f *fakeOrchestrator) ResetBreakers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resetCalls++
	return len(f.breakers)
}

// memoryRecordStore is an in-memory api.RecordStore.
type memoryRecordStore struct {
	mu      sync.Mutex
	records []domain.Scholarship
	findErr error
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{}
}

func (m *memoryRecordStore) FindActive(_ context.Context, limit, offset int) ([]domain.Scholarship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	active := make([]domain.Scholarship, 0, len(m.records))
	for _, rec := range m.records {
		if rec.IsActive {
			active = append(active, rec)
		}
	}
	if offset >= len(active) {
		return []domain.Scholarship{}, nil
	}
	end := offset + limit
	if end > len(active) {
		end = len(active)
	}
	return active[offset:end], nil
}

func (m *memoryRecordStore) CountActive(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return 0, m.findErr
	}
	n := 0
	for _, rec := range m.records {
		if rec.IsActive {
			n++
		}
	}
	return n, nil
}

// memoryAuditStore is an in-memory api.AuditStore.
type memoryAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	logErr  error
}

func newMemoryAuditStore() *memoryAuditStore {
	return &memoryAuditStore{}
}

func (m *memoryAuditStore) Log(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logErr != nil {
		return m.logErr
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAuditStore) List(_ context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(m.entries))
	skipped := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// all returns a copy of every logged entry in insertion order.
func (m *memoryAuditStore) all() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...)
}

// staticHealth is a HealthChecker that always returns the configured error.
type staticHealth struct {
	err error
}

func (s staticHealth) HealthCheck(context.Context) error {
	return s.err
}

// staticLeader is a LeaderInfo pinned to a fixed answer.
type staticLeader bool

func (s staticLeader) IsLeader() bool { return bool(s) }

// testServer bundles a Server with the fakes behind it so tests can seed
// state and inspect what the handlers did.
type testServer struct {
	srv     *api.Server
	orch    *fakeOrchestrator
	records *memoryRecordStore
	audit   *memoryAuditStore
}

func newTestServer() *testServer {
	orch := newFakeOrchestrator()
	records := newMemoryRecordStore()
	audit := newMemoryAuditStore()
	return &testServer{
		srv: &api.Server{
			Orchestrator: orch,
			Records:      records,
			Audit:        audit,
		},
		orch:    orch,
		records: records,
		audit:   audit,
	}
}

// router mounts the bundled server and stops its trigger limiter when the
// test finishes.
func (ts *testServer) router(t *testing.T) http.Handler {
	t.Helper()
	h := api.NewRouter(ts.srv)
	t.Cleanup(func() {
		if ts.srv.TriggerLimiterStop != nil {
			ts.srv.TriggerLimiterStop()
		}
	})
	return h
}
