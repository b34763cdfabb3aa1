package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/orchestrator"
)

const (
	defaultRecentJobs = 20
	maxRecentJobs     = 100
)

// HandleRunAll starts a bundle run over every enabled source. Answers 202
// with the bundle id; the run itself continues in the background.
func (s *Server) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	id, err := s.Orchestrator.TriggerAll()
	if err != nil {
		if errors.Is(err, orchestrator.ErrRunInProgress) {
			respondError(w, http.StatusConflict, codeRunInProgress, err.Error())
			return
		}
		internalError(w, r, "failed to start bundle run", err)
		return
	}

	s.audit(r, "jobs.run_all", "bundle "+id.String())
	respond(w, http.StatusAccepted, envelope{
		"bundle_id": id,
	})
}

// HandleRunSource starts one manual scrape job. Answers 202 with the started
// job; an already-active job for the source coalesces into a 409.
func (s *Server) HandleRunSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")

	job, err := s.Orchestrator.RunSource(sourceID, domain.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownSource):
			respondError(w, http.StatusNotFound, codeUnknownSource, "no source with id "+sourceID)
		case errors.Is(err, orchestrator.ErrJobActive):
			respondError(w, http.StatusConflict, codeJobAlreadyRunning, err.Error())
		default:
			internalError(w, r, "failed to start job", err)
		}
		return
	}

	s.audit(r, "jobs.run", "source "+sourceID+" job "+job.ID.String())
	respond(w, http.StatusAccepted, envelope{
		"job": job,
	})
}

// HandleRecentJobs lists finished jobs, most recent first. ?source= narrows
// to one source, ?limit= caps the count (default 20, max 100).
func (s *Server) HandleRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRecentJobs)
	switch {
	case limit < 1:
		limit = defaultRecentJobs
	case limit > maxRecentJobs:
		limit = maxRecentJobs
	}

	jobs := s.Orchestrator.RecentJobs(r.URL.Query().Get("source"), limit)
	respond(w, http.StatusOK, envelope{
		"jobs": jobs,
	})
}
