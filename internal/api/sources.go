package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scholargrid/harvester/internal/orchestrator"
)

// HandleListSources returns every configured source in config order.
func (s *Server) HandleListSources(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, envelope{
		"sources": s.Orchestrator.Sources(),
	})
}

// HandleEnableSource re-enables a paused source.
func (s *Server) HandleEnableSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceEnabled(w, r, true)
}

// HandleDisableSource pauses a source. Running jobs finish; the scheduler
// and bundles skip the source until it is re-enabled.
func (s *Server) HandleDisableSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceEnabled(w, r, false)
}

func (s *Server) setSourceEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	sourceID := chi.URLParam(r, "sourceId")

	src, err := s.Orchestrator.SetSourceEnabled(sourceID, enabled)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownSource) {
			respondError(w, http.StatusNotFound, codeUnknownSource, "no source with id "+sourceID)
			return
		}
		internalError(w, r, "failed to update source", err)
		return
	}

	action := "source.disable"
	if enabled {
		action = "source.enable"
	}
	s.audit(r, action, "source "+sourceID)

	respond(w, http.StatusOK, envelope{
		"source": src,
	})
}
