package api

import (
	"fmt"
	"net/http"
)

// HandleStatus reports scheduler state, per-source breaker and job history,
// and process-lifetime totals. Multi-replica deployments also see whether
// this replica holds the scheduling lock.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Orchestrator.Status()
	body := envelope{
		"scheduler_running": st.SchedulerRunning,
		"bundle_running":    st.BundleRunning,
		"started_at":        st.StartedAt,
		"totals":            st.Totals,
		"sources":           st.Sources,
	}
	if s.Leader != nil {
		body["leader"] = s.Leader.IsLeader()
	}
	respond(w, http.StatusOK, body)
}

// HandleBreakers returns the detailed view of every circuit breaker.
func (s *Server) HandleBreakers(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, envelope{
		"breakers": s.Orchestrator.BreakerSnapshots(),
	})
}

// HandleResetBreakers forces every breaker closed. Idempotent: resetting
// already-closed breakers is harmless and reports the same count.
func (s *Server) HandleResetBreakers(w http.ResponseWriter, r *http.Request) {
	n := s.Orchestrator.ResetBreakers()
	s.audit(r, "breakers.reset", fmt.Sprintf("reset %d breakers", n))
	respond(w, http.StatusOK, envelope{
		"reset": n,
	})
}
