package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/scholargrid/harvester/internal/domain"
)

// AuditStore provides audit logging and retrieval.
type AuditStore interface {
	Log(ctx context.Context, e domain.AuditEntry) error
	List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error)
}

// audit records one mutating admin action. Best-effort: a failed write is
// logged and never surfaced to the caller, because the action it describes
// already happened.
func (s *Server) audit(r *http.Request, action, detail string) {
	if s.Audit == nil {
		return
	}

	entry := domain.AuditEntry{
		Actor:  actorFromRequest(r),
		Action: action,
		Detail: detail,
		IP:     clientIP(r),
	}
	if err := s.Audit.Log(r.Context(), entry); err != nil {
		LoggerFromContext(r.Context()).Warn("audit log failed", "action", action, "error", err)
	}
}

// actorFromRequest names the caller as well as a static-key scheme allows:
// requests carrying a bearer key are "api-key", everything else "anonymous".
func actorFromRequest(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return "api-key"
	}
	return "anonymous"
}

// HandleListAuditLog returns recent audit log entries, most recent first.
func (s *Server) HandleListAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	entries, err := s.Audit.List(r.Context(), limit, offset)
	if err != nil {
		internalError(w, r, "failed to list audit log", err)
		return
	}

	respond(w, http.StatusOK, envelope{
		"entries": entries,
		"total":   len(entries),
	})
}
