package api

import (
	"net/http"
	"strconv"

	"github.com/CovCube/server/internal/audit"
)

// recordAudit appends an entry for the authenticated caller. A failed
// write is logged and does not fail the request.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(r.Context(), &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      ownerFrom(r.Context()),
		Details:    details,
	})
	if err != nil {
		s.logger.Warn("audit entry not recorded", "action", action, "entity_type", entityType,
			"entity_id", entityID, "error", err)
	}
}

// handleListAudit returns audit entries filtered by action, entityType and
// entityId, newest first, paged with limit and offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceFailure, "audit trail is not available")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid "+p.name+": must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	page, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
