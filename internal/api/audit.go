package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/nerrad567/tempsys-core/internal/audit"
)

// handleListAuditLogs serves GET /api/audit. Filters: action, outcome,
// user_id. Paging: limit (default 50, capped at 200) and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	filter, bad := auditFilter(r.URL.Query())
	if bad != "" {
		writeBadRequest(w, "invalid "+bad)
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err, "request_id", requestID(r))
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// auditFilter parses the query. On failure it returns the offending
// parameter name.
func auditFilter(q url.Values) (audit.Filter, string) {
	f := audit.Filter{Action: q.Get("action"), Outcome: q.Get("outcome")}

	ints := []struct {
		name string
		set  func(int64)
	}{
		{"user_id", func(v int64) { f.UserID = v }},
		{"limit", func(v int64) { f.Limit = int(min(v, audit.MaxLimit)) }},
		{"offset", func(v int64) { f.Offset = int(v) }},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return audit.Filter{}, p.name
		}
		p.set(v)
	}
	return f, ""
}
