package api

import (
	"net/http"
	"time"

	"github.com/org/credcore/internal/storage"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.app.Store.CountCredentials(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "storage": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"breach_enabled": s.app.Breach != nil,
	})
}

// AuditLogHandler handles GET /v1/sys/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	q := r.URL.Query()
	filter := storage.AuditFilter{
		TenantID:     p.TenantID,
		Actor:        q.Get("actor"),
		Action:       q.Get("action"),
		CredentialID: q.Get("credential_id"),
		Limit:        queryInt(r, "limit", 100),
		Offset:       queryInt(r, "offset", 0),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &t
	}

	entries, err := s.app.Audit.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}
