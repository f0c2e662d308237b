package api

import (
	"net/http"

	"github.com/org/credcore/internal/secret"
)

// BreachCheckHandler handles POST /v1/analysis/breach. Only the first five
// hex characters of the SHA-1 leave this process.
func (s *Server) BreachCheckHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	res := s.app.Secrets.CheckBreach(r.Context(), req.Password, p.Actor)
	writeJSON(w, http.StatusOK, res)
}

// VaultAnalysisHandler handles POST /v1/analysis/vault
func (s *Server) VaultAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var opts secret.AnalyzeOptions
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	report, err := s.app.Secrets.Analyze(r.Context(), p.TenantID, opts, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
