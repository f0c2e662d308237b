package api

import (
	"net/http"
	"time"

	"github.com/org/credcore/internal/policy"
	"github.com/org/credcore/pkg/models"
)

// PasswordPolicyReadHandler handles GET /v1/password-policy. Tenants
// without an active policy see the default.
func (s *Server) PasswordPolicyReadHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	cfg, err := s.app.Policy.Resolve(r.Context(), p.TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PasswordPolicyWriteHandler handles PUT /v1/password-policy
func (s *Server) PasswordPolicyWriteHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var cfg models.PasswordPolicyConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.MinLength < 1 {
		writeError(w, http.StatusBadRequest, "min_length must be at least 1")
		return
	}
	if cfg.PreventReuseCount < 0 {
		writeError(w, http.StatusBadRequest, "prevent_reuse_count must not be negative")
		return
	}
	if cfg.ExpirationDays != nil && *cfg.ExpirationDays <= 0 {
		writeError(w, http.StatusBadRequest, "expiration_days must be positive")
		return
	}
	cfg.TenantID = p.TenantID
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.app.Store.PutPasswordPolicy(r.Context(), &cfg); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PasswordValidateHandler handles POST /v1/password-policy/validate
func (s *Server) PasswordValidateHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := s.app.Policy.Resolve(r.Context(), p.TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res := s.app.Policy.Validate(req.Password, cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"is_valid": res.Valid,
		"errors":   res.Errors,
		"strength": policy.Strength(req.Password),
	})
}
