package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/credcore/internal/auth"
	"github.com/org/credcore/internal/secret"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// loadCredential fetches the {id} credential and hides other tenants'
// credentials behind a 404. It writes the response on failure.
func (s *Server) loadCredential(w http.ResponseWriter, r *http.Request) (*models.Credential, auth.Principal, bool) {
	p, _ := principalFromCtx(r.Context())
	cred, err := s.app.Secrets.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && cred.TenantID != p.TenantID {
		err = storage.ErrNotFound
	}
	if err != nil {
		writeServiceError(w, r, err)
		return nil, p, false
	}
	return cred, p, true
}

// CredentialCreateHandler handles POST /v1/credentials
func (s *Server) CredentialCreateHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var in secret.NewCredential
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.TenantID = p.TenantID
	cred, err := s.app.Secrets.Create(r.Context(), in, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

// CredentialListHandler handles GET /v1/credentials
func (s *Server) CredentialListHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	q := r.URL.Query()
	creds, err := s.app.Secrets.List(r.Context(), storage.CredentialFilter{
		TenantID: p.TenantID,
		OwnerID:  q.Get("owner_id"),
		FolderID: q.Get("folder_id"),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if creds == nil {
		creds = []*models.Credential{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": creds})
}

// CredentialReadHandler handles GET /v1/credentials/{id}. Secrets are never
// included; use the reveal endpoint.
func (s *Server) CredentialReadHandler(w http.ResponseWriter, r *http.Request) {
	cred, _, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"credential": cred,
		"expiration": s.app.Policy.ExpirationOf(cred.ExpiresAt),
	})
}

// CredentialUpdateHandler handles PATCH /v1/credentials/{id}
func (s *Server) CredentialUpdateHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var patch secret.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := s.app.Secrets.Update(r.Context(), cred.ID, patch, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// CredentialDeleteHandler handles DELETE /v1/credentials/{id}
func (s *Server) CredentialDeleteHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	if err := s.app.Secrets.Delete(r.Context(), cred.ID, p.Actor); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CredentialSecretHandler handles PUT /v1/credentials/{id}/secret
func (s *Server) CredentialSecretHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret is required")
		return
	}
	updated, err := s.app.Secrets.UpdateSecret(r.Context(), cred.ID, req.Secret, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// CredentialHistoryHandler handles GET /v1/credentials/{id}/history
func (s *Server) CredentialHistoryHandler(w http.ResponseWriter, r *http.Request) {
	cred, _, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	entries, err := s.app.Secrets.History(r.Context(), cred.ID, queryInt(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}

// CredentialRestoreHandler handles POST /v1/credentials/{id}/restore
func (s *Server) CredentialRestoreHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var req struct {
		HistoryID string `json:"history_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.HistoryID == "" {
		writeError(w, http.StatusBadRequest, "history_id is required")
		return
	}
	restored, err := s.app.Secrets.Restore(r.Context(), cred.ID, req.HistoryID, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, restored)
}

// CredentialRevealHandler handles POST /v1/credentials/{id}/reveal. With
// ?format=env the secret fields are returned as a dotenv document.
func (s *Server) CredentialRevealHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	rev, err := s.app.Secrets.Reveal(r.Context(), cred.ID, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	if r.URL.Query().Get("format") == "env" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(secret.ExportDotEnv(secret.EnvVars(rev)))) //nolint:errcheck
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// CredentialReuseCheckHandler handles POST /v1/credentials/{id}/reuse-check
func (s *Server) CredentialReuseCheckHandler(w http.ResponseWriter, r *http.Request) {
	cred, _, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.app.Secrets.CheckReuse(r.Context(), cred.ID, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
