package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/org/credcore/internal/auth"
	"github.com/org/credcore/internal/rotation"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// RotationPolicyCreateHandler handles POST /v1/rotation-policies
func (s *Server) RotationPolicyCreateHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var req struct {
		Name            string `json:"name"`
		RotationDays    int    `json:"rotation_days"`
		ReminderDays    int    `json:"reminder_days"`
		AutoRotate      bool   `json:"auto_rotate"`
		RequireApproval bool   `json:"require_approval"`
		IsActive        *bool  `json:"is_active"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pol := &models.RotationPolicy{
		TenantID:        p.TenantID,
		Name:            req.Name,
		RotationDays:    req.RotationDays,
		ReminderDays:    req.ReminderDays,
		AutoRotate:      req.AutoRotate,
		RequireApproval: req.RequireApproval,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	created, err := s.app.Scheduler.CreatePolicy(r.Context(), pol)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// RotationPolicyListHandler handles GET /v1/rotation-policies
func (s *Server) RotationPolicyListHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	policies, err := s.app.Scheduler.ListPolicies(r.Context(), p.TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if policies == nil {
		policies = []*models.RotationPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": policies})
}

// RotationPolicyAssignHandler handles PUT /v1/credentials/{id}/rotation-policy.
// A null policy_id detaches the current policy.
func (s *Server) RotationPolicyAssignHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var req struct {
		PolicyID *string `json:"policy_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.app.Scheduler.AssignPolicy(r.Context(), cred.ID, req.PolicyID, p.Actor); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotationScheduleHandler handles POST /v1/credentials/{id}/rotations
func (s *Server) RotationScheduleHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var req struct {
		ScheduledFor *time.Time `json:"scheduled_for"`
		Notes        string     `json:"notes"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var at time.Time
	if req.ScheduledFor != nil {
		at = *req.ScheduledFor
	}
	rec, err := s.app.Scheduler.ScheduleRotation(r.Context(), cred.ID, at, req.Notes, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RotationListHandler handles GET /v1/credentials/{id}/rotations
func (s *Server) RotationListHandler(w http.ResponseWriter, r *http.Request) {
	cred, _, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	recs, err := s.app.Scheduler.ListRotations(r.Context(), cred.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.RotationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": recs})
}

// RotationAutoHandler handles POST /v1/credentials/{id}/rotations/auto. The
// generated secret is not returned; reveal the credential to read it.
func (s *Server) RotationAutoHandler(w http.ResponseWriter, r *http.Request) {
	cred, p, ok := s.loadCredential(w, r)
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	rec, err := s.app.Scheduler.AutoRotatePassword(r.Context(), cred.ID, req.Notes, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// loadRotation fetches the {id} rotation record, scoped to the caller's
// tenant through its credential.
func (s *Server) loadRotation(w http.ResponseWriter, r *http.Request) (*models.RotationRecord, auth.Principal, bool) {
	p, _ := principalFromCtx(r.Context())
	rec, err := s.app.Scheduler.GetRotation(r.Context(), chi.URLParam(r, "id"))
	if err == nil {
		var cred *models.Credential
		cred, err = s.app.Secrets.Get(r.Context(), rec.CredentialID)
		if err == nil && cred.TenantID != p.TenantID {
			err = storage.ErrNotFound
		}
	}
	if err != nil {
		writeServiceError(w, r, err)
		return nil, p, false
	}
	return rec, p, true
}

// RotationCompleteHandler handles POST /v1/rotations/{id}/complete
func (s *Server) RotationCompleteHandler(w http.ResponseWriter, r *http.Request) {
	rec, p, ok := s.loadRotation(w, r)
	if !ok {
		return
	}
	var req struct {
		NewSecret string `json:"new_secret"`
		Notes     string `json:"notes"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.NewSecret == "" {
		writeError(w, http.StatusBadRequest, "new_secret is required")
		return
	}
	done, err := s.app.Scheduler.CompleteRotation(r.Context(), rec.ID, req.NewSecret, req.Notes, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// RotationCancelHandler handles POST /v1/rotations/{id}/cancel
func (s *Server) RotationCancelHandler(w http.ResponseWriter, r *http.Request) {
	rec, p, ok := s.loadRotation(w, r)
	if !ok {
		return
	}
	cancelled, err := s.app.Scheduler.CancelRotation(r.Context(), rec.ID, p.Actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

type dueResponse struct {
	CredentialID string    `json:"credential_id"`
	Name         string    `json:"name"`
	PolicyID     string    `json:"policy_id"`
	AutoRotate   bool      `json:"auto_rotate"`
	LastRotated  time.Time `json:"last_rotated"`
	DueAt        time.Time `json:"due_at"`
}

// RotationDueHandler handles GET /v1/rotations/due?kind=rotation|reminder
func (s *Server) RotationDueHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromCtx(r.Context())
	var (
		due []rotation.Due
		err error
	)
	now := time.Now().UTC()
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "rotation":
		due, err = s.app.Scheduler.DueForRotation(r.Context(), now)
	case "reminder":
		due, err = s.app.Scheduler.DueForReminder(r.Context(), now)
	default:
		writeError(w, http.StatusBadRequest, "kind must be rotation or reminder")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := []dueResponse{}
	for _, d := range due {
		if d.Credential.TenantID != p.TenantID {
			continue
		}
		out = append(out, dueResponse{
			CredentialID: d.Credential.ID,
			Name:         d.Credential.Name,
			PolicyID:     d.Policy.ID,
			AutoRotate:   d.Policy.AutoRotate,
			LastRotated:  d.LastRotated,
			DueAt:        d.DueAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}
