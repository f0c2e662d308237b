package models

import "time"

// PasswordPolicyConfig is the per-tenant password policy.
type PasswordPolicyConfig struct {
	TenantID                  string    `json:"tenant_id,omitempty"`
	MinLength                 int       `json:"min_length"`
	RequireUppercase          bool      `json:"require_uppercase"`
	RequireLowercase          bool      `json:"require_lowercase"`
	RequireNumbers            bool      `json:"require_numbers"`
	RequireSpecial            bool      `json:"require_special"`
	ExpirationDays            *int      `json:"expiration_days,omitempty"`
	PreventReuseCount         int       `json:"prevent_reuse_count"`
	RequireChangeOnFirstLogin bool      `json:"require_change_on_first_login"`
	RequireChangeAfterDays    *int      `json:"require_change_after_days,omitempty"`
	IsActive                  bool      `json:"is_active"`
	UpdatedAt                 time.Time `json:"updated_at,omitempty"`
}

// DefaultPasswordPolicy is applied when a tenant has no active policy.
func DefaultPasswordPolicy() PasswordPolicyConfig {
	return PasswordPolicyConfig{
		MinLength:        12,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSpecial:   true,
		IsActive:         true,
	}
}

// AuditEntry records a security-relevant event. Secret values must never be
// placed in an entry, only identifiers and outcomes.
type AuditEntry struct {
	ID           int64          `json:"id"`
	RequestID    string         `json:"request_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor,omitempty"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Action       string         `json:"action"`
	CredentialID string         `json:"credential_id,omitempty"`
	Outcome      string         `json:"outcome"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Audit actions.
const (
	AuditHTTPRequest        = "http.request"
	AuditCredentialCreated  = "credential.created"
	AuditCredentialUpdated  = "credential.updated"
	AuditCredentialRestored = "credential.restored"
	AuditCredentialRevealed = "credential.revealed"
	AuditCredentialDeleted  = "credential.deleted"
	AuditPolicyAssigned     = "rotation.policy_assigned"
	AuditRotationScheduled  = "rotation.scheduled"
	AuditRotationCompleted  = "rotation.completed"
	AuditRotationCancelled  = "rotation.cancelled"
	AuditRotationRejected   = "rotation.rejected"
	AuditBreachChecked      = "breach.checked"
	AuditBreachDetected     = "breach.detected"
	AuditVaultAnalyzed      = "analysis.vault"
)
