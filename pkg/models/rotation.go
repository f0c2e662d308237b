package models

import (
	"errors"
	"time"
)

// RotationState is the lifecycle state of a rotation record.
type RotationState string

const (
	RotationScheduled RotationState = "SCHEDULED"
	RotationCompleted RotationState = "COMPLETED"
	RotationCancelled RotationState = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s RotationState) Terminal() bool {
	return s == RotationCompleted || s == RotationCancelled
}

// RotationPolicy describes how often a credential must be rotated.
type RotationPolicy struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Name            string    `json:"name"`
	RotationDays    int       `json:"rotation_days"`
	ReminderDays    int       `json:"reminder_days"`
	AutoRotate      bool      `json:"auto_rotate"`
	RequireApproval bool      `json:"require_approval"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the policy's numeric invariants.
func (p *RotationPolicy) Validate() error {
	if p.Name == "" {
		return errors.New("rotation policy name is required")
	}
	if p.RotationDays <= 0 {
		return errors.New("rotation_days must be greater than zero")
	}
	if p.ReminderDays < 0 || p.ReminderDays >= p.RotationDays {
		return errors.New("reminder_days must be between 0 and rotation_days")
	}
	return nil
}

// RotationDueAt is when a credential last rotated at last becomes due.
// Days are fixed 24h periods.
func (p *RotationPolicy) RotationDueAt(last time.Time) time.Time {
	return last.Add(days(p.RotationDays))
}

// ReminderDueAt is when the reminder window opens.
func (p *RotationPolicy) ReminderDueAt(last time.Time) time.Time {
	return last.Add(days(p.RotationDays - p.ReminderDays))
}

// RotationDue reports whether a credential last rotated at last is due for
// rotation at now.
func (p *RotationPolicy) RotationDue(last, now time.Time) bool {
	return !now.Before(p.RotationDueAt(last))
}

// ReminderDue reports whether a reminder should be sent for a credential
// last rotated at last.
func (p *RotationPolicy) ReminderDue(last, now time.Time) bool {
	return !now.Before(p.ReminderDueAt(last))
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// RotationRecord tracks one scheduled or completed rotation of a credential.
type RotationRecord struct {
	ID           string        `json:"id"`
	CredentialID string        `json:"credential_id"`
	PolicyID     *string       `json:"policy_id,omitempty"`
	State        RotationState `json:"state"`
	ScheduledFor time.Time     `json:"scheduled_for"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	CreatedBy    string        `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RotationCommit carries every write performed by a successful rotation.
// Storage backends apply it in a single transaction.
type RotationCommit struct {
	History         HistoryEntry
	CredentialID    string
	EncryptedSecret string
	Strength        Strength
	ExpiresAt       *time.Time
	RotatedAt       time.Time

	// RotationID is the SCHEDULED record to complete. When empty, NewRecord
	// is inserted already COMPLETED (automatic rotation).
	RotationID string
	NewRecord  *RotationRecord
	Notes      string
}
