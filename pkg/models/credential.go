package models

import "time"

// Strength is the coarse strength class recorded for a credential's secret.
type Strength string

const (
	StrengthWeak   Strength = "WEAK"
	StrengthMedium Strength = "MEDIUM"
	StrengthStrong Strength = "STRONG"
)

// ChangeType tags why a history entry was written.
type ChangeType string

const (
	ChangeCreate  ChangeType = "CREATE"
	ChangeUpdate  ChangeType = "UPDATE"
	ChangeRestore ChangeType = "RESTORE"
)

// Valid reports whether c is one of the known change types.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeCreate, ChangeUpdate, ChangeRestore:
		return true
	}
	return false
}

// Credential is a stored secret plus metadata. Secret fields always hold
// envelopes produced by the secret cipher, never plaintext.
type Credential struct {
	ID                  string     `json:"id"`
	TenantID            string     `json:"tenant_id"`
	Name                string     `json:"name"`
	Username            string     `json:"username"`
	EncryptedSecret     string     `json:"-"`
	EncryptedTOTPSecret *string    `json:"-"`
	Strength            Strength   `json:"strength"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	RotationPolicyID    *string    `json:"rotation_policy_id,omitempty"`
	OwnerID             string     `json:"owner_id"`
	FolderID            *string    `json:"folder_id,omitempty"`
	LastRotatedAt       *time.Time `json:"last_rotated_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasTOTP reports whether the credential carries an encrypted TOTP seed.
func (c *Credential) HasTOTP() bool {
	return c.EncryptedTOTPSecret != nil && *c.EncryptedTOTPSecret != ""
}

// LastRotation returns the reference time for rotation schedules: the last
// rotation if any, otherwise the creation time.
func (c *Credential) LastRotation() time.Time {
	if c.LastRotatedAt != nil {
		return *c.LastRotatedAt
	}
	return c.CreatedAt
}

// Clone returns a deep copy of c.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.EncryptedTOTPSecret = cloneString(c.EncryptedTOTPSecret)
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	out.RotationPolicyID = cloneString(c.RotationPolicyID)
	out.FolderID = cloneString(c.FolderID)
	out.LastRotatedAt = cloneTime(c.LastRotatedAt)
	return &out
}

// HistoryEntry is an immutable snapshot of a credential's fields taken
// immediately before a mutation.
type HistoryEntry struct {
	ID                  string     `json:"id"`
	CredentialID        string     `json:"credential_id"`
	Name                string     `json:"name"`
	Username            string     `json:"username"`
	EncryptedSecret     string     `json:"-"`
	EncryptedTOTPSecret *string    `json:"-"`
	Strength            Strength   `json:"strength"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	ChangeType          ChangeType `json:"change_type"`
	ChangedBy           string     `json:"changed_by"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Clone returns a deep copy of e.
func (e HistoryEntry) Clone() HistoryEntry {
	e.EncryptedTOTPSecret = cloneString(e.EncryptedTOTPSecret)
	e.ExpiresAt = cloneTime(e.ExpiresAt)
	return e
}

// SecretChange is the atomic unit for a non-rotation edit: the history
// snapshot of the prior state and the complete set of new field values.
type SecretChange struct {
	History             HistoryEntry
	CredentialID        string
	Name                string
	Username            string
	EncryptedSecret     string
	EncryptedTOTPSecret *string
	Strength            Strength
	ExpiresAt           *time.Time
	UpdatedAt           time.Time
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
