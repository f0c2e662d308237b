package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/credcore/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrStateConflict is returned when a conditional state transition finds the
// row already moved on, e.g. completing a rotation that was just cancelled.
var ErrStateConflict = errors.New("state conflict")

// ErrCredentialChanged is returned by CommitSecretChange and CommitRotation
// when the credential no longer holds the state captured in the commit's
// history snapshot.
var ErrCredentialChanged = errors.New("credential changed concurrently")

// Backend defines the persistence interface for credcore.
type Backend interface {
	// Credentials
	CreateCredential(ctx context.Context, cred *models.Credential, created *models.HistoryEntry) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	ListCredentials(ctx context.Context, filter CredentialFilter) ([]*models.Credential, error)
	ListCredentialsWithRotationPolicy(ctx context.Context) ([]*models.Credential, error)
	SetCredentialRotationPolicy(ctx context.Context, credentialID string, policyID *string) error
	DeleteCredential(ctx context.Context, id string) error
	CommitSecretChange(ctx context.Context, change *models.SecretChange) error

	// History
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	GetHistoryEntry(ctx context.Context, id string) (*models.HistoryEntry, error)
	QueryHistory(ctx context.Context, credentialID string, limit int, newestFirst bool) ([]*models.HistoryEntry, error)
	PruneHistory(ctx context.Context, credentialID string, keep int) (int64, error)

	// Rotation policies
	WriteRotationPolicy(ctx context.Context, policy *models.RotationPolicy) error
	GetRotationPolicy(ctx context.Context, id string) (*models.RotationPolicy, error)
	ListRotationPolicies(ctx context.Context, tenantID string) ([]*models.RotationPolicy, error)

	// Rotation records. With exclusive set, CreateRotation fails with
	// ErrAlreadyExists when the credential already has a SCHEDULED record.
	CreateRotation(ctx context.Context, record *models.RotationRecord, exclusive bool) error
	GetRotation(ctx context.Context, id string) (*models.RotationRecord, error)
	ListRotations(ctx context.Context, credentialID string) ([]*models.RotationRecord, error)
	CancelRotation(ctx context.Context, id string) error
	CommitRotation(ctx context.Context, commit *models.RotationCommit) error

	// Password policy settings
	GetPasswordPolicy(ctx context.Context, tenantID string) (*models.PasswordPolicyConfig, error)
	PutPasswordPolicy(ctx context.Context, cfg *models.PasswordPolicyConfig) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountCredentials(ctx context.Context) (int64, error)
	CountRotations(ctx context.Context, state models.RotationState) (int64, error)

	// Lifecycle
	Close()
}

// CredentialFilter narrows ListCredentials. Empty fields match everything.
type CredentialFilter struct {
	TenantID string
	OwnerID  string
	FolderID string
	Limit    int
	Offset   int
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	TenantID     string
	Actor        string
	Action       string
	CredentialID string
	Since        *time.Time
	Limit        int
	Offset       int
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func pageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}
