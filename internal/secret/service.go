// Package secret implements the credential workflows: create, update,
// restore and reveal, plus the vault-wide analysis pass.
package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/audit"
	"github.com/org/credcore/internal/breach"
	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/history"
	"github.com/org/credcore/internal/metrics"
	"github.com/org/credcore/internal/policy"
	"github.com/org/credcore/internal/similarity"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// ErrInvalidInput is returned for requests missing required fields.
var ErrInvalidInput = errors.New("invalid input")

// NewCredential is the input to Create.
type NewCredential struct {
	TenantID         string  `json:"tenant_id"`
	Name             string  `json:"name"`
	Username         string  `json:"username"`
	Secret           string  `json:"secret"`
	TOTPSecret       string  `json:"totp_secret,omitempty"`
	OwnerID          string  `json:"owner_id"`
	FolderID         *string `json:"folder_id,omitempty"`
	RotationPolicyID *string `json:"rotation_policy_id,omitempty"`
}

// Patch changes a credential. Nil fields are left unchanged; an empty
// TOTPSecret clears the seed.
type Patch struct {
	Name       *string `json:"name,omitempty"`
	Username   *string `json:"username,omitempty"`
	Secret     *string `json:"secret,omitempty"`
	TOTPSecret *string `json:"totp_secret,omitempty"`
}

// Revealed holds decrypted secret fields.
type Revealed struct {
	CredentialID string `json:"credential_id"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	Secret       string `json:"secret"`
	TOTPSecret   string `json:"totp_secret,omitempty"`
}

// Service implements the credential workflows.
type Service struct {
	store    storage.Backend
	cipher   *crypto.SecretCipher
	policy   *policy.Engine
	history  *history.Store
	audit    *audit.Logger
	breach   *breach.Detector
	analyzer *similarity.Analyzer
	now      func() time.Time

	batchTimeout time.Duration
}

type Option func(*Service)

// WithBreachDetector enables breach screening in CheckBreach and Analyze.
func WithBreachDetector(d *breach.Detector) Option {
	return func(s *Service) { s.breach = d }
}

// WithBreachBatchTimeout bounds the breach batch run by Analyze. Zero means
// only the caller's context applies.
func WithBreachBatchTimeout(d time.Duration) Option {
	return func(s *Service) { s.batchTimeout = d }
}

func WithAnalyzer(a *similarity.Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store storage.Backend, cipher *crypto.SecretCipher, engine *policy.Engine, hist *history.Store, auditLog *audit.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cipher:  cipher,
		policy:  engine,
		history: hist,
		audit:   auditLog,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create enforces the tenant password policy, encrypts the secret fields and
// stores the credential together with its CREATE history entry.
func (s *Service) Create(ctx context.Context, in NewCredential, actor string) (*models.Credential, error) {
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.Name) == "" || in.Secret == "" {
		return nil, fmt.Errorf("%w: tenant_id, name and secret are required", ErrInvalidInput)
	}
	cfg, err := s.policy.Resolve(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Enforce(ctx, in.Secret, "", cfg); err != nil {
		return nil, err
	}
	if in.RotationPolicyID != nil {
		p, err := s.store.GetRotationPolicy(ctx, *in.RotationPolicyID)
		if err != nil {
			return nil, fmt.Errorf("loading rotation policy: %w", err)
		}
		if p.TenantID != in.TenantID {
			return nil, fmt.Errorf("%w: rotation policy belongs to another tenant", ErrInvalidInput)
		}
	}

	envelope, err := s.cipher.Encrypt(in.Secret, crypto.PurposePassword)
	if err != nil {
		return nil, fmt.Errorf("encrypting secret: %w", err)
	}
	totp, err := s.sealOptional(in.TOTPSecret)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	owner := in.OwnerID
	if owner == "" {
		owner = actor
	}
	cred := &models.Credential{
		ID:                  uuid.Must(uuid.NewV7()).String(),
		TenantID:            in.TenantID,
		Name:                in.Name,
		Username:            in.Username,
		EncryptedSecret:     envelope,
		EncryptedTOTPSecret: totp,
		Strength:            policy.Strength(in.Secret),
		ExpiresAt:           policy.ExpiresAt(now, cfg),
		RotationPolicyID:    in.RotationPolicyID,
		OwnerID:             owner,
		FolderID:            in.FolderID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	entry := s.history.Snapshot(cred, actor, models.ChangeCreate)
	if err := s.store.CreateCredential(ctx, cred, &entry); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}
	s.log(ctx, cred, models.AuditCredentialCreated, actor, map[string]any{"strength": string(cred.Strength)})
	return cred, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Credential, error) {
	return s.store.GetCredential(ctx, id)
}

func (s *Service) List(ctx context.Context, filter storage.CredentialFilter) ([]*models.Credential, error) {
	return s.store.ListCredentials(ctx, filter)
}

// Delete removes a credential with its history and rotation records.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCredential(ctx, id); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	s.log(ctx, cred, models.AuditCredentialDeleted, actor, nil)
	return nil
}

// UpdateSecret replaces the secret after enforcing policy and reuse rules.
func (s *Service) UpdateSecret(ctx context.Context, credentialID, newSecret, actor string) (*models.Credential, error) {
	return s.Update(ctx, credentialID, Patch{Secret: &newSecret}, actor)
}

// Update applies p. The prior state is snapshotted as an UPDATE history
// entry in the same commit as the change.
func (s *Service) Update(ctx context.Context, credentialID string, p Patch, actor string) (*models.Credential, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	change := &models.SecretChange{
		History:             s.history.Snapshot(cred, actor, models.ChangeUpdate),
		CredentialID:        cred.ID,
		Name:                cred.Name,
		Username:            cred.Username,
		EncryptedSecret:     cred.EncryptedSecret,
		EncryptedTOTPSecret: cred.EncryptedTOTPSecret,
		Strength:            cred.Strength,
		ExpiresAt:           cred.ExpiresAt,
		UpdatedAt:           now,
	}
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		change.Name = *p.Name
	}
	if p.Username != nil {
		change.Username = *p.Username
	}
	if p.Secret != nil {
		cfg, err := s.policy.Resolve(ctx, cred.TenantID)
		if err != nil {
			return nil, err
		}
		if err := s.policy.Enforce(ctx, *p.Secret, cred.ID, cfg); err != nil {
			return nil, err
		}
		if change.EncryptedSecret, err = s.cipher.Encrypt(*p.Secret, crypto.PurposePassword); err != nil {
			return nil, fmt.Errorf("encrypting secret: %w", err)
		}
		change.Strength = policy.Strength(*p.Secret)
		change.ExpiresAt = policy.ExpiresAt(now, cfg)
	}
	if p.TOTPSecret != nil {
		if change.EncryptedTOTPSecret, err = s.sealOptional(*p.TOTPSecret); err != nil {
			return nil, err
		}
	}

	if err := s.store.CommitSecretChange(ctx, change); err != nil {
		return nil, fmt.Errorf("committing credential change: %w", err)
	}
	s.history.Trim(ctx, cred.ID)

	apply(cred, change)
	s.log(ctx, cred, models.AuditCredentialUpdated, actor, map[string]any{"secret_changed": p.Secret != nil})
	return cred, nil
}

// Restore copies a history entry's fields back onto the credential,
// snapshotting the current state as a RESTORE entry first.
func (s *Service) Restore(ctx context.Context, credentialID, historyID, actor string) (*models.Credential, error) {
	entry, err := s.history.Get(ctx, credentialID, historyID)
	if err != nil {
		return nil, fmt.Errorf("loading history entry: %w", err)
	}
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	change := &models.SecretChange{
		History:             s.history.Snapshot(cred, actor, models.ChangeRestore),
		CredentialID:        cred.ID,
		Name:                entry.Name,
		Username:            entry.Username,
		EncryptedSecret:     entry.EncryptedSecret,
		EncryptedTOTPSecret: entry.EncryptedTOTPSecret,
		Strength:            entry.Strength,
		ExpiresAt:           entry.ExpiresAt,
		UpdatedAt:           s.now().UTC(),
	}
	if err := s.store.CommitSecretChange(ctx, change); err != nil {
		return nil, fmt.Errorf("committing restore: %w", err)
	}
	s.history.Trim(ctx, cred.ID)

	apply(cred, change)
	s.log(ctx, cred, models.AuditCredentialRestored, actor, map[string]any{"history_id": historyID})
	return cred, nil
}

// Reveal decrypts the credential's secret fields.
func (s *Service) Reveal(ctx context.Context, credentialID, actor string) (*Revealed, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	out := &Revealed{CredentialID: cred.ID, Name: cred.Name, Username: cred.Username}
	if out.Secret, err = s.open(cred.EncryptedSecret); err != nil {
		s.logOutcome(ctx, cred, models.AuditCredentialRevealed, actor, "failure", nil)
		return nil, err
	}
	if cred.HasTOTP() {
		if out.TOTPSecret, err = s.open(*cred.EncryptedTOTPSecret); err != nil {
			s.logOutcome(ctx, cred, models.AuditCredentialRevealed, actor, "failure", nil)
			return nil, err
		}
	}
	s.log(ctx, cred, models.AuditCredentialRevealed, actor, nil)
	return out, nil
}

// History returns up to limit entries, newest first.
func (s *Service) History(ctx context.Context, credentialID string, limit int) ([]models.HistoryEntry, error) {
	if _, err := s.store.GetCredential(ctx, credentialID); err != nil {
		return nil, err
	}
	return s.history.Query(ctx, credentialID, limit, true)
}

// CheckReuse evaluates candidate against the credential's history under its
// tenant's policy without changing anything.
func (s *Service) CheckReuse(ctx context.Context, credentialID, candidate string) (policy.ReuseResult, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return policy.ReuseResult{}, err
	}
	cfg, err := s.policy.Resolve(ctx, cred.TenantID)
	if err != nil {
		return policy.ReuseResult{}, err
	}
	return s.policy.CheckReuse(ctx, candidate, cred.ID, cfg)
}

// CheckBreach screens a single candidate. Without a detector the result is
// always clean.
func (s *Service) CheckBreach(ctx context.Context, candidate, actor string) breach.Result {
	if s.breach == nil {
		prefix, _ := breach.HashPrefix(candidate)
		return breach.Result{HashPrefix: prefix}
	}
	res := s.breach.Check(ctx, candidate)
	s.audit.Log(ctx, &models.AuditEntry{
		Action:   models.AuditBreachChecked,
		Actor:    actor,
		Outcome:  "success",
		Metadata: map[string]any{"hash_prefix": res.HashPrefix, "breached": res.IsBreached},
	})
	return res
}

func (s *Service) sealOptional(plaintext string) (*string, error) {
	if plaintext == "" {
		return nil, nil
	}
	env, err := s.cipher.Encrypt(plaintext, crypto.PurposePassword)
	if err != nil {
		return nil, fmt.Errorf("encrypting totp secret: %w", err)
	}
	return &env, nil
}

func (s *Service) open(envelope string) (string, error) {
	plain, err := s.cipher.Decrypt(envelope, crypto.PurposePassword)
	if err != nil {
		metrics.DecryptionFailure(string(crypto.PurposePassword))
		log.Error().Err(err).Msg("credential decryption failed")
		return "", err
	}
	return plain, nil
}

func apply(cred *models.Credential, c *models.SecretChange) {
	cred.Name = c.Name
	cred.Username = c.Username
	cred.EncryptedSecret = c.EncryptedSecret
	cred.EncryptedTOTPSecret = c.EncryptedTOTPSecret
	cred.Strength = c.Strength
	cred.ExpiresAt = c.ExpiresAt
	cred.UpdatedAt = c.UpdatedAt
}

func (s *Service) log(ctx context.Context, cred *models.Credential, action, actor string, meta map[string]any) {
	s.logOutcome(ctx, cred, action, actor, "success", meta)
}

func (s *Service) logOutcome(ctx context.Context, cred *models.Credential, action, actor, outcome string, meta map[string]any) {
	s.audit.Log(ctx, &models.AuditEntry{
		Action:       action,
		Actor:        actor,
		TenantID:     cred.TenantID,
		CredentialID: cred.ID,
		Outcome:      outcome,
		Metadata:     meta,
	})
}
