// Package rotation drives the rotation lifecycle of credentials:
// policy assignment, scheduling, completion, cancellation and automatic
// rotation. Records move SCHEDULED -> COMPLETED or SCHEDULED -> CANCELLED;
// terminal records reject every action.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/audit"
	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/history"
	"github.com/org/credcore/internal/metrics"
	"github.com/org/credcore/internal/policy"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// Encrypter seals new secrets.
type Encrypter interface {
	Encrypt(plaintext string, purpose crypto.Purpose) (string, error)
}

// Options tune a Scheduler.
type Options struct {
	// AllowConcurrentSchedules lets a credential carry several SCHEDULED
	// records at once. When false, ScheduleRotation fails with
	// ErrAlreadyScheduled.
	AllowConcurrentSchedules bool
}

func DefaultOptions() Options {
	return Options{AllowConcurrentSchedules: true}
}

// Scheduler implements rotation lifecycle actions.
type Scheduler struct {
	store   storage.Backend
	policy  *policy.Engine
	cipher  Encrypter
	history *history.Store
	audit   *audit.Logger
	opts    Options
	now     func() time.Time
}

func NewScheduler(store storage.Backend, engine *policy.Engine, cipher Encrypter, hist *history.Store, auditLog *audit.Logger, opts Options) *Scheduler {
	return &Scheduler{
		store:   store,
		policy:  engine,
		cipher:  cipher,
		history: hist,
		audit:   auditLog,
		opts:    opts,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// --- Policies ---

// CreatePolicy validates and stores a new rotation policy.
func (s *Scheduler) CreatePolicy(ctx context.Context, p *models.RotationPolicy) (*models.RotationPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	now := s.now().UTC()
	out := *p
	if out.ID == "" {
		out.ID = uuid.Must(uuid.NewV7()).String()
	}
	out.CreatedAt = now
	out.UpdatedAt = now
	if err := s.store.WriteRotationPolicy(ctx, &out); err != nil {
		return nil, fmt.Errorf("writing rotation policy: %w", err)
	}
	return &out, nil
}

func (s *Scheduler) ListPolicies(ctx context.Context, tenantID string) ([]*models.RotationPolicy, error) {
	return s.store.ListRotationPolicies(ctx, tenantID)
}

// AssignPolicy attaches policyID to the credential, or detaches when nil.
func (s *Scheduler) AssignPolicy(ctx context.Context, credentialID string, policyID *string, actor string) error {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("loading credential: %w", err)
	}
	if policyID != nil {
		p, err := s.store.GetRotationPolicy(ctx, *policyID)
		if err != nil {
			return fmt.Errorf("loading rotation policy: %w", err)
		}
		if p.TenantID != cred.TenantID {
			return ErrTenantMismatch
		}
	}
	if err := s.store.SetCredentialRotationPolicy(ctx, credentialID, policyID); err != nil {
		return fmt.Errorf("assigning rotation policy: %w", err)
	}
	meta := map[string]any{"policy_id": nil}
	if policyID != nil {
		meta["policy_id"] = *policyID
	}
	s.log(ctx, cred, models.AuditPolicyAssigned, actor, metrics.OutcomeSuccess, meta)
	return nil
}

// --- Records ---

func (s *Scheduler) GetRotation(ctx context.Context, id string) (*models.RotationRecord, error) {
	return s.store.GetRotation(ctx, id)
}

// ListRotations returns the credential's records, newest first.
func (s *Scheduler) ListRotations(ctx context.Context, credentialID string) ([]*models.RotationRecord, error) {
	return s.store.ListRotations(ctx, credentialID)
}

// ScheduleRotation creates a SCHEDULED record. A zero scheduledFor means now.
func (s *Scheduler) ScheduleRotation(ctx context.Context, credentialID string, scheduledFor time.Time, notes, actor string) (*models.RotationRecord, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	now := s.now().UTC()
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	rec := &models.RotationRecord{
		ID:           uuid.Must(uuid.NewV7()).String(),
		CredentialID: credentialID,
		PolicyID:     cred.RotationPolicyID,
		State:        models.RotationScheduled,
		ScheduledFor: scheduledFor.UTC(),
		Notes:        notes,
		CreatedBy:    actor,
		CreatedAt:    now,
	}
	err = s.store.CreateRotation(ctx, rec, !s.opts.AllowConcurrentSchedules)
	if errors.Is(err, storage.ErrAlreadyExists) {
		metrics.RotationTransition("schedule", metrics.OutcomeConflict)
		return nil, ErrAlreadyScheduled
	}
	if err != nil {
		metrics.RotationTransition("schedule", metrics.OutcomeError)
		return nil, fmt.Errorf("scheduling rotation: %w", err)
	}
	metrics.RotationTransition("schedule", metrics.OutcomeSuccess)
	s.log(ctx, cred, models.AuditRotationScheduled, actor, metrics.OutcomeSuccess,
		map[string]any{"rotation_id": rec.ID, "scheduled_for": rec.ScheduledFor})
	return rec, nil
}

// CompleteRotation rotates the credential to newSecret and completes the
// record. Policy and reuse are enforced first; on rejection nothing is
// written. The history snapshot, new envelope and record transition are
// committed atomically.
func (s *Scheduler) CompleteRotation(ctx context.Context, rotationID, newSecret, notes, actor string) (*models.RotationRecord, error) {
	rec, err := s.store.GetRotation(ctx, rotationID)
	if err != nil {
		return nil, fmt.Errorf("loading rotation: %w", err)
	}
	if rec.State != models.RotationScheduled {
		metrics.RotationTransition("complete", metrics.OutcomeConflict)
		return nil, &InvalidStateError{RotationID: rotationID, State: rec.State, Action: "complete"}
	}
	cred, err := s.store.GetCredential(ctx, rec.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	now := s.now().UTC()
	rc, err := s.prepare(ctx, cred, newSecret, actor, now)
	if err != nil {
		return nil, err
	}
	rc.RotationID = rotationID
	rc.Notes = notes

	if err := s.store.CommitRotation(ctx, rc); err != nil {
		return nil, s.commitFailure(ctx, rotationID, "complete", err)
	}
	s.history.Trim(ctx, cred.ID)

	rec.State = models.RotationCompleted
	rec.CompletedAt = &now
	if notes != "" {
		rec.Notes = notes
	}
	metrics.RotationTransition("complete", metrics.OutcomeSuccess)
	s.log(ctx, cred, models.AuditRotationCompleted, actor, metrics.OutcomeSuccess,
		map[string]any{"rotation_id": rotationID, "strength": string(rc.Strength)})
	return rec, nil
}

// CancelRotation moves a SCHEDULED record to CANCELLED.
func (s *Scheduler) CancelRotation(ctx context.Context, rotationID, actor string) (*models.RotationRecord, error) {
	rec, err := s.store.GetRotation(ctx, rotationID)
	if err != nil {
		return nil, fmt.Errorf("loading rotation: %w", err)
	}
	if rec.State != models.RotationScheduled {
		metrics.RotationTransition("cancel", metrics.OutcomeConflict)
		return nil, &InvalidStateError{RotationID: rotationID, State: rec.State, Action: "cancel"}
	}
	if err := s.store.CancelRotation(ctx, rotationID); err != nil {
		return nil, s.commitFailure(ctx, rotationID, "cancel", err)
	}
	rec.State = models.RotationCancelled
	metrics.RotationTransition("cancel", metrics.OutcomeSuccess)
	cred, err := s.store.GetCredential(ctx, rec.CredentialID)
	if err != nil {
		cred = &models.Credential{ID: rec.CredentialID}
	}
	s.log(ctx, cred, models.AuditRotationCancelled, actor, metrics.OutcomeSuccess,
		map[string]any{"rotation_id": rotationID})
	return rec, nil
}

// AutoRotatePassword generates a policy-compliant secret and rotates the
// credential to it, recording an already COMPLETED rotation in the same
// commit. The credential's rotation policy must be active with AutoRotate.
func (s *Scheduler) AutoRotatePassword(ctx context.Context, credentialID, notes, actor string) (*models.RotationRecord, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred.RotationPolicyID == nil {
		return nil, ErrAutoRotateDisabled
	}
	rp, err := s.store.GetRotationPolicy(ctx, *cred.RotationPolicyID)
	if err != nil {
		return nil, fmt.Errorf("loading rotation policy: %w", err)
	}
	if !rp.AutoRotate || !rp.IsActive {
		return nil, ErrAutoRotateDisabled
	}

	cfg, err := s.policy.Resolve(ctx, cred.TenantID)
	if err != nil {
		return nil, err
	}
	secret, err := GeneratePassword(cfg)
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	now := s.now().UTC()
	rc, err := s.prepare(ctx, cred, secret, actor, now)
	if err != nil {
		return nil, err
	}
	rec := &models.RotationRecord{
		ID:           uuid.Must(uuid.NewV7()).String(),
		CredentialID: cred.ID,
		PolicyID:     cred.RotationPolicyID,
		State:        models.RotationCompleted,
		ScheduledFor: now,
		CompletedAt:  &now,
		Notes:        notes,
		CreatedBy:    actor,
		CreatedAt:    now,
	}
	rc.NewRecord = rec
	if err := s.store.CommitRotation(ctx, rc); err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, storage.ErrCredentialChanged) {
			outcome = metrics.OutcomeConflict
		}
		metrics.RotationTransition("auto", outcome)
		return nil, fmt.Errorf("committing rotation: %w", err)
	}
	s.history.Trim(ctx, cred.ID)

	metrics.RotationTransition("auto", metrics.OutcomeSuccess)
	s.log(ctx, cred, models.AuditRotationCompleted, actor, metrics.OutcomeSuccess,
		map[string]any{"rotation_id": rec.ID, "automatic": true})
	return rec, nil
}

// prepare enforces policy for newSecret and builds the commit for cred.
func (s *Scheduler) prepare(ctx context.Context, cred *models.Credential, newSecret, actor string, now time.Time) (*models.RotationCommit, error) {
	cfg, err := s.policy.Resolve(ctx, cred.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Enforce(ctx, newSecret, cred.ID, cfg); err != nil {
		if errors.Is(err, policy.ErrValidation) {
			metrics.RotationTransition("complete", metrics.OutcomeRejected)
			s.log(ctx, cred, models.AuditRotationRejected, actor, metrics.OutcomeRejected,
				map[string]any{"violations": policy.Violations(err)})
		}
		return nil, err
	}
	envelope, err := s.cipher.Encrypt(newSecret, crypto.PurposePassword)
	if err != nil {
		return nil, fmt.Errorf("encrypting secret: %w", err)
	}
	return &models.RotationCommit{
		History:         s.history.Snapshot(cred, actor, models.ChangeUpdate),
		CredentialID:    cred.ID,
		EncryptedSecret: envelope,
		Strength:        policy.Strength(newSecret),
		ExpiresAt:       policy.ExpiresAt(now, cfg),
		RotatedAt:       now,
	}, nil
}

// commitFailure maps a lost conditional transition to *InvalidStateError,
// reporting the state the record moved to. A credential changed under the
// rotation is returned as is and the record stays SCHEDULED.
func (s *Scheduler) commitFailure(ctx context.Context, rotationID, action string, err error) error {
	if errors.Is(err, storage.ErrCredentialChanged) {
		metrics.RotationTransition(action, metrics.OutcomeConflict)
		return fmt.Errorf("%s rotation: %w", action, err)
	}
	if !errors.Is(err, storage.ErrStateConflict) {
		metrics.RotationTransition(action, metrics.OutcomeError)
		return fmt.Errorf("%s rotation: %w", action, err)
	}
	metrics.RotationTransition(action, metrics.OutcomeConflict)
	state := models.RotationState("UNKNOWN")
	if rec, gerr := s.store.GetRotation(ctx, rotationID); gerr == nil {
		state = rec.State
	}
	log.Warn().Str("rotation_id", rotationID).Str("state", string(state)).
		Msgf("rotation %s lost a concurrent transition", action)
	return &InvalidStateError{RotationID: rotationID, State: state, Action: action}
}

func (s *Scheduler) log(ctx context.Context, cred *models.Credential, action, actor, outcome string, meta map[string]any) {
	s.audit.Log(ctx, &models.AuditEntry{
		Action:       action,
		Actor:        actor,
		TenantID:     cred.TenantID,
		CredentialID: cred.ID,
		Outcome:      outcome,
		Metadata:     meta,
	})
}
