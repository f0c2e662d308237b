package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/org/credcore/pkg/models"
)

// MemoryBackend is an in-process Backend for tests and single-node
// development. A single mutex makes every commit atomic.
type MemoryBackend struct {
	mu          sync.Mutex
	credentials map[string]*models.Credential
	history     map[string][]*models.HistoryEntry // by credential, oldest first
	policies    map[string]*models.RotationPolicy
	rotations   map[string]*models.RotationRecord
	rotationSeq []string // insertion order
	pwPolicies  map[string]*models.PasswordPolicyConfig
	audit       []*models.AuditEntry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		credentials: make(map[string]*models.Credential),
		history:     make(map[string][]*models.HistoryEntry),
		policies:    make(map[string]*models.RotationPolicy),
		rotations:   make(map[string]*models.RotationRecord),
		pwPolicies:  make(map[string]*models.PasswordPolicyConfig),
	}
}

func (m *MemoryBackend) Close() {}

// --- Credentials ---

func (m *MemoryBackend) CreateCredential(_ context.Context, c *models.Credential, created *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[c.ID]; ok {
		return fmt.Errorf("%w: credential %s", ErrAlreadyExists, c.ID)
	}
	m.credentials[c.ID] = c.Clone()
	if created != nil {
		m.appendHistoryLocked(created)
	}
	return nil
}

func (m *MemoryBackend) GetCredential(_ context.Context, id string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryBackend) ListCredentials(_ context.Context, f CredentialFilter) ([]*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.Credential
	for _, c := range m.credentials {
		if f.TenantID != "" && c.TenantID != f.TenantID {
			continue
		}
		if f.OwnerID != "" && c.OwnerID != f.OwnerID {
			continue
		}
		if f.FolderID != "" && (c.FolderID == nil || *c.FolderID != f.FolderID) {
			continue
		}
		all = append(all, c.Clone())
	}
	sortCredentials(all)
	return page(all, f.Offset, pageSize(f.Limit)), nil
}

func (m *MemoryBackend) ListCredentialsWithRotationPolicy(_ context.Context) ([]*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Credential
	for _, c := range m.credentials {
		if c.RotationPolicyID != nil {
			out = append(out, c.Clone())
		}
	}
	sortCredentials(out)
	return out, nil
}

func sortCredentials(cs []*models.Credential) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (m *MemoryBackend) SetCredentialRotationPolicy(_ context.Context, credentialID string, policyID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[credentialID]
	if !ok {
		return ErrNotFound
	}
	if policyID != nil {
		v := *policyID
		c.RotationPolicyID = &v
	} else {
		c.RotationPolicyID = nil
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryBackend) DeleteCredential(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, id)
	delete(m.history, id)
	kept := m.rotationSeq[:0]
	for _, rid := range m.rotationSeq {
		if m.rotations[rid].CredentialID == id {
			delete(m.rotations, rid)
			continue
		}
		kept = append(kept, rid)
	}
	m.rotationSeq = kept
	return nil
}

func (m *MemoryBackend) CommitSecretChange(_ context.Context, ch *models.SecretChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[ch.CredentialID]
	if !ok {
		return ErrNotFound
	}
	if !holdsSnapshot(c, &ch.History) {
		return fmt.Errorf("%w: %s", ErrCredentialChanged, c.ID)
	}
	m.appendHistoryLocked(&ch.History)
	c.Name = ch.Name
	c.Username = ch.Username
	c.EncryptedSecret = ch.EncryptedSecret
	c.EncryptedTOTPSecret = cloneStr(ch.EncryptedTOTPSecret)
	c.Strength = ch.Strength
	c.ExpiresAt = utcPtr(ch.ExpiresAt)
	c.UpdatedAt = ch.UpdatedAt
	return nil
}

func holdsSnapshot(c *models.Credential, h *models.HistoryEntry) bool {
	return c.EncryptedSecret == h.EncryptedSecret &&
		c.Name == h.Name &&
		c.Username == h.Username &&
		derefStr(c.EncryptedTOTPSecret) == derefStr(h.EncryptedTOTPSecret)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// --- History ---

func (m *MemoryBackend) AppendHistory(_ context.Context, e *models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistoryLocked(e)
	return nil
}

func (m *MemoryBackend) appendHistoryLocked(e *models.HistoryEntry) {
	cp := e.Clone()
	m.history[e.CredentialID] = append(m.history[e.CredentialID], &cp)
}

func (m *MemoryBackend) GetHistoryEntry(_ context.Context, id string) (*models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entries := range m.history {
		for _, e := range entries {
			if e.ID == id {
				cp := e.Clone()
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) QueryHistory(_ context.Context, credentialID string, limit int, newestFirst bool) ([]*models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[credentialID]
	out := make([]*models.HistoryEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		if newestFirst {
			e = entries[len(entries)-1-i]
		}
		cp := e.Clone()
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryBackend) PruneHistory(_ context.Context, credentialID string, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[credentialID]
	if keep <= 0 || len(entries) <= keep {
		return 0, nil
	}
	pruned := len(entries) - keep
	m.history[credentialID] = append([]*models.HistoryEntry(nil), entries[pruned:]...)
	return int64(pruned), nil
}

// --- Rotation policies ---

func (m *MemoryBackend) WriteRotationPolicy(_ context.Context, p *models.RotationPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if existing, ok := m.policies[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.policies[p.ID] = &cp
	return nil
}

func (m *MemoryBackend) GetRotationPolicy(_ context.Context, id string) (*models.RotationPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryBackend) ListRotationPolicies(_ context.Context, tenantID string) ([]*models.RotationPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RotationPolicy
	for _, p := range m.policies {
		if p.TenantID == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Rotation records ---

func (m *MemoryBackend) CreateRotation(_ context.Context, r *models.RotationRecord, exclusive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exclusive {
		for _, existing := range m.rotations {
			if existing.CredentialID == r.CredentialID && existing.State == models.RotationScheduled {
				return ErrAlreadyExists
			}
		}
	}
	return m.insertRotationLocked(r)
}

func (m *MemoryBackend) insertRotationLocked(r *models.RotationRecord) error {
	if _, ok := m.rotations[r.ID]; ok {
		return fmt.Errorf("%w: rotation %s", ErrAlreadyExists, r.ID)
	}
	m.rotations[r.ID] = cloneRotation(r)
	m.rotationSeq = append(m.rotationSeq, r.ID)
	return nil
}

func cloneRotation(r *models.RotationRecord) *models.RotationRecord {
	cp := *r
	cp.PolicyID = cloneStr(r.PolicyID)
	cp.CompletedAt = utcPtr(r.CompletedAt)
	return &cp
}

func (m *MemoryBackend) GetRotation(_ context.Context, id string) (*models.RotationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRotation(r), nil
}

func (m *MemoryBackend) ListRotations(_ context.Context, credentialID string) ([]*models.RotationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RotationRecord
	for i := len(m.rotationSeq) - 1; i >= 0; i-- {
		r := m.rotations[m.rotationSeq[i]]
		if r.CredentialID == credentialID {
			out = append(out, cloneRotation(r))
		}
	}
	return out, nil
}

func (m *MemoryBackend) scheduledLocked(id string) (*models.RotationRecord, error) {
	r, ok := m.rotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.State != models.RotationScheduled {
		return nil, fmt.Errorf("%w: rotation %s is %s", ErrStateConflict, id, r.State)
	}
	return r, nil
}

func (m *MemoryBackend) CancelRotation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.scheduledLocked(id)
	if err != nil {
		return err
	}
	r.State = models.RotationCancelled
	return nil
}

func (m *MemoryBackend) CommitRotation(_ context.Context, rc *models.RotationCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[rc.CredentialID]
	if !ok {
		return ErrNotFound
	}
	var record *models.RotationRecord
	if rc.RotationID != "" {
		r, err := m.scheduledLocked(rc.RotationID)
		if err != nil {
			return err
		}
		record = r
	} else if rc.NewRecord != nil {
		if _, ok := m.rotations[rc.NewRecord.ID]; ok {
			return fmt.Errorf("%w: rotation %s", ErrAlreadyExists, rc.NewRecord.ID)
		}
	}
	if !holdsSnapshot(c, &rc.History) {
		return fmt.Errorf("%w: %s", ErrCredentialChanged, c.ID)
	}

	// All checks passed; apply.
	rotatedAt := rc.RotatedAt.UTC()
	if record != nil {
		record.State = models.RotationCompleted
		record.CompletedAt = &rotatedAt
		if rc.Notes != "" {
			record.Notes = rc.Notes
		}
	} else if rc.NewRecord != nil {
		_ = m.insertRotationLocked(rc.NewRecord)
	}
	m.appendHistoryLocked(&rc.History)
	c.EncryptedSecret = rc.EncryptedSecret
	c.Strength = rc.Strength
	c.ExpiresAt = utcPtr(rc.ExpiresAt)
	c.LastRotatedAt = &rotatedAt
	c.UpdatedAt = rotatedAt
	return nil
}

// --- Password policy ---

func (m *MemoryBackend) GetPasswordPolicy(_ context.Context, tenantID string) (*models.PasswordPolicyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pwPolicies[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryBackend) PutPasswordPolicy(_ context.Context, p *models.PasswordPolicyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pwPolicies[p.TenantID] = &cp
	return nil
}

// --- Audit ---

func (m *MemoryBackend) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(_ context.Context, f AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		switch {
		case f.TenantID != "" && e.TenantID != f.TenantID,
			f.Actor != "" && e.Actor != f.Actor,
			f.Action != "" && e.Action != f.Action,
			f.CredentialID != "" && e.CredentialID != f.CredentialID,
			f.Since != nil && e.Timestamp.Before(*f.Since):
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return page(out, f.Offset, pageSize(f.Limit)), nil
}

// --- Metrics ---

func (m *MemoryBackend) CountCredentials(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.credentials)), nil
}

func (m *MemoryBackend) CountRotations(_ context.Context, state models.RotationState) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rotations {
		if r.State == state {
			n++
		}
	}
	return n, nil
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
