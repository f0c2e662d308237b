// Package history keeps the append-only ledger of credential snapshots used
// for reuse prevention and restores.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// Options configures retention.
type Options struct {
	// MaxEntriesPerCredential trims the oldest entries after each append.
	// Zero keeps everything.
	MaxEntriesPerCredential int
}

// Store appends and queries history entries.
type Store struct {
	backend storage.Backend
	opts    Options
	now     func() time.Time
}

func NewStore(backend storage.Backend, opts Options) *Store {
	return &Store{backend: backend, opts: opts, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Snapshot builds the entry for cred's current state without persisting it,
// for callers that write it inside their own atomic commit.
func (s *Store) Snapshot(cred *models.Credential, changedBy string, changeType models.ChangeType) models.HistoryEntry {
	c := cred.Clone()
	return models.HistoryEntry{
		ID:                  uuid.Must(uuid.NewV7()).String(),
		CredentialID:        c.ID,
		Name:                c.Name,
		Username:            c.Username,
		EncryptedSecret:     c.EncryptedSecret,
		EncryptedTOTPSecret: c.EncryptedTOTPSecret,
		Strength:            c.Strength,
		ExpiresAt:           c.ExpiresAt,
		ChangeType:          changeType,
		ChangedBy:           changedBy,
		CreatedAt:           s.now().UTC(),
	}
}

// Append persists a snapshot of cred for credentialID.
func (s *Store) Append(ctx context.Context, credentialID string, cred *models.Credential, changedBy string, changeType models.ChangeType) (models.HistoryEntry, error) {
	if !changeType.Valid() {
		return models.HistoryEntry{}, fmt.Errorf("invalid change type %q", changeType)
	}
	if cred.ID != credentialID {
		return models.HistoryEntry{}, fmt.Errorf("snapshot belongs to %s, not %s", cred.ID, credentialID)
	}
	entry := s.Snapshot(cred, changedBy, changeType)
	if err := s.backend.AppendHistory(ctx, &entry); err != nil {
		return models.HistoryEntry{}, fmt.Errorf("appending history: %w", err)
	}
	s.Trim(ctx, credentialID)
	return entry.Clone(), nil
}

// Query returns up to limit entries (all when limit <= 0). Entries are
// copies; mutating them does not affect the ledger.
func (s *Store) Query(ctx context.Context, credentialID string, limit int, newestFirst bool) ([]models.HistoryEntry, error) {
	rows, err := s.backend.QueryHistory(ctx, credentialID, limit, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	out := make([]models.HistoryEntry, len(rows))
	for i, e := range rows {
		out[i] = e.Clone()
	}
	return out, nil
}

// Get returns one entry, checking it belongs to credentialID.
func (s *Store) Get(ctx context.Context, credentialID, entryID string) (models.HistoryEntry, error) {
	e, err := s.backend.GetHistoryEntry(ctx, entryID)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	if e.CredentialID != credentialID {
		return models.HistoryEntry{}, storage.ErrNotFound
	}
	return e.Clone(), nil
}

// Trim applies the retention limit. Failures are logged; retention is
// housekeeping and never fails the write that triggered it.
func (s *Store) Trim(ctx context.Context, credentialID string) {
	if s.opts.MaxEntriesPerCredential <= 0 {
		return
	}
	n, err := s.backend.PruneHistory(ctx, credentialID, s.opts.MaxEntriesPerCredential)
	if err != nil {
		log.Warn().Err(err).Str("credential_id", credentialID).Msg("history prune failed")
		return
	}
	if n > 0 {
		log.Debug().Int64("pruned", n).Str("credential_id", credentialID).Msg("history pruned")
	}
}
