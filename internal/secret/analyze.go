package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/similarity"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// AnalyzeOptions select the slice of a tenant's vault to analyze. Limit
// defaults to, and is capped at, the analyzer's MaxItems.
type AnalyzeOptions struct {
	OwnerID  string `json:"owner_id,omitempty"`
	FolderID string `json:"folder_id,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Breach   bool   `json:"breach,omitempty"`
}

// BreachFinding is a credential whose secret appears in the breach corpus.
type BreachFinding struct {
	CredentialID string `json:"credential_id"`
	BreachCount  int    `json:"breach_count"`
}

// AnalysisReport is the result of Analyze. It never contains plaintexts.
type AnalysisReport struct {
	TenantID        string            `json:"tenant_id"`
	Scanned         int               `json:"scanned"`
	DecryptFailures []string          `json:"decrypt_failures"`
	Weak            []string          `json:"weak"`
	Duplicates      [][]string        `json:"duplicates"`
	Similar         []similarity.Pair `json:"similar"`
	Breached        []BreachFinding   `json:"breached"`
	BreachChecked   int               `json:"breach_checked"`
	Truncated       bool              `json:"truncated"`

	// BreachInterrupted is set when the breach batch stopped early; only
	// the first BreachChecked scanned secrets were checked.
	BreachInterrupted bool `json:"breach_interrupted"`
}

// Analyze decrypts a page of the tenant's vault and runs the similarity
// scan and, when requested and configured, the breach batch. Credentials
// that fail to decrypt are reported and skipped.
func (s *Service) Analyze(ctx context.Context, tenantID string, opts AnalyzeOptions, actor string) (*AnalysisReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if s.analyzer == nil {
		return nil, errors.New("similarity analyzer not configured")
	}
	limit := opts.Limit
	if maxItems := s.analyzer.MaxItems(); limit <= 0 || limit > maxItems {
		limit = maxItems
	}
	creds, err := s.store.ListCredentials(ctx, storage.CredentialFilter{
		TenantID: tenantID,
		OwnerID:  opts.OwnerID,
		FolderID: opts.FolderID,
		Offset:   opts.Offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	rep := &AnalysisReport{
		TenantID:        tenantID,
		DecryptFailures: []string{},
		Weak:            []string{},
		Breached:        []BreachFinding{},
		Truncated:       len(creds) == limit,
	}
	items := make([]similarity.Item, 0, len(creds))
	for _, c := range creds {
		if c.Strength == models.StrengthWeak {
			rep.Weak = append(rep.Weak, c.ID)
		}
		plain, err := s.open(c.EncryptedSecret)
		if err != nil {
			rep.DecryptFailures = append(rep.DecryptFailures, c.ID)
			continue
		}
		items = append(items, similarity.Item{ID: c.ID, Secret: plain})
	}
	if len(rep.DecryptFailures) > 0 {
		log.Warn().Int("failures", len(rep.DecryptFailures)).Str("tenant_id", tenantID).
			Msg("vault analysis skipped undecryptable credentials")
	}

	scan, err := s.analyzer.Scan(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("similarity scan: %w", err)
	}
	rep.Scanned = scan.Scanned
	rep.Duplicates = scan.Duplicates
	rep.Similar = scan.Similar

	if opts.Breach && s.breach != nil {
		secrets := make([]string, len(items))
		for i, it := range items {
			secrets[i] = it.Secret
		}
		bctx := ctx
		if s.batchTimeout > 0 {
			var cancel context.CancelFunc
			bctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
			defer cancel()
		}
		results, err := s.breach.CheckBatch(bctx, secrets)
		rep.BreachChecked = len(results)
		for i, r := range results {
			if r.IsBreached {
				rep.Breached = append(rep.Breached, BreachFinding{CredentialID: items[i].ID, BreachCount: r.BreachCount})
				s.audit.Log(ctx, &models.AuditEntry{
					Action:       models.AuditBreachDetected,
					Actor:        actor,
					TenantID:     tenantID,
					CredentialID: items[i].ID,
					Outcome:      "warning",
					Metadata:     map[string]any{"breach_count": r.BreachCount},
				})
			}
		}
		if err != nil {
			rep.BreachInterrupted = true
			log.Warn().Err(err).Str("tenant_id", tenantID).
				Int("checked", len(results)).Int("total", len(secrets)).
				Msg("breach batch interrupted")
		}
	}

	s.audit.Log(ctx, &models.AuditEntry{
		Action:   models.AuditVaultAnalyzed,
		Actor:    actor,
		TenantID: tenantID,
		Outcome:  "success",
		Metadata: map[string]any{
			"scanned":            rep.Scanned,
			"duplicates":         len(rep.Duplicates),
			"similar":            len(rep.Similar),
			"breached":           len(rep.Breached),
			"truncated":          rep.Truncated,
			"breach_interrupted": rep.BreachInterrupted,
		},
	})
	return rep, nil
}
