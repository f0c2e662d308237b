// Package policy validates candidate secrets against a tenant's password
// policy, blocks reuse of recent secrets, and computes expiry.
package policy

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/metrics"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// SettingsStore is the minimal interface the Engine needs to resolve
// tenant policy.
type SettingsStore interface {
	GetPasswordPolicy(ctx context.Context, tenantID string) (*models.PasswordPolicyConfig, error)
}

// HistoryReader returns a credential's history snapshots.
type HistoryReader interface {
	Query(ctx context.Context, credentialID string, limit int, newestFirst bool) ([]models.HistoryEntry, error)
}

// Decrypter opens stored envelopes.
type Decrypter interface {
	Decrypt(envelope string, purpose crypto.Purpose) (string, error)
}

// ValidationResult lists every violated rule.
type ValidationResult struct {
	Valid  bool     `json:"is_valid"`
	Errors []string `json:"errors"`
}

// ReuseResult reports whether a candidate may be reused. Skipped counts
// history rows that could not be decrypted and were therefore not compared.
type ReuseResult struct {
	CanReuse bool   `json:"can_reuse"`
	Reason   string `json:"reason,omitempty"`
	Checked  int    `json:"checked"`
	Skipped  int    `json:"skipped"`
}

// ExpirationResult is the expiry state relative to a reference date.
type ExpirationResult struct {
	IsExpired           bool       `json:"is_expired"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	DaysUntilExpiration *int       `json:"days_until_expiration,omitempty"`
}

// Engine evaluates password policy for credential mutations.
type Engine struct {
	settings  SettingsStore
	history   HistoryReader
	cipher    Decrypter
	blacklist *Blacklist
	now       func() time.Time
}

type Option func(*Engine)

// WithBlacklist rejects candidates found in bl.
func WithBlacklist(bl *Blacklist) Option {
	return func(e *Engine) { e.blacklist = bl }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a policy Engine backed by the given settings store,
// history reader and cipher.
func NewEngine(settings SettingsStore, history HistoryReader, cipher Decrypter, opts ...Option) *Engine {
	e := &Engine{settings: settings, history: history, cipher: cipher, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve returns the tenant's active policy, or the secure default when the
// tenant has none or it is inactive.
func (e *Engine) Resolve(ctx context.Context, tenantID string) (models.PasswordPolicyConfig, error) {
	cfg, err := e.settings.GetPasswordPolicy(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return defaultFor(tenantID), nil
	}
	if err != nil {
		return models.PasswordPolicyConfig{}, fmt.Errorf("loading password policy: %w", err)
	}
	if !cfg.IsActive {
		return defaultFor(tenantID), nil
	}
	return *cfg, nil
}

func defaultFor(tenantID string) models.PasswordPolicyConfig {
	d := models.DefaultPasswordPolicy()
	d.TenantID = tenantID
	return d
}

// Validate checks candidate against every rule in cfg and reports all
// violations.
func (e *Engine) Validate(candidate string, cfg models.PasswordPolicyConfig) ValidationResult {
	var errs []string
	if n := len([]rune(candidate)); n < cfg.MinLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters long", cfg.MinLength))
	}
	c := classify(candidate)
	if cfg.RequireUppercase && !c.upper {
		errs = append(errs, "password must contain at least one uppercase letter")
	}
	if cfg.RequireLowercase && !c.lower {
		errs = append(errs, "password must contain at least one lowercase letter")
	}
	if cfg.RequireNumbers && !c.digit {
		errs = append(errs, "password must contain at least one number")
	}
	if cfg.RequireSpecial && !c.special {
		errs = append(errs, "password must contain at least one special character")
	}
	if e.blacklist.Contains(candidate) {
		errs = append(errs, "password is too common")
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// CheckReuse compares candidate with the newest PreventReuseCount history
// secrets of credentialID. Rows that fail to decrypt are skipped, counted
// and logged.
func (e *Engine) CheckReuse(ctx context.Context, candidate, credentialID string, cfg models.PasswordPolicyConfig) (ReuseResult, error) {
	if cfg.PreventReuseCount <= 0 || credentialID == "" {
		return ReuseResult{CanReuse: true}, nil
	}
	entries, err := e.history.Query(ctx, credentialID, cfg.PreventReuseCount, true)
	if err != nil {
		return ReuseResult{}, fmt.Errorf("loading history for reuse check: %w", err)
	}
	res := ReuseResult{CanReuse: true}
	for _, entry := range entries {
		plain, err := e.cipher.Decrypt(entry.EncryptedSecret, crypto.PurposePassword)
		if err != nil {
			res.Skipped++
			log.Warn().Err(err).
				Str("credential_id", credentialID).
				Str("history_id", entry.ID).
				Msg("reuse check skipped undecryptable history entry")
			continue
		}
		res.Checked++
		if subtle.ConstantTimeCompare([]byte(plain), []byte(candidate)) == 1 {
			res.CanReuse = false
			res.Reason = fmt.Sprintf("password was used in the last %d changes", cfg.PreventReuseCount)
			break
		}
	}
	if res.Skipped > 0 {
		metrics.ReuseSkipped(res.Skipped)
		log.Warn().Int("skipped", res.Skipped).Int("checked", res.Checked).
			Str("credential_id", credentialID).Msg("reuse check incomplete")
	}
	return res, nil
}

// CheckExpiration computes expiry from reference. Without ExpirationDays a
// secret never expires.
func (e *Engine) CheckExpiration(reference time.Time, cfg models.PasswordPolicyConfig) ExpirationResult {
	return e.ExpirationOf(ExpiresAt(reference, cfg))
}

// ExpirationOf reports the state of a stored expiry. Nil never expires.
func (e *Engine) ExpirationOf(expiresAt *time.Time) ExpirationResult {
	if expiresAt == nil {
		return ExpirationResult{}
	}
	at := *expiresAt
	now := e.now()
	days := int(math.Ceil(at.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return ExpirationResult{
		IsExpired:           !now.Before(at),
		ExpiresAt:           &at,
		DaysUntilExpiration: &days,
	}
}

// ExpiresAt is the expiry a new secret set at from gets under cfg.
func ExpiresAt(from time.Time, cfg models.PasswordPolicyConfig) *time.Time {
	if cfg.ExpirationDays == nil {
		return nil
	}
	t := from.Add(time.Duration(*cfg.ExpirationDays) * 24 * time.Hour)
	return &t
}

// Enforce runs Validate then CheckReuse, returning *ValidationError or
// *ReuseViolation on rejection.
func (e *Engine) Enforce(ctx context.Context, candidate, credentialID string, cfg models.PasswordPolicyConfig) error {
	if res := e.Validate(candidate, cfg); !res.Valid {
		metrics.PolicyRejection("validation")
		return &ValidationError{Violations: res.Errors}
	}
	reuse, err := e.CheckReuse(ctx, candidate, credentialID, cfg)
	if err != nil {
		return err
	}
	if !reuse.CanReuse {
		metrics.PolicyRejection("reuse")
		return &ReuseViolation{Reason: reuse.Reason}
	}
	return nil
}

type classes struct {
	upper, lower, digit, special bool
}

func (c classes) count() int {
	n := 0
	for _, ok := range []bool{c.upper, c.lower, c.digit, c.special} {
		if ok {
			n++
		}
	}
	return n
}

func classify(s string) classes {
	var c classes
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			c.special = true
		}
	}
	return c
}

// Strength classifies a secret by length and character variety.
func Strength(s string) models.Strength {
	score := classify(s).count()
	n := len([]rune(s))
	if n >= 12 {
		score++
	}
	if n >= 16 {
		score++
	}
	switch {
	case score >= 5:
		return models.StrengthStrong
	case score >= 3:
		return models.StrengthMedium
	default:
		return models.StrengthWeak
	}
}
