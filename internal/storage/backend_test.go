package storage

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/credcore/pkg/models"
)

// newSQLiteBackend opens a named in-memory SQLite database unique to the test
// and applies the embedded migrations.
func newSQLiteBackend(t *testing.T) *SQLBackend {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name()))
	b, err := OpenSQL(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, RunSQLMigrations(b))
	t.Cleanup(b.Close)
	return b
}

// eachBackend runs fn against every backend that needs no external service.
func eachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryBackend()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteBackend(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testCredential(tenant string, created time.Time) *models.Credential {
	return &models.Credential{
		ID:              uuid.NewString(),
		TenantID:        tenant,
		Name:            "db-admin",
		Username:        "admin",
		EncryptedSecret: "00112233445566778899aabbccddeeff:abcd",
		Strength:        models.StrengthStrong,
		OwnerID:         "user-1",
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func snapshot(c *models.Credential, ct models.ChangeType, at time.Time) *models.HistoryEntry {
	return &models.HistoryEntry{
		ID:                  uuid.Must(uuid.NewV7()).String(),
		CredentialID:        c.ID,
		Name:                c.Name,
		Username:            c.Username,
		EncryptedSecret:     c.EncryptedSecret,
		EncryptedTOTPSecret: c.EncryptedTOTPSecret,
		Strength:            c.Strength,
		ExpiresAt:           c.ExpiresAt,
		ChangeType:          ct,
		ChangedBy:           "user-1",
		CreatedAt:           at,
	}
}

func testPolicy(tenant string) *models.RotationPolicy {
	return &models.RotationPolicy{
		ID:           uuid.NewString(),
		TenantID:     tenant,
		Name:         "quarterly",
		RotationDays: 90,
		ReminderDays: 7,
		AutoRotate:   true,
		IsActive:     true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func TestCredentialLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		totp := "ffeeddccbbaa99887766554433221100:beef"
		c.EncryptedTOTPSecret = &totp
		require.NoError(t, b.CreateCredential(ctx, c, snapshot(c, models.ChangeCreate, base)))

		got, err := b.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.EncryptedSecret, got.EncryptedSecret)
		require.NotNil(t, got.EncryptedTOTPSecret)
		assert.Equal(t, totp, *got.EncryptedTOTPSecret)
		assert.Nil(t, got.ExpiresAt)
		assert.Nil(t, got.RotationPolicyID)
		assert.WithinDuration(t, base, got.CreatedAt, time.Millisecond)

		err = b.CreateCredential(ctx, c, nil)
		assert.ErrorIs(t, err, ErrAlreadyExists)

		other := testCredential("globex", base.Add(time.Minute))
		require.NoError(t, b.CreateCredential(ctx, other, nil))

		list, err := b.ListCredentials(ctx, CredentialFilter{TenantID: "acme"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, c.ID, list[0].ID)

		p := testPolicy("acme")
		require.NoError(t, b.WriteRotationPolicy(ctx, p))
		require.NoError(t, b.SetCredentialRotationPolicy(ctx, c.ID, &p.ID))
		withPolicy, err := b.ListCredentialsWithRotationPolicy(ctx)
		require.NoError(t, err)
		require.Len(t, withPolicy, 1)
		assert.Equal(t, p.ID, *withPolicy[0].RotationPolicyID)

		require.NoError(t, b.SetCredentialRotationPolicy(ctx, c.ID, nil))
		withPolicy, err = b.ListCredentialsWithRotationPolicy(ctx)
		require.NoError(t, err)
		assert.Empty(t, withPolicy)

		assert.ErrorIs(t, b.SetCredentialRotationPolicy(ctx, "missing", nil), ErrNotFound)

		n, err := b.CountCredentials(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		require.NoError(t, b.DeleteCredential(ctx, c.ID))
		_, err = b.GetCredential(ctx, c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		hist, err := b.QueryHistory(ctx, c.ID, 0, true)
		require.NoError(t, err)
		assert.Empty(t, hist, "history must go with its credential")
		assert.ErrorIs(t, b.DeleteCredential(ctx, c.ID), ErrNotFound)
	})
}

func TestHistoryOrderingAndPrune(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		require.NoError(t, b.CreateCredential(ctx, c, nil))

		var ids []string
		for i := 0; i < 5; i++ {
			e := snapshot(c, models.ChangeUpdate, base.Add(time.Duration(i)*time.Hour))
			e.EncryptedSecret = fmt.Sprintf("%032d:%02d", i, i)
			require.NoError(t, b.AppendHistory(ctx, e))
			ids = append(ids, e.ID)
		}

		newest, err := b.QueryHistory(ctx, c.ID, 3, true)
		require.NoError(t, err)
		require.Len(t, newest, 3)
		assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{newest[0].ID, newest[1].ID, newest[2].ID})

		oldest, err := b.QueryHistory(ctx, c.ID, 0, false)
		require.NoError(t, err)
		require.Len(t, oldest, 5)
		assert.Equal(t, ids[0], oldest[0].ID)
		assert.Equal(t, models.ChangeUpdate, oldest[0].ChangeType)

		e, err := b.GetHistoryEntry(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%032d:%02d", 1, 1), e.EncryptedSecret)
		_, err = b.GetHistoryEntry(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		pruned, err := b.PruneHistory(ctx, c.ID, 2)
		require.NoError(t, err)
		assert.EqualValues(t, 3, pruned)
		rest, err := b.QueryHistory(ctx, c.ID, 0, true)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, ids[4], rest[0].ID)
		assert.Equal(t, ids[3], rest[1].ID)
	})
}

func TestCommitSecretChange(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		require.NoError(t, b.CreateCredential(ctx, c, nil))

		exp := base.Add(30 * 24 * time.Hour)
		change := &models.SecretChange{
			History:         *snapshot(c, models.ChangeUpdate, base.Add(time.Hour)),
			CredentialID:    c.ID,
			Name:            c.Name,
			Username:        "root",
			EncryptedSecret: "ffffffffffffffffffffffffffffffff:01",
			Strength:        models.StrengthMedium,
			ExpiresAt:       &exp,
			UpdatedAt:       base.Add(time.Hour),
		}
		require.NoError(t, b.CommitSecretChange(ctx, change))

		got, err := b.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, change.EncryptedSecret, got.EncryptedSecret)
		assert.Equal(t, "root", got.Username)
		assert.Equal(t, models.StrengthMedium, got.Strength)
		require.NotNil(t, got.ExpiresAt)
		assert.WithinDuration(t, exp, *got.ExpiresAt, time.Millisecond)

		hist, err := b.QueryHistory(ctx, c.ID, 0, true)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, c.EncryptedSecret, hist[0].EncryptedSecret, "history keeps the prior envelope")

		change.CredentialID = "missing"
		change.History.ID = uuid.Must(uuid.NewV7()).String()
		change.History.CredentialID = c.ID
		assert.ErrorIs(t, b.CommitSecretChange(ctx, change), ErrNotFound)
		hist, err = b.QueryHistory(ctx, c.ID, 0, true)
		require.NoError(t, err)
		assert.Len(t, hist, 1, "failed commit must not leave history behind")
	})
}

func TestCommitsRequireSnapshottedState(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		require.NoError(t, b.CreateCredential(ctx, c, nil))
		r := scheduled(c, nil)
		require.NoError(t, b.CreateRotation(ctx, r, false))

		// Snapshots taken before anything else lands.
		staleChange := &models.SecretChange{
			History:         *snapshot(c, models.ChangeUpdate, base.Add(time.Hour)),
			CredentialID:    c.ID,
			Name:            c.Name,
			Username:        c.Username,
			EncryptedSecret: "22222222222222222222222222222222:02",
			Strength:        models.StrengthStrong,
			UpdatedAt:       base.Add(time.Hour),
		}
		staleRotation := &models.RotationCommit{
			History:         *snapshot(c, models.ChangeUpdate, base.Add(time.Hour)),
			CredentialID:    c.ID,
			EncryptedSecret: "33333333333333333333333333333333:03",
			Strength:        models.StrengthStrong,
			RotatedAt:       base.Add(time.Hour),
			RotationID:      r.ID,
		}

		winner := *staleChange
		winner.History = *snapshot(c, models.ChangeUpdate, base.Add(time.Minute))
		winner.EncryptedSecret = "11111111111111111111111111111111:01"
		require.NoError(t, b.CommitSecretChange(ctx, &winner))

		assert.ErrorIs(t, b.CommitSecretChange(ctx, staleChange), ErrCredentialChanged)
		assert.ErrorIs(t, b.CommitRotation(ctx, staleRotation), ErrCredentialChanged)

		got, err := b.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, winner.EncryptedSecret, got.EncryptedSecret)
		hist, err := b.QueryHistory(ctx, c.ID, 0, true)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
		rec, err := b.GetRotation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RotationScheduled, rec.State)
	})
}

func scheduled(c *models.Credential, policyID *string) *models.RotationRecord {
	return &models.RotationRecord{
		ID:           uuid.NewString(),
		CredentialID: c.ID,
		PolicyID:     policyID,
		State:        models.RotationScheduled,
		ScheduledFor: base.Add(24 * time.Hour),
		Notes:        "quarterly",
		CreatedBy:    "user-1",
		CreatedAt:    base,
	}
}

func TestRotationCommit(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		require.NoError(t, b.CreateCredential(ctx, c, nil))
		p := testPolicy("acme")
		require.NoError(t, b.WriteRotationPolicy(ctx, p))

		r := scheduled(c, &p.ID)
		require.NoError(t, b.CreateRotation(ctx, r, false))

		rotatedAt := base.Add(48 * time.Hour)
		commit := &models.RotationCommit{
			History:         *snapshot(c, models.ChangeUpdate, rotatedAt),
			CredentialID:    c.ID,
			EncryptedSecret: "0123456789abcdef0123456789abcdef:99",
			Strength:        models.StrengthStrong,
			RotatedAt:       rotatedAt,
			RotationID:      r.ID,
			Notes:           "done",
		}
		require.NoError(t, b.CommitRotation(ctx, commit))

		rec, err := b.GetRotation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RotationCompleted, rec.State)
		require.NotNil(t, rec.CompletedAt)
		assert.WithinDuration(t, rotatedAt, *rec.CompletedAt, time.Millisecond)
		assert.Equal(t, "done", rec.Notes)
		assert.Equal(t, p.ID, *rec.PolicyID)

		got, err := b.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, commit.EncryptedSecret, got.EncryptedSecret)
		require.NotNil(t, got.LastRotatedAt)
		assert.WithinDuration(t, rotatedAt, *got.LastRotatedAt, time.Millisecond)

		// A second completion loses: nothing else may be written.
		again := *commit
		again.History.ID = uuid.Must(uuid.NewV7()).String()
		again.EncryptedSecret = "fedcba9876543210fedcba9876543210:00"
		assert.ErrorIs(t, b.CommitRotation(ctx, &again), ErrStateConflict)

		got, err = b.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, commit.EncryptedSecret, got.EncryptedSecret)
		hist, err := b.QueryHistory(ctx, c.ID, 0, true)
		require.NoError(t, err)
		assert.Len(t, hist, 1)

		assert.ErrorIs(t, b.CancelRotation(ctx, r.ID), ErrStateConflict)
		assert.ErrorIs(t, b.CancelRotation(ctx, "missing"), ErrNotFound)

		completed, err := b.CountRotations(ctx, models.RotationCompleted)
		require.NoError(t, err)
		assert.EqualValues(t, 1, completed)
	})
}

func TestRotationCommitInsertsRecord(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		require.NoError(t, b.CreateCredential(ctx, c, nil))

		now := base.Add(time.Hour)
		rec := &models.RotationRecord{
			ID:           uuid.NewString(),
			CredentialID: c.ID,
			State:        models.RotationCompleted,
			ScheduledFor: now,
			CompletedAt:  &now,
			Notes:        "auto",
			CreatedBy:    "system",
			CreatedAt:    now,
		}
		require.NoError(t, b.CommitRotation(ctx, &models.RotationCommit{
			History:         *snapshot(c, models.ChangeUpdate, now),
			CredentialID:    c.ID,
			EncryptedSecret: "0123456789abcdef0123456789abcdef:42",
			Strength:        models.StrengthStrong,
			RotatedAt:       now,
			NewRecord:       rec,
		}))

		list, err := b.ListRotations(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, models.RotationCompleted, list[0].State)
		assert.Nil(t, list[0].PolicyID)
	})
}

func TestCancelAndExclusiveSchedule(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		c := testCredential("acme", base)
		require.NoError(t, b.CreateCredential(ctx, c, nil))

		first := scheduled(c, nil)
		require.NoError(t, b.CreateRotation(ctx, first, true))
		assert.ErrorIs(t, b.CreateRotation(ctx, scheduled(c, nil), true), ErrAlreadyExists)
		require.NoError(t, b.CreateRotation(ctx, scheduled(c, nil), false))

		require.NoError(t, b.CancelRotation(ctx, first.ID))
		rec, err := b.GetRotation(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RotationCancelled, rec.State)
		assert.Nil(t, rec.CompletedAt)

		list, err := b.ListRotations(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		n, err := b.CountRotations(ctx, models.RotationScheduled)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestRotationPolicies(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		p := testPolicy("acme")
		require.NoError(t, b.WriteRotationPolicy(ctx, p))

		p.RotationDays = 30
		p.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, b.WriteRotationPolicy(ctx, p))

		got, err := b.GetRotationPolicy(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 30, got.RotationDays)
		assert.True(t, got.AutoRotate)

		list, err := b.ListRotationPolicies(ctx, "acme")
		require.NoError(t, err)
		assert.Len(t, list, 1)
		list, err = b.ListRotationPolicies(ctx, "globex")
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = b.GetRotationPolicy(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPasswordPolicySettings(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		_, err := b.GetPasswordPolicy(ctx, "acme")
		assert.ErrorIs(t, err, ErrNotFound)

		cfg := models.DefaultPasswordPolicy()
		cfg.TenantID = "acme"
		cfg.PreventReuseCount = 5
		days := 90
		cfg.ExpirationDays = &days
		cfg.UpdatedAt = base
		require.NoError(t, b.PutPasswordPolicy(ctx, &cfg))

		cfg.MinLength = 16
		cfg.ExpirationDays = nil
		require.NoError(t, b.PutPasswordPolicy(ctx, &cfg))

		got, err := b.GetPasswordPolicy(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 16, got.MinLength)
		assert.Equal(t, 5, got.PreventReuseCount)
		assert.Nil(t, got.ExpirationDays)
		assert.True(t, got.RequireSpecial)
	})
}

func TestAuditLog(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		for i, action := range []string{models.AuditRotationScheduled, models.AuditRotationCompleted, models.AuditBreachChecked} {
			require.NoError(t, b.WriteAuditEntry(ctx, &models.AuditEntry{
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				Actor:     "user-1",
				TenantID:  "acme",
				Action:    action,
				Outcome:   "success",
				Metadata:  map[string]any{"n": i},
			}))
		}

		all, err := b.QueryAuditLog(ctx, AuditFilter{TenantID: "acme"})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, models.AuditBreachChecked, all[0].Action, "newest first")
		assert.EqualValues(t, 2, all[0].Metadata["n"])

		only, err := b.QueryAuditLog(ctx, AuditFilter{Action: models.AuditRotationCompleted})
		require.NoError(t, err)
		require.Len(t, only, 1)

		since := base.Add(90 * time.Second)
		recent, err := b.QueryAuditLog(ctx, AuditFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, recent, 1)

		paged, err := b.QueryAuditLog(ctx, AuditFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, models.AuditRotationCompleted, paged[0].Action)
	})
}
