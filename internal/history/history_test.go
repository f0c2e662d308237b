package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

func seed(t *testing.T, b storage.Backend) *models.Credential {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &models.Credential{
		ID: "cred-1", TenantID: "acme", Name: "db", Username: "admin",
		EncryptedSecret: "aa:01", Strength: models.StrengthStrong, OwnerID: "u1",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, b.CreateCredential(context.Background(), c, nil))
	return c
}

func TestAppendAndQuery(t *testing.T) {
	b := storage.NewMemoryBackend()
	c := seed(t, b)
	s := NewStore(b, Options{})
	ctx := context.Background()

	for _, secret := range []string{"aa:01", "aa:02", "aa:03"} {
		c.EncryptedSecret = secret
		_, err := s.Append(ctx, c.ID, c, "u1", models.ChangeUpdate)
		require.NoError(t, err)
	}

	newest, err := s.Query(ctx, c.ID, 2, true)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "aa:03", newest[0].EncryptedSecret)
	assert.Equal(t, "aa:02", newest[1].EncryptedSecret)

	oldest, err := s.Query(ctx, c.ID, 0, false)
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.Equal(t, "aa:01", oldest[0].EncryptedSecret)
}

func TestEntriesAreImmutableCopies(t *testing.T) {
	b := storage.NewMemoryBackend()
	c := seed(t, b)
	totp := "bb:01"
	c.EncryptedTOTPSecret = &totp
	s := NewStore(b, Options{})
	ctx := context.Background()

	entry, err := s.Append(ctx, c.ID, c, "u1", models.ChangeUpdate)
	require.NoError(t, err)

	// Mutating the source credential or the returned copies must not leak
	// into the ledger.
	c.EncryptedSecret = "mutated"
	*c.EncryptedTOTPSecret = "mutated"
	entry.EncryptedSecret = "mutated"

	got, err := s.Query(ctx, c.ID, 0, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aa:01", got[0].EncryptedSecret)
	assert.Equal(t, "bb:01", *got[0].EncryptedTOTPSecret)

	*got[0].EncryptedTOTPSecret = "mutated"
	again, err := s.Get(ctx, c.ID, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "bb:01", *again.EncryptedTOTPSecret)
}

func TestAppendValidates(t *testing.T) {
	b := storage.NewMemoryBackend()
	c := seed(t, b)
	s := NewStore(b, Options{})

	_, err := s.Append(context.Background(), c.ID, c, "u1", models.ChangeType("DELETE"))
	assert.Error(t, err)
	_, err = s.Append(context.Background(), "other", c, "u1", models.ChangeUpdate)
	assert.Error(t, err)
}

func TestRetention(t *testing.T) {
	b := storage.NewMemoryBackend()
	c := seed(t, b)
	s := NewStore(b, Options{MaxEntriesPerCredential: 2})
	ctx := context.Background()

	for _, secret := range []string{"aa:01", "aa:02", "aa:03", "aa:04"} {
		c.EncryptedSecret = secret
		_, err := s.Append(ctx, c.ID, c, "u1", models.ChangeUpdate)
		require.NoError(t, err)
	}
	got, err := s.Query(ctx, c.ID, 0, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aa:04", got[0].EncryptedSecret)
	assert.Equal(t, "aa:03", got[1].EncryptedSecret)
}

func TestGetChecksOwnership(t *testing.T) {
	b := storage.NewMemoryBackend()
	c := seed(t, b)
	s := NewStore(b, Options{})
	entry, err := s.Append(context.Background(), c.ID, c, "u1", models.ChangeUpdate)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "someone-else", entry.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotUsesClock(t *testing.T) {
	at := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(storage.NewMemoryBackend(), Options{}).WithClock(func() time.Time { return at })
	e := s.Snapshot(&models.Credential{ID: "c"}, "u1", models.ChangeRestore)
	assert.Equal(t, at, e.CreatedAt)
	assert.Equal(t, models.ChangeRestore, e.ChangeType)
	assert.NotEmpty(t, e.ID)
}
