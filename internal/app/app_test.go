package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/credcore/internal/config"
	"github.com/org/credcore/internal/keysource"
	"github.com/org/credcore/internal/secret"
	"github.com/org/credcore/internal/storage"
)

const testKey = "app-wiring-tests-key-0123456789a"

func TestNewWithMemoryStorage(t *testing.T) {
	t.Setenv(keysource.DefaultEnvVar, testKey)
	cfg := config.Default()
	cfg.Storage.Driver = "memory"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	c, err := a.Secrets.Create(context.Background(), secret.NewCredential{
		TenantID: "acme", Name: "db", Secret: "Initial#Pass1x",
	}, "alice")
	require.NoError(t, err)
	rev, err := a.Secrets.Reveal(context.Background(), c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Initial#Pass1x", rev.Secret)
	assert.Nil(t, a.Breach)
}

func TestNewRefusesBadKeyInProduction(t *testing.T) {
	t.Setenv(keysource.DefaultEnvVar, "change-me")
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Environment = config.EnvironmentProduction

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewFallsBackToDevelopmentKey(t *testing.T) {
	t.Setenv(keysource.DefaultEnvVar, "")
	cfg := config.Default()
	cfg.Storage.Driver = "memory"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	a.Close()
}

func TestAssembleWithBreachAndBlacklist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()
	bl := filepath.Join(t.TempDir(), "blacklist.txt")
	require.NoError(t, os.WriteFile(bl, []byte("Summer#2024xx\n"), 0o600))

	cfg := config.Default()
	cfg.Breach.Enabled = true
	cfg.Breach.BaseURL = srv.URL
	cfg.Policy.BlacklistFile = bl

	a, err := Assemble(context.Background(), cfg, storage.NewMemoryBackend(), testKey)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Breach)

	_, err = a.Secrets.Create(context.Background(), secret.NewCredential{
		TenantID: "acme", Name: "db", Secret: "summer#2024XX",
	}, "alice")
	assert.Error(t, err, "blacklisted secret must be rejected")

	res := a.Secrets.CheckBreach(context.Background(), "Another#Pass1", "alice")
	assert.False(t, res.IsBreached)
}
