// Package keysource loads raw encryption key material from the environment,
// a file, the OS keyring, or a cloud secret manager.
package keysource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultEnvVar holds the raw key when the env source is used.
const DefaultEnvVar = "CREDCORE_ENCRYPTION_KEY"

// ErrNoKey is returned when a source resolves but holds no key material.
var ErrNoKey = errors.New("no encryption key material")

// Source fetches raw key material.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (string, error)
}

// Config selects and configures a Source.
type Config struct {
	Source string `yaml:"source"`

	EnvVar string `yaml:"env_var"`
	File   string `yaml:"file"`

	KeyringService string `yaml:"keyring_service"`
	KeyringUser    string `yaml:"keyring_user"`

	AWSSecretID        string `yaml:"aws_secret_id"`
	AWSRegion          string `yaml:"aws_region"`
	AWSEndpoint        string `yaml:"aws_endpoint"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`

	GCPSecretName      string `yaml:"gcp_secret_name"`
	GCPCredentialsFile string `yaml:"gcp_credentials_file"`

	AzureVaultURL   string `yaml:"azure_vault_url"`
	AzureSecretName string `yaml:"azure_secret_name"`
}

// New builds the Source named by cfg.Source. An empty name selects env.
func New(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Source {
	case "", "env":
		return NewEnv(cfg.EnvVar), nil
	case "file":
		if cfg.File == "" {
			return nil, errors.New("key source file: path is required")
		}
		return &FileSource{Path: cfg.File}, nil
	case "keyring":
		return NewKeyring(cfg.KeyringService, cfg.KeyringUser), nil
	case "aws-secretsmanager":
		return NewAWS(ctx, cfg)
	case "gcp-secretmanager":
		return NewGCP(ctx, cfg)
	case "azure-keyvault":
		return NewAzure(cfg)
	default:
		return nil, fmt.Errorf("unknown key source %q", cfg.Source)
	}
}

// Load fetches from src and normalizes the result.
func Load(ctx context.Context, src Source) (string, error) {
	raw, err := src.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("loading key from %s: %w", src.Name(), err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("loading key from %s: %w", src.Name(), ErrNoKey)
	}
	log.Debug().Str("source", src.Name()).Msg("encryption key loaded")
	return raw, nil
}
