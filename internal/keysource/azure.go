package keysource

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// KeyVaultAPI is the subset of the azsecrets client used here.
type KeyVaultAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureSource reads the key from an Azure Key Vault secret.
type AzureSource struct {
	SecretName string
	client     KeyVaultAPI
}

func NewAzure(cfg Config) (*AzureSource, error) {
	if cfg.AzureVaultURL == "" || cfg.AzureSecretName == "" {
		return nil, errors.New("key source azure-keyvault: vault url and secret name are required")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(cfg.AzureVaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating key vault client: %w", err)
	}
	return NewAzureWithClient(cfg.AzureSecretName, client), nil
}

func NewAzureWithClient(name string, client KeyVaultAPI) *AzureSource {
	return &AzureSource{SecretName: name, client: client}
}

func (s *AzureSource) Name() string { return "azure-keyvault:" + s.SecretName }

func (s *AzureSource) Fetch(ctx context.Context) (string, error) {
	resp, err := s.client.GetSecret(ctx, s.SecretName, "", nil)
	if err != nil {
		return "", fmt.Errorf("getting key vault secret: %w", err)
	}
	if resp.Value == nil {
		return "", ErrNoKey
	}
	return *resp.Value, nil
}
