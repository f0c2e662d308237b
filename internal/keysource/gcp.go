package keysource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretVersionAccessor reads the payload of a secret version by resource name.
type SecretVersionAccessor interface {
	Access(ctx context.Context, name string) ([]byte, error)
}

type gcpClient struct {
	c *secretmanager.Client
}

func (g gcpClient) Access(ctx context.Context, name string) ([]byte, error) {
	resp, err := g.c.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, err
	}
	if resp.GetPayload() == nil {
		return nil, nil
	}
	return resp.GetPayload().GetData(), nil
}

// GCPSource reads the key from Google Cloud Secret Manager.
type GCPSource struct {
	// Resource is projects/{p}/secrets/{s}/versions/{v}.
	Resource string
	client   SecretVersionAccessor
}

func NewGCP(ctx context.Context, cfg Config) (*GCPSource, error) {
	if cfg.GCPSecretName == "" {
		return nil, errors.New("key source gcp-secretmanager: secret name is required")
	}
	var opts []option.ClientOption
	if cfg.GCPCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCPCredentialsFile))
	}
	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	return NewGCPWithClient(cfg.GCPSecretName, gcpClient{c: c}), nil
}

// NewGCPWithClient normalizes name: a bare projects/p/secrets/s gets
// versions/latest appended.
func NewGCPWithClient(name string, client SecretVersionAccessor) *GCPSource {
	if !strings.Contains(name, "/versions/") {
		name = strings.TrimSuffix(name, "/") + "/versions/latest"
	}
	return &GCPSource{Resource: name, client: client}
}

func (s *GCPSource) Name() string { return "gcp-secretmanager:" + s.Resource }

func (s *GCPSource) Fetch(ctx context.Context) (string, error) {
	data, err := s.client.Access(ctx, s.Resource)
	if err != nil {
		return "", fmt.Errorf("accessing secret version: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoKey
	}
	return string(data), nil
}
