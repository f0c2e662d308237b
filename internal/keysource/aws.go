package keysource

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads the key from an AWS Secrets Manager secret.
type AWSSource struct {
	SecretID string
	client   SecretsManagerAPI
}

// NewAWS builds a client from the default credential chain. Static
// credentials and a custom endpoint are honoured for LocalStack.
func NewAWS(ctx context.Context, cfg Config) (*AWSSource, error) {
	if cfg.AWSSecretID == "" {
		return nil, errors.New("key source aws-secretsmanager: secret id is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, config.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	var clientOpts []func(*secretsmanager.Options)
	if cfg.AWSEndpoint != "" {
		endpoint := cfg.AWSEndpoint
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return NewAWSWithClient(cfg.AWSSecretID, secretsmanager.NewFromConfig(awsCfg, clientOpts...)), nil
}

func NewAWSWithClient(secretID string, client SecretsManagerAPI) *AWSSource {
	return &AWSSource{SecretID: secretID, client: client}
}

func (s *AWSSource) Name() string { return "aws-secretsmanager:" + s.SecretID }

func (s *AWSSource) Fetch(ctx context.Context) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret value: %w", err)
	}
	switch {
	case out.SecretString != nil:
		return *out.SecretString, nil
	case out.SecretBinary != nil:
		return string(out.SecretBinary), nil
	default:
		return "", ErrNoKey
	}
}
