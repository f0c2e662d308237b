package keysource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const rawKey = "k3Y-for-unit-tests-0123456789abc"

func TestEnvSource(t *testing.T) {
	t.Setenv("CREDCORE_TEST_KEY", "  "+rawKey+"\n")

	got, err := Load(context.Background(), NewEnv("CREDCORE_TEST_KEY"))
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)

	t.Setenv("CREDCORE_TEST_KEY", "")
	_, err = Load(context.Background(), NewEnv("CREDCORE_TEST_KEY"))
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestEnvSourceDefaultVar(t *testing.T) {
	assert.Equal(t, DefaultEnvVar, NewEnv("").Var)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(rawKey+"\n"), 0o600))

	got, err := Load(context.Background(), &FileSource{Path: path})
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)

	_, err = Load(context.Background(), &FileSource{Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestKeyringSource(t *testing.T) {
	keyring.MockInit()
	src := NewKeyring("", "")

	_, err := Load(context.Background(), src)
	assert.ErrorIs(t, err, ErrNoKey)

	require.NoError(t, src.Store(rawKey))
	got, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)
}

type fakeSecretsManager struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	id  string
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.id = aws.ToString(in.SecretId)
	return f.out, f.err
}

func TestAWSSource(t *testing.T) {
	fake := &fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(rawKey)}}
	src := NewAWSWithClient("prod/credcore/key", fake)

	got, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)
	assert.Equal(t, "prod/credcore/key", fake.id)

	fake.out = &secretsmanager.GetSecretValueOutput{SecretBinary: []byte(rawKey)}
	got, err = Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)

	fake.out, fake.err = nil, errors.New("AccessDeniedException")
	_, err = Load(context.Background(), src)
	assert.ErrorContains(t, err, "AccessDeniedException")
}

type fakeAccessor struct {
	data []byte
	name string
}

func (f *fakeAccessor) Access(_ context.Context, name string) ([]byte, error) {
	f.name = name
	return f.data, nil
}

func TestGCPSource(t *testing.T) {
	fake := &fakeAccessor{data: []byte(rawKey)}
	src := NewGCPWithClient("projects/p/secrets/credcore-key", fake)

	got, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)
	assert.Equal(t, "projects/p/secrets/credcore-key/versions/latest", fake.name)

	pinned := NewGCPWithClient("projects/p/secrets/credcore-key/versions/3", fake)
	assert.Equal(t, "projects/p/secrets/credcore-key/versions/3", pinned.Resource)

	fake.data = nil
	_, err = Load(context.Background(), src)
	assert.ErrorIs(t, err, ErrNoKey)
}

type fakeKeyVault struct {
	value *string
}

func (f *fakeKeyVault) GetSecret(_ context.Context, _ string, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: f.value}}, nil
}

func TestAzureSource(t *testing.T) {
	v := rawKey
	got, err := Load(context.Background(), NewAzureWithClient("credcore-key", &fakeKeyVault{value: &v}))
	require.NoError(t, err)
	assert.Equal(t, rawKey, got)

	_, err = Load(context.Background(), NewAzureWithClient("credcore-key", &fakeKeyVault{}))
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestNewSelectsSource(t *testing.T) {
	ctx := context.Background()

	src, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &EnvSource{}, src)

	src, err = New(ctx, Config{Source: "file", File: "/run/secrets/key"})
	require.NoError(t, err)
	assert.Equal(t, "file:/run/secrets/key", src.Name())

	src, err = New(ctx, Config{Source: "keyring"})
	require.NoError(t, err)
	assert.IsType(t, &KeyringSource{}, src)

	_, err = New(ctx, Config{Source: "file"})
	assert.Error(t, err)
	_, err = New(ctx, Config{Source: "aws-secretsmanager"})
	assert.Error(t, err)
	_, err = New(ctx, Config{Source: "gcp-secretmanager"})
	assert.Error(t, err)
	_, err = New(ctx, Config{Source: "azure-keyvault"})
	assert.Error(t, err)
	_, err = New(ctx, Config{Source: "vault"})
	assert.Error(t, err)
}
