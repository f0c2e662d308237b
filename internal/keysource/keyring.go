package keysource

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	DefaultKeyringService = "credcore"
	DefaultKeyringUser    = "encryption-key"
)

// KeyringSource reads the key from the OS keyring (Keychain, Secret Service,
// Windows Credential Manager).
type KeyringSource struct {
	Service string
	User    string
}

func NewKeyring(service, user string) *KeyringSource {
	if service == "" {
		service = DefaultKeyringService
	}
	if user == "" {
		user = DefaultKeyringUser
	}
	return &KeyringSource{Service: service, User: user}
}

func (s *KeyringSource) Name() string { return "keyring:" + s.Service + "/" + s.User }

func (s *KeyringSource) Fetch(_ context.Context) (string, error) {
	v, err := keyring.Get(s.Service, s.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", fmt.Errorf("reading keyring: %w", err)
	}
	return v, nil
}

// Store writes raw into the keyring, replacing any existing entry.
func (s *KeyringSource) Store(raw string) error {
	if err := keyring.Set(s.Service, s.User, raw); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}
