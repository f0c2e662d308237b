package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// Purpose scopes a key. Envelopes written for one purpose never decrypt
// under another.
type Purpose string

const (
	PurposeEmail    Purpose = "email"
	PurposePassword Purpose = "password"
)

var purposeSalts = map[Purpose]string{
	PurposeEmail:    "credcore-email-v1",
	PurposePassword: "credcore-password-v1",
}

// ErrDecryption matches every *DecryptionError via errors.Is.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError is returned for malformed envelopes and for envelopes that
// do not authenticate under the requested purpose's key.
type DecryptionError struct {
	Purpose Purpose
	Reason  string
	Err     error
}

func (e *DecryptionError) Error() string {
	msg := fmt.Sprintf("decrypting %s envelope: %s", e.Purpose, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Options tune a SecretCipher.
type Options struct {
	// LegacyCBC also accepts AES-256-CBC envelopes written before envelopes
	// were authenticated. New envelopes are always GCM.
	LegacyCBC bool
}

// SecretCipher encrypts secret fields with purpose-scoped keys. Keys are
// derived once at construction and kept in memguard enclaves; a SecretCipher
// is safe for concurrent use.
type SecretCipher struct {
	keys      map[Purpose]*memguard.Enclave
	legacyCBC bool
}

// NewSecretCipher derives one key per purpose from raw key material.
func NewSecretCipher(raw string, opts Options) (*SecretCipher, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrKeyMaterial)
	}
	c := &SecretCipher{
		keys:      make(map[Purpose]*memguard.Enclave, len(purposeSalts)),
		legacyCBC: opts.LegacyCBC,
	}
	for purpose, salt := range purposeSalts {
		// NewEnclave wipes the derived key slice after sealing it.
		c.keys[purpose] = memguard.NewEnclave(DeriveKey([]byte(raw), []byte(salt)))
	}
	return c, nil
}

// Encrypt returns the "<ivHex>:<cipherHex>" envelope for plaintext.
func (c *SecretCipher) Encrypt(plaintext string, purpose Purpose) (string, error) {
	key, err := c.openKey(purpose)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	ciphertext, iv, err := EncryptAESGCM([]byte(plaintext), key.Bytes())
	if err != nil {
		return "", fmt.Errorf("encrypting %s field: %w", purpose, err)
	}
	return formatEnvelope(iv, ciphertext), nil
}

// Decrypt opens an envelope written for purpose.
func (c *SecretCipher) Decrypt(envelope string, purpose Purpose) (string, error) {
	iv, ciphertext, err := parseEnvelope(envelope)
	if err != nil {
		return "", &DecryptionError{Purpose: purpose, Reason: "malformed envelope", Err: err}
	}
	key, err := c.openKey(purpose)
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	plaintext, gcmErr := DecryptAESGCM(ciphertext, iv, key.Bytes())
	if gcmErr == nil {
		return string(plaintext), nil
	}
	if c.legacyCBC {
		if plaintext, err := decryptAESCBC(ciphertext, iv, key.Bytes()); err == nil {
			return string(plaintext), nil
		}
	}
	return "", &DecryptionError{Purpose: purpose, Reason: "authentication failed", Err: gcmErr}
}

func (c *SecretCipher) openKey(purpose Purpose) (*memguard.LockedBuffer, error) {
	enclave, ok := c.keys[purpose]
	if !ok {
		return nil, fmt.Errorf("unknown cipher purpose %q", purpose)
	}
	key, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s key: %w", purpose, err)
	}
	return key, nil
}

func formatEnvelope(iv, ciphertext []byte) string {
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext)
}

func parseEnvelope(envelope string) (iv, ciphertext []byte, err error) {
	ivHex, cipherHex, ok := strings.Cut(envelope, ":")
	if !ok || strings.Contains(cipherHex, ":") {
		return nil, nil, errors.New("expected iv:ciphertext")
	}
	if len(ivHex) != IVSize*2 {
		return nil, nil, fmt.Errorf("iv must be %d hex characters", IVSize*2)
	}
	if cipherHex == "" {
		return nil, nil, errors.New("empty ciphertext")
	}
	if iv, err = hex.DecodeString(ivHex); err != nil {
		return nil, nil, fmt.Errorf("iv: %w", err)
	}
	if ciphertext, err = hex.DecodeString(cipherHex); err != nil {
		return nil, nil, fmt.Errorf("ciphertext: %w", err)
	}
	return iv, ciphertext, nil
}

// IsEnvelope reports whether s is syntactically an envelope. It does not
// check that s decrypts.
func IsEnvelope(s string) bool {
	_, _, err := parseEnvelope(s)
	return err == nil
}
