package crypto

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// RawKeyLength is the required length of raw key material in production.
const RawKeyLength = 32

// DevelopmentKey is used when no key is configured outside production. It is
// on the placeholder list, so a production process never accepts it.
const DevelopmentKey = "credcore-development-key-0000000"

// ErrKeyMaterial is returned when raw key material is unusable.
var ErrKeyMaterial = errors.New("invalid encryption key material")

var placeholderKeys = []string{
	DevelopmentKey,
	"changeme",
	"change-me",
	"your-encryption-key",
	"your-32-character-encryption-key",
	"default",
	"secret",
	"password",
	"00000000000000000000000000000000",
	"12345678901234567890123456789012",
}

// KeyProblems lists everything wrong with raw for production use.
func KeyProblems(raw string) []string {
	var problems []string
	if raw == "" {
		return append(problems, "key is not set")
	}
	if n := utf8.RuneCountInString(raw); n != RawKeyLength {
		problems = append(problems, fmt.Sprintf("key must be exactly %d characters, got %d", RawKeyLength, n))
	}
	lower := strings.ToLower(raw)
	for _, p := range placeholderKeys {
		if lower == p {
			problems = append(problems, "key is a known placeholder")
			break
		}
	}
	if strings.Count(raw, raw[:1]) == len(raw) {
		problems = append(problems, "key is a single repeated character")
	}
	return problems
}

// ValidateKeyMaterial applies the startup guard. In production any problem is
// fatal; elsewhere problems are logged and nil is returned.
func ValidateKeyMaterial(raw string, production bool) error {
	problems := KeyProblems(raw)
	if len(problems) == 0 {
		return nil
	}
	if production {
		return fmt.Errorf("%w: %s", ErrKeyMaterial, strings.Join(problems, "; "))
	}
	log.Warn().Strs("problems", problems).Msg("encryption key would be rejected in production")
	return nil
}

// ResolveKeyMaterial runs ValidateKeyMaterial and, outside production, falls
// back to DevelopmentKey when raw is empty.
func ResolveKeyMaterial(raw string, production bool) (string, error) {
	if raw == "" && !production {
		log.Warn().Msg("no encryption key configured, using the development key")
		return DevelopmentKey, nil
	}
	if err := ValidateKeyMaterial(raw, production); err != nil {
		return "", err
	}
	return raw, nil
}
