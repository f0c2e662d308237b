package rotation

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/org/credcore/pkg/models"
)

// GeneratedLength is the minimum length of generated secrets; longer
// tenant minimums win.
const GeneratedLength = 20

const (
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*()-_=+[]{}:,.?"
)

// GeneratePassword returns a random secret that satisfies cfg. Every
// character class is always present, so the result also passes stricter
// policies than cfg.
func GeneratePassword(cfg models.PasswordPolicyConfig) (string, error) {
	n := max(cfg.MinLength, GeneratedLength)
	all := upperChars + lowerChars + digitChars + specialChars

	out := make([]byte, 0, n)
	for _, set := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Fisher-Yates; the first four bytes were seeded one per class.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("reading random: %w", err)
	}
	return int(v.Int64()), nil
}
