// Package auth verifies and issues the bearer tokens accepted by the API.
// Tokens are HS256 JWTs: sub names the actor and the tenant claim scopes
// every request to one tenant.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret accepted.
const MinSecretLength = 32

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload.
type Claims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	Actor    string
	TenantID string
}

// Verifier checks tokens against a shared secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier returns a Verifier. issuer and audience are checked only when
// non-empty.
func NewVerifier(secret, issuer, audience string) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   30 * time.Second,
		now:      time.Now,
	}, nil
}

// Verify parses raw and returns the principal it names.
func (v *Verifier) Verify(raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Tenant == "" {
		return Principal{}, fmt.Errorf("%w: sub and tenant claims are required", ErrInvalidToken)
	}
	return Principal{Actor: claims.Subject, TenantID: claims.Tenant}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Issue signs a token for p valid for ttl. Used by credctl and tests.
func Issue(secret, issuer, audience string, p Principal, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	now := time.Now()
	claims := Claims{
		Tenant: p.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Actor,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
