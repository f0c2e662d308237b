package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier(secret, "credcore", "api")
	require.NoError(t, err)

	tok, err := Issue(secret, "credcore", "api", Principal{Actor: "alice", TenantID: "acme"}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{Actor: "alice", TenantID: "acme"}, p)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier(secret, "credcore", "")
	require.NoError(t, err)

	expired, err := Issue(secret, "credcore", "", Principal{Actor: "a", TenantID: "t"}, -time.Hour)
	require.NoError(t, err)
	wrongKey, err := Issue("ffffffffffffffffffffffffffffffff", "credcore", "", Principal{Actor: "a", TenantID: "t"}, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := Issue(secret, "other", "", Principal{Actor: "a", TenantID: "t"}, time.Hour)
	require.NoError(t, err)
	noTenant, err := Issue(secret, "credcore", "", Principal{Actor: "a"}, time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Tenant:           "t",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "a", Issuer: "credcore", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no tenant":    noTenant,
		"alg none":     noneAlg,
		"garbage":      "not.a.jwt",
	} {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestShortSecret(t *testing.T) {
	_, err := NewVerifier("short", "", "")
	assert.Error(t, err)
	_, err = Issue("short", "", "", Principal{}, time.Minute)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("abc"))
}
