package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testAudience = "app-123"

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func staticKeyfunc(pub *rsa.PublicKey) jwt.Keyfunc {
	return func(*jwt.Token) (interface{}, error) {
		return pub, nil
	}
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    BotFrameworkIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		ServiceURL: "https://smba.example.com/",
	}
}

func sign(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey, opts ...Option) *Verifier {
	t.Helper()
	v, err := NewVerifier(staticKeyfunc(&key.PublicKey), testAudience, opts...)
	require.NoError(t, err)
	return v
}

func TestNewVerifier_ValidatesArguments(t *testing.T) {
	_, err := NewVerifier(nil, testAudience)
	require.Error(t, err)

	key := newKey(t)
	_, err = NewVerifier(staticKeyfunc(&key.PublicKey), " ")
	require.Error(t, err)

	_, err = NewVerifier(staticKeyfunc(&key.PublicKey), testAudience, WithIssuers())
	require.Error(t, err)
}

func TestNewJWKSVerifier_RequiresURLs(t *testing.T) {
	_, err := NewJWKSVerifier(context.Background(), nil, testAudience)
	require.Error(t, err)
}

func TestVerify_HappyPath(t *testing.T) {
	key := newKey(t)
	v := newTestVerifier(t, key)

	claims, err := v.Verify(context.Background(), sign(t, key, validClaims()))
	require.NoError(t, err)
	require.Equal(t, "https://smba.example.com/", claims.ServiceURL)
}

func TestVerify_TenantIssuer(t *testing.T) {
	key := newKey(t)
	v := newTestVerifier(t, key, WithTenant("tenant-1"))

	c := validClaims()
	c.Issuer = "https://login.microsoftonline.com/tenant-1/v2.0"
	_, err := v.Verify(context.Background(), sign(t, key, c))
	require.NoError(t, err)

	c.Issuer = "https://sts.windows.net/tenant-1/"
	_, err = v.Verify(context.Background(), sign(t, key, c))
	require.NoError(t, err)
}

func TestVerify_Rejects(t *testing.T) {
	key := newKey(t)
	other := newKey(t)

	cases := []struct {
		name  string
		token func() string
	}{
		{name: "empty", token: func() string { return "" }},
		{name: "garbage", token: func() string { return "not-a-jwt" }},
		{name: "wrong audience", token: func() string {
			c := validClaims()
			c.Audience = jwt.ClaimStrings{"someone-else"}
			return sign(t, key, c)
		}},
		{name: "untrusted issuer", token: func() string {
			c := validClaims()
			c.Issuer = "https://evil.example.com"
			return sign(t, key, c)
		}},
		{name: "expired", token: func() string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			return sign(t, key, c)
		}},
		{name: "missing exp", token: func() string {
			c := validClaims()
			c.ExpiresAt = nil
			return sign(t, key, c)
		}},
		{name: "wrong key", token: func() string { return sign(t, other, validClaims()) }},
		{name: "hs256", token: func() string {
			s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
			require.NoError(t, err)
			return s
		}},
	}

	v := newTestVerifier(t, key)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token())
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAnonymous_AcceptsAnything(t *testing.T) {
	claims, err := Anonymous{}.Verify(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, claims)
}
