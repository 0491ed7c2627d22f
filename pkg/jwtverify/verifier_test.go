package jwtverify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jwxjwk "github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credentis/credentis/pkg/config"
	"github.com/credentis/credentis/pkg/jwks"
)

const testKeyID = "test-key-1"

type testKeys struct {
	private *rsa.PrivateKey
}

func newTestKeys(t *testing.T) *testKeys {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &testKeys{private: privateKey}
}

// sign produces a compact RS256 JWT with the test key id in the header.
func (k *testKeys) sign(t *testing.T, claims jwt.MapClaims) []byte {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(k.private)
	require.NoError(t, err)
	return []byte(signed)
}

// publicJWK returns the public key as a base64-encoded JWK document.
func (k *testKeys) publicJWK(t *testing.T) string {
	t.Helper()
	key, err := jwxjwk.Import(&k.private.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwxjwk.KeyIDKey, testKeyID))
	buf, err := json.Marshal(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(buf)
}

// serveJWKS publishes the public key from an httptest server.
func (k *testKeys) serveJWKS(t *testing.T) *httptest.Server {
	t.Helper()

	key, err := jwxjwk.Import(&k.private.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwxjwk.KeyIDKey, testKeyID))

	keySet := jwxjwk.NewSet()
	require.NoError(t, keySet.AddKey(key))
	body, err := json.Marshal(keySet)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=300")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": "https://issuer.example",
		"aud": "https://audience.example",
		"sub": "urn:subject:1234",
		"exp": time.Now().Add(time.Hour).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestVerifyRoundTripAgainstJWKSEndpoint(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	server := keys.serveJWKS(t)

	client := &config.Client{
		ClientID:         "client-1",
		Audience:         "https://audience.example",
		Issuer:           "https://issuer.example",
		SigningAlgorithm: "RS256",
		JWKSEndpoint:     server.URL,
	}
	verifier := NewVerifier(client, jwks.NewCache())

	claims := validClaims()
	got, err := verifier.Verify(context.Background(), keys.sign(t, claims),
		[]string{"exp", "sub", "nbf"},
		ExpectedClaims{Audience: "https://audience.example", Issuer: "https://issuer.example"})
	require.NoError(t, err)

	assert.Equal(t, "urn:subject:1234", got["sub"])
	assert.Equal(t, "https://issuer.example", got["iss"])
}

func TestVerifyRoundTripAgainstStaticKey(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	client := &config.Client{
		ClientID:         "client-1",
		SigningAlgorithm: "RS256",
		PublicSigningKey: keys.publicJWK(t),
	}
	verifier := NewVerifier(client, jwks.NewCache())

	got, err := verifier.Verify(context.Background(), keys.sign(t, validClaims()),
		[]string{"exp", "sub"}, ExpectedClaims{})
	require.NoError(t, err)
	assert.Equal(t, "urn:subject:1234", got["sub"])
}

func TestVerifyRequiresMandatoryClaims(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	client := &config.Client{
		ClientID:         "client-1",
		SigningAlgorithm: "RS256",
		PublicSigningKey: keys.publicJWK(t),
	}
	verifier := NewVerifier(client, jwks.NewCache())
	ctx := context.Background()

	_, err := verifier.Verify(ctx, keys.sign(t, validClaims()), nil, ExpectedClaims{})
	require.ErrorIs(t, err, ErrNoMandatoryClaims)

	// jti is not in the payload.
	_, err = verifier.Verify(ctx, keys.sign(t, validClaims()), []string{"exp", "jti"}, ExpectedClaims{})
	require.Error(t, err)

	var verificationErr *VerificationError
	assert.ErrorAs(t, err, &verificationErr)
	assert.Equal(t, "JWT verification failed", verificationErr.Error())
}

func TestVerifyRejectsMismatchedExpectedClaims(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	client := &config.Client{
		ClientID:         "client-1",
		SigningAlgorithm: "RS256",
		PublicSigningKey: keys.publicJWK(t),
	}
	verifier := NewVerifier(client, jwks.NewCache())
	ctx := context.Background()

	tests := []struct {
		name     string
		expected ExpectedClaims
	}{
		{name: "wrong audience", expected: ExpectedClaims{Audience: "https://other.example"}},
		{name: "wrong issuer", expected: ExpectedClaims{Issuer: "https://other.example"}},
		{name: "wrong subject", expected: ExpectedClaims{Subject: "urn:subject:9999"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := verifier.Verify(ctx, keys.sign(t, validClaims()), []string{"exp"}, tc.expected)
			require.Error(t, err)
		})
	}
}

func TestVerifyExpiredTokenRemainsDistinguishable(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	client := &config.Client{
		ClientID:         "client-1",
		SigningAlgorithm: "RS256",
		PublicSigningKey: keys.publicJWK(t),
	}
	verifier := NewVerifier(client, jwks.NewCache())

	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := verifier.Verify(context.Background(), keys.sign(t, claims), []string{"exp"}, ExpectedClaims{})
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired, "expired cause must survive the uniform wrapper")
}

func TestVerifyRejectsAlgorithmMismatch(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	client := &config.Client{
		ClientID:         "client-1",
		SigningAlgorithm: "ES256",
		PublicSigningKey: keys.publicJWK(t),
	}
	verifier := NewVerifier(client, jwks.NewCache())

	_, err := verifier.Verify(context.Background(), keys.sign(t, validClaims()), []string{"exp"}, ExpectedClaims{})
	require.Error(t, err)
}

func TestVerifyFailsWithoutKeyConfiguration(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	client := &config.Client{ClientID: "client-1", SigningAlgorithm: "RS256"}
	verifier := NewVerifier(client, jwks.NewCache())

	_, err := verifier.Verify(context.Background(), keys.sign(t, validClaims()), []string{"exp"}, ExpectedClaims{})
	require.ErrorIs(t, err, ErrMissingKeyConfig)
}

func TestVerifySharedCacheAcrossVerifiers(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	server := keys.serveJWKS(t)
	cache := jwks.NewCache()

	clientA := &config.Client{ClientID: "a", SigningAlgorithm: "RS256", JWKSEndpoint: server.URL}
	clientB := &config.Client{ClientID: "b", SigningAlgorithm: "RS256", JWKSEndpoint: server.URL}

	ctx := context.Background()
	_, err := NewVerifier(clientA, cache).Verify(ctx, keys.sign(t, validClaims()), []string{"exp"}, ExpectedClaims{})
	require.NoError(t, err)
	_, err = NewVerifier(clientB, cache).Verify(ctx, keys.sign(t, validClaims()), []string{"exp"}, ExpectedClaims{})
	require.NoError(t, err)
}
