package validation

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jwxjwk "github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credentis/credentis/pkg/config"
	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/jwks"
)

const (
	testClientID    = "relying-party"
	testAudience    = "https://issuer.example"
	testIssuer      = "relying-party"
	testRedirectURI = "https://relying.example/callback"
)

type signerKeys struct {
	private *rsa.PrivateKey
}

func newSignerKeys(t *testing.T) *signerKeys {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &signerKeys{private: privateKey}
}

func (k *signerKeys) sign(t *testing.T, claims jwt.MapClaims) []byte {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(k.private)
	require.NoError(t, err)
	return []byte(signed)
}

func (k *signerKeys) publicJWK(t *testing.T) string {
	t.Helper()
	key, err := jwxjwk.Import(&k.private.PublicKey)
	require.NoError(t, err)
	buf, err := json.Marshal(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(buf)
}

// staticClient builds a client config verifying against the signer's public
// key directly, with a permissive evidence policy.
func staticClient(keys *signerKeys, t *testing.T) *config.Client {
	t.Helper()
	return &config.Client{
		ClientID:         testClientID,
		Audience:         testAudience,
		Issuer:           testIssuer,
		RedirectURI:      testRedirectURI,
		SigningAlgorithm: "RS256",
		PublicSigningKey: keys.publicJWK(t),
		Evidence: &config.EvidencePolicy{
			ScoringPolicy:             "gpg45",
			AllowedStrengthScores:     []int{1, 2},
			AllowedVerificationScores: []int{0, 1, 2, 3},
		},
	}
}

func sessionClaims(extra jwt.MapClaims) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"exp":          now.Add(time.Minute).Unix(),
		"nbf":          now.Add(-time.Minute).Unix(),
		"sub":          "urn:subject:1234",
		"iss":          testIssuer,
		"aud":          testAudience,
		"client_id":    testClientID,
		"redirect_uri": testRedirectURI,
		"state":        "state-abc",
	}
	for name, value := range extra {
		claims[name] = value
	}
	return claims
}

func newSessionValidator(keys *signerKeys, t *testing.T) *SessionRequestValidator {
	t.Helper()
	registry := config.StaticRegistry{testClientID: staticClient(keys, t)}
	return NewSessionRequestValidator(registry, jwks.NewCache())
}

func details(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	return appErr.Details
}

func TestValidateSessionJWT(t *testing.T) {
	t.Parallel()

	keys := newSignerKeys(t)
	validator := newSessionValidator(keys, t)

	claims, err := validator.ValidateJWT(context.Background(), keys.sign(t, sessionClaims(nil)), testClientID)
	require.NoError(t, err)
	assert.Equal(t, "urn:subject:1234", claims["sub"])
	assert.Equal(t, "state-abc", claims["state"])
}

func TestValidateSessionJWTUnknownClient(t *testing.T) {
	t.Parallel()

	keys := newSignerKeys(t)
	validator := newSessionValidator(keys, t)

	_, err := validator.ValidateJWT(context.Background(), keys.sign(t, sessionClaims(nil)), "unregistered")
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionValidation(err))
	assert.Equal(t, "no configuration for client", details(t, err))
}

func TestValidateSessionJWTExpired(t *testing.T) {
	t.Parallel()

	keys := newSignerKeys(t)
	validator := newSessionValidator(keys, t)

	expired := sessionClaims(jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	_, err := validator.ValidateJWT(context.Background(), keys.sign(t, expired), testClientID)
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionValidation(err))
	// Expired tokens get a dedicated details string, not the generic one.
	assert.Contains(t, details(t, err), "JWT expired")
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestValidateSessionJWTClaimChecks(t *testing.T) {
	t.Parallel()

	keys := newSignerKeys(t)
	validator := newSessionValidator(keys, t)

	tests := []struct {
		name        string
		claims      jwt.MapClaims
		wantDetails string
	}{
		{
			name:        "missing nbf",
			claims:      sessionClaims(jwt.MapClaims{"nbf": nil}),
			wantDetails: "JWT verification failure",
		},
		{
			name:        "client_id mismatch",
			claims:      sessionClaims(jwt.MapClaims{"client_id": "someone-else"}),
			wantDetails: "client_id in payload does not match request client_id",
		},
		{
			name:        "redirect_uri mismatch",
			claims:      sessionClaims(jwt.MapClaims{"redirect_uri": "https://attacker.example/callback"}),
			wantDetails: "redirect_uri in payload does not match configured redirect URI",
		},
		{
			name:        "missing state",
			claims:      sessionClaims(jwt.MapClaims{"state": nil}),
			wantDetails: "invalid state",
		},
		{
			name:        "wrong issuer",
			claims:      sessionClaims(jwt.MapClaims{"iss": "someone-else"}),
			wantDetails: "JWT verification failure",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// A nil value removes the claim entirely.
			claims := jwt.MapClaims{}
			for name, value := range tc.claims {
				if value != nil {
					claims[name] = value
				}
			}

			_, err := validator.ValidateJWT(context.Background(), keys.sign(t, claims), testClientID)
			require.Error(t, err)
			assert.True(t, apperrors.IsSessionValidation(err))
			assert.Equal(t, tc.wantDetails, details(t, err))
		})
	}
}

func TestValidateSessionJWTMissingConfiguredRedirect(t *testing.T) {
	t.Parallel()

	keys := newSignerKeys(t)
	client := staticClient(keys, t)
	client.RedirectURI = ""
	registry := config.StaticRegistry{testClientID: client}
	validator := NewSessionRequestValidator(registry, jwks.NewCache())

	_, err := validator.ValidateJWT(context.Background(), keys.sign(t, sessionClaims(nil)), testClientID)
	require.Error(t, err)
	assert.Equal(t, "unable to retrieve redirect URI for client", details(t, err))
}

func TestValidateEvidenceRequested(t *testing.T) {
	t.Parallel()

	keys := newSignerKeys(t)
	validator := newSessionValidator(keys, t)
	ctx := context.Background()

	evidence := func(fields map[string]any) jwt.MapClaims {
		return sessionClaims(jwt.MapClaims{"evidence_requested": fields})
	}

	t.Run("permitted evidence request", func(t *testing.T) {
		t.Parallel()
		claims := evidence(map[string]any{"scoringPolicy": "gpg45", "strengthScore": 2, "verificationScore": 3})
		_, err := validator.ValidateJWT(ctx, keys.sign(t, claims), testClientID)
		require.NoError(t, err)
	})

	t.Run("validity score is unrestricted", func(t *testing.T) {
		t.Parallel()
		claims := evidence(map[string]any{"scoringPolicy": "gpg45", "validityScore": 99})
		_, err := validator.ValidateJWT(ctx, keys.sign(t, claims), testClientID)
		require.NoError(t, err)
	})

	t.Run("unsupported scoring policy", func(t *testing.T) {
		t.Parallel()
		claims := evidence(map[string]any{"scoringPolicy": "other"})
		_, err := validator.ValidateJWT(ctx, keys.sign(t, claims), testClientID)
		require.Error(t, err)
		assert.Equal(t, "unsupported scoring policy", details(t, err))
	})

	t.Run("strength score outside the allowed set", func(t *testing.T) {
		t.Parallel()
		claims := evidence(map[string]any{"scoringPolicy": "gpg45", "strengthScore": 4})
		_, err := validator.ValidateJWT(ctx, keys.sign(t, claims), testClientID)
		require.Error(t, err)
		assert.Equal(t, "strength score is not permitted", details(t, err))
	})

	t.Run("verification score outside the allowed set", func(t *testing.T) {
		t.Parallel()
		claims := evidence(map[string]any{"scoringPolicy": "gpg45", "verificationScore": 4})
		_, err := validator.ValidateJWT(ctx, keys.sign(t, claims), testClientID)
		require.Error(t, err)
		assert.Equal(t, "verification score is not permitted", details(t, err))
	})

	t.Run("client without an evidence policy", func(t *testing.T) {
		t.Parallel()
		client := staticClient(keys, t)
		client.Evidence = nil
		registry := config.StaticRegistry{testClientID: client}
		bare := NewSessionRequestValidator(registry, jwks.NewCache())

		claims := evidence(map[string]any{"scoringPolicy": "gpg45"})
		_, err := bare.ValidateJWT(ctx, keys.sign(t, claims), testClientID)
		require.Error(t, err)
		assert.Equal(t, "evidence_requested is not supported for this client", details(t, err))
	})
}
