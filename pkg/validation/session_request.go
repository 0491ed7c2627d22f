// SPDX-License-Identifier: Apache-2.0

package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credentis/credentis/pkg/config"
	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/jwks"
	"github.com/credentis/credentis/pkg/jwtverify"
	"github.com/credentis/credentis/pkg/telemetry"
)

// EvidenceRequested is the optional evidence_requested claim on a session
// request. Pointer fields distinguish "not specified" from zero.
type EvidenceRequested struct {
	ScoringPolicy     string `json:"scoringPolicy"`
	StrengthScore     *int   `json:"strengthScore,omitempty"`
	ValidityScore     *int   `json:"validityScore,omitempty"`
	VerificationScore *int   `json:"verificationScore,omitempty"`
}

// SessionRequestValidator enforces the session-creation invariants over the
// decrypted, signed request JWT.
type SessionRequestValidator struct {
	registry config.Registry
	cache    *jwks.Cache
}

// NewSessionRequestValidator creates a SessionRequestValidator.
func NewSessionRequestValidator(registry config.Registry, cache *jwks.Cache) *SessionRequestValidator {
	return &SessionRequestValidator{registry: registry, cache: cache}
}

// fail records the failure cause for metric classification and returns a
// session validation error carrying it.
func fail(details string, cause error) error {
	telemetry.SessionValidationFailures.WithLabelValues(details).Inc()
	return apperrors.NewSessionValidationError(details, cause)
}

// ValidateJWT verifies the request JWT's signature and then checks, in
// order: payload presence, client id match, configured redirect URI
// presence, redirect URI match, state presence, and the optional evidence
// request against the client's scoring policy. Every failure is surfaced as
// a SessionValidationError whose details string distinguishes the cause.
func (v *SessionRequestValidator) ValidateJWT(
	ctx context.Context,
	rawJWT []byte,
	requestBodyClientID string,
) (jwt.MapClaims, error) {
	client, err := v.registry.ClientConfig(ctx, requestBodyClientID)
	if err != nil {
		return nil, fail("no configuration for client", err)
	}

	verifier := jwtverify.NewVerifier(client, v.cache)
	claims, err := verifier.Verify(ctx, rawJWT,
		[]string{"exp", "sub", "nbf"},
		jwtverify.ExpectedClaims{
			Audience: client.Audience,
			Issuer:   client.Issuer,
		})
	if err != nil {
		// Expired tokens get their own classification; the expiry marker
		// stays in the details for dashboards keying off the substring.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fail("JWT expired: "+jwt.ErrTokenExpired.Error(), err)
		}
		return nil, fail("JWT verification failure", err)
	}
	if claims == nil {
		return nil, fail("JWT verification failure", nil)
	}

	payloadClientID, _ := claims["client_id"].(string)
	if payloadClientID != requestBodyClientID {
		return nil, fail("client_id in payload does not match request client_id", nil)
	}

	if client.RedirectURI == "" {
		return nil, fail("unable to retrieve redirect URI for client", nil)
	}
	payloadRedirectURI, _ := claims["redirect_uri"].(string)
	if payloadRedirectURI != client.RedirectURI {
		return nil, fail("redirect_uri in payload does not match configured redirect URI", nil)
	}

	if state, _ := claims["state"].(string); state == "" {
		return nil, fail("invalid state", nil)
	}

	if raw, present := claims["evidence_requested"]; present {
		if err := v.validateEvidenceRequested(raw, client.Evidence); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

// validateEvidenceRequested rejects any evidence request outside the
// client's configured policy.
func (*SessionRequestValidator) validateEvidenceRequested(raw any, policy *config.EvidencePolicy) error {
	if policy == nil {
		return fail("evidence_requested is not supported for this client", nil)
	}

	// The claim arrives as an arbitrary JSON object; round-trip it into the
	// typed form.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fail("evidence_requested is not an object", err)
	}
	var evidence EvidenceRequested
	if err := json.Unmarshal(encoded, &evidence); err != nil {
		return fail("evidence_requested is malformed", err)
	}

	if evidence.ScoringPolicy != policy.ScoringPolicy {
		return fail("unsupported scoring policy", fmt.Errorf("scoring policy %q", evidence.ScoringPolicy))
	}
	if evidence.StrengthScore != nil && !slices.Contains(policy.AllowedStrengthScores, *evidence.StrengthScore) {
		return fail("strength score is not permitted", fmt.Errorf("strength score %d", *evidence.StrengthScore))
	}
	if evidence.VerificationScore != nil && !slices.Contains(policy.AllowedVerificationScores, *evidence.VerificationScore) {
		return fail("verification score is not permitted", fmt.Errorf("verification score %d", *evidence.VerificationScore))
	}

	return nil
}
