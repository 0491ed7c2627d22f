// SPDX-License-Identifier: Apache-2.0

// Package validation composes the verifier, decrypter, and session store
// into the per-endpoint protocol checks.
package validation

import (
	"context"
	"net/url"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credentis/credentis/pkg/config"
	apperrors "github.com/credentis/credentis/pkg/errors"
	"github.com/credentis/credentis/pkg/jwks"
	"github.com/credentis/credentis/pkg/jwtverify"
	"github.com/credentis/credentis/pkg/session"
)

// Fixed literals the token request must carry exactly.
const (
	GrantTypeAuthorizationCode   = "authorization_code"
	ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// TokenRequestPayload is the parsed token endpoint form body.
type TokenRequestPayload struct {
	Code                string
	RedirectURI         string
	ClientAssertion     string
	GrantType           string
	ClientAssertionType string
}

// TokenRequestValidator enforces the token endpoint's protocol invariants.
type TokenRequestValidator struct {
	cache *jwks.Cache
}

// NewTokenRequestValidator creates a TokenRequestValidator sharing the given
// JWKS cache.
func NewTokenRequestValidator(cache *jwks.Cache) *TokenRequestValidator {
	return &TokenRequestValidator{cache: cache}
}

// ValidatePayload parses the URL-encoded form body and checks the required
// fields in a fixed order, first failure wins.
func (*TokenRequestValidator) ValidatePayload(body string) (*TokenRequestPayload, error) {
	form, err := url.ParseQuery(body)
	if err != nil {
		return nil, apperrors.NewInvalidPayloadError("request body is not a valid form", err)
	}

	payload := &TokenRequestPayload{
		Code:                form.Get("code"),
		RedirectURI:         form.Get("redirect_uri"),
		ClientAssertion:     form.Get("client_assertion"),
		GrantType:           form.Get("grant_type"),
		ClientAssertionType: form.Get("client_assertion_type"),
	}

	switch {
	case payload.RedirectURI == "":
		return nil, apperrors.NewInvalidRequestError("missing redirect_uri parameter", nil)
	case payload.Code == "":
		return nil, apperrors.NewInvalidRequestError("missing code parameter", nil)
	case payload.ClientAssertion == "":
		return nil, apperrors.NewInvalidRequestError("missing client_assertion parameter", nil)
	case payload.GrantType != GrantTypeAuthorizationCode:
		return nil, apperrors.NewInvalidRequestError("grant_type must be authorization_code", nil)
	case payload.ClientAssertionType != ClientAssertionTypeJWTBearer:
		return nil, apperrors.NewInvalidRequestError("client_assertion_type must be jwt-bearer", nil)
	}

	return payload, nil
}

// ValidateAgainstSession binds the request to the stored session: the code
// must match the session's active code and the redirect URI must match the
// one the session was created with.
func (*TokenRequestValidator) ValidateAgainstSession(
	authCode string,
	item *session.Item,
	expectedRedirectURI string,
) error {
	if authCode != item.AuthorizationCode {
		return apperrors.NewInvalidAccessTokenError("authorization code does not match", nil)
	}
	if expectedRedirectURI != item.RedirectURI {
		return apperrors.NewInvalidRequestError("redirect_uri does not match", nil)
	}
	return nil
}

// VerifyClientAssertion verifies the client assertion JWT against the
// client's key material: the audience must be this service, and both subject
// and issuer must be the client itself.
func (v *TokenRequestValidator) VerifyClientAssertion(
	ctx context.Context,
	assertion []byte,
	clientID string,
	client *config.Client,
) (jwt.MapClaims, error) {
	verifier := jwtverify.NewVerifier(client, v.cache)
	claims, err := verifier.Verify(ctx, assertion,
		[]string{"exp", "sub", "iss", "aud", "jti"},
		jwtverify.ExpectedClaims{
			Audience: client.Audience,
			Subject:  clientID,
			Issuer:   clientID,
		})
	if err != nil {
		return nil, apperrors.NewInvalidRequestError("client assertion verification failed", err)
	}
	if claims == nil {
		return nil, apperrors.NewInvalidRequestError("client assertion verification returned no payload", nil)
	}
	return claims, nil
}
