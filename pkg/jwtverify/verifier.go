// SPDX-License-Identifier: Apache-2.0

// Package jwtverify verifies compact JWT signatures and claims against
// per-client key material, sourced either from a statically configured
// public JWK or from the client's published JWKS endpoint.
package jwtverify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	jwxjwk "github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/credentis/credentis/pkg/config"
	"github.com/credentis/credentis/pkg/jwks"
	"github.com/credentis/credentis/pkg/logger"
)

// Common errors
var (
	ErrNoMandatoryClaims = errors.New("no mandatory claims configured")
	ErrMissingKeyConfig  = errors.New("client has neither a public signing key nor a JWKS endpoint")
)

// VerificationError is the uniform failure returned to callers. The
// underlying cause stays in the chain so errors.Is can still distinguish,
// for example, jwt.ErrTokenExpired, but the outward message never leaks
// internal detail.
type VerificationError struct {
	cause error
}

// Error implements the error interface.
func (*VerificationError) Error() string {
	return "JWT verification failed"
}

// Unwrap returns the underlying cause.
func (e *VerificationError) Unwrap() error {
	return e.cause
}

func failf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	logger.Warnw("JWT verification failed", "cause", err)
	return &VerificationError{cause: err}
}

// ExpectedClaims are the claim values the token must carry. Empty fields are
// not checked.
type ExpectedClaims struct {
	Audience string
	Issuer   string
	Subject  string
}

// Verifier verifies JWTs for a single client.
type Verifier struct {
	client *config.Client
	cache  *jwks.Cache
}

// NewVerifier creates a verifier for the given client configuration. The
// jwks.Cache is shared between verifiers; all instances configured with the
// same endpoint reuse its entries.
func NewVerifier(client *config.Client, cache *jwks.Cache) *Verifier {
	return &Verifier{client: client, cache: cache}
}

// Verify checks the token's signature and structural validity, that every
// expected claim matches, and that every mandatory claim is present. It
// returns the verified claim set on success. An empty mandatoryClaims set is
// itself an error: a verifier must always be told what it is checking for.
func (v *Verifier) Verify(
	ctx context.Context,
	encodedJWT []byte,
	mandatoryClaims []string,
	expected ExpectedClaims,
) (jwt.MapClaims, error) {
	if len(mandatoryClaims) == 0 {
		return nil, failf("%w", ErrNoMandatoryClaims)
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.client.SigningAlgorithm != "" {
		opts = append(opts, jwt.WithValidMethods([]string{v.client.SigningAlgorithm}))
	}
	if expected.Audience != "" {
		opts = append(opts, jwt.WithAudience(expected.Audience))
	}
	if expected.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(expected.Issuer))
	}
	if expected.Subject != "" {
		opts = append(opts, jwt.WithSubject(expected.Subject))
	}

	token, err := jwt.Parse(string(encodedJWT), func(token *jwt.Token) (any, error) {
		return v.resolveKey(ctx, token)
	}, opts...)
	if err != nil {
		return nil, failf("failed to parse token for client %s: %w", v.client.ClientID, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, failf("unexpected claims type %T", token.Claims)
	}

	for _, name := range mandatoryClaims {
		if _, present := claims[name]; !present {
			return nil, failf("mandatory claim %q absent from payload", name)
		}
	}

	return claims, nil
}

// resolveKey returns the public key for signature verification, from the
// static JWK if one is configured and otherwise from the JWKS endpoint.
func (v *Verifier) resolveKey(ctx context.Context, token *jwt.Token) (any, error) {
	switch {
	case v.client.PublicSigningKey != "":
		return v.staticKey()
	case v.client.JWKSEndpoint != "":
		return v.endpointKey(ctx, token)
	default:
		return nil, ErrMissingKeyConfig
	}
}

func (v *Verifier) staticKey() (any, error) {
	decoded, err := base64.StdEncoding.DecodeString(v.client.PublicSigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public signing key: %w", err)
	}

	key, err := jwxjwk.ParseKey(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public signing JWK: %w", err)
	}

	var rawKey any
	if err := jwxjwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}

func (v *Verifier) endpointKey(ctx context.Context, token *jwt.Token) (any, error) {
	keySet, err := v.cache.Get(ctx, v.client.JWKSEndpoint)
	if err != nil {
		return nil, err
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey any
	if err := jwxjwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}
