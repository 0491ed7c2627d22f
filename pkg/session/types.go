// SPDX-License-Identifier: Apache-2.0

// Package session provides the session record, its issuance state machine,
// and the storage backends it persists to.
//
// A session moves Created -> CodeIssued -> TokenIssued. Expiry is not a
// stored state: it is a predicate over the record's expiry fields evaluated
// against the current time at read time.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// CodeIndexName is the secondary index over authorizationCode. The attribute
// is sparse: it is only present while a code is active.
const CodeIndexName = "authorizationCode-index"

// artifactBytes is the entropy of generated codes and tokens.
const artifactBytes = 32

// Item is the session record, keyed by SessionID. All expiry fields are
// epoch seconds.
type Item struct {
	SessionID           string `dynamodbav:"sessionId" json:"sessionId"`
	ClientID            string `dynamodbav:"clientId" json:"clientId"`
	ClientSessionID     string `dynamodbav:"clientSessionId" json:"clientSessionId"`
	Subject             string `dynamodbav:"subject" json:"subject"`
	PersistentSessionID string `dynamodbav:"persistentSessionId" json:"persistentSessionId"`
	ClientIPAddress     string `dynamodbav:"clientIpAddress" json:"clientIpAddress"`
	RedirectURI         string `dynamodbav:"redirectUri" json:"redirectUri"`
	State               string `dynamodbav:"state" json:"state"`
	CreatedDate         int64  `dynamodbav:"createdDate" json:"createdDate"`
	ExpiryDate          int64  `dynamodbav:"expiryDate" json:"expiryDate"`

	// AuthorizationCode is present only between issuance and consumption.
	// It is cleared in the same write that sets AccessToken.
	AuthorizationCode           string `dynamodbav:"authorizationCode,omitempty" json:"authorizationCode,omitempty"`
	AuthorizationCodeExpiryDate int64  `dynamodbav:"authorizationCodeExpiryDate,omitempty" json:"authorizationCodeExpiryDate,omitempty"`

	AccessToken           string `dynamodbav:"accessToken,omitempty" json:"accessToken,omitempty"`
	AccessTokenExpiryDate int64  `dynamodbav:"accessTokenExpiryDate,omitempty" json:"accessTokenExpiryDate,omitempty"`

	AttemptCount int `dynamodbav:"attemptCount" json:"attemptCount"`
}

// Expired reports whether the session itself is past its TTL. The boundary
// instant is still valid: only a strictly earlier expiry is expired.
func (i *Item) Expired(now time.Time) bool {
	return i.ExpiryDate < now.Unix()
}

// CodeExpired reports whether the authorization code is past its TTL.
func (i *Item) CodeExpired(now time.Time) bool {
	return i.AuthorizationCodeExpiryDate < now.Unix()
}

// Summary carries the request-derived fields for a new session.
type Summary struct {
	ClientID            string
	RedirectURI         string
	Subject             string
	ClientSessionID     string
	PersistentSessionID string
	ClientIPAddress     string
	State               string
}

// BearerAccessToken is the token endpoint's success payload. ExpiresIn is
// informational; the authoritative expiry lives on the session record.
type BearerAccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewBearerAccessToken generates a fresh bearer token with the given
// lifetime.
func NewBearerAccessToken(expiresIn time.Duration) (*BearerAccessToken, error) {
	value, err := randomArtifact()
	if err != nil {
		return nil, err
	}
	return &BearerAccessToken{
		AccessToken: value,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresIn.Seconds()),
	}, nil
}

// randomArtifact returns a base64url-encoded, crypto-random opaque value.
func randomArtifact() (string, error) {
	buf := make([]byte, artifactBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random artifact: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TTLs configures how far in the future each artifact expires.
type TTLs struct {
	Session           time.Duration
	AuthorizationCode time.Duration
	AccessToken       time.Duration
}

// Store is the session state machine over a durable record.
//
// CreateAuthorizationCode callers must check that the session has no active
// code first; a session holds at most one code until it is explicitly
// consumed by CreateAccessToken.
type Store interface {
	// SaveSession creates a Created record with a fresh random id and
	// returns the id. One durable write.
	SaveSession(ctx context.Context, summary Summary) (string, error)

	// GetSession returns the record for the id, or SessionNotFoundError.
	GetSession(ctx context.Context, sessionID string) (*Item, error)

	// CreateAuthorizationCode issues a fresh code on the session via a
	// conditional update and returns the code.
	CreateAuthorizationCode(ctx context.Context, item *Item) (string, error)

	// GetSessionByAuthorizationCode looks the session up through the code
	// index. Zero or multiple matches fail with InvalidAccessTokenError; an
	// expired session with SessionExpiredError; an expired code with
	// AuthorizationCodeExpiredError, checked in that order.
	GetSessionByAuthorizationCode(ctx context.Context, code string) (*Item, error)

	// CreateAccessToken sets the access token and clears the authorization
	// code in a single conditional update.
	CreateAccessToken(ctx context.Context, item *Item, token *BearerAccessToken) error
}
