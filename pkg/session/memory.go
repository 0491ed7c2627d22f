// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/credentis/credentis/pkg/errors"
)

// MemoryStore implements Store with a mutex-guarded map. It mirrors the
// DynamoDB backend's semantics, including the sparse code index, and is
// suitable for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Item

	ttls TTLs
	now  func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source, for tests that probe expiry boundaries.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(ttls TTLs, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]*Item),
		ttls:  ttls,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveSession implements Store.
func (s *MemoryStore) SaveSession(_ context.Context, summary Summary) (string, error) {
	now := s.now()
	item := &Item{
		SessionID:           uuid.NewString(),
		ClientID:            summary.ClientID,
		ClientSessionID:     summary.ClientSessionID,
		Subject:             summary.Subject,
		PersistentSessionID: summary.PersistentSessionID,
		ClientIPAddress:     summary.ClientIPAddress,
		RedirectURI:         summary.RedirectURI,
		State:               summary.State,
		CreatedDate:         now.Unix(),
		ExpiryDate:          now.Add(s.ttls.Session).Unix(),
	}

	s.mu.Lock()
	s.items[item.SessionID] = item
	s.mu.Unlock()

	return item.SessionID, nil
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[sessionID]
	if !ok {
		return nil, apperrors.NewSessionNotFoundError("session not found", nil)
	}

	copied := *item
	return &copied, nil
}

// CreateAuthorizationCode implements Store.
func (s *MemoryStore) CreateAuthorizationCode(_ context.Context, item *Item) (string, error) {
	code, err := randomArtifact()
	if err != nil {
		return "", apperrors.NewServerError("failed to generate authorization code", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[item.SessionID]
	if !ok {
		return "", apperrors.NewSessionNotFoundError("session not found", nil)
	}

	stored.AuthorizationCode = code
	stored.AuthorizationCodeExpiryDate = s.now().Add(s.ttls.AuthorizationCode).Unix()

	item.AuthorizationCode = stored.AuthorizationCode
	item.AuthorizationCodeExpiryDate = stored.AuthorizationCodeExpiryDate

	return code, nil
}

// GetSessionByAuthorizationCode implements Store.
func (s *MemoryStore) GetSessionByAuthorizationCode(_ context.Context, code string) (*Item, error) {
	s.mu.RLock()
	var matches []Item
	for _, item := range s.items {
		if item.AuthorizationCode != "" && item.AuthorizationCode == code {
			matches = append(matches, *item)
		}
	}
	s.mu.RUnlock()

	return resolveCodeMatches(matches, s.now())
}

// CreateAccessToken implements Store.
func (s *MemoryStore) CreateAccessToken(_ context.Context, item *Item, token *BearerAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[item.SessionID]
	if !ok {
		return apperrors.NewSessionNotFoundError("session not found", nil)
	}
	if stored.AuthorizationCode != item.AuthorizationCode {
		return apperrors.NewInvalidAccessTokenError("authorization code no longer current", nil)
	}

	// Single logical write: token set and code cleared together.
	stored.AccessToken = token.AccessToken
	stored.AccessTokenExpiryDate = s.now().Add(s.ttls.AccessToken).Unix()
	stored.AuthorizationCode = ""
	stored.AuthorizationCodeExpiryDate = 0

	*item = *stored
	return nil
}

// Put inserts or replaces a record directly, bypassing the state machine.
// Exposed for tests that need to stage specific states.
func (s *MemoryStore) Put(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.SessionID] = &copied
}

// resolveCodeMatches applies the shared code-lookup checks: existence and
// uniqueness first, then session expiry, then code expiry. Ambiguity is
// always treated as invalid, never "pick one".
func resolveCodeMatches(matches []Item, now time.Time) (*Item, error) {
	if len(matches) != 1 {
		return nil, apperrors.NewInvalidAccessTokenError("authorization code not found or ambiguous", nil)
	}

	item := matches[0]
	if item.Expired(now) {
		return nil, apperrors.NewSessionExpiredError("session expired", nil)
	}
	if item.CodeExpired(now) {
		return nil, apperrors.NewAuthorizationCodeExpiredError("authorization code expired", nil)
	}

	return &item, nil
}
