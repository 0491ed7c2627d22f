// SPDX-License-Identifier: Apache-2.0

// Package config holds the service-wide and per-client configuration consumed
// by the credential-issuance core. How the values are sourced (SSM, env,
// config file) is a collaborator concern; this package only defines the
// contract and a viper-backed implementation for local use.
package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Default TTLs applied when the corresponding setting is absent.
const (
	DefaultSessionTTL           = 24 * time.Hour
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL       = time.Hour
)

// Service is the global configuration for the issuance core.
type Service struct {
	// SessionTableName is the key-value table holding session records.
	SessionTableName string `mapstructure:"session_table_name"`

	// SessionTTL is how long a session stays valid after creation.
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// AuthorizationCodeTTL is how long an issued authorization code stays valid.
	AuthorizationCodeTTL time.Duration `mapstructure:"authorization_code_ttl"`

	// AccessTokenTTL is how long an issued access token stays valid.
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`

	// DecryptionKeyAlias is the KMS alias resolved to the direct decryption
	// key id.
	DecryptionKeyAlias string `mapstructure:"decryption_key_alias"`

	// KeyRotationAliases is the ordered alias chain tried newest-first when
	// key rotation is enabled: active, inactive, previous.
	KeyRotationAliases []string `mapstructure:"key_rotation_aliases"`

	// UseKeyRotation selects the alias-rotation decryption strategy over the
	// direct key-id strategy.
	UseKeyRotation bool `mapstructure:"use_key_rotation"`

	// LegacyKeyFallback retries the direct key-id strategy once after the
	// alias chain is exhausted.
	LegacyKeyFallback bool `mapstructure:"legacy_key_fallback"`

	// AuditQueueURL is the queue audit events are published to. Empty
	// disables publishing.
	AuditQueueURL string `mapstructure:"audit_queue_url"`
}

func (s *Service) applyDefaults() {
	if s.SessionTTL == 0 {
		s.SessionTTL = DefaultSessionTTL
	}
	if s.AuthorizationCodeTTL == 0 {
		s.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if s.AccessTokenTTL == 0 {
		s.AccessTokenTTL = DefaultAccessTokenTTL
	}
}

// Validate checks that required settings are present.
func (s *Service) Validate() error {
	if s.SessionTableName == "" {
		return fmt.Errorf("session_table_name is required")
	}
	if s.DecryptionKeyAlias == "" && len(s.KeyRotationAliases) == 0 {
		return fmt.Errorf("either decryption_key_alias or key_rotation_aliases is required")
	}
	return nil
}

// LoadService reads the global configuration from viper.
func LoadService() (*Service, error) {
	var svc Service
	if err := viper.UnmarshalKey("service", &svc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service config: %w", err)
	}
	svc.applyDefaults()
	if err := svc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}
	return &svc, nil
}

// EvidencePolicy constrains the optional evidence_requested claim on a
// session request.
type EvidencePolicy struct {
	// ScoringPolicy is the only scoring policy accepted.
	ScoringPolicy string `mapstructure:"scoring_policy"`

	// AllowedStrengthScores are the strength scores a client may request.
	AllowedStrengthScores []int `mapstructure:"allowed_strength_scores"`

	// AllowedVerificationScores are the verification scores a client may request.
	AllowedVerificationScores []int `mapstructure:"allowed_verification_scores"`
}

// Client is the per-client configuration, immutable after load.
//
// Exactly one of PublicSigningKey and JWKSEndpoint should be set; they select
// mutually exclusive JWT verification strategies.
type Client struct {
	// ClientID identifies the relying party.
	ClientID string `mapstructure:"client_id"`

	// Audience is the expected aud claim on tokens signed for this service.
	Audience string `mapstructure:"audience"`

	// Issuer is the expected iss claim on session-request JWTs.
	Issuer string `mapstructure:"issuer"`

	// RedirectURI is the registered redirect URI the session request must match.
	RedirectURI string `mapstructure:"redirect_uri"`

	// SigningAlgorithm is the JWT signature algorithm, e.g. ES256.
	SigningAlgorithm string `mapstructure:"signing_algorithm"`

	// PublicSigningKey is the client's public key as a base64-encoded JWK.
	PublicSigningKey string `mapstructure:"public_signing_key"`

	// JWKSEndpoint is the URL of the client's published key set.
	JWKSEndpoint string `mapstructure:"jwks_endpoint"`

	// Evidence is the optional evidence-request policy for this client.
	Evidence *EvidencePolicy `mapstructure:"evidence"`
}

// Registry resolves per-client configuration. Implementations must return
// config that is safe to retain and read concurrently.
type Registry interface {
	// ClientConfig returns the configuration for the given client id, or an
	// error if the client is unknown.
	ClientConfig(ctx context.Context, clientID string) (*Client, error)
}

// ViperRegistry loads client config from viper under "clients.<id>" and
// memoizes each client for the warm lifetime of the process.
type ViperRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewViperRegistry creates an empty registry backed by the global viper.
func NewViperRegistry() *ViperRegistry {
	return &ViperRegistry{clients: make(map[string]*Client)}
}

// ClientConfig implements Registry.
func (r *ViperRegistry) ClientConfig(_ context.Context, clientID string) (*Client, error) {
	r.mu.RLock()
	cached, ok := r.clients[clientID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	key := "clients." + clientID
	if !viper.IsSet(key) {
		return nil, fmt.Errorf("no configuration for client %q", clientID)
	}

	var client Client
	if err := viper.UnmarshalKey(key, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config for client %q: %w", clientID, err)
	}
	client.ClientID = clientID

	r.mu.Lock()
	r.clients[clientID] = &client
	r.mu.Unlock()

	return &client, nil
}

// StaticRegistry is a fixed in-memory Registry, used by tests and by callers
// that source client config out of band.
type StaticRegistry map[string]*Client

// ClientConfig implements Registry.
func (r StaticRegistry) ClientConfig(_ context.Context, clientID string) (*Client, error) {
	client, ok := r[clientID]
	if !ok {
		return nil, fmt.Errorf("no configuration for client %q", clientID)
	}
	return client, nil
}
