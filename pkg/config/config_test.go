package config

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceDefaults(t *testing.T) {
	t.Parallel()

	svc := Service{SessionTableName: "sessions", DecryptionKeyAlias: "alias/decryption"}
	svc.applyDefaults()

	assert.Equal(t, DefaultSessionTTL, svc.SessionTTL)
	assert.Equal(t, DefaultAuthorizationCodeTTL, svc.AuthorizationCodeTTL)
	assert.Equal(t, DefaultAccessTokenTTL, svc.AccessTokenTTL)
}

func TestServiceValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		svc     Service
		wantErr string
	}{
		{
			name: "direct key alias is enough",
			svc:  Service{SessionTableName: "sessions", DecryptionKeyAlias: "alias/decryption"},
		},
		{
			name: "rotation aliases are enough",
			svc:  Service{SessionTableName: "sessions", KeyRotationAliases: []string{"alias/active"}},
		},
		{
			name:    "missing table",
			svc:     Service{DecryptionKeyAlias: "alias/decryption"},
			wantErr: "session_table_name is required",
		},
		{
			name:    "no key material",
			svc:     Service{SessionTableName: "sessions"},
			wantErr: "either decryption_key_alias or key_rotation_aliases is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.svc.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestViperRegistry(t *testing.T) {
	// Mutates global viper state; not parallel.
	viper.Set("clients.relying-party", map[string]any{
		"audience":          "https://issuer.example",
		"issuer":            "relying-party",
		"redirect_uri":      "https://relying.example/callback",
		"signing_algorithm": "ES256",
		"jwks_endpoint":     "https://relying.example/.well-known/jwks.json",
	})
	t.Cleanup(func() { viper.Set("clients.relying-party", nil) })

	registry := NewViperRegistry()
	ctx := context.Background()

	client, err := registry.ClientConfig(ctx, "relying-party")
	require.NoError(t, err)
	assert.Equal(t, "relying-party", client.ClientID)
	assert.Equal(t, "https://issuer.example", client.Audience)
	assert.Equal(t, "ES256", client.SigningAlgorithm)

	// The memoized copy is returned on subsequent lookups.
	again, err := registry.ClientConfig(ctx, "relying-party")
	require.NoError(t, err)
	assert.Same(t, client, again)

	_, err = registry.ClientConfig(ctx, "unregistered")
	assert.ErrorContains(t, err, `no configuration for client "unregistered"`)
}

func TestStaticRegistry(t *testing.T) {
	t.Parallel()

	registry := StaticRegistry{"relying-party": &Client{ClientID: "relying-party"}}

	client, err := registry.ClientConfig(context.Background(), "relying-party")
	require.NoError(t, err)
	assert.Equal(t, "relying-party", client.ClientID)

	_, err = registry.ClientConfig(context.Background(), "unregistered")
	assert.Error(t, err)
}
