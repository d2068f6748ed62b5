package models

import "time"

// CredentialType discriminates the shape of a Credential's secret material.
type CredentialType string

const (
	CredentialOAuth2      CredentialType = "oauth2"
	CredentialBearerToken CredentialType = "bearer_token"
	CredentialAPIKey      CredentialType = "api_key"
	CredentialComposite   CredentialType = "composite"
)

// Credential is a sealed token (or token pair) authenticating a runtime.
// Invariant: (Platform, UserID, Type) uniquely identifies a credential.
type Credential struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Platform      Platform       `json:"platform"`
	Type          CredentialType `json:"credential_type"`
	SealedPrimary string         `json:"-"`
	SealedRefresh *string        `json:"-"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	IsBot         bool           `json:"is_bot"`
	IsBroadcaster bool           `json:"is_broadcaster"`
	IsTeammate    bool           `json:"is_teammate"`
	IsActive      bool           `json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PlatformConfig holds operator-level settings for a platform that are not
// per-account, e.g. a default channel or OAuth client id. Restored from
// original_source; consulted by the platform runtime manager when no
// account-level override exists on the Credential row.
type PlatformConfig struct {
	Platform        Platform `json:"platform"`
	DefaultChannel  string   `json:"default_channel,omitempty"`
	OAuthClientID   string   `json:"oauth_client_id,omitempty"`
	GlobalRateLimit int      `json:"global_rate_limit,omitempty"`
}
