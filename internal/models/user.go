package models

import "time"

// User is the canonical identity a set of per-platform identities resolve
// to.
type User struct {
	ID         string    `json:"id"`
	GlobalName *string   `json:"global_username,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
	IsActive   bool      `json:"is_active"`
}

// PlatformIdentity links one platform-side account to a canonical User.
// Invariant: (Platform, PlatformUserID) is unique.
type PlatformIdentity struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Platform         Platform       `json:"platform"`
	PlatformUserID   string         `json:"platform_user_id"`
	PlatformUsername string         `json:"platform_username"`
	DisplayName      *string        `json:"display_name,omitempty"`
	Roles            []string       `json:"roles"`
	Data             map[string]any `json:"data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// UserAnalysis holds rolling per-user counters maintained by the DB logger
// tail. Restored from original_source (dropped by the distilled spec);
// pre-created by the identity resolver on first sight of a user.
type UserAnalysis struct {
	UserID        string    `json:"user_id"`
	MessageCount  int64     `json:"message_count"`
	SpamScore     float64   `json:"spam_score"`
	ToxicityScore float64   `json:"toxicity_score"`
	LastMessageAt time.Time `json:"last_message_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
