package identity

import (
	"context"

	"chatbroker/internal/models"
)

// Repository is the persistence contract the resolver depends on. The SQL
// text itself lives in internal/repository/postgres and is declared here
// as an interface so the resolver never imports that package directly.
type Repository interface {
	FindIdentityByPlatformID(ctx context.Context, platform models.Platform, lowerID string) (*models.PlatformIdentity, error)
	FindIdentityByUsername(ctx context.Context, platform models.Platform, lowerUsername string) (*models.PlatformIdentity, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// CreateUserAndIdentity atomically creates a new User, a PlatformIdentity
	// for it, and a zeroed UserAnalysis row.
	CreateUserAndIdentity(ctx context.Context, platform models.Platform, lowerID, lowerUsername string) (*models.User, *models.PlatformIdentity, error)
	// RebindIdentity performs the late-binding promotion: an identity
	// previously keyed by display name is updated to carry the now-known
	// numeric platform id.
	RebindIdentity(ctx context.Context, identityID, newPlatformUserID string) error
	// MergeUsers reassigns all platform identities and chat messages from
	// fromUserID to toUserID, optionally renaming toUserID, then deletes
	// fromUserID.
	MergeUsers(ctx context.Context, fromUserID, toUserID string, rename *string) error
}

// Repository implementations return identity.ErrNotFound (wrapping
// apperr.ErrNotFound) when a lookup finds nothing.
