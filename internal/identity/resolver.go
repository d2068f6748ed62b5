// Package identity resolves (platform, platform_user_id, optional
// platform_username) to a canonical User,
// creating it on first sight, promoting display-name identities to
// numeric-id identities once the numeric id becomes known, and merging
// duplicate users. Grounded on pkg/cache/cache.go's TTL-entry +
// singleflight collapsing shape.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"chatbroker/internal/apperr"
	"chatbroker/internal/logging"
	"chatbroker/internal/models"
)

// ErrNotFound is returned by repository lookups that find nothing.
var ErrNotFound = fmt.Errorf("identity: not found: %w", apperr.ErrNotFound)

// Resolver is the user/identity resolution service.
type Resolver struct {
	repo   Repository
	cache  *ttlCache
	group  singleflight.Group
	logger logging.Logger
}

// New constructs a Resolver over repo.
func New(repo Repository, logger logging.Logger) *Resolver {
	return &Resolver{repo: repo, cache: newTTLCache(), logger: logger}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetOrCreateUser resolves or creates the canonical user for a platform
// identity. Concurrent calls with identical (platform, id, name) are
// collapsed via singleflight so at most one repository create happens,
// keeping the resolver idempotent under races.
func (r *Resolver) GetOrCreateUser(ctx context.Context, platform models.Platform, platformUserID string, platformUsername *string) (models.User, error) {
	lowerID := normalize(platformUserID)
	name := ""
	if platformUsername != nil {
		name = *platformUsername
	}
	lowerName := normalize(name)
	if lowerName == "" {
		lowerName = lowerID
	}

	key := cacheKey{platform: platform, lowerID: lowerID}
	if user, ok := r.cache.get(key); ok {
		return user, nil
	}

	sfKey := fmt.Sprintf("%s:%s:%s", platform, lowerID, lowerName)
	v, err, _ := r.group.Do(sfKey, func() (any, error) {
		return r.resolveLocked(ctx, platform, lowerID, lowerName)
	})
	if err != nil {
		return models.User{}, err
	}
	user := v.(models.User)
	r.cache.put(key, user)
	return user, nil
}

// resolveLocked runs steps 3-5 of the algorithm. It is always called
// inside the singleflight group so concurrent identical requests see it
// execute exactly once.
func (r *Resolver) resolveLocked(ctx context.Context, platform models.Platform, lowerID, lowerName string) (models.User, error) {
	// Step 3: lookup by numeric id.
	if identity, err := r.repo.FindIdentityByPlatformID(ctx, platform, lowerID); err == nil {
		user, err := r.repo.GetUser(ctx, identity.UserID)
		if err != nil {
			return models.User{}, fmt.Errorf("identity: load user for existing identity: %w", err)
		}
		return *user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("identity: lookup by id: %w", err)
	}

	// Step 4: lookup by display name; promote if the numeric id differs.
	if identity, err := r.repo.FindIdentityByUsername(ctx, platform, lowerName); err == nil {
		if identity.PlatformUserID != lowerID {
			if err := r.repo.RebindIdentity(ctx, identity.ID, lowerID); err != nil {
				return models.User{}, fmt.Errorf("identity: late-binding promotion: %w", err)
			}
			if r.logger != nil {
				r.logger.WithFields(logging.Fields{
					"platform": platform,
					"from":     identity.PlatformUserID,
					"to":       lowerID,
				}).Info("identity: promoted display-name identity to numeric id")
			}
		}
		user, err := r.repo.GetUser(ctx, identity.UserID)
		if err != nil {
			return models.User{}, fmt.Errorf("identity: load user for promoted identity: %w", err)
		}
		return *user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("identity: lookup by username: %w", err)
	}

	// Step 5: miss — create atomically.
	user, _, err := r.repo.CreateUserAndIdentity(ctx, platform, lowerID, lowerName)
	if err != nil {
		return models.User{}, fmt.Errorf("identity: create user and identity: %w: %w", apperr.ErrStorage, err)
	}
	return *user, nil
}

// GetIdentity returns the raw platform identity (carrying roles and the
// platform-specific data blob) for (platform, lower_id), bypassing the
// user cache. Used by filters that need role/level information the
// canonical User doesn't carry.
func (r *Resolver) GetIdentity(ctx context.Context, platform models.Platform, platformUserID string) (*models.PlatformIdentity, error) {
	return r.repo.FindIdentityByPlatformID(ctx, platform, normalize(platformUserID))
}

// Merge reassigns all platform identities and chat messages from
// fromUserID to toUserID, optionally renames toUserID, then deletes
// fromUserID. flushPendingLogs is called before reassignment so a
// currently-buffered DB logger tail batch cannot reference the soon-to-be
// deleted user id.
func (r *Resolver) Merge(ctx context.Context, fromUserID, toUserID string, rename *string, flushPendingLogs func(context.Context) error) error {
	if flushPendingLogs != nil {
		if err := flushPendingLogs(ctx); err != nil {
			return fmt.Errorf("identity: flush pending logs before merge: %w", err)
		}
	}
	if err := r.repo.MergeUsers(ctx, fromUserID, toUserID, rename); err != nil {
		return fmt.Errorf("identity: merge users: %w", err)
	}
	r.invalidateUser(fromUserID)
	return nil
}

// invalidateUser drops every cache entry referencing userID. Called after
// a merge deletes that user.
func (r *Resolver) invalidateUser(userID string) {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	for key, entry := range r.cache.entries {
		if entry.user.ID == userID {
			delete(r.cache.entries, key)
		}
	}
}
