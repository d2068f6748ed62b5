package credential

import (
	"context"
	"time"

	"chatbroker/internal/models"
)

// Repository is the persistence contract the credential store depends on.
type Repository interface {
	Insert(ctx context.Context, c models.Credential) error
	Get(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) (*models.Credential, error)
	Update(ctx context.Context, c models.Credential) error
	Delete(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) error
	List(ctx context.Context) ([]models.Credential, error)
	ListForPlatform(ctx context.Context, platform models.Platform) ([]models.Credential, error)
	ListExpiringWithin(ctx context.Context, window time.Duration, now time.Time) ([]models.Credential, error)
}
