// Package credential implements CRUD over sealed-at-rest platform
// credentials plus an expiry scan consumed by the platform runtime
// manager's proactive refresh. Grounded on pkg/auth/api_tokens.go
// (CRUD + expiry-aware listing over a sealed secret column), combined
// with internal/cryptoseal for the sealing itself.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatbroker/internal/apperr"
	"chatbroker/internal/cryptoseal"
	"chatbroker/internal/models"
)

// Failure modes each wrap the matching apperr
// kind so callers can errors.Is against either this package's sentinel or
// the shared taxonomy.
var (
	ErrNotFound      = fmt.Errorf("credential: not found: %w", apperr.ErrNotFound)
	ErrAlreadyExists = fmt.Errorf("credential: already exists: %w", apperr.ErrStorage)
	ErrSealed        = fmt.Errorf("credential: seal failed: %w", apperr.ErrSealed)
	ErrUnsealed      = fmt.Errorf("credential: unseal failed: %w", apperr.ErrUnsealed)
)

// PlainCredential is a Credential with its secret fields decrypted, handed
// to callers that need to actually use the token (e.g. the platform
// runtime manager connecting to a platform).
type PlainCredential struct {
	models.Credential
	Primary string
	Refresh *string
}

// Store seals secrets before they reach Repository and opens them on read.
type Store struct {
	repo   Repository
	sealer *cryptoseal.Sealer
}

// New constructs a Store.
func New(repo Repository, sealer *cryptoseal.Sealer) *Store {
	return &Store{repo: repo, sealer: sealer}
}

// Store seals primary/refresh secrets and persists the credential.
func (s *Store) Store(ctx context.Context, c models.Credential, primary string, refresh *string) error {
	sealedPrimary, err := s.sealer.Seal(primary)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSealed, err)
	}
	c.SealedPrimary = sealedPrimary

	if refresh != nil {
		sealedRefresh, err := s.sealer.Seal(*refresh)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSealed, err)
		}
		c.SealedRefresh = &sealedRefresh
	}

	if err := s.repo.Insert(ctx, c); err != nil {
		return fmt.Errorf("credential: insert: %w", err)
	}
	return nil
}

// Get fetches and unseals a credential for (platform, user, type).
func (s *Store) Get(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) (*PlainCredential, error) {
	c, err := s.repo.Get(ctx, platform, userID, credType)
	if err != nil {
		return nil, fmt.Errorf("credential: get: %w", err)
	}
	return s.open(c)
}

func (s *Store) open(c *models.Credential) (*PlainCredential, error) {
	primary, err := s.sealer.Open(c.SealedPrimary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsealed, err)
	}
	pc := &PlainCredential{Credential: *c, Primary: primary}
	if c.SealedRefresh != nil {
		refresh, err := s.sealer.Open(*c.SealedRefresh)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsealed, err)
		}
		pc.Refresh = &refresh
	}
	return pc, nil
}

// Update re-seals and persists new secret values for an existing
// credential. Secrets left nil are not modified.
func (s *Store) Update(ctx context.Context, c models.Credential, primary *string, refresh *string) error {
	if primary != nil {
		sealed, err := s.sealer.Seal(*primary)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSealed, err)
		}
		c.SealedPrimary = sealed
	}
	if refresh != nil {
		sealed, err := s.sealer.Seal(*refresh)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSealed, err)
		}
		c.SealedRefresh = &sealed
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("credential: update: %w", err)
	}
	return nil
}

// Delete removes a credential.
func (s *Store) Delete(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) error {
	if err := s.repo.Delete(ctx, platform, userID, credType); err != nil {
		return fmt.Errorf("credential: delete: %w", err)
	}
	return nil
}

// List returns every credential (sealed fields are not opened; callers
// that enumerate credentials typically only need metadata).
func (s *Store) List(ctx context.Context) ([]models.Credential, error) {
	return s.repo.List(ctx)
}

// ListForPlatform returns every credential for one platform.
func (s *Store) ListForPlatform(ctx context.Context, platform models.Platform) ([]models.Credential, error) {
	return s.repo.ListForPlatform(ctx, platform)
}

// GetExpiringWithin returns exactly the credentials whose expires_at
// lies in [now, now+window].
func (s *Store) GetExpiringWithin(ctx context.Context, window time.Duration) ([]models.Credential, error) {
	return s.repo.ListExpiringWithin(ctx, window, time.Now())
}

// IsNotFound reports whether err denotes a missing credential.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, apperr.ErrNotFound)
}
