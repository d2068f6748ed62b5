package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/models"
)

// Insert implements credential.Repository.
func (s *Store) Insert(ctx context.Context, c models.Credential) error {
	const q = `
		INSERT INTO credentials
			(user_id, platform, credential_type, sealed_primary, sealed_refresh,
			 expires_at, is_bot, is_broadcaster, is_teammate, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`
	_, err := s.db.ExecContext(ctx, q, c.UserID, c.Platform, c.Type, c.SealedPrimary, c.SealedRefresh,
		c.ExpiresAt, c.IsBot, c.IsBroadcaster, c.IsTeammate, c.IsActive)
	if err != nil {
		return fmt.Errorf("postgres: insert credential: %w", err)
	}
	return nil
}

// Get implements credential.Repository.
func (s *Store) Get(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) (*models.Credential, error) {
	const q = `
		SELECT id, user_id, platform, credential_type, sealed_primary, sealed_refresh,
		       expires_at, is_bot, is_broadcaster, is_teammate, is_active, created_at, updated_at
		FROM credentials
		WHERE platform = $1 AND user_id = $2 AND credential_type = $3`
	var c models.Credential
	err := s.db.QueryRowContext(ctx, q, platform, userID, credType).Scan(
		&c.ID, &c.UserID, &c.Platform, &c.Type, &c.SealedPrimary, &c.SealedRefresh,
		&c.ExpiresAt, &c.IsBot, &c.IsBroadcaster, &c.IsTeammate, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: credential lookup: %w", credential.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan credential: %w", err)
	}
	return &c, nil
}

// Update implements credential.Repository.
func (s *Store) Update(ctx context.Context, c models.Credential) error {
	const q = `
		UPDATE credentials
		SET sealed_primary = $1, sealed_refresh = $2, expires_at = $3,
		    is_bot = $4, is_broadcaster = $5, is_teammate = $6, is_active = $7, updated_at = now()
		WHERE platform = $8 AND user_id = $9 AND credential_type = $10`
	res, err := s.db.ExecContext(ctx, q, c.SealedPrimary, c.SealedRefresh, c.ExpiresAt,
		c.IsBot, c.IsBroadcaster, c.IsTeammate, c.IsActive, c.Platform, c.UserID, c.Type)
	if err != nil {
		return fmt.Errorf("postgres: update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("postgres: update credential: %w", credential.ErrNotFound)
	}
	return nil
}

// Delete implements credential.Repository.
func (s *Store) Delete(ctx context.Context, platform models.Platform, userID string, credType models.CredentialType) error {
	const q = `DELETE FROM credentials WHERE platform = $1 AND user_id = $2 AND credential_type = $3`
	res, err := s.db.ExecContext(ctx, q, platform, userID, credType)
	if err != nil {
		return fmt.Errorf("postgres: delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("postgres: delete credential: %w", credential.ErrNotFound)
	}
	return nil
}

// List implements credential.Repository.
func (s *Store) List(ctx context.Context) ([]models.Credential, error) {
	const q = `
		SELECT id, user_id, platform, credential_type, sealed_primary, sealed_refresh,
		       expires_at, is_bot, is_broadcaster, is_teammate, is_active, created_at, updated_at
		FROM credentials ORDER BY platform, user_id, credential_type`
	return s.queryCredentials(ctx, q)
}

// ListForPlatform implements credential.Repository.
func (s *Store) ListForPlatform(ctx context.Context, platform models.Platform) ([]models.Credential, error) {
	const q = `
		SELECT id, user_id, platform, credential_type, sealed_primary, sealed_refresh,
		       expires_at, is_bot, is_broadcaster, is_teammate, is_active, created_at, updated_at
		FROM credentials WHERE platform = $1 ORDER BY user_id, credential_type`
	return s.queryCredentials(ctx, q, platform)
}

// ListExpiringWithin implements credential.Repository: credentials whose
// expires_at falls in [now, now+window]. Pushing the comparison into SQL
// lets an index on expires_at serve the expiry scan directly.
func (s *Store) ListExpiringWithin(ctx context.Context, window time.Duration, now time.Time) ([]models.Credential, error) {
	const q = `
		SELECT id, user_id, platform, credential_type, sealed_primary, sealed_refresh,
		       expires_at, is_bot, is_broadcaster, is_teammate, is_active, created_at, updated_at
		FROM credentials
		WHERE expires_at IS NOT NULL AND expires_at BETWEEN $1 AND $2
		ORDER BY expires_at`
	return s.queryCredentials(ctx, q, now, now.Add(window))
}

func (s *Store) queryCredentials(ctx context.Context, q string, args ...any) ([]models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query credentials: %w", err)
	}
	defer rows.Close()

	var out []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.Platform, &c.Type, &c.SealedPrimary, &c.SealedRefresh,
			&c.ExpiresAt, &c.IsBot, &c.IsBroadcaster, &c.IsTeammate, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan credential row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate credential rows: %w", err)
	}
	return out, nil
}
