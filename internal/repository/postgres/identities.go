package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"chatbroker/internal/identity"
	"chatbroker/internal/models"
)

// FindIdentityByPlatformID implements identity.Repository.
func (s *Store) FindIdentityByPlatformID(ctx context.Context, platform models.Platform, lowerID string) (*models.PlatformIdentity, error) {
	const q = `
		SELECT id, user_id, platform, platform_user_id, platform_username,
		       display_name, roles, data, created_at, updated_at
		FROM platform_identities
		WHERE platform = $1 AND platform_user_id = $2`
	return s.scanIdentity(s.db.QueryRowContext(ctx, q, platform, lowerID))
}

// FindIdentityByUsername implements identity.Repository.
func (s *Store) FindIdentityByUsername(ctx context.Context, platform models.Platform, lowerUsername string) (*models.PlatformIdentity, error) {
	const q = `
		SELECT id, user_id, platform, platform_user_id, platform_username,
		       display_name, roles, data, created_at, updated_at
		FROM platform_identities
		WHERE platform = $1 AND lower(platform_username) = $2`
	return s.scanIdentity(s.db.QueryRowContext(ctx, q, platform, lowerUsername))
}

func (s *Store) scanIdentity(row *sql.Row) (*models.PlatformIdentity, error) {
	var pi models.PlatformIdentity
	var data []byte
	err := row.Scan(&pi.ID, &pi.UserID, &pi.Platform, &pi.PlatformUserID, &pi.PlatformUsername,
		&pi.DisplayName, pq.Array(&pi.Roles), &data, &pi.CreatedAt, &pi.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: identity lookup: %w", identity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan identity: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &pi.Data); err != nil {
			return nil, fmt.Errorf("postgres: decode identity data: %w", err)
		}
	}
	return &pi, nil
}

// GetUser implements identity.Repository.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const q = `SELECT id, global_username, created_at, last_seen, is_active FROM users WHERE id = $1`
	var u models.User
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&u.ID, &u.GlobalName, &u.CreatedAt, &u.LastSeen, &u.IsActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: user lookup: %w", identity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user: %w", err)
	}
	return &u, nil
}

// CreateUserAndIdentity implements identity.Repository. The new user, its
// first identity, and a zeroed analysis row are created in one
// transaction so a reader never observes a user without its identity.
func (s *Store) CreateUserAndIdentity(ctx context.Context, platform models.Platform, lowerID, lowerUsername string) (*models.User, *models.PlatformIdentity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: begin create-user tx: %w", err)
	}
	defer tx.Rollback()

	var u models.User
	const insertUser = `
		INSERT INTO users (global_username, created_at, last_seen, is_active)
		VALUES ($1, now(), now(), true)
		RETURNING id, global_username, created_at, last_seen, is_active`
	if err := tx.QueryRowContext(ctx, insertUser, lowerUsername).
		Scan(&u.ID, &u.GlobalName, &u.CreatedAt, &u.LastSeen, &u.IsActive); err != nil {
		return nil, nil, fmt.Errorf("postgres: insert user: %w", err)
	}

	var pi models.PlatformIdentity
	pi.Roles = []string{}
	const insertIdentity = `
		INSERT INTO platform_identities (user_id, platform, platform_user_id, platform_username, roles, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, now(), now())
		RETURNING id, user_id, platform, platform_user_id, platform_username, display_name, roles, data, created_at, updated_at`
	var data []byte
	if err := tx.QueryRowContext(ctx, insertIdentity, u.ID, platform, lowerID, lowerUsername, pq.Array(pi.Roles)).
		Scan(&pi.ID, &pi.UserID, &pi.Platform, &pi.PlatformUserID, &pi.PlatformUsername,
			&pi.DisplayName, pq.Array(&pi.Roles), &data, &pi.CreatedAt, &pi.UpdatedAt); err != nil {
		return nil, nil, fmt.Errorf("postgres: insert identity: %w", err)
	}

	const insertAnalysis = `
		INSERT INTO user_analysis (user_id, message_count, spam_score, toxicity_score, last_message_at, updated_at)
		VALUES ($1, 0, 0, 0, now(), now())`
	if _, err := tx.ExecContext(ctx, insertAnalysis, u.ID); err != nil {
		return nil, nil, fmt.Errorf("postgres: insert user_analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("postgres: commit create-user tx: %w", err)
	}
	return &u, &pi, nil
}

// RebindIdentity implements identity.Repository.
func (s *Store) RebindIdentity(ctx context.Context, identityID, newPlatformUserID string) error {
	const q = `UPDATE platform_identities SET platform_user_id = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, newPlatformUserID, identityID)
	if err != nil {
		return fmt.Errorf("postgres: rebind identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("postgres: rebind identity %s: %w", identityID, identity.ErrNotFound)
	}
	return nil
}

// MergeUsers implements identity.Repository: reassigns identities and chat
// messages from fromUserID to toUserID, optionally renames toUserID, then
// deletes fromUserID, all within one transaction.
func (s *Store) MergeUsers(ctx context.Context, fromUserID, toUserID string, rename *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin merge tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE platform_identities SET user_id = $1, updated_at = now() WHERE user_id = $2`,
		toUserID, fromUserID); err != nil {
		return fmt.Errorf("postgres: reassign identities: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_messages SET user_id = $1 WHERE user_id = $2`,
		toUserID, fromUserID); err != nil {
		return fmt.Errorf("postgres: reassign chat messages: %w", err)
	}
	if rename != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET global_username = $1 WHERE id = $2`,
			*rename, toUserID); err != nil {
			return fmt.Errorf("postgres: rename merged user: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_analysis WHERE user_id = $1`, fromUserID); err != nil {
		return fmt.Errorf("postgres: delete merged user_analysis: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, fromUserID); err != nil {
		return fmt.Errorf("postgres: delete merged user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit merge tx: %w", err)
	}
	return nil
}
