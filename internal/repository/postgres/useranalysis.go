package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"chatbroker/internal/apperr"
	"chatbroker/internal/models"
)

// GetUserAnalysis returns one user's rolling counters, restored from
// original_source. The row is created zeroed with its user; see
// IncrementMessageCount for how the counters change.
func (s *Store) GetUserAnalysis(ctx context.Context, userID string) (*models.UserAnalysis, error) {
	const q = `
		SELECT user_id, message_count, spam_score, toxicity_score, last_message_at, updated_at
		FROM user_analysis WHERE user_id = $1`
	var a models.UserAnalysis
	err := s.db.QueryRowContext(ctx, q, userID).
		Scan(&a.UserID, &a.MessageCount, &a.SpamScore, &a.ToxicityScore, &a.LastMessageAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: get user analysis %s: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user analysis: %w", err)
	}
	return &a, nil
}

// IncrementMessageCount bumps a user's rolling message counter and
// optionally nudges its spam/toxicity scores. Nothing in this repository
// calls it: the DB logger tail only inserts message rows, so the counters
// keep their initial values unless another writer updates them.
func (s *Store) IncrementMessageCount(ctx context.Context, userID string, spamDelta, toxicityDelta float64) error {
	const q = `
		UPDATE user_analysis
		SET message_count = message_count + 1,
		    spam_score = spam_score + $1,
		    toxicity_score = toxicity_score + $2,
		    last_message_at = now(),
		    updated_at = now()
		WHERE user_id = $3`
	if _, err := s.db.ExecContext(ctx, q, spamDelta, toxicityDelta, userID); err != nil {
		return fmt.Errorf("postgres: increment user analysis: %w", err)
	}
	return nil
}

// RollupCandidate is one user's counters as of a maintenance pass, read
// for export into the ClickHouse rollup store (internal/maintenance).
type RollupCandidate struct {
	UserID        string
	MessageCount  int64
	SpamScore     float64
	ToxicityScore float64
}

// ListAnalysisForRollup returns every user_analysis row, paged by a
// simple offset/limit (this is an infrequent batch maintenance scan, not
// an interactive listing, so it does not need cursor pagination).
func (s *Store) ListAnalysisForRollup(ctx context.Context, offset, limit int) ([]RollupCandidate, error) {
	const q = `
		SELECT user_id, message_count, spam_score, toxicity_score
		FROM user_analysis ORDER BY user_id LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: query analysis rollup candidates: %w", err)
	}
	defer rows.Close()

	var out []RollupCandidate
	for rows.Next() {
		var c RollupCandidate
		if err := rows.Scan(&c.UserID, &c.MessageCount, &c.SpamScore, &c.ToxicityScore); err != nil {
			return nil, fmt.Errorf("postgres: scan rollup candidate row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
