package postgres

import (
	"context"
	"fmt"
	"time"

	"chatbroker/internal/models"
)

// InsertMessageBatch persists a batch of chat messages in one statement,
// the landing point for internal/dblogger's tail. Uses a
// single multi-row INSERT rather than one statement per message, matching
// the batching contract the tail client expects from its sink.
func (s *Store) InsertMessageBatch(ctx context.Context, msgs []models.CachedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	const cols = 6
	args := make([]any, 0, len(msgs)*cols)
	q := `INSERT INTO chat_messages (platform, channel, user_id, text, sent_at, tokens) VALUES `
	for i, m := range msgs {
		if i > 0 {
			q += ", "
		}
		base := i * cols
		q += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, m.Platform, m.Channel, m.UserID, m.Text, m.Timestamp, m.Tokens)
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres: insert message batch: %w", err)
	}
	return nil
}

// ListMessagesSince returns every message sent at or after since, oldest
// first, implementing the message cache's "since an instant" overflow
// query for retention beyond the in-memory ring.
func (s *Store) ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]models.CachedMessage, error) {
	const q = `
		SELECT platform, channel, user_id, text, sent_at, tokens
		FROM chat_messages WHERE sent_at >= $1 ORDER BY sent_at ASC LIMIT $2`
	return s.queryMessages(ctx, q, since, limit)
}

// ListMessagesByUser returns the most recent messages for userID, newest
// first.
func (s *Store) ListMessagesByUser(ctx context.Context, userID string, limit int) ([]models.CachedMessage, error) {
	const q = `
		SELECT platform, channel, user_id, text, sent_at, tokens
		FROM chat_messages WHERE user_id = $1 ORDER BY sent_at DESC LIMIT $2`
	return s.queryMessages(ctx, q, userID, limit)
}

func (s *Store) queryMessages(ctx context.Context, q string, args ...any) ([]models.CachedMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query messages: %w", err)
	}
	defer rows.Close()

	var out []models.CachedMessage
	for rows.Next() {
		var m models.CachedMessage
		if err := rows.Scan(&m.Platform, &m.Channel, &m.UserID, &m.Text, &m.Timestamp, &m.Tokens); err != nil {
			return nil, fmt.Errorf("postgres: scan message row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ArchiveMessagesOlderThan moves messages sent before cutoff into
// chat_messages_archive and deletes them from the live table, the
// operation behind internal/maintenance's biweekly archival pass
// (restored from original_source's biweekly_maintenance.rs).
func (s *Store) ArchiveMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin archive tx: %w", err)
	}
	defer tx.Rollback()

	const copyQ = `
		INSERT INTO chat_messages_archive (platform, channel, user_id, text, sent_at, tokens)
		SELECT platform, channel, user_id, text, sent_at, tokens
		FROM chat_messages WHERE sent_at < $1`
	if _, err := tx.ExecContext(ctx, copyQ, cutoff); err != nil {
		return 0, fmt.Errorf("postgres: copy messages to archive: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete archived messages: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: commit archive tx: %w", err)
	}
	return n, nil
}
