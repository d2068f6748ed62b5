package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatbroker/internal/models"
	"chatbroker/internal/pagination"
)

// RecordExecution implements pipeline.Repository.
func (s *Store) RecordExecution(ctx context.Context, log models.ExecutionLog) error {
	eventData, err := json.Marshal(log.EventData)
	if err != nil {
		return fmt.Errorf("postgres: encode execution event data: %w", err)
	}
	actionResults, err := json.Marshal(log.ActionResults)
	if err != nil {
		return fmt.Errorf("postgres: encode execution action results: %w", err)
	}
	const q = `
		INSERT INTO pipeline_execution_log
			(id, pipeline_id, event_type, event_data, started_at, completed_at, duration_ms,
			 status, error_message, actions_executed, actions_succeeded, action_results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, q, log.ID, log.PipelineID, log.EventType, eventData, log.StartedAt,
		log.CompletedAt, log.Duration.Milliseconds(), log.Status, log.ErrorMessage,
		log.ActionsExecuted, log.ActionsSucceeded, actionResults)
	if err != nil {
		return fmt.Errorf("postgres: insert execution log: %w", err)
	}
	return nil
}

// ListExecutionsPage returns one cursor page of execution logs for
// pipelineID, newest first, backing the EventPipeline RPC service's
// execution-history listing. Pagination shape grounded on
// pkg/pagination/cursor.go.
func (s *Store) ListExecutionsPage(ctx context.Context, pipelineID string, after string, limit int) ([]models.ExecutionLog, string, error) {
	limit = pagination.ClampLimit(limit)
	cursor, err := pagination.DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: decode execution cursor: %w", err)
	}

	args := []any{pipelineID}
	q := `
		SELECT id, pipeline_id, event_type, event_data, started_at, completed_at, duration_ms,
		       status, error_message, actions_executed, actions_succeeded, action_results
		FROM pipeline_execution_log WHERE pipeline_id = $1`
	if cursor != nil {
		q += ` AND (started_at, id) < ($2, $3)`
		args = append(args, cursor.Timestamp, cursor.ID)
	}
	q += fmt.Sprintf(" ORDER BY started_at DESC, id DESC LIMIT %d", limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: query execution logs: %w", err)
	}
	defer rows.Close()

	var out []models.ExecutionLog
	for rows.Next() {
		var log models.ExecutionLog
		var eventData, actionResults []byte
		var durationMS int64
		if err := rows.Scan(&log.ID, &log.PipelineID, &log.EventType, &eventData, &log.StartedAt,
			&log.CompletedAt, &durationMS, &log.Status, &log.ErrorMessage,
			&log.ActionsExecuted, &log.ActionsSucceeded, &actionResults); err != nil {
			return nil, "", fmt.Errorf("postgres: scan execution log row: %w", err)
		}
		log.Duration = time.Duration(durationMS) * time.Millisecond
		if len(eventData) > 0 {
			_ = json.Unmarshal(eventData, &log.EventData)
		}
		if len(actionResults) > 0 {
			_ = json.Unmarshal(actionResults, &log.ActionResults)
		}
		out = append(out, log)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("postgres: iterate execution log rows: %w", err)
	}

	var next string
	if len(out) > limit {
		last := out[limit-1]
		next = pagination.Cursor{Timestamp: last.StartedAt, ID: last.ID}.Encode()
		out = out[:limit]
	}
	return out, next, nil
}
