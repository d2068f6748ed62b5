package postgres

import (
	"context"
	"fmt"

	"chatbroker/internal/models"
)

// PutSharedData upserts one per-execution scratch entry into
// pipeline_shared_data. The pipeline engine does not call it: an
// execution's shared data lives only in ActionContext's in-memory map,
// which is dropped with the execution, so the engine writes no rows here.
func (s *Store) PutSharedData(ctx context.Context, d models.SharedData) error {
	const q = `
		INSERT INTO pipeline_shared_data (execution_id, key, value, data_type, set_by_action_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id, key) DO UPDATE
		SET value = EXCLUDED.value, data_type = EXCLUDED.data_type, set_by_action_id = EXCLUDED.set_by_action_id`
	_, err := s.db.ExecContext(ctx, q, d.ExecutionID, d.Key, d.Value, d.DataType, d.SetByActionID)
	if err != nil {
		return fmt.Errorf("postgres: upsert shared data: %w", err)
	}
	return nil
}

// ListSharedData returns every scratch entry recorded for one execution.
func (s *Store) ListSharedData(ctx context.Context, executionID string) ([]models.SharedData, error) {
	const q = `SELECT execution_id, key, value, data_type, set_by_action_id FROM pipeline_shared_data WHERE execution_id = $1`
	rows, err := s.db.QueryContext(ctx, q, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query shared data: %w", err)
	}
	defer rows.Close()

	var out []models.SharedData
	for rows.Next() {
		var d models.SharedData
		if err := rows.Scan(&d.ExecutionID, &d.Key, &d.Value, &d.DataType, &d.SetByActionID); err != nil {
			return nil, fmt.Errorf("postgres: scan shared data row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneSharedData deletes every scratch entry for an execution. The
// engine's finalize step does not call it (see PutSharedData).
func (s *Store) PruneSharedData(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_shared_data WHERE execution_id = $1`, executionID); err != nil {
		return fmt.Errorf("postgres: prune shared data: %w", err)
	}
	return nil
}
