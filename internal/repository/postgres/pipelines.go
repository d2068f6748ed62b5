package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"chatbroker/internal/apperr"
	"chatbroker/internal/models"
)

// ListEnabledPipelines implements pipeline.Repository.
func (s *Store) ListEnabledPipelines(ctx context.Context) ([]models.Pipeline, error) {
	const q = `
		SELECT id, name, enabled, priority, stop_on_match, stop_on_error, is_system,
		       tags, metadata, execution_count, last_executed_at, created_at, updated_at
		FROM event_pipelines WHERE enabled = true ORDER BY priority, name`
	return s.queryPipelines(ctx, q)
}

// ListAllPipelines is the admin-surface counterpart of ListEnabledPipelines,
// backing the EventPipeline RPC service's listing operation.
func (s *Store) ListAllPipelines(ctx context.Context) ([]models.Pipeline, error) {
	const q = `
		SELECT id, name, enabled, priority, stop_on_match, stop_on_error, is_system,
		       tags, metadata, execution_count, last_executed_at, created_at, updated_at
		FROM event_pipelines ORDER BY priority, name`
	return s.queryPipelines(ctx, q)
}

func (s *Store) queryPipelines(ctx context.Context, q string, args ...any) ([]models.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query pipelines: %w", err)
	}
	defer rows.Close()

	var out []models.Pipeline
	for rows.Next() {
		var p models.Pipeline
		var tags []string
		var metadata []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Enabled, &p.Priority, &p.StopOnMatch, &p.StopOnError, &p.IsSystem,
			pq.Array(&tags), &metadata, &p.ExecutionCount, &p.LastExecutedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pipeline row: %w", err)
		}
		p.Tags = tags
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode pipeline metadata: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPipeline fetches a single pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	const q = `
		SELECT id, name, enabled, priority, stop_on_match, stop_on_error, is_system,
		       tags, metadata, execution_count, last_executed_at, created_at, updated_at
		FROM event_pipelines WHERE id = $1`
	pipelines, err := s.queryPipelines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("postgres: get pipeline %s: %w", id, apperr.ErrNotFound)
	}
	return &pipelines[0], nil
}

// CreatePipeline inserts a new pipeline definition (without rules; attach
// filters/actions separately via CreateFilter/CreateAction).
func (s *Store) CreatePipeline(ctx context.Context, p models.Pipeline) (*models.Pipeline, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode pipeline metadata: %w", err)
	}
	const q = `
		INSERT INTO event_pipelines
			(name, enabled, priority, stop_on_match, stop_on_error, is_system, tags, metadata,
			 execution_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, now(), now())
		RETURNING id, created_at, updated_at`
	if err := s.db.QueryRowContext(ctx, q, p.Name, p.Enabled, p.Priority, p.StopOnMatch, p.StopOnError,
		p.IsSystem, pq.Array(p.Tags), metadata).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: insert pipeline: %w", err)
	}
	return &p, nil
}

// SetPipelineEnabled toggles a pipeline's enabled flag, the operation
// behind a manual pipeline reload after an operator edit.
func (s *Store) SetPipelineEnabled(ctx context.Context, id string, enabled bool) error {
	const q = `UPDATE event_pipelines SET enabled = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, enabled, id)
	if err != nil {
		return fmt.Errorf("postgres: set pipeline enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("postgres: set pipeline enabled %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// DeletePipeline removes a pipeline and its filters/actions (ON DELETE
// CASCADE is assumed on the schema's foreign keys).
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete pipeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("postgres: delete pipeline %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListFilters implements pipeline.Repository.
func (s *Store) ListFilters(ctx context.Context, pipelineID string) ([]models.PipelineFilter, error) {
	const q = `
		SELECT id, pipeline_id, filter_order, filter_type, filter_config, is_negated, is_required
		FROM pipeline_filters WHERE pipeline_id = $1 ORDER BY filter_order`
	rows, err := s.db.QueryContext(ctx, q, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query pipeline filters: %w", err)
	}
	defer rows.Close()

	var out []models.PipelineFilter
	for rows.Next() {
		var f models.PipelineFilter
		if err := rows.Scan(&f.ID, &f.PipelineID, &f.FilterOrder, &f.FilterType, &f.Config, &f.IsNegated, &f.IsRequired); err != nil {
			return nil, fmt.Errorf("postgres: scan pipeline filter row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateFilter attaches a new filter to a pipeline.
func (s *Store) CreateFilter(ctx context.Context, f models.PipelineFilter) (*models.PipelineFilter, error) {
	const q = `
		INSERT INTO pipeline_filters (pipeline_id, filter_order, filter_type, filter_config, is_negated, is_required)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	if err := s.db.QueryRowContext(ctx, q, f.PipelineID, f.FilterOrder, f.FilterType, f.Config, f.IsNegated, f.IsRequired).
		Scan(&f.ID); err != nil {
		return nil, fmt.Errorf("postgres: insert pipeline filter: %w", err)
	}
	return &f, nil
}

// ListActions implements pipeline.Repository.
func (s *Store) ListActions(ctx context.Context, pipelineID string) ([]models.PipelineAction, error) {
	const q = `
		SELECT id, pipeline_id, action_order, action_type, action_config,
		       continue_on_error, is_async, timeout_ms, retry_count, retry_delay_ms
		FROM pipeline_actions WHERE pipeline_id = $1 ORDER BY action_order`
	rows, err := s.db.QueryContext(ctx, q, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query pipeline actions: %w", err)
	}
	defer rows.Close()

	var out []models.PipelineAction
	for rows.Next() {
		var a models.PipelineAction
		if err := rows.Scan(&a.ID, &a.PipelineID, &a.ActionOrder, &a.ActionType, &a.Config,
			&a.ContinueOnError, &a.IsAsync, &a.TimeoutMS, &a.RetryCount, &a.RetryDelayMS); err != nil {
			return nil, fmt.Errorf("postgres: scan pipeline action row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAction attaches a new action to a pipeline.
func (s *Store) CreateAction(ctx context.Context, a models.PipelineAction) (*models.PipelineAction, error) {
	const q = `
		INSERT INTO pipeline_actions
			(pipeline_id, action_order, action_type, action_config, continue_on_error, is_async,
			 timeout_ms, retry_count, retry_delay_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if err := s.db.QueryRowContext(ctx, q, a.PipelineID, a.ActionOrder, a.ActionType, a.Config,
		a.ContinueOnError, a.IsAsync, a.TimeoutMS, a.RetryCount, a.RetryDelayMS).Scan(&a.ID); err != nil {
		return nil, fmt.Errorf("postgres: insert pipeline action: %w", err)
	}
	return &a, nil
}

// IncrementExecutionCount implements pipeline.Repository: an atomic
// UPDATE ... SET count = count + 1 so concurrent pipeline executions never
// lose a counter increment under concurrent pipeline executions.
func (s *Store) IncrementExecutionCount(ctx context.Context, pipelineID string) error {
	const q = `UPDATE event_pipelines SET execution_count = execution_count + 1, last_executed_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, q, pipelineID); err != nil {
		return fmt.Errorf("postgres: increment execution count: %w", err)
	}
	return nil
}
