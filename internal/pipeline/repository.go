package pipeline

import (
	"context"

	"chatbroker/internal/models"
)

// Repository is the persistence contract the engine depends on for
// loading pipeline definitions, recording execution logs, and updating
// per-pipeline execution counters.
type Repository interface {
	// ListEnabledPipelines returns every enabled pipeline, used by Load
	// and Reload.
	ListEnabledPipelines(ctx context.Context) ([]models.Pipeline, error)
	ListFilters(ctx context.Context, pipelineID string) ([]models.PipelineFilter, error)
	ListActions(ctx context.Context, pipelineID string) ([]models.PipelineAction, error)

	// RecordExecution persists a finalized execution log.
	RecordExecution(ctx context.Context, log models.ExecutionLog) error
	// IncrementExecutionCount bumps Pipeline.ExecutionCount and sets
	// LastExecutedAt, via an atomic repository operation safe under
	// concurrent executions.
	IncrementExecutionCount(ctx context.Context, pipelineID string) error
}
