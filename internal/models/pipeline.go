package models

import "time"

// Pipeline is an ordered bundle of filters and actions reacting to events.
type Pipeline struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Enabled        bool           `json:"enabled"`
	Priority       int            `json:"priority"`
	StopOnMatch    bool           `json:"stop_on_match"`
	StopOnError    bool           `json:"stop_on_error"`
	IsSystem       bool           `json:"is_system"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount int64          `json:"execution_count"`
	LastExecutedAt *time.Time     `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PipelineFilter is a boolean test over an event, belonging to a Pipeline.
type PipelineFilter struct {
	ID          string `json:"id"`
	PipelineID  string `json:"pipeline_id"`
	FilterOrder int    `json:"filter_order"`
	FilterType  string `json:"filter_type"`
	Config      []byte `json:"filter_config"`
	IsNegated   bool   `json:"is_negated"`
	// IsRequired is stored and round-tripped but intentionally ignored by
	// filter evaluation: the engine always treats filters as AND with
	// short-circuit on first Reject. Reserved for a future
	// disjunctive-grouping feature.
	IsRequired bool `json:"is_required"`
}

// PipelineAction is a side-effectful step executed when all filters pass.
type PipelineAction struct {
	ID              string `json:"id"`
	PipelineID      string `json:"pipeline_id"`
	ActionOrder     int    `json:"action_order"`
	ActionType      string `json:"action_type"`
	Config          []byte `json:"action_config"`
	ContinueOnError bool   `json:"continue_on_error"`
	IsAsync         bool   `json:"is_async"`
	TimeoutMS       *int   `json:"timeout_ms,omitempty"`
	RetryCount      int    `json:"retry_count"`
	RetryDelayMS    int    `json:"retry_delay_ms"`
}

// ExecutionStatus is the terminal (or in-flight) status of a pipeline run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ActionResultStatus is the outcome of one action's execution.
type ActionResultStatus string

const (
	ActionResultSuccess ActionResultStatus = "success"
	ActionResultError   ActionResultStatus = "error"
	ActionResultTimeout ActionResultStatus = "timeout"
	ActionResultSkipped ActionResultStatus = "skipped"
	ActionResultStarted ActionResultStatus = "started" // fire-and-forget (is_async)
)

// ActionResult is the recorded outcome of one action within an execution.
type ActionResult struct {
	ActionID    string             `json:"action_id"`
	ActionType  string             `json:"action_type"`
	Status      ActionResultStatus `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Output      map[string]any     `json:"output,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// ExecutionLog is the recorded outcome of one pipeline run for one event.
type ExecutionLog struct {
	ID               string          `json:"id"`
	PipelineID       string          `json:"pipeline_id"`
	EventType        string          `json:"event_type"`
	EventData        map[string]any  `json:"event_data"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Duration         time.Duration   `json:"duration"`
	Status           ExecutionStatus `json:"status"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ActionsExecuted  int             `json:"actions_executed"`
	ActionsSucceeded int             `json:"actions_succeeded"`
	ActionResults    []ActionResult  `json:"action_results"`
}

// SharedDataType discriminates the stored value shape.
type SharedDataType string

const (
	SharedDataString SharedDataType = "string"
	SharedDataNumber SharedDataType = "number"
	SharedDataBool   SharedDataType = "bool"
	SharedDataJSON   SharedDataType = "json"
)

// SharedData is a per-execution scratch key/value entry passed between
// actions. Invariant: (ExecutionID, Key) unique. The engine keeps an
// execution's shared data in ActionContext's in-memory map and does not
// persist these rows.
type SharedData struct {
	ExecutionID   string         `json:"execution_id"`
	Key           string         `json:"key"`
	Value         string         `json:"value"`
	DataType      SharedDataType `json:"data_type"`
	SetByActionID *string        `json:"set_by_action_id,omitempty"`
}
