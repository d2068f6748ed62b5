// Package pipeline implements a registry of named filter and
// action types, compiled per-pipeline from stored configuration, executed
// in priority/order against incoming events with retry, timeout, and
// continue-on-error semantics. Grounded on
// api_control/internal/handlers/router.go's registration-by-name pattern
// and api_control/internal/grpc/server.go's request validation style.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatbroker/internal/eventbus"
)

// FilterResult is the boolean outcome of evaluating one filter.
type FilterResult int

const (
	Reject FilterResult = iota
	Pass
)

// Filter is a configured, reusable boolean test over an event.
type Filter interface {
	// Configure parses and validates raw JSON config; errors surface at
	// pipeline load time.
	Configure(raw json.RawMessage) error
	// Apply is pure over its config and the event; it may read from
	// Services for context (platform manager, repositories, user
	// resolver) but must not mutate shared state.
	Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error)
}

// ActionOutcome is the result of one action execution, independent of
// whether it came from Success, a caught error, or a timeout — the engine
// decides ActionResultStatus from this plus the action's configuration.
type ActionOutcome struct {
	Output map[string]any
	Err    error
}

// Action is a configured, reusable side effect executed when a pipeline's
// filters all pass.
type Action interface {
	Configure(raw json.RawMessage) error
	// Execute runs once. The engine applies timeout/retry/continue_on_error
	// around this call; Execute itself does not retry.
	Execute(ctx context.Context, actx *ActionContext) ActionOutcome
}

// FilterFactory returns a fresh, unconfigured Filter instance.
type FilterFactory func() Filter

// ActionFactory returns a fresh, unconfigured Action instance.
type ActionFactory func() Action

// ActionContext carries everything an Action needs: the triggering
// event, the shared services handle, a mutable per-execution
// key-value scratch map, and the execution id.
type ActionContext struct {
	Event       eventbus.Event
	Services    *Services
	ExecutionID string

	mu     sync.Mutex
	shared map[string]string
}

func newActionContext(event eventbus.Event, services *Services, executionID string) *ActionContext {
	return &ActionContext{Event: event, Services: services, ExecutionID: executionID, shared: make(map[string]string)}
}

// SharedGet reads a scratch value set by a prior action in this execution.
func (a *ActionContext) SharedGet(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.shared[key]
	return v, ok
}

// SharedSet stores a scratch value visible to subsequent actions in this
// execution. Pruned by the engine when the execution finalizes.
func (a *ActionContext) SharedSet(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shared[key] = value
}

// Registry is the process-wide map from type name to factory, for both
// filters and actions. Safe for concurrent use; built-ins register at
// startup, plugins may register at runtime.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]FilterFactory
	actions map[string]ActionFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		filters: make(map[string]FilterFactory),
		actions: make(map[string]ActionFactory),
	}
}

// RegisterFilter adds a filter factory under name. Names must be unique;
// a duplicate registration is a programming error and panics, matching the
// teacher's fail-fast registration style for process-wide registries.
func (r *Registry) RegisterFilter(name string, f FilterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.filters[name]; exists {
		panic(fmt.Sprintf("pipeline: filter type %q already registered", name))
	}
	r.filters[name] = f
}

// RegisterAction adds an action factory under name.
func (r *Registry) RegisterAction(name string, f ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		panic(fmt.Sprintf("pipeline: action type %q already registered", name))
	}
	r.actions[name] = f
}

// NewFilter instantiates a fresh Filter for typeName, or reports that no
// factory is registered.
func (r *Registry) NewFilter(typeName string) (Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[typeName]
	if !ok {
		return nil, false
	}
	return f(), true
}

// NewAction instantiates a fresh Action for typeName.
func (r *Registry) NewAction(typeName string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.actions[typeName]
	if !ok {
		return nil, false
	}
	return f(), true
}
