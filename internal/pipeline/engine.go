package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbroker/internal/dbretry"
	"chatbroker/internal/eventbus"
	"chatbroker/internal/logging"
	"chatbroker/internal/metrics"
	"chatbroker/internal/models"
)

type compiledFilter struct {
	def      models.PipelineFilter
	instance Filter
}

type compiledAction struct {
	def      models.PipelineAction
	instance Action
}

type compiledPipeline struct {
	def     models.Pipeline
	filters []compiledFilter
	actions []compiledAction
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Registry *Registry
	Repo     Repository
	Services *Services
	Bus      *eventbus.Bus
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// Engine loads enabled pipelines from Repo, compiles their
// filters/actions against Registry, and executes them against events
// read off Bus, one task per incoming event, pipelines
// within a task processed sequentially so stop_on_match is meaningful.
type Engine struct {
	cfg EngineConfig

	mu        sync.RWMutex
	pipelines []compiledPipeline
}

// NewEngine constructs an Engine. Call Load before Run.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Load enumerates enabled pipelines and compiles each one's filters and
// actions. A pipeline referencing an unknown filter/action type name, or
// whose Configure rejects its stored config, fails to load with a logged
// error; other pipelines still load.
func (e *Engine) Load(ctx context.Context) error {
	defs, err := e.cfg.Repo.ListEnabledPipelines(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: list enabled pipelines: %w", err)
	}

	compiled := make([]compiledPipeline, 0, len(defs))
	for _, def := range defs {
		cp, ok := e.compile(ctx, def)
		if ok {
			compiled = append(compiled, cp)
		}
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].def.Priority != compiled[j].def.Priority {
			return compiled[i].def.Priority < compiled[j].def.Priority
		}
		return compiled[i].def.Name < compiled[j].def.Name
	})

	e.mu.Lock()
	e.pipelines = compiled
	e.mu.Unlock()
	return nil
}

// Reload is Load again, for the operator-triggered manual reload surface.
func (e *Engine) Reload(ctx context.Context) error { return e.Load(ctx) }

func (e *Engine) compile(ctx context.Context, def models.Pipeline) (compiledPipeline, bool) {
	filterDefs, err := e.cfg.Repo.ListFilters(ctx, def.ID)
	if err != nil {
		e.logLoadError(def, "list filters", err)
		return compiledPipeline{}, false
	}
	actionDefs, err := e.cfg.Repo.ListActions(ctx, def.ID)
	if err != nil {
		e.logLoadError(def, "list actions", err)
		return compiledPipeline{}, false
	}

	sort.SliceStable(filterDefs, func(i, j int) bool { return filterDefs[i].FilterOrder < filterDefs[j].FilterOrder })
	sort.SliceStable(actionDefs, func(i, j int) bool { return actionDefs[i].ActionOrder < actionDefs[j].ActionOrder })

	cp := compiledPipeline{def: def}
	for _, fd := range filterDefs {
		instance, ok := e.cfg.Registry.NewFilter(fd.FilterType)
		if !ok {
			e.logLoadError(def, "unknown filter type "+fd.FilterType, nil)
			return compiledPipeline{}, false
		}
		if err := instance.Configure(json.RawMessage(fd.Config)); err != nil {
			e.logLoadError(def, "configure filter "+fd.FilterType, err)
			return compiledPipeline{}, false
		}
		cp.filters = append(cp.filters, compiledFilter{def: fd, instance: instance})
	}
	for _, ad := range actionDefs {
		instance, ok := e.cfg.Registry.NewAction(ad.ActionType)
		if !ok {
			e.logLoadError(def, "unknown action type "+ad.ActionType, nil)
			return compiledPipeline{}, false
		}
		if err := instance.Configure(json.RawMessage(ad.Config)); err != nil {
			e.logLoadError(def, "configure action "+ad.ActionType, err)
			return compiledPipeline{}, false
		}
		cp.actions = append(cp.actions, compiledAction{def: ad, instance: instance})
	}
	return cp, true
}

func (e *Engine) logLoadError(def models.Pipeline, msg string, err error) {
	if e.cfg.Logger == nil {
		return
	}
	entry := e.cfg.Logger.WithFields(logging.Fields{"pipeline": def.Name, "reason": msg})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error("pipeline: failed to load")
}

// Run subscribes to the bus and spawns one goroutine per incoming
// event: distinct events process concurrently, pipelines within one
// event process sequentially.
func (e *Engine) Run(ctx context.Context) {
	events, unsubscribe := e.cfg.Bus.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.cfg.Bus.ShutdownSignal().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			go e.HandleEvent(context.Background(), event)
		}
	}
}

// ErrPipelineNotFound is returned by ExecutePipeline when no loaded
// pipeline matches the requested name.
var ErrPipelineNotFound = fmt.Errorf("pipeline: not found")

// ExecutePipeline runs the single loaded pipeline named name against
// event directly, skipping stop_on_match's cross-pipeline short-circuit
// (there is only one pipeline in play) but still honoring that
// pipeline's own filters. Used by internal/rpc's command and redeem
// façades, which model both as "run this one named pipeline on demand"
// rather than waiting for it to match off the bus.
func (e *Engine) ExecutePipeline(ctx context.Context, name string, event eventbus.Event) (models.ExecutionLog, error) {
	e.mu.RLock()
	var target *compiledPipeline
	for i := range e.pipelines {
		if e.pipelines[i].def.Name == name {
			target = &e.pipelines[i]
			break
		}
	}
	e.mu.RUnlock()

	if target == nil {
		return models.ExecutionLog{}, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return e.runPipeline(ctx, *target, event), nil
}

// filtersDidNotMatch is the ErrorMessage recorded for an execution whose
// filters rejected the event.
const filtersDidNotMatch = "Filters did not match"

// HandleEvent runs every loaded pipeline against event in priority order,
// honoring stop_on_match.
func (e *Engine) HandleEvent(ctx context.Context, event eventbus.Event) {
	e.mu.RLock()
	pipelines := e.pipelines
	e.mu.RUnlock()

	for _, cp := range pipelines {
		log := e.runPipeline(ctx, cp, event)
		if cp.def.StopOnMatch && log.Status == models.ExecutionSuccess && log.ErrorMessage != filtersDidNotMatch {
			return
		}
	}
}

// runPipeline evaluates cp's filters, short-circuiting on first Reject,
// then executes its actions in order, and records the execution log.
func (e *Engine) runPipeline(ctx context.Context, cp compiledPipeline, event eventbus.Event) models.ExecutionLog {
	start := time.Now()
	log := models.ExecutionLog{
		ID:         uuid.NewString(),
		PipelineID: cp.def.ID,
		EventType:  string(event.Kind),
		StartedAt:  start,
		Status:     models.ExecutionRunning,
	}

	passed, err := e.evaluateFilters(ctx, cp, event)
	if err != nil || !passed {
		log.Status = models.ExecutionSuccess
		log.ErrorMessage = filtersDidNotMatch
		e.finalize(ctx, cp, &log, start)
		return log
	}

	actx := newActionContext(event, e.cfg.Services, log.ID)
	failed := false
	for _, ca := range cp.actions {
		result := e.runAction(ctx, ca, actx)
		log.ActionsExecuted++
		if result.Status == models.ActionResultSuccess || result.Status == models.ActionResultStarted {
			log.ActionsSucceeded++
		}
		log.ActionResults = append(log.ActionResults, result)

		terminal := result.Status == models.ActionResultError || result.Status == models.ActionResultTimeout
		if terminal && !ca.def.ContinueOnError {
			failed = true
			break
		}
	}

	if failed {
		log.Status = models.ExecutionFailed
	} else {
		log.Status = models.ExecutionSuccess
	}
	e.finalize(ctx, cp, &log, start)
	return log
}

// evaluateFilters applies cp's filters in order, AND-combined with
// short-circuit on first Reject. A filter error is treated as Reject for
// matching purposes.
func (e *Engine) evaluateFilters(ctx context.Context, cp compiledPipeline, event eventbus.Event) (bool, error) {
	for _, cf := range cp.filters {
		result, err := cf.instance.Apply(ctx, event, e.cfg.Services)
		if err != nil {
			e.logFilterError(cp.def, cf.def, err)
			return false, err
		}
		if cf.def.IsNegated {
			if result == Pass {
				result = Reject
			} else {
				result = Pass
			}
		}
		if result == Reject {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) logFilterError(p models.Pipeline, f models.PipelineFilter, err error) {
	if e.cfg.Logger == nil {
		return
	}
	e.cfg.Logger.WithFields(logging.Fields{
		"pipeline": p.Name, "filter": f.FilterType,
	}).WithError(err).Warn("pipeline: filter error, treating as reject")
}

// runAction enforces timeout_ms and retry_count/retry_delay_ms around one
// action's Execute call. is_async actions are fire-and-forget: recorded
// Started and not waited on.
func (e *Engine) runAction(ctx context.Context, ca compiledAction, actx *ActionContext) models.ActionResult {
	startedAt := time.Now()

	if ca.def.IsAsync {
		go func() {
			_ = ca.instance.Execute(context.Background(), actx)
		}()
		return models.ActionResult{
			ActionID: ca.def.ID, ActionType: ca.def.ActionType,
			Status: models.ActionResultStarted, StartedAt: startedAt,
		}
	}

	retry := dbretry.Policy{MaxRetries: ca.def.RetryCount, Delay: time.Duration(ca.def.RetryDelayMS) * time.Millisecond}
	var timeoutMS int
	if ca.def.TimeoutMS != nil {
		timeoutMS = *ca.def.TimeoutMS
	}

	var outcome ActionOutcome
	isTimeout := false
	err := retry.Execute(ctx, func(ctx context.Context) error {
		callErr := dbretry.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond, func(ctx context.Context) error {
			outcome = ca.instance.Execute(ctx, actx)
			return outcome.Err
		})
		if callErr == context.DeadlineExceeded {
			isTimeout = true
		}
		return callErr
	})

	completed := time.Now()
	result := models.ActionResult{
		ActionID: ca.def.ID, ActionType: ca.def.ActionType,
		StartedAt: startedAt, CompletedAt: &completed, Output: outcome.Output,
	}
	switch {
	case err == nil:
		result.Status = models.ActionResultSuccess
	case isTimeout:
		result.Status = models.ActionResultTimeout
		result.Error = err.Error()
	default:
		result.Status = models.ActionResultError
		result.Error = err.Error()
	}

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ActionExecutions.WithLabelValues(ca.def.ActionType, string(result.Status)).Inc()
	}
	return result
}

func (e *Engine) finalize(ctx context.Context, cp compiledPipeline, log *models.ExecutionLog, start time.Time) {
	completed := time.Now()
	log.CompletedAt = &completed
	log.Duration = completed.Sub(start)

	if err := e.cfg.Repo.RecordExecution(ctx, *log); err != nil && e.cfg.Logger != nil {
		e.cfg.Logger.WithError(err).Warn("pipeline: failed to record execution log")
	}
	if err := e.cfg.Repo.IncrementExecutionCount(ctx, cp.def.ID); err != nil && e.cfg.Logger != nil {
		e.cfg.Logger.WithError(err).Warn("pipeline: failed to increment execution count")
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.PipelineExecutions.WithLabelValues(cp.def.Name, string(log.Status)).Inc()
		e.cfg.Metrics.PipelineDuration.WithLabelValues(cp.def.Name).Observe(log.Duration.Seconds())
	}
}
