package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"chatbroker/internal/eventbus"
	"chatbroker/internal/pipeline"
)

// remoteFilter proxies a pipeline.Filter type to a pooled RemotePlugin,
// installed by Host.RegisterRemote per advertised capability.
type remoteFilter struct {
	host       *Host
	plugin     string
	filterType string
	cfg        json.RawMessage
}

func (f *remoteFilter) Configure(raw json.RawMessage) error {
	f.cfg = raw
	return nil
}

func (f *remoteFilter) Apply(ctx context.Context, event eventbus.Event, services *pipeline.Services) (pipeline.FilterResult, error) {
	payload, err := buildPayload(f.cfg, event)
	if err != nil {
		return pipeline.Reject, err
	}
	out, err := f.host.Invoke(ctx, f.plugin, "filter:"+f.filterType, payload)
	if err != nil {
		return pipeline.Reject, err
	}
	if pass, _ := out["pass"].(bool); pass {
		return pipeline.Pass, nil
	}
	return pipeline.Reject, nil
}

// remoteAction proxies a pipeline.Action type to a pooled RemotePlugin.
type remoteAction struct {
	host       *Host
	plugin     string
	actionType string
	cfg        json.RawMessage
}

func (a *remoteAction) Configure(raw json.RawMessage) error {
	a.cfg = raw
	return nil
}

func (a *remoteAction) Execute(ctx context.Context, actx *pipeline.ActionContext) pipeline.ActionOutcome {
	payload, err := buildPayload(a.cfg, actx.Event)
	if err != nil {
		return pipeline.ActionOutcome{Err: err}
	}
	out, err := a.host.Invoke(ctx, a.plugin, "action:"+a.actionType, payload)
	return pipeline.ActionOutcome{Output: out, Err: err}
}

// buildPayload flattens a filter/action's static config and the
// triggering event into the one JSON object every remote invocation
// carries, round-tripping Event through encoding/json rather than
// hand-mapping its fields so new event kinds need no change here.
func buildPayload(cfg json.RawMessage, event eventbus.Event) (map[string]any, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("plugin: marshal event: %w", err)
	}
	var eventMap map[string]any
	if err := json.Unmarshal(eventJSON, &eventMap); err != nil {
		return nil, fmt.Errorf("plugin: decode event: %w", err)
	}

	var cfgMap map[string]any
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &cfgMap); err != nil {
			return nil, fmt.Errorf("plugin: decode config: %w", err)
		}
	}

	return map[string]any{"event": eventMap, "config": cfgMap}, nil
}
