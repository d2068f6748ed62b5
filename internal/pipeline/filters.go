package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"chatbroker/internal/eventbus"
	"chatbroker/internal/models"
)

// RegisterBuiltinFilters registers every canonical filter type into reg.
func RegisterBuiltinFilters(reg *Registry) {
	reg.RegisterFilter("platform_filter", func() Filter { return &platformFilter{} })
	reg.RegisterFilter("channel_filter", func() Filter { return &channelFilter{} })
	reg.RegisterFilter("user_role_filter", func() Filter { return &userRoleFilter{} })
	reg.RegisterFilter("user_level_filter", func() Filter { return &userLevelFilter{} })
	reg.RegisterFilter("message_pattern_filter", func() Filter { return &messagePatternFilter{} })
	reg.RegisterFilter("message_length_filter", func() Filter { return &messageLengthFilter{} })
	reg.RegisterFilter("time_window_filter", func() Filter { return &timeWindowFilter{} })
	reg.RegisterFilter("cooldown_filter", func() Filter { return &cooldownFilter{} })
}

// eventPlatform extracts the platform an event is associated with, if any.
func eventPlatform(event eventbus.Event) (models.Platform, bool) {
	switch event.Kind {
	case eventbus.KindChatMessage:
		return event.ChatMessage.Platform, true
	case eventbus.KindPlatformSubscription:
		return event.PlatformSubscription.Platform, true
	default:
		return "", false
	}
}

func boolResult(b bool) FilterResult {
	if b {
		return Pass
	}
	return Reject
}

// --- platform_filter ---

type platformFilterConfig struct {
	Platforms []models.Platform `json:"platforms"`
}

type platformFilter struct {
	cfg platformFilterConfig
}

func (f *platformFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("platform_filter: %w", err)
	}
	if len(f.cfg.Platforms) == 0 {
		return fmt.Errorf("platform_filter: platforms must not be empty")
	}
	return nil
}

func (f *platformFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	p, ok := eventPlatform(event)
	if !ok {
		return Reject, nil
	}
	for _, want := range f.cfg.Platforms {
		if want == p {
			return Pass, nil
		}
	}
	return Reject, nil
}

// --- channel_filter ---

type channelFilterConfig struct {
	Channels []string `json:"channels"`
}

type channelFilter struct {
	cfg channelFilterConfig
}

func (f *channelFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("channel_filter: %w", err)
	}
	return nil
}

func (f *channelFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	if event.Kind != eventbus.KindChatMessage {
		return Reject, nil
	}
	for _, c := range f.cfg.Channels {
		if c == event.ChatMessage.Channel {
			return Pass, nil
		}
	}
	return Reject, nil
}

// --- user_role_filter ---

type userRoleFilterConfig struct {
	Roles []string `json:"roles"`
}

type userRoleFilter struct {
	cfg userRoleFilterConfig
}

func (f *userRoleFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("user_role_filter: %w", err)
	}
	return nil
}

func (f *userRoleFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	if event.Kind != eventbus.KindChatMessage || services == nil || services.Identities == nil {
		return Reject, nil
	}
	identity, err := services.Identities.GetIdentity(ctx, event.ChatMessage.Platform, event.ChatMessage.User)
	if err != nil {
		return Reject, nil
	}
	for _, want := range f.cfg.Roles {
		for _, has := range identity.Roles {
			if want == has {
				return Pass, nil
			}
		}
	}
	return Reject, nil
}

// --- user_level_filter ---

type userLevelFilterConfig struct {
	MinLevel float64 `json:"min_level"`
}

type userLevelFilter struct {
	cfg userLevelFilterConfig
}

func (f *userLevelFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("user_level_filter: %w", err)
	}
	return nil
}

func (f *userLevelFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	if event.Kind != eventbus.KindChatMessage || services == nil || services.Identities == nil {
		return Reject, nil
	}
	identity, err := services.Identities.GetIdentity(ctx, event.ChatMessage.Platform, event.ChatMessage.User)
	if err != nil {
		return Reject, nil
	}
	level, _ := identity.Data["level"].(float64)
	return boolResult(level >= f.cfg.MinLevel), nil
}

// --- message_pattern_filter ---

type messagePatternFilterConfig struct {
	Pattern string `json:"pattern"`
}

type messagePatternFilter struct {
	cfg messagePatternFilterConfig
	re  *regexp.Regexp
}

func (f *messagePatternFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("message_pattern_filter: %w", err)
	}
	re, err := regexp.Compile(f.cfg.Pattern)
	if err != nil {
		return fmt.Errorf("message_pattern_filter: invalid pattern: %w", err)
	}
	f.re = re
	return nil
}

func (f *messagePatternFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	if event.Kind != eventbus.KindChatMessage {
		return Reject, nil
	}
	return boolResult(f.re.MatchString(event.ChatMessage.Text)), nil
}

// --- message_length_filter ---

type messageLengthFilterConfig struct {
	Min int `json:"min"`
	Max int `json:"max"` // 0 means unbounded
}

type messageLengthFilter struct {
	cfg messageLengthFilterConfig
}

func (f *messageLengthFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("message_length_filter: %w", err)
	}
	return nil
}

func (f *messageLengthFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	if event.Kind != eventbus.KindChatMessage {
		return Reject, nil
	}
	n := len(event.ChatMessage.Text)
	if n < f.cfg.Min {
		return Reject, nil
	}
	if f.cfg.Max > 0 && n > f.cfg.Max {
		return Reject, nil
	}
	return Pass, nil
}

// --- time_window_filter ---

type timeWindowFilterConfig struct {
	StartMinute int `json:"start_minute"` // minutes since local midnight
	EndMinute   int `json:"end_minute"`
}

type timeWindowFilter struct {
	cfg timeWindowFilterConfig
	now func() time.Time
}

func (f *timeWindowFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("time_window_filter: %w", err)
	}
	f.now = time.Now
	return nil
}

func (f *timeWindowFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	t := f.now()
	minute := t.Hour()*60 + t.Minute()

	start, end := f.cfg.StartMinute, f.cfg.EndMinute
	if start <= end {
		return boolResult(minute >= start && minute < end), nil
	}
	// Window wraps past midnight, e.g. 22:00-02:00.
	return boolResult(minute >= start || minute < end), nil
}

// --- cooldown_filter ---

type cooldownFilterConfig struct {
	Seconds int    `json:"seconds"`
	Scope   string `json:"scope"` // "user", "channel", or "global"
}

// cooldownFilter is inherently stateful (it tracks last-trigger times),
// unlike most filters, which are pure over their config and the event;
// cooldowns are the one built-in filter that must remember prior events
// to function at all. State lives on the instance and resets when the
// pipeline reloads.
type cooldownFilter struct {
	cfg  cooldownFilterConfig
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func (f *cooldownFilter) Configure(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &f.cfg); err != nil {
		return fmt.Errorf("cooldown_filter: %w", err)
	}
	if f.cfg.Scope == "" {
		f.cfg.Scope = "global"
	}
	f.last = make(map[string]time.Time)
	f.now = time.Now
	return nil
}

func (f *cooldownFilter) Apply(ctx context.Context, event eventbus.Event, services *Services) (FilterResult, error) {
	if event.Kind != eventbus.KindChatMessage {
		return Reject, nil
	}

	key := "global"
	switch f.cfg.Scope {
	case "user":
		key = event.ChatMessage.User
	case "channel":
		key = event.ChatMessage.Channel
	}

	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.last[key]; ok && now.Sub(last) < time.Duration(f.cfg.Seconds)*time.Second {
		return Reject, nil
	}
	f.last[key] = now
	return Pass, nil
}
