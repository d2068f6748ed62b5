package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"chatbroker/internal/logging"
)

// RedisMirror republishes locally-published events onto a Redis channel so
// a second process (e.g. a horizontally-scaled plugin host) can observe
// them, and forwards remotely-published events back into the local Bus.
// This is an optional enrichment beyond the in-process bus, which remains
// authoritative and is never bypassed; the mirror only widens its reach.
// Grounded on pkg/redis/pubsub.go's TypedPubSub[T].
type RedisMirror struct {
	client  goredis.UniversalClient
	channel string
	logger  logging.Logger
}

// wireEvent is the JSON shape published to Redis. Event itself is not
// directly JSON-friendly (it mixes pointer payload fields keyed by Kind),
// so the mirror flattens it.
type wireEvent struct {
	Kind                 Kind                  `json:"kind"`
	ChatMessage          *ChatMessage          `json:"chat_message,omitempty"`
	SystemMessage        *SystemMessage        `json:"system_message,omitempty"`
	PlatformSubscription *PlatformSubscription `json:"platform_subscription,omitempty"`
}

// NewRedisMirror wires client to channel for the given logger.
func NewRedisMirror(client goredis.UniversalClient, channel string, logger logging.Logger) *RedisMirror {
	return &RedisMirror{client: client, channel: channel, logger: logger}
}

// Publish marshals event and publishes it to the mirror channel. Errors are
// logged, never returned to the bus's Publish caller — the event bus never
// surfaces publish errors.
func (m *RedisMirror) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(wireEvent{
		Kind:                 event.Kind,
		ChatMessage:          event.ChatMessage,
		SystemMessage:        event.SystemMessage,
		PlatformSubscription: event.PlatformSubscription,
	})
	if err != nil {
		if m.logger != nil {
			m.logger.WithError(err).Error("redis mirror: marshal event")
		}
		return
	}
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		if m.logger != nil {
			m.logger.WithError(err).Error("redis mirror: publish")
		}
	}
}

// Subscribe blocks, relaying remote events from the mirror channel into
// local until ctx is cancelled.
func (m *RedisMirror) Subscribe(ctx context.Context, local *Bus) error {
	sub := m.client.Subscribe(ctx, m.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis mirror: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				if m.logger != nil {
					m.logger.WithError(err).Error("redis mirror: unmarshal event")
				}
				continue
			}
			local.Publish(Event{
				Kind:                 we.Kind,
				ChatMessage:          we.ChatMessage,
				SystemMessage:        we.SystemMessage,
				PlatformSubscription: we.PlatformSubscription,
			})
		}
	}
}
