package eventbus

import (
	"time"

	"chatbroker/internal/models"
)

// Kind discriminates the closed set of event variants the bus carries.
type Kind string

const (
	KindChatMessage          Kind = "chat_message"
	KindTick                 Kind = "tick"
	KindSystemMessage        Kind = "system_message"
	KindPlatformSubscription Kind = "platform_subscription"
)

// ChatMessage is published whenever a platform runtime observes an inbound
// chat message. User is always the platform's canonical lowercase id.
type ChatMessage struct {
	Platform  models.Platform
	Channel   string
	User      string
	Text      string
	Timestamp time.Time
}

// SystemMessage carries a free-text operational notice (e.g. a runtime
// connect/disconnect notification).
type SystemMessage struct {
	Text string
}

// PlatformSubscription carries an opaque platform subscription/redemption
// payload (e.g. a Twitch sub event) that the pipeline engine and plugin
// host can both react to without the bus knowing its shape.
type PlatformSubscription struct {
	Platform models.Platform
	Payload  map[string]any
}

// Event is the tagged union the bus fans out. Exactly one payload field is
// populated, selected by Kind; Tick carries no payload.
type Event struct {
	Kind                 Kind
	ChatMessage          *ChatMessage
	SystemMessage        *SystemMessage
	PlatformSubscription *PlatformSubscription
}

// NewChatMessage builds a Kind-tagged ChatMessage event.
func NewChatMessage(m ChatMessage) Event {
	return Event{Kind: KindChatMessage, ChatMessage: &m}
}

// NewTick builds a Tick event.
func NewTick() Event {
	return Event{Kind: KindTick}
}

// NewSystemMessage builds a Kind-tagged SystemMessage event.
func NewSystemMessage(text string) Event {
	return Event{Kind: KindSystemMessage, SystemMessage: &SystemMessage{Text: text}}
}

// NewPlatformSubscription builds a Kind-tagged PlatformSubscription event.
func NewPlatformSubscription(p models.Platform, payload map[string]any) Event {
	return Event{Kind: KindPlatformSubscription, PlatformSubscription: &PlatformSubscription{Platform: p, Payload: payload}}
}
