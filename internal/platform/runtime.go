// Package platform implements one connection state machine per
// (platform, account), supervised with exponential-backoff reconnect,
// coupled to the credential store for pre-connect refresh. Grounded on
// pkg/clients/foghorn/pool.go for the RWMutex-guarded handle map and on
// pkg/clients/signalman/client.go's Connect/readPump/writePump/Close shape
// for the underlying reconnecting transport (internal/platform/txwire).
package platform

import (
	"context"
	"time"

	"chatbroker/internal/credential"
	"chatbroker/internal/models"
)

// InboundMessage is a chat line observed by a Runtime after Connect.
type InboundMessage struct {
	Channel   string
	User      string
	Text      string
	Timestamp time.Time
}

// Runtime is the per-(platform,account) connection a manager supervises.
// Implementations do not retry internally beyond a single attempt; the
// manager's connection loop owns backoff and reconnection.
type Runtime interface {
	Platform() models.Platform

	// Connect dials the platform using cred and returns a channel of
	// inbound chat messages. The channel is closed when the connection is
	// lost, which the manager's read loop treats as a liveness signal
	// triggering reconnect.
	Connect(ctx context.Context, cred credential.PlainCredential) (<-chan InboundMessage, error)

	// Disconnect performs a clean platform-side disconnect. Called both on
	// supervised shutdown and before a reconnect attempt replaces a runtime.
	Disconnect(ctx context.Context) error

	// Send delivers text to channel on the active connection.
	Send(ctx context.Context, channel, text string) error

	// JoinChannel subscribes the active connection to an additional
	// channel (a no-op for platforms without channel-join semantics).
	JoinChannel(ctx context.Context, channel string) error
}

// Factory constructs a fresh, unconnected Runtime for one (platform,
// account) pair.
type Factory func(platform models.Platform, account string) Runtime
