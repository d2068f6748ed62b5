// Package eventbus is the process-wide broadcast channel: tagged events
// fan out to dynamically-subscribed consumers, each isolated behind its
// own bounded queue so one slow subscriber can never stall another.
// Grounded on
// api_realtime/internal/websocket/hub.go's register/unregister/broadcast
// shape (there, websocket clients; here, typed Go channels), with the
// subscriber map itself grounded on pkg/clients/foghorn/pool.go's
// RWMutex-guarded map of handles.
package eventbus

import (
	"chatbroker/internal/logging"
	"chatbroker/internal/metrics"

	"sync"
)

const defaultBufferSize = 64

// Bus fans Event values out to subscribers. The zero value is not usable;
// construct with New.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Event
	nextID   uint64
	shutdown *ShutdownSignal
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// New creates a Bus. logger and m may be nil in tests.
func New(logger logging.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		subs:     make(map[uint64]chan Event),
		shutdown: NewShutdownSignal(),
		logger:   logger,
		metrics:  m,
	}
}

// Subscribe returns a receive-only channel of bufferSize capacity (0 uses
// the default) and an unsubscribe function. The returned channel is closed
// by unsubscribe; callers must stop reading once they call it.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	ch := make(chan Event, bufferSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	count := len(b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusSubscribers.Set(float64(count))
	}

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		remaining := len(b.subs)
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.BusSubscribers.Set(float64(remaining))
		}
	}
	return ch, unsubscribe
}

// Publish fans event out to every current subscriber. A full
// subscriber queue causes the event to be dropped for that subscriber only;
// Publish never blocks beyond a bounded, non-blocking send attempt per
// subscriber. Publishing after Shutdown is a no-op.
func (b *Bus) Publish(event Event) {
	if b.shutdown.IsShutdown() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.metrics != nil {
				b.metrics.BusEventsDropped.WithLabelValues(string(event.Kind)).Inc()
			}
			if b.logger != nil {
				b.logger.WithFields(logging.Fields{
					"subscriber": id,
					"kind":       event.Kind,
				}).Warn("event bus: dropping event for slow subscriber")
			}
		}
	}
	if b.metrics != nil {
		b.metrics.BusEventsPublished.WithLabelValues(string(event.Kind)).Inc()
	}
}

// Shutdown marks the bus shut down. Idempotent. Existing subscriber
// channels are left open (callers should select against ShutdownSignal to
// know when to stop reading and unsubscribe themselves).
func (b *Bus) Shutdown() {
	b.shutdown.Shutdown()
}

// ShutdownSignal returns the observer consumers select against alongside
// their receiver channel.
func (b *Bus) ShutdownSignal() *ShutdownSignal {
	return b.shutdown
}

// SubscriberCount reports the current number of active subscribers, used
// by tests and the operator HTTP surface.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
