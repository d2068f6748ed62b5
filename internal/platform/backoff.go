package platform

import "time"

// Backoff produces the doubling-with-cap reconnect delay sequence: 1s,
// 2s, 4s, 8s, 16s, 32s, 60s, 60s, ... Reset restarts the sequence at 1s.
// Not safe for concurrent use; each runtime's connection loop owns its
// own Backoff.
type Backoff struct {
	Base    time.Duration
	Cap     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff with the spec's defaults.
func NewBackoff() *Backoff {
	return &Backoff{Base: time.Second, Cap: 60 * time.Second}
}

// Next returns the next delay in the sequence and advances it.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Base
		return b.current
	}
	b.current *= 2
	if b.current > b.Cap {
		b.current = b.Cap
	}
	return b.current
}

// Reset restarts the sequence; called after a successful connect.
func (b *Backoff) Reset() {
	b.current = 0
}
