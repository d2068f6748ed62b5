package rpc

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbroker/internal/models"
)

// pendingAuthTTL bounds how long a BeginAuth state token stays
// redeemable, so an abandoned auth flow cannot be completed much later.
const pendingAuthTTL = 10 * time.Minute

type pendingAuth struct {
	platform  models.Platform
	userID    string
	createdAt time.Time
}

// pendingAuthStore correlates BeginAuth's state token to the (platform,
// user) CompleteAuth should attach the resulting credential to, the same
// in-memory TTL-map shape as internal/identity's ttlCache.
type pendingAuthStore struct {
	mu      sync.Mutex
	entries map[string]pendingAuth
}

func newPendingAuthStore() *pendingAuthStore {
	return &pendingAuthStore{entries: make(map[string]pendingAuth)}
}

func (p *pendingAuthStore) begin(plat models.Platform, userID string) string {
	state := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[state] = pendingAuth{platform: plat, userID: userID, createdAt: time.Now()}
	return state
}

func (p *pendingAuthStore) complete(state string) (pendingAuth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[state]
	if !ok {
		return pendingAuth{}, false
	}
	delete(p.entries, state)
	if time.Since(entry.createdAt) > pendingAuthTTL {
		return pendingAuth{}, false
	}
	return entry, true
}
