// Package messagecache implements a fixed-capacity ring of recent chat
// messages: a single-writer/many-reader ring buffer plus a sharded
// per-user secondary index. Grounded on
// api_realtime/internal/websocket/hub.go's RWMutex discipline; the shard
// map follows the same "lock only while mutating the map itself" shape as
// pkg/clients/foghorn/pool.go.
package messagecache

import (
	"hash/fnv"
	"sync"
	"time"

	"chatbroker/internal/metrics"
	"chatbroker/internal/models"
)

const shardCount = 32

// Options configures a Cache.
type Options struct {
	Capacity           int           // ring slot count, default 10000
	MaxMessagesPerUser int           // per-user secondary index cap, default 500
	MaxAge             time.Duration // 0 disables age-based trimming
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 10000
	}
	if o.MaxMessagesPerUser <= 0 {
		o.MaxMessagesPerUser = 500
	}
	return o
}

type slot struct {
	msg        models.CachedMessage
	generation uint64
	occupied   bool
}

type userRef struct {
	index      int
	generation uint64
}

type userShard struct {
	mu  sync.Mutex
	idx map[string][]userRef
}

// Cache is the message ring plus per-user index. The zero value is not
// usable; construct with New.
type Cache struct {
	opts Options

	ringMu     sync.RWMutex
	slots      []slot
	head       int // next write position
	size       int // valid entry count
	generation uint64

	shards  [shardCount]*userShard
	metrics *metrics.Metrics
}

// New constructs a Cache with the given options.
func New(opts Options, m *metrics.Metrics) *Cache {
	opts = opts.withDefaults()
	c := &Cache{
		opts:    opts,
		slots:   make([]slot, opts.Capacity),
		metrics: m,
	}
	for i := range c.shards {
		c.shards[i] = &userShard{idx: make(map[string][]userRef)}
	}
	return c
}

func (c *Cache) shardFor(userID string) *userShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return c.shards[h.Sum32()%shardCount]
}

// Insert adds msg to the ring, overwriting the oldest entry if the ring is
// full, then updates the inserting user's secondary index. If MaxAge is
// configured, stale entries are trimmed from the tail and swept from user
// indexes after the insert.
func (c *Cache) Insert(msg models.CachedMessage) {
	c.ringMu.Lock()
	pos := c.head
	c.slots[pos] = slot{msg: msg, generation: c.generation, occupied: true}
	c.generation++
	c.head = (c.head + 1) % len(c.slots)
	if c.size < len(c.slots) {
		c.size++
	}
	gen := c.slots[pos].generation
	ringSize := c.size
	c.ringMu.Unlock()

	if c.metrics != nil {
		c.metrics.MessageCacheSize.Set(float64(ringSize))
	}

	shard := c.shardFor(msg.UserID)
	shard.mu.Lock()
	list := append(shard.idx[msg.UserID], userRef{index: pos, generation: gen})
	if len(list) > c.opts.MaxMessagesPerUser {
		list = list[len(list)-c.opts.MaxMessagesPerUser:]
	}
	shard.idx[msg.UserID] = list
	shard.mu.Unlock()

	if c.opts.MaxAge > 0 {
		c.trimByAge(time.Now())
	}
}

// trimByAge pops expired entries from the tail under the ring lock, then
// sweeps user indexes to drop references to slots that are no longer in
// the valid window (either overwritten or aged out).
func (c *Cache) trimByAge(now time.Time) {
	cutoff := now.Add(-c.opts.MaxAge)

	c.ringMu.Lock()
	for c.size > 0 {
		tail := c.tailLocked()
		s := c.slots[tail]
		if !s.occupied || s.msg.Timestamp.After(cutoff) || s.msg.Timestamp.Equal(cutoff) {
			break
		}
		c.slots[tail] = slot{}
		c.size--
	}
	c.ringMu.Unlock()

	c.sweepUserIndexes()
}

// tailLocked returns the index of the oldest valid entry. Caller must hold
// ringMu.
func (c *Cache) tailLocked() int {
	if c.size == len(c.slots) {
		return c.head
	}
	return (c.head - c.size + len(c.slots)) % len(c.slots)
}

// sweepUserIndexes removes indexes from every user's list whose slot
// generation no longer matches the ring (i.e. the slot was overwritten or
// cleared), so that after any sequence of inserts and trims every index
// in a user list still maps to a slot whose user_id equals that user.
func (c *Cache) sweepUserIndexes() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for userID, refs := range shard.idx {
			kept := refs[:0]
			for _, r := range refs {
				c.ringMu.RLock()
				valid := c.slots[r.index].occupied && c.slots[r.index].generation == r.generation
				c.ringMu.RUnlock()
				if valid {
					kept = append(kept, r)
				}
			}
			if len(kept) == 0 {
				delete(shard.idx, userID)
			} else {
				shard.idx[userID] = kept
			}
		}
		shard.mu.Unlock()
	}
}

// Size returns the current number of valid entries in the ring.
func (c *Cache) Size() int {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()
	return c.size
}

// RecentSince returns messages with timestamp >= since, oldest first,
// optionally bounded by an aggregate token count (tokenLimit <= 0 means
// unbounded).
func (c *Cache) RecentSince(since time.Time, tokenLimit int) []models.CachedMessage {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()

	var out []models.CachedMessage
	tokens := 0
	tail := c.tailLocked()
	for i := 0; i < c.size; i++ {
		idx := (tail + i) % len(c.slots)
		s := c.slots[idx]
		if !s.occupied || s.msg.Timestamp.Before(since) {
			continue
		}
		if tokenLimit > 0 && tokens+s.msg.Tokens > tokenLimit {
			break
		}
		out = append(out, s.msg)
		tokens += s.msg.Tokens
	}
	return out
}

// RecentForUser returns up to limit most recent messages for userID,
// oldest first (limit <= 0 means all indexed messages for that user).
func (c *Cache) RecentForUser(userID string, limit int) []models.CachedMessage {
	shard := c.shardFor(userID)
	shard.mu.Lock()
	refs := append([]userRef(nil), shard.idx[userID]...)
	shard.mu.Unlock()

	if limit > 0 && len(refs) > limit {
		refs = refs[len(refs)-limit:]
	}

	c.ringMu.RLock()
	defer c.ringMu.RUnlock()

	out := make([]models.CachedMessage, 0, len(refs))
	for _, r := range refs {
		s := c.slots[r.index]
		if s.occupied && s.generation == r.generation {
			out = append(out, s.msg)
		}
	}
	return out
}
