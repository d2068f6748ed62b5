// Package plugin implements the remote plugin host: a remote plugin
// advertises the filter/action type names it implements over a
// lightweight capability-negotiation call, then has its connection
// pooled for subsequent invocation. In-process plugins skip this
// package entirely and register directly against pipeline.Registry.
//
// Connection pooling (lazy-create, idle-evict, periodic health sweep) is
// grounded on pkg/clients/foghorn/pool.go's FoghornPool. The actual
// invocation transport is a small JSON-over-HTTP protocol; it mirrors
// internal/pipeline/actions.go's own net/http+JSON call style for
// platform REST actions.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatbroker/internal/logging"
	"chatbroker/internal/pipeline"
)

// RemotePlugin is a connected remote plugin process. Declared as an
// interface, following this repo's import-cycle-avoidance convention, so
// tests can substitute a fake instead of dialing real HTTP.
type RemotePlugin interface {
	Capabilities(ctx context.Context) (Capabilities, error)
	Invoke(ctx context.Context, method string, payload map[string]any) (map[string]any, error)
	Ping(ctx context.Context) error
	Close() error
}

// Capabilities is what a remote plugin advertises at connect time: the
// filter and action type names it implements.
type Capabilities struct {
	Filters []string `json:"filters"`
	Actions []string `json:"actions"`
}

// Dialer creates a RemotePlugin connected to addr. Production wiring uses
// DialHTTP; tests inject a fake that never touches the network.
type Dialer func(addr string, timeout time.Duration) (RemotePlugin, error)

// PoolConfig configures a Host's pooled remote connections.
type PoolConfig struct {
	Timeout             time.Duration // per-call timeout (default 10s)
	MaxIdleTime         time.Duration // evict connections idle longer than this (default 10m)
	HealthCheckInterval time.Duration // background sweep interval (default 30s)
	Logger              logging.Logger
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxIdleTime == 0 {
		c.MaxIdleTime = 10 * time.Minute
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	return c
}

type poolEntry struct {
	client   RemotePlugin
	addr     string
	lastUsed atomic.Int64 // UnixNano; safe for concurrent access under RLock
}

// Host pools remote plugin connections, registers their advertised filter
// and action types against a pipeline.Registry, and implements
// pipeline.PluginInvoker so plugin_call actions can reach them.
type Host struct {
	mu       sync.RWMutex
	clients  map[string]*poolEntry
	cfg      PoolConfig
	registry *pipeline.Registry
	dial     Dialer
	done     chan struct{}
}

// New creates a Host and starts its background maintenance sweep. dial
// may be nil, in which case DialHTTP is used.
func New(cfg PoolConfig, registry *pipeline.Registry, dial Dialer) *Host {
	cfg = cfg.withDefaults()
	if dial == nil {
		dial = DialHTTP
	}
	h := &Host{
		clients:  make(map[string]*poolEntry),
		cfg:      cfg,
		registry: registry,
		dial:     dial,
		done:     make(chan struct{}),
	}
	go h.maintain()
	return h
}

// RegisterRemote dials addr, queries its capabilities, and registers a
// proxy filter or action factory per advertised type name against the
// shared Registry. The connection is pooled under name for later Invoke
// calls and idle eviction.
func (h *Host) RegisterRemote(ctx context.Context, name, addr string) error {
	client, err := h.getOrCreate(name, addr)
	if err != nil {
		return fmt.Errorf("plugin: dial %s at %s: %w", name, addr, err)
	}

	caps, err := client.Capabilities(ctx)
	if err != nil {
		return fmt.Errorf("plugin: query capabilities for %s: %w", name, err)
	}

	for _, filterType := range caps.Filters {
		filterType := filterType
		h.registry.RegisterFilter(filterType, func() pipeline.Filter {
			return &remoteFilter{host: h, plugin: name, filterType: filterType}
		})
	}
	for _, actionType := range caps.Actions {
		actionType := actionType
		h.registry.RegisterAction(actionType, func() pipeline.Action {
			return &remoteAction{host: h, plugin: name, actionType: actionType}
		})
	}
	return nil
}

// getOrCreate returns the pooled client for name, dialing addr if no
// connection exists yet or if it moved, mirroring FoghornPool.GetOrCreate's
// read-then-write-lock double-check.
func (h *Host) getOrCreate(name, addr string) (RemotePlugin, error) {
	h.mu.RLock()
	if entry, ok := h.clients[name]; ok && entry.addr == addr {
		entry.lastUsed.Store(time.Now().UnixNano())
		h.mu.RUnlock()
		return entry.client, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if entry, ok := h.clients[name]; ok {
		if entry.addr == addr {
			entry.lastUsed.Store(time.Now().UnixNano())
			return entry.client, nil
		}
		_ = entry.client.Close()
		delete(h.clients, name)
	}

	client, err := h.dial(addr, h.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	entry := &poolEntry{client: client, addr: addr}
	entry.lastUsed.Store(time.Now().UnixNano())
	h.clients[name] = entry
	return client, nil
}

// Invoke implements pipeline.PluginInvoker for the plugin_call action,
// proxying to whichever remote plugin is pooled under name.
func (h *Host) Invoke(ctx context.Context, name, method string, payload map[string]any) (map[string]any, error) {
	h.mu.RLock()
	entry, ok := h.clients[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: %q is not registered", name)
	}
	entry.lastUsed.Store(time.Now().UnixNano())
	return entry.client.Invoke(ctx, method, payload)
}

// Close stops the maintenance sweep and closes every pooled connection.
func (h *Host) Close() error {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, entry := range h.clients {
		_ = entry.client.Close()
		delete(h.clients, name)
	}
	return nil
}

func (h *Host) maintain() {
	ticker := time.NewTicker(h.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep evicts connections that fail a health ping or have sat idle
// longer than MaxIdleTime, mirroring FoghornPool.sweep (there, gRPC
// connectivity.State; here, an explicit Ping since RemotePlugin is
// transport-agnostic).
func (h *Host) sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	defer cancel()

	now := time.Now()
	for name, entry := range h.clients {
		if err := entry.client.Ping(ctx); err != nil {
			_ = entry.client.Close()
			delete(h.clients, name)
			if h.cfg.Logger != nil {
				h.cfg.Logger.WithFields(logging.Fields{"plugin": name}).WithError(err).
					Warn("plugin: evicted unhealthy connection")
			}
			continue
		}

		idle := now.Sub(time.Unix(0, entry.lastUsed.Load())) > h.cfg.MaxIdleTime
		if idle {
			_ = entry.client.Close()
			delete(h.clients, name)
			if h.cfg.Logger != nil {
				h.cfg.Logger.WithField("plugin", name).Info("plugin: evicted idle connection")
			}
		}
	}
}
