package plugin

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatbroker/internal/eventbus"
	"chatbroker/internal/pipeline"
)

// fakeRemote is a hand-written RemotePlugin test double, never touching
// the network.
type fakeRemote struct {
	mu        sync.Mutex
	caps      Capabilities
	calls     []string
	pingErr   error
	closed    bool
	invokeOut map[string]any
}

func (f *fakeRemote) Capabilities(ctx context.Context) (Capabilities, error) {
	return f.caps, nil
}

func (f *fakeRemote) Invoke(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
	return f.invokeOut, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func dialerFor(remotes map[string]*fakeRemote) Dialer {
	return func(addr string, timeout time.Duration) (RemotePlugin, error) {
		return remotes[addr], nil
	}
}

func TestRegisterRemoteRegistersAdvertisedTypes(t *testing.T) {
	remote := &fakeRemote{caps: Capabilities{Filters: []string{"profanity_filter"}, Actions: []string{"translate"}}}
	registry := pipeline.NewRegistry()
	host := New(PoolConfig{HealthCheckInterval: time.Hour, MaxIdleTime: time.Hour}, registry, dialerFor(map[string]*fakeRemote{"localhost:9000": remote}))
	defer host.Close()

	if err := host.RegisterRemote(context.Background(), "moderation", "localhost:9000"); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}

	if _, ok := registry.NewFilter("profanity_filter"); !ok {
		t.Fatal("expected profanity_filter to be registered")
	}
	if _, ok := registry.NewAction("translate"); !ok {
		t.Fatal("expected translate action to be registered")
	}
}

func TestRemoteFilterInvokesPooledPlugin(t *testing.T) {
	remote := &fakeRemote{
		caps:      Capabilities{Filters: []string{"profanity_filter"}},
		invokeOut: map[string]any{"pass": true},
	}
	registry := pipeline.NewRegistry()
	host := New(PoolConfig{HealthCheckInterval: time.Hour, MaxIdleTime: time.Hour}, registry, dialerFor(map[string]*fakeRemote{"localhost:9000": remote}))
	defer host.Close()

	if err := host.RegisterRemote(context.Background(), "moderation", "localhost:9000"); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}

	f, _ := registry.NewFilter("profanity_filter")
	if err := f.Configure(nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	event := eventbus.NewChatMessage(eventbus.ChatMessage{Text: "hello"})
	result, err := f.Apply(context.Background(), event, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != pipeline.Pass {
		t.Fatalf("expected Pass, got %v", result)
	}
	if remote.callCount() != 1 {
		t.Fatalf("expected exactly one invoke call, got %d", remote.callCount())
	}
}

func TestInvokeUnknownPluginReturnsError(t *testing.T) {
	registry := pipeline.NewRegistry()
	host := New(PoolConfig{HealthCheckInterval: time.Hour, MaxIdleTime: time.Hour}, registry, dialerFor(nil))
	defer host.Close()

	if _, err := host.Invoke(context.Background(), "missing", "action:foo", nil); err == nil {
		t.Fatal("expected error for unregistered plugin")
	}
}

func TestSweepEvictsUnhealthyConnection(t *testing.T) {
	remote := &fakeRemote{caps: Capabilities{}, pingErr: context.DeadlineExceeded}
	registry := pipeline.NewRegistry()
	host := New(PoolConfig{HealthCheckInterval: time.Hour, MaxIdleTime: time.Hour}, registry, dialerFor(map[string]*fakeRemote{"localhost:9001": remote}))
	defer host.Close()

	if err := host.RegisterRemote(context.Background(), "broken", "localhost:9001"); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}

	host.sweep()

	if _, err := host.Invoke(context.Background(), "broken", "action:foo", nil); err == nil {
		t.Fatal("expected broken plugin to have been evicted by sweep")
	}
	remote.mu.Lock()
	closed := remote.closed
	remote.mu.Unlock()
	if !closed {
		t.Fatal("expected evicted connection to be closed")
	}
}

func TestSweepEvictsIdleConnection(t *testing.T) {
	remote := &fakeRemote{caps: Capabilities{}}
	registry := pipeline.NewRegistry()
	host := New(PoolConfig{HealthCheckInterval: time.Hour, MaxIdleTime: time.Millisecond}, registry, dialerFor(map[string]*fakeRemote{"localhost:9002": remote}))
	defer host.Close()

	if err := host.RegisterRemote(context.Background(), "idle-plugin", "localhost:9002"); err != nil {
		t.Fatalf("RegisterRemote: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	host.sweep()

	if _, err := host.Invoke(context.Background(), "idle-plugin", "action:foo", nil); err == nil {
		t.Fatal("expected idle plugin to have been evicted by sweep")
	}
}
