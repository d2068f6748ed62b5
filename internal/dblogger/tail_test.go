package dblogger

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatbroker/internal/eventbus"
	"chatbroker/internal/models"
)

// fakeStore is an in-memory Store recording every batch it receives.
type fakeStore struct {
	mu      sync.Mutex
	batches [][]models.CachedMessage
	err     error
}

func (f *fakeStore) InsertMessageBatch(ctx context.Context, msgs []models.CachedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]models.CachedMessage, len(msgs))
	copy(cp, msgs)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeStore) totalMessages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeExportSink is an in-memory ExportSink.
type fakeExportSink struct {
	mu      sync.Mutex
	batches []exportBatch
}

func (f *fakeExportSink) PublishBatch(batch any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch.(exportBatch))
	return nil
}

func (f *fakeExportSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func publishChat(bus *eventbus.Bus, user, text string) {
	bus.Publish(eventbus.NewChatMessage(eventbus.ChatMessage{
		Platform:  models.PlatformTwitchChat,
		Channel:   "#arcane",
		User:      user,
		Text:      text,
		Timestamp: time.Now(),
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestFlushesOnBatchFull(t *testing.T) {
	bus := eventbus.New(nil, nil)
	store := &fakeStore{}
	tail := New(Config{
		Bus:           bus,
		Store:         store,
		BatchSize:     3,
		FlushInterval: time.Hour, // long enough to not fire during the test
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tail.Run(ctx)

	for i := 0; i < 3; i++ {
		publishChat(bus, "viewer1", "hello")
	}

	waitFor(t, func() bool { return store.totalMessages() == 3 })
	if store.batchCount() != 1 {
		t.Fatalf("expected exactly one flushed batch, got %d", store.batchCount())
	}
}

func TestFlushesOnInterval(t *testing.T) {
	bus := eventbus.New(nil, nil)
	store := &fakeStore{}
	tail := New(Config{
		Bus:           bus,
		Store:         store,
		BatchSize:     100, // never fills during the test
		FlushInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tail.Run(ctx)

	publishChat(bus, "viewer2", "partial batch")

	waitFor(t, func() bool { return store.totalMessages() == 1 })
}

func TestFlushNowFlushesImmediately(t *testing.T) {
	bus := eventbus.New(nil, nil)
	store := &fakeStore{}
	tail := New(Config{
		Bus:           bus,
		Store:         store,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tail.Run(ctx)

	publishChat(bus, "viewer3", "need this now")
	time.Sleep(10 * time.Millisecond) // give the subscriber goroutine a turn to buffer it
	tail.FlushNow()

	waitFor(t, func() bool { return store.totalMessages() == 1 })
}

func TestFinalDrainOnContextCancel(t *testing.T) {
	bus := eventbus.New(nil, nil)
	store := &fakeStore{}
	tail := New(Config{
		Bus:           bus,
		Store:         store,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tail.Run(ctx)
		close(done)
	}()

	publishChat(bus, "viewer4", "leftover")
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	if store.totalMessages() != 1 {
		t.Fatalf("expected the leftover message to be drained, got %d messages", store.totalMessages())
	}
}

func TestExportSinkMirrorsFlushedBatch(t *testing.T) {
	bus := eventbus.New(nil, nil)
	store := &fakeStore{}
	export := &fakeExportSink{}
	tail := New(Config{
		Bus:           bus,
		Store:         store,
		Export:        export,
		BatchSize:     2,
		FlushInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tail.Run(ctx)

	publishChat(bus, "viewer5", "one")
	publishChat(bus, "viewer5", "two")

	waitFor(t, func() bool { return export.count() == 1 })
	if store.batchCount() != 1 {
		t.Fatalf("expected store to also receive the batch, got %d", store.batchCount())
	}
}

func TestEstimateTokensCountsWords(t *testing.T) {
	if got := estimateTokens("gg well played everyone"); got != 4 {
		t.Fatalf("expected 4 tokens, got %d", got)
	}
	if got := estimateTokens("   "); got != 0 {
		t.Fatalf("expected 0 tokens for blank text, got %d", got)
	}
}
