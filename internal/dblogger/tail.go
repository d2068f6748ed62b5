// Package dblogger implements a bus-subscribing batching tail: every chat
// message observed on the event bus is accumulated and flushed to
// persistent storage in batches, either when the buffer fills or on a
// periodic interval, whichever comes first. Grounded
// on api_sidecar/internal/handlers/decklog.go's DecklogClient (buffered
// slice, flush-on-full via processEvents, flush-on-interval via
// startFlushTimer's self-rearming timer), adapted from a package-global
// singleton into an explicit, dependency-injected Tail. The optional
// secondary export sink mirrors pkg/kafka/producer.go's PublishBatch.
package dblogger

import (
	"context"
	"strings"
	"sync"
	"time"

	"chatbroker/internal/eventbus"
	"chatbroker/internal/logging"
	"chatbroker/internal/metrics"
	"chatbroker/internal/models"
)

const (
	// DefaultBatchSize is the buffer depth at which a flush is forced.
	DefaultBatchSize = 50
	// DefaultFlushInterval is how often a partial batch is flushed even if
	// it never fills, bounding how stale the persisted tail can get.
	DefaultFlushInterval = 5 * time.Second
)

// Store is the durable sink every batch lands in, satisfied by
// internal/repository/postgres.Store. Declared locally, following
// internal/pipeline/services.go's pattern, so dblogger never imports the
// postgres package directly.
type Store interface {
	InsertMessageBatch(ctx context.Context, msgs []models.CachedMessage) error
}

// ExportSink is an optional secondary sink a batch is mirrored to after the
// durable write, for analytics pipelines that live outside Postgres. A nil
// ExportSink disables export entirely.
type ExportSink interface {
	PublishBatch(batch any) error
}

// exportBatch is the payload handed to ExportSink.PublishBatch.
type exportBatch struct {
	Events []models.CachedMessage `json:"events"`
}

// Config configures a Tail.
type Config struct {
	Bus           *eventbus.Bus
	Store         Store
	Export        ExportSink
	BatchSize     int
	FlushInterval time.Duration
	Logger        logging.Logger
	Metrics       *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	return c
}

// Tail batches chat messages observed on the bus and flushes them to Store
// (and, if configured, Export). The zero value is not usable; construct
// with New.
type Tail struct {
	cfg Config

	mu  sync.Mutex
	buf []models.CachedMessage

	flushNow chan struct{}
}

// New constructs a Tail. It does not start consuming events until Run is
// called.
func New(cfg Config) *Tail {
	cfg = cfg.withDefaults()
	return &Tail{
		cfg:      cfg,
		buf:      make([]models.CachedMessage, 0, cfg.BatchSize),
		flushNow: make(chan struct{}, 1),
	}
}

// FlushNow requests an out-of-band flush of whatever is currently
// buffered, independent of the batch-size and interval triggers. Safe to
// call before Run starts or after it returns; the request is simply
// dropped if nothing is listening.
func (t *Tail) FlushNow() {
	select {
	case t.flushNow <- struct{}{}:
	default:
	}
}

// Run subscribes to the bus and batches every chat message event until ctx
// is canceled or the bus shuts down, flushing on buffer-full, on
// FlushInterval, and on explicit FlushNow. It performs one final drain of
// any remaining buffered messages before returning, so no message observed
// before shutdown is lost.
func (t *Tail) Run(ctx context.Context) {
	events, unsubscribe := t.cfg.Bus.Subscribe(256)
	defer unsubscribe()

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.flush(context.Background())
			return
		case <-t.cfg.Bus.ShutdownSignal().Done():
			t.flush(context.Background())
			return
		case event, ok := <-events:
			if !ok {
				t.flush(context.Background())
				return
			}
			if event.Kind != eventbus.KindChatMessage || event.ChatMessage == nil {
				continue
			}
			t.append(ctx, *event.ChatMessage)
		case <-ticker.C:
			t.flush(ctx)
		case <-t.flushNow:
			t.flush(ctx)
		}
	}
}

// append buffers m, forcing an immediate flush if the buffer is now full.
func (t *Tail) append(ctx context.Context, m eventbus.ChatMessage) {
	t.mu.Lock()
	t.buf = append(t.buf, models.CachedMessage{
		Platform:  m.Platform,
		Channel:   m.Channel,
		UserID:    m.User,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		Tokens:    estimateTokens(m.Text),
	})
	full := len(t.buf) >= t.cfg.BatchSize
	t.mu.Unlock()

	if full {
		t.flush(ctx)
	}
}

// flush swaps out the current buffer and sends it to Store and Export. A
// flush with nothing buffered is a no-op, matching api_control's
// flushBatch early return.
func (t *Tail) flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.buf) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.buf
	t.buf = make([]models.CachedMessage, 0, t.cfg.BatchSize)
	t.mu.Unlock()

	t.send(ctx, batch)
}

func (t *Tail) send(ctx context.Context, batch []models.CachedMessage) {
	if t.cfg.Store != nil {
		err := t.cfg.Store.InsertMessageBatch(ctx, batch)
		t.observe("postgres", len(batch), err)
		if err != nil && t.cfg.Logger != nil {
			t.cfg.Logger.WithFields(logging.Fields{"batch_size": len(batch)}).
				WithError(err).Error("dblogger: failed to flush batch to storage")
		}
	}

	if t.cfg.Export != nil {
		err := t.cfg.Export.PublishBatch(exportBatch{Events: batch})
		t.observe("export", len(batch), err)
		if err != nil && t.cfg.Logger != nil {
			t.cfg.Logger.WithFields(logging.Fields{"batch_size": len(batch)}).
				WithError(err).Warn("dblogger: failed to publish batch to export sink")
		}
	}
}

func (t *Tail) observe(sink string, size int, err error) {
	if t.cfg.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.cfg.Metrics.DBLoggerFlushes.WithLabelValues(sink, outcome).Inc()
	if err == nil {
		t.cfg.Metrics.DBLoggerBatchSize.Observe(float64(size))
	}
}

// estimateTokens is a cheap word-count heuristic, adequate for the rolling
// per-user token budget used for context-window trimming; it does not need to match any
// particular model's tokenizer.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}
