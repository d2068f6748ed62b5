package dblogger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes flushed batches to a Kafka topic for analytics
// pipelines that live outside Postgres, implementing ExportSink. Grounded
// on pkg/kafka/producer.go's KafkaProducer: same client options (snappy
// compression, small linger for batching), same marshal-then-ProduceSync
// shape, trimmed to the one topic dblogger needs.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewKafkaSink dials brokers and returns a ready KafkaSink. Close the
// returned sink's client via Close when done.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dblogger"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("dblogger: create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: cfg.Topic}, nil
}

// Close releases the underlying Kafka client.
func (k *KafkaSink) Close() {
	k.client.Close()
}

// PublishBatch implements ExportSink, marshaling batch's events as one
// record per message so downstream consumers can process them
// independently.
func (k *KafkaSink) PublishBatch(batch any) error {
	eb, ok := batch.(exportBatch)
	if !ok {
		return fmt.Errorf("dblogger: kafka sink given unexpected batch type %T", batch)
	}
	if len(eb.Events) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(eb.Events))
	for _, ev := range eb.Events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("dblogger: marshal event for kafka: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(string(ev.Platform) + ":" + ev.Channel),
			Value: value,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := k.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("dblogger: produce batch to kafka: %w", err)
	}
	return nil
}
