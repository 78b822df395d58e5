package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/leadflow/internal/config"
)

// Topic names a logical stream and how it is written.
type Topic struct {
	Name string
	// Async writers never report delivery errors to the caller.
	Async bool
}

// KafkaProducer publishes JSON messages to named topics.
type KafkaProducer struct {
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates one writer per topic. The Kafka topic is taken
// from cfg.Topics[name], defaulting to "leadflow.<name>".
func NewKafkaProducer(cfg config.KafkaConfig, topics ...Topic) *KafkaProducer {
	writers := make(map[string]*kafka.Writer, len(topics))

	for _, t := range topics {
		writers[t.Name] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic(t.Name, "leadflow."+t.Name),
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
			RequiredAcks: kafka.RequireOne,
			Async:        t.Async,
		}
	}

	return &KafkaProducer{writers: writers}
}

// Publish encodes v as JSON and writes it keyed by key. Messages sharing a
// key land on the same partition.
func (p *KafkaProducer) Publish(ctx context.Context, name, key string, v any) error {
	w, ok := p.writers[name]
	if !ok {
		return fmt.Errorf("producer: unknown topic %q", name)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (p *KafkaProducer) Close() error {
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
