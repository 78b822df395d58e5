package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/engine"
	"github.com/gosight/gosight/leadflow/internal/enricher"
	"github.com/gosight/gosight/leadflow/internal/event"
)

// MessageProcessor handles one decoded message.
type MessageProcessor interface {
	Process(ctx context.Context, raw map[string]interface{}) error
}

// Applier applies an event to a session.
type Applier interface {
	Apply(ctx context.Context, sessionID string, e event.Event) (engine.Result, error)
}

// EventProcessor enriches raw events and feeds them to the engine.
type EventProcessor struct {
	engine   Applier
	enricher *enricher.Enricher
}

func NewEventProcessor(en Applier, e *enricher.Enricher) *EventProcessor {
	return &EventProcessor{engine: en, enricher: e}
}

// Process applies a raw event. Upstream producers may attach user_agent
// and client_ip for enrichment.
func (p *EventProcessor) Process(ctx context.Context, raw map[string]interface{}) error {
	if p.enricher != nil {
		ua, _ := raw["user_agent"].(string)
		ip, _ := raw["client_ip"].(string)
		p.enricher.Enrich(raw, ua, ip)
	}

	e, err := event.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse event: %w", err)
	}
	if e.SessionID == "" {
		return engine.ErrEmptySessionID
	}
	if _, err := p.engine.Apply(ctx, e.SessionID, e); err != nil {
		return fmt.Errorf("apply event %s: %w", e.ID, err)
	}
	return nil
}

// KafkaConsumer consumes messages from Kafka
type KafkaConsumer struct {
	reader    *kafka.Reader
	processor MessageProcessor
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic("events", "leadflow.events"),
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
	}
}

// Start begins consuming messages
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group", c.reader.Config().GroupID).
		Msg("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Kafka consumer stopped")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			c.handle(ctx, msg.Value)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit message")
			}
		}
	}
}

// handle decodes and processes one message. Bad messages are logged and
// committed so the partition does not get stuck.
func (c *KafkaConsumer) handle(ctx context.Context, value []byte) {
	var raw map[string]interface{}
	if err := json.Unmarshal(value, &raw); err != nil {
		log.Error().
			Err(err).
			Str("value", string(value)).
			Msg("Failed to parse message")
		return
	}

	if err := c.processor.Process(ctx, raw); err != nil {
		log.Error().
			Err(err).
			Interface("event", raw).
			Msg("Failed to process event")
	}
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	return c.reader.Close()
}
