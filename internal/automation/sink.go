// Package automation delivers workflow payloads to the CRM.
package automation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/workflow"
)

// Publisher writes a keyed message to a named stream.
type Publisher interface {
	Publish(ctx context.Context, name, key string, v any) error
}

// TopicAutomation is the producer stream used by KafkaSink.
const TopicAutomation = "automation"

// KafkaSink hands payloads to a downstream CRM connector over Kafka. The
// publisher must be synchronous for failures to reach the fallback store.
type KafkaSink struct {
	pub Publisher
}

func NewKafkaSink(pub Publisher) *KafkaSink {
	return &KafkaSink{pub: pub}
}

func (k *KafkaSink) Send(ctx context.Context, p workflow.Payload) error {
	if err := k.pub.Publish(ctx, TopicAutomation, p.SessionID, p); err != nil {
		return fmt.Errorf("publish automation %s: %w", p.WorkflowID, err)
	}
	return nil
}

// LogSink only logs payloads. It never fails.
type LogSink struct{}

func (LogSink) Send(_ context.Context, p workflow.Payload) error {
	log.Info().
		Str("workflow_id", p.WorkflowID).
		Str("automation_id", p.AutomationID).
		Str("session_id", p.SessionID).
		Int("score", p.Score).
		Str("tier", p.Tier).
		Strs("actions", p.Actions).
		Msg("Automation triggered")
	return nil
}

// New builds the sink selected by cfg.Sink. pub may be nil unless the kafka
// sink is selected.
func New(cfg config.AutomationConfig, pub Publisher) (workflow.Sink, error) {
	switch cfg.Sink {
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("automation: http sink requires endpoint")
		}
		return NewHTTPSink(cfg), nil
	case "kafka":
		if pub == nil {
			return nil, fmt.Errorf("automation: kafka sink requires a producer")
		}
		return NewKafkaSink(pub), nil
	case "log", "":
		return LogSink{}, nil
	default:
		return nil, fmt.Errorf("automation: unsupported sink %q", cfg.Sink)
	}
}
