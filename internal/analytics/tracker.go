// Package analytics sends fire-and-forget notifications about scoring,
// funnel and dispatch activity. Failures are logged, never returned.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Notification names.
const (
	EventScoreUpdated      = "lead_score_updated"
	EventFunnelProgression = "funnel_progression"
	EventWorkflowDispatch  = "workflow_dispatched"
	EventWorkflowDelivered = "workflow_delivered"
	EventAlertRaised       = "alert_raised"
)

// Params are the notification attributes.
type Params map[string]any

// SessionID returns the session_id param, if any.
func (p Params) SessionID() string {
	if v, ok := p["session_id"].(string); ok {
		return v
	}
	return ""
}

// JSON encodes the params; encoding errors yield "{}".
func (p Params) JSON() string {
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Tracker receives notifications. Implementations must not block the
// caller on network I/O and must swallow errors.
type Tracker interface {
	Track(ctx context.Context, name string, params Params)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Track(context.Context, string, Params) {}

// Publisher writes a keyed message to a named stream.
type Publisher interface {
	Publish(ctx context.Context, name, key string, v any) error
}

// TopicAnalytics is the producer stream used by KafkaTracker.
const TopicAnalytics = "analytics"

type message struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Params    Params    `json:"params"`
}

// KafkaTracker publishes notifications through an async producer.
type KafkaTracker struct {
	pub    Publisher
	onDrop func(n int)
}

func NewKafkaTracker(pub Publisher) *KafkaTracker {
	return &KafkaTracker{pub: pub}
}

// OnDrop registers a callback for notifications the producer rejected.
func (k *KafkaTracker) OnDrop(fn func(n int)) {
	k.onDrop = fn
}

func (k *KafkaTracker) Track(ctx context.Context, name string, params Params) {
	msg := message{Name: name, Timestamp: time.Now().UTC(), Params: params}
	if err := k.pub.Publish(context.WithoutCancel(ctx), TopicAnalytics, params.SessionID(), msg); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("Failed to publish analytics event")
		if k.onDrop != nil {
			k.onDrop(1)
		}
	}
}

// New returns the tracker for sink. ch and pub may be nil unless their
// sink is selected.
func New(sink string, ch Tracker, pub Publisher) (Tracker, error) {
	switch sink {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("analytics: clickhouse sink requires a connection")
		}
		return ch, nil
	case "kafka":
		if pub == nil {
			return nil, fmt.Errorf("analytics: kafka sink requires a producer")
		}
		return NewKafkaTracker(pub), nil
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("analytics: unsupported sink %q", sink)
	}
}
