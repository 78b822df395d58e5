package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/config"
)

// Pager notifies a human about a critical alert.
type Pager interface {
	Page(ctx context.Context, alert Alert) error
}

// LogPager writes pages to the process log.
type LogPager struct{}

func (LogPager) Page(_ context.Context, alert Alert) error {
	log.Error().
		Str("alert_id", alert.ID).
		Str("type", alert.Type).
		Interface("context", alert.Context).
		Msg("ALERT")
	return nil
}

// Publisher writes a keyed message to a named stream.
type Publisher interface {
	Publish(ctx context.Context, name, key string, v any) error
}

// TopicAlerts is the producer stream used by KafkaPager.
const TopicAlerts = "alerts"

// KafkaPager publishes pages for a downstream alert processor.
type KafkaPager struct {
	pub Publisher
}

func NewKafkaPager(pub Publisher) *KafkaPager {
	return &KafkaPager{pub: pub}
}

func (k *KafkaPager) Page(ctx context.Context, alert Alert) error {
	msg := map[string]interface{}{
		"alert_id":     alert.ID,
		"type":         alert.Type,
		"severity":     alert.Severity,
		"timestamp":    alert.Timestamp,
		"context":      alert.Context,
		"published_at": time.Now().UnixMilli(),
	}
	if err := k.pub.Publish(ctx, TopicAlerts, alert.Type, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// WebhookPager posts the alert as JSON to a URL.
type WebhookPager struct {
	url    string
	client *http.Client
}

func NewWebhookPager(url string, client *http.Client) *WebhookPager {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPager{url: url, client: client}
}

func (w *WebhookPager) Page(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("page %s: %w", alert.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("page %s: unexpected status %d", alert.ID, resp.StatusCode)
	}
	return nil
}

// NewPager returns the pager selected by cfg.Pager. pub may be nil unless
// the kafka pager is selected.
func NewPager(cfg config.AlertsConfig, pub Publisher) (Pager, error) {
	switch cfg.Pager {
	case "log", "":
		return LogPager{}, nil
	case "kafka":
		if pub == nil {
			return nil, fmt.Errorf("alerts: kafka pager requires a producer")
		}
		return NewKafkaPager(pub), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("alerts: webhook pager requires webhook_url")
		}
		return NewWebhookPager(cfg.WebhookURL, nil), nil
	default:
		return nil, fmt.Errorf("alerts: unsupported pager %q", cfg.Pager)
	}
}
