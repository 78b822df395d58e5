package event

import (
	"errors"
	"time"
)

// ErrNoType is returned by Parse when the raw event carries no type.
var ErrNoType = errors.New("event has no type")

// Parse converts a decoded JSON event into an Event. The event type may be
// unknown; only a missing type is rejected. Attributes come from
// "attributes" or "payload", and page fields are folded in when present.
func Parse(raw map[string]interface{}) (Event, error) {
	name, _ := raw["type"].(string)
	if name == "" {
		return Event{}, ErrNoType
	}

	attrs := make(Attributes)
	for _, key := range []string{"payload", "attributes"} {
		if m, ok := raw[key].(map[string]interface{}); ok {
			for k, v := range m {
				attrs[k] = v
			}
		}
	}

	// Page info
	if page, ok := raw["page"].(map[string]interface{}); ok {
		for _, k := range []string{AttrPath, AttrReferrer, AttrTitle, "url"} {
			if v, ok := page[k]; ok {
				if _, exists := attrs[k]; !exists {
					attrs[k] = v
				}
			}
		}
	}

	// Enriched top-level fields
	for _, k := range []string{AttrDevice, AttrVisitorRegion, AttrReferrer} {
		if v, ok := raw[k].(string); ok && v != "" {
			if _, exists := attrs[k]; !exists {
				attrs[k] = v
			}
		}
	}

	sessionID, _ := raw["session_id"].(string)
	e := New(sessionID, name, parseTimestamp(raw["timestamp"]), attrs)
	if v, ok := raw["event_id"].(string); ok && v != "" {
		e.ID = v
	} else if v, ok := raw["id"].(string); ok && v != "" {
		e.ID = v
	}
	return e, nil
}

// parseTimestamp accepts unix milliseconds or an RFC 3339 string.
func parseTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t))
	case int64:
		return time.UnixMilli(t)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}
