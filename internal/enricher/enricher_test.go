package enricher

import "testing"

const iPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

func TestDeviceType(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{iPhoneUA, "mobile"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "desktop"},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", "bot"},
	}
	for _, tt := range tests {
		if got := DeviceType(tt.ua); got != tt.want {
			t.Errorf("DeviceType(%.30q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestRegionFromPhone(t *testing.T) {
	tests := map[string]string{
		"(202) 555-0100":  "DC",
		"703-555-0100":    "VA",
		"+1 571 555 0100": "VA",
		"301.555.0100":    "MD",
		"2405550100":      "MD",
		"212-555-0100":    "",
		"55":              "",
	}
	for in, want := range tests {
		if got := RegionFromPhone(in); got != want {
			t.Errorf("RegionFromPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentTypeFromPath(t *testing.T) {
	if got := ContentTypeFromPath("/blog/Wedding-Dress-Preservation"); got != "weddingDress" {
		t.Errorf("got %q, want weddingDress", got)
	}
	if got := ContentTypeFromPath("/about"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestEnrich(t *testing.T) {
	e := NewEnricher("")
	defer e.Close()

	raw := map[string]interface{}{
		"type":       "page_view",
		"session_id": "s1",
		"attributes": map[string]interface{}{"path": "/services/art-restoration", "phone": "703 555 0100"},
	}
	e.Enrich(raw, iPhoneUA, "203.0.113.9")

	if raw["device"] != "mobile" {
		t.Errorf("device = %v", raw["device"])
	}
	if raw["visitor_region"] != "VA" {
		t.Errorf("visitor_region = %v", raw["visitor_region"])
	}
	attrs := raw["attributes"].(map[string]interface{})
	if attrs["content_type"] != "artRestoration" {
		t.Errorf("content_type = %v", attrs["content_type"])
	}

	// Client-provided values win.
	raw = map[string]interface{}{"type": "click", "device": "tablet", "visitor_region": "MD"}
	e.Enrich(raw, "Googlebot/2.1", "")
	if raw["device"] != "tablet" || raw["visitor_region"] != "MD" {
		t.Errorf("overwrote client values: %v", raw)
	}
	if _, ok := raw["attributes"]; ok {
		t.Errorf("added empty attributes: %v", raw)
	}
}
