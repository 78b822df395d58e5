package event

import (
	"errors"
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		name string
		want Type
	}{
		{"page_view", TypePageView},
		{"EVENT_TYPE_PAGE_VIEW", TypePageView},
		{"phone_call_click", TypePhoneClick},
		{"phone_click", TypePhoneClick},
		{"contact_form_submit", TypeFormSubmit},
		{" Scroll_Depth ", TypeScrollDepth},
		{"performance", TypePageLoad},
		{"javascript_error", TypeJSError},
		{"video_play", TypeUnknown},
	}
	for _, tt := range tests {
		if got := ParseType(tt.name); got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestNewCopiesAttributes(t *testing.T) {
	attrs := map[string]any{"path": "/blog/textile-restoration"}
	e := New("s1", "page_view", time.Time{}, attrs)
	attrs["path"] = "/changed"

	pv, err := e.PageView()
	if err != nil {
		t.Fatalf("PageView error: %v", err)
	}
	if pv.Path != "/blog/textile-restoration" {
		t.Errorf("Path = %q, want original value", pv.Path)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp should default to now")
	}
	if e.ID == "" {
		t.Error("ID should be generated")
	}
}

func TestUnknownTypeKeepsName(t *testing.T) {
	e := New("s1", "video_play", time.Now(), nil)
	if e.Known() {
		t.Error("Known() = true, want false")
	}
	if e.Kind() != "video_play" {
		t.Errorf("Kind() = %q, want video_play", e.Kind())
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil for unknown type", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	scroll := New("s1", "scroll_depth", time.Now(), map[string]any{"depth": "75%"})
	sd, err := scroll.ScrollDepth()
	if err != nil {
		t.Fatalf("ScrollDepth error: %v", err)
	}
	if sd.Depth != 75 {
		t.Errorf("Depth = %d, want 75", sd.Depth)
	}

	hover := New("s1", "hover", time.Now(), map[string]any{"target": "service_card", "duration_ms": float64(2500)})
	h, err := hover.Hover()
	if err != nil {
		t.Fatalf("Hover error: %v", err)
	}
	if h.Target != "service_card" || h.DurationMs != 2500 {
		t.Errorf("Hover = %+v", h)
	}

	if _, err := hover.Click(); !errors.Is(err, ErrWrongType) {
		t.Errorf("Click() on hover error = %v, want ErrWrongType", err)
	}

	load := New("s1", "page_load", time.Now(), map[string]any{"load_time_ms": float64(812)})
	pl, err := load.PageLoad()
	if err != nil || pl.LoadTimeMs != 812 {
		t.Errorf("PageLoad = %+v, %v", pl, err)
	}
	if err := New("s1", "page_load", time.Now(), nil).Validate(); !errors.Is(err, ErrMissingAttribute) {
		t.Errorf("page_load without timing Validate() = %v, want ErrMissingAttribute", err)
	}
}

func TestMissingAttribute(t *testing.T) {
	e := New("s1", "scroll_depth", time.Now(), nil)
	if err := e.Validate(); !errors.Is(err, ErrMissingAttribute) {
		t.Errorf("Validate() = %v, want ErrMissingAttribute", err)
	}

	bad := New("s1", "time_on_page", time.Now(), map[string]any{"seconds": []int{1}})
	if _, err := bad.TimeOnPage(); !errors.Is(err, ErrWrongType) {
		t.Errorf("TimeOnPage() = %v, want ErrWrongType", err)
	}
}

func TestParse(t *testing.T) {
	raw := map[string]interface{}{
		"event_id":   "evt-1",
		"type":       "page_view",
		"session_id": "sess-1",
		"timestamp":  float64(1760000000000),
		"page": map[string]interface{}{
			"path":     "/services/document-restoration",
			"referrer": "https://www.google.com/",
		},
		"payload": map[string]interface{}{
			"content_type": "documentRestoration",
		},
		"device": "mobile",
	}

	e, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if e.ID != "evt-1" || e.SessionID != "sess-1" {
		t.Errorf("ids = %q/%q", e.ID, e.SessionID)
	}
	if !e.Timestamp.Equal(time.UnixMilli(1760000000000)) {
		t.Errorf("Timestamp = %v", e.Timestamp)
	}
	pv, err := e.PageView()
	if err != nil {
		t.Fatalf("PageView error: %v", err)
	}
	if pv.ContentType != "documentRestoration" || pv.Referrer != "https://www.google.com/" {
		t.Errorf("PageView = %+v", pv)
	}
	if e.Attributes.StringOr(AttrDevice, "") != "mobile" {
		t.Errorf("device attribute not folded in: %v", e.Attributes)
	}
}

func TestParseRequiresType(t *testing.T) {
	if _, err := Parse(map[string]interface{}{"session_id": "s"}); !errors.Is(err, ErrNoType) {
		t.Errorf("Parse error = %v, want ErrNoType", err)
	}
}
