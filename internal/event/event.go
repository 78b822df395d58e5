package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the discriminant of an Event.
type Type string

const (
	TypeUnknown      Type = ""
	TypePageView     Type = "page_view"
	TypeScrollDepth  Type = "scroll_depth"
	TypeTimeOnPage   Type = "time_on_page"
	TypeHover        Type = "hover"
	TypeClick        Type = "click"
	TypeEmergencyCTA Type = "emergency_cta_click"
	TypePhoneClick   Type = "phone_click"
	TypeFormView     Type = "contact_form_view"
	TypeFormFocus    Type = "form_focus"
	TypeFormSubmit   Type = "form_submit"
	TypeFunnel       Type = "funnel"
	TypePageLoad     Type = "page_load"
	TypeJSError      Type = "js_error"
)

// Common attribute keys set by the UI layer or the enricher.
const (
	AttrPath          = "path"
	AttrContentType   = "content_type"
	AttrRegion        = "region"
	AttrReferrer      = "referrer"
	AttrTitle         = "title"
	AttrDepth         = "depth"
	AttrSeconds       = "seconds"
	AttrTarget        = "target"
	AttrDurationMs    = "duration_ms"
	AttrForm          = "form"
	AttrMessage       = "message"
	AttrStage         = "stage"
	AttrName          = "name"
	AttrDevice        = "device"
	AttrVisitorRegion = "visitor_region"
	AttrLoadTimeMs    = "load_time_ms"
)

var known = map[Type]bool{
	TypePageView:     true,
	TypeScrollDepth:  true,
	TypeTimeOnPage:   true,
	TypeHover:        true,
	TypeClick:        true,
	TypeEmergencyCTA: true,
	TypePhoneClick:   true,
	TypeFormView:     true,
	TypeFormFocus:    true,
	TypeFormSubmit:   true,
	TypeFunnel:       true,
	TypePageLoad:     true,
	TypeJSError:      true,
}

// aliases maps alternate names, including EVENT_TYPE_* SDK names, to the
// canonical type.
var aliases = map[string]Type{
	"phone_call_click":       TypePhoneClick,
	"contact_form_submit":    TypeFormSubmit,
	"form_submission":        TypeFormSubmit,
	"scroll":                 TypeScrollDepth,
	"time_spent":             TypeTimeOnPage,
	"performance":            TypePageLoad,
	"javascript_error":       TypeJSError,
	"EVENT_TYPE_PAGE_VIEW":   TypePageView,
	"EVENT_TYPE_CLICK":       TypeClick,
	"EVENT_TYPE_SCROLL":      TypeScrollDepth,
	"EVENT_TYPE_HOVER":       TypeHover,
	"EVENT_TYPE_FORM_SUBMIT": TypeFormSubmit,
}

// ParseType resolves a raw type name. Unrecognized names yield TypeUnknown.
func ParseType(name string) Type {
	name = strings.TrimSpace(name)
	if t, ok := aliases[name]; ok {
		return t
	}
	t := Type(strings.ToLower(name))
	if known[t] {
		return t
	}
	return TypeUnknown
}

// Event is one tracked interaction. It is not modified after New returns.
type Event struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Type       Type       `json:"type"`
	Name       string     `json:"name"`
	Timestamp  time.Time  `json:"timestamp"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// New builds an Event from a raw type name. The attribute map is copied.
func New(sessionID, name string, ts time.Time, attrs map[string]any) Event {
	if ts.IsZero() {
		ts = time.Now()
	}
	e := Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      ParseType(name),
		Name:      name,
		Timestamp: ts,
	}
	if len(attrs) > 0 {
		e.Attributes = make(Attributes, len(attrs))
		for k, v := range attrs {
			e.Attributes[k] = v
		}
	}
	return e
}

// Known reports whether the event type has a handler.
func (e Event) Known() bool {
	return e.Type != TypeUnknown
}

// Kind returns the canonical type name, or the raw name for unknown types.
func (e Event) Kind() string {
	if e.Type == TypeUnknown {
		return e.Name
	}
	return string(e.Type)
}
