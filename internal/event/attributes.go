package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMissingAttribute is returned when a required attribute is absent.
	ErrMissingAttribute = errors.New("missing attribute")
	// ErrWrongType is returned when an attribute has an unusable type.
	ErrWrongType = errors.New("wrong attribute type")
)

// Attributes holds the free-form, type-specific event payload.
type Attributes map[string]any

// String returns the attribute as a string. Numbers and booleans are
// formatted.
func (a Attributes) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingAttribute, key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("%w: %s is %T", ErrWrongType, key, v)
}

// StringOr returns the attribute as a string or def when unavailable.
func (a Attributes) StringOr(key, def string) string {
	s, err := a.String(key)
	if err != nil {
		return def
	}
	return s
}

// Int returns the attribute as an int. JSON numbers and numeric strings
// are accepted; fractions are truncated.
func (a Attributes) Int(key string) (int, error) {
	f, err := a.Float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Float returns the attribute as a float64.
func (a Attributes) Float(key string) (float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingAttribute, key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrWrongType, key, t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %s is %T", ErrWrongType, key, v)
}

// PageView is the typed view of a page_view event.
type PageView struct {
	Path        string
	ContentType string
	Region      string
	Referrer    string
	Title       string
}

type ScrollDepth struct {
	Depth int
}

type TimeOnPage struct {
	Seconds int
}

type Hover struct {
	Target     string
	DurationMs int64
}

type Click struct {
	Target string
}

type FormSubmit struct {
	Form    string
	Message string
}

// PageLoad carries client-side load timing.
type PageLoad struct {
	LoadTimeMs float64
}

// Funnel carries an explicit funnel stage/event pair.
type Funnel struct {
	Stage string
	Name  string
}

func (e Event) checkType(want Type) error {
	if e.Type != want {
		return fmt.Errorf("%w: event is %q, not %q", ErrWrongType, e.Kind(), want)
	}
	return nil
}

// PageView returns the typed page_view payload. Only the path is required.
func (e Event) PageView() (PageView, error) {
	if err := e.checkType(TypePageView); err != nil {
		return PageView{}, err
	}
	path, err := e.Attributes.String(AttrPath)
	if err != nil {
		return PageView{}, err
	}
	return PageView{
		Path:        path,
		ContentType: e.Attributes.StringOr(AttrContentType, ""),
		Region:      e.Attributes.StringOr(AttrRegion, ""),
		Referrer:    e.Attributes.StringOr(AttrReferrer, ""),
		Title:       e.Attributes.StringOr(AttrTitle, ""),
	}, nil
}

func (e Event) ScrollDepth() (ScrollDepth, error) {
	if err := e.checkType(TypeScrollDepth); err != nil {
		return ScrollDepth{}, err
	}
	d, err := e.Attributes.Int(AttrDepth)
	if err != nil {
		return ScrollDepth{}, err
	}
	return ScrollDepth{Depth: d}, nil
}

func (e Event) TimeOnPage() (TimeOnPage, error) {
	if err := e.checkType(TypeTimeOnPage); err != nil {
		return TimeOnPage{}, err
	}
	s, err := e.Attributes.Int(AttrSeconds)
	if err != nil {
		return TimeOnPage{}, err
	}
	return TimeOnPage{Seconds: s}, nil
}

func (e Event) Hover() (Hover, error) {
	if err := e.checkType(TypeHover); err != nil {
		return Hover{}, err
	}
	target, err := e.Attributes.String(AttrTarget)
	if err != nil {
		return Hover{}, err
	}
	h := Hover{Target: target}
	if ms, err := e.Attributes.Float(AttrDurationMs); err == nil {
		h.DurationMs = int64(ms)
	}
	return h, nil
}

func (e Event) Click() (Click, error) {
	if err := e.checkType(TypeClick); err != nil {
		return Click{}, err
	}
	target, err := e.Attributes.String(AttrTarget)
	if err != nil {
		return Click{}, err
	}
	return Click{Target: target}, nil
}

// FormSubmit returns the typed form_submit payload; all fields are optional.
func (e Event) FormSubmit() (FormSubmit, error) {
	if err := e.checkType(TypeFormSubmit); err != nil {
		return FormSubmit{}, err
	}
	return FormSubmit{
		Form:    e.Attributes.StringOr(AttrForm, ""),
		Message: e.Attributes.StringOr(AttrMessage, ""),
	}, nil
}

func (e Event) PageLoad() (PageLoad, error) {
	if err := e.checkType(TypePageLoad); err != nil {
		return PageLoad{}, err
	}
	ms, err := e.Attributes.Float(AttrLoadTimeMs)
	if err != nil {
		return PageLoad{}, err
	}
	return PageLoad{LoadTimeMs: ms}, nil
}

func (e Event) Funnel() (Funnel, error) {
	if err := e.checkType(TypeFunnel); err != nil {
		return Funnel{}, err
	}
	stage, err := e.Attributes.String(AttrStage)
	if err != nil {
		return Funnel{}, err
	}
	name, err := e.Attributes.String(AttrName)
	if err != nil {
		return Funnel{}, err
	}
	return Funnel{Stage: stage, Name: name}, nil
}

// Validate checks the attribute schema of the event's type. Unknown types
// have no schema and always validate.
func (e Event) Validate() error {
	var err error
	switch e.Type {
	case TypePageView:
		_, err = e.PageView()
	case TypeScrollDepth:
		_, err = e.ScrollDepth()
	case TypeTimeOnPage:
		_, err = e.TimeOnPage()
	case TypeHover:
		_, err = e.Hover()
	case TypeClick:
		_, err = e.Click()
	case TypeFunnel:
		_, err = e.Funnel()
	case TypePageLoad:
		_, err = e.PageLoad()
	}
	return err
}
