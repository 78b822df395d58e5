package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/gosight/gosight/leadflow/internal/engine"
	"github.com/gosight/gosight/leadflow/internal/enricher"
	"github.com/gosight/gosight/leadflow/internal/event"
)

type fakeApplier struct {
	got []event.Event
	err error
}

func (f *fakeApplier) Apply(_ context.Context, id string, e event.Event) (engine.Result, error) {
	f.got = append(f.got, e)
	return engine.Result{}, f.err
}

type recordingProcessor struct {
	raws []map[string]interface{}
}

func (r *recordingProcessor) Process(_ context.Context, raw map[string]interface{}) error {
	r.raws = append(r.raws, raw)
	return errors.New("ignored")
}

func TestEventProcessor(t *testing.T) {
	app := &fakeApplier{}
	p := NewEventProcessor(app, enricher.NewEnricher(""))

	err := p.Process(context.Background(), map[string]interface{}{
		"type":       "page_view",
		"session_id": "s1",
		"timestamp":  float64(1792000000000),
		"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"page":       map[string]interface{}{"path": "/document-restoration"},
	})
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if len(app.got) != 1 {
		t.Fatalf("applied %d events", len(app.got))
	}
	e := app.got[0]
	if e.Attributes.StringOr("device", "") != "desktop" || e.Attributes.StringOr("content_type", "") != "documentRestoration" {
		t.Errorf("attributes = %v", e.Attributes)
	}
}

func TestEventProcessorErrors(t *testing.T) {
	app := &fakeApplier{}
	p := NewEventProcessor(app, nil)

	if err := p.Process(context.Background(), map[string]interface{}{"session_id": "s1"}); !errors.Is(err, event.ErrNoType) {
		t.Errorf("missing type err = %v", err)
	}
	if err := p.Process(context.Background(), map[string]interface{}{"type": "click"}); !errors.Is(err, engine.ErrEmptySessionID) {
		t.Errorf("missing session err = %v", err)
	}

	app.err = errors.New("store down")
	if err := p.Process(context.Background(), map[string]interface{}{"type": "click", "session_id": "s1"}); err == nil {
		t.Error("expected apply error")
	}
}

func TestHandleSkipsBadJSON(t *testing.T) {
	rp := &recordingProcessor{}
	c := &KafkaConsumer{processor: rp}

	c.handle(context.Background(), []byte("{not json"))
	c.handle(context.Background(), []byte(`{"type":"click","session_id":"s1"}`))

	if len(rp.raws) != 1 || rp.raws[0]["type"] != "click" {
		t.Errorf("processed = %v", rp.raws)
	}
}
