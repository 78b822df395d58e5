package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "leadflow.db")
	store, err := NewStore(config.StorageConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	return store
}

func TestSQLiteFallbackRoundTrip(t *testing.T) {
	store := newSQLiteForTest(t)
	ctx := context.Background()

	first := FallbackRecord{
		Key:        "automation_fallback_hot_lead_s1_1",
		WorkflowID: "hot_lead",
		SessionID:  "s1",
		Payload:    json.RawMessage(`{"workflowId":"hot_lead"}`),
		Error:      "status 502",
		CreatedAt:  time.Now().Add(-time.Minute),
	}
	second := first
	second.Key = "automation_fallback_emergency_s1_2"
	second.WorkflowID = "emergency"
	second.CreatedAt = time.Now()

	for _, rec := range []FallbackRecord{first, second} {
		if err := store.SaveFallback(ctx, rec); err != nil {
			t.Fatalf("SaveFallback error: %v", err)
		}
	}

	got, err := store.ListFallback(ctx, 10)
	if err != nil {
		t.Fatalf("ListFallback error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].WorkflowID != "emergency" {
		t.Errorf("got[0].WorkflowID = %q, want newest first", got[0].WorkflowID)
	}
	if string(got[1].Payload) != `{"workflowId":"hot_lead"}` {
		t.Errorf("payload = %s", got[1].Payload)
	}
}

func TestSQLiteFallbackKeyIsUnique(t *testing.T) {
	store := newSQLiteForTest(t)
	ctx := context.Background()
	rec := FallbackRecord{Key: "k", WorkflowID: "w", SessionID: "s", Payload: json.RawMessage(`{}`)}
	if err := store.SaveFallback(ctx, rec); err != nil {
		t.Fatalf("SaveFallback error: %v", err)
	}
	if err := store.SaveFallback(ctx, rec); err == nil {
		t.Error("expected duplicate key error")
	}
}

func TestSQLiteSaveAlert(t *testing.T) {
	store := newSQLiteForTest(t)
	err := store.SaveAlert(context.Background(), AlertRecord{
		ID:        "a1",
		Type:      "phone_calls_low",
		Severity:  "warning",
		Timestamp: time.Now(),
		Context:   map[string]any{"value": 0.0, "threshold": 1.0},
	})
	if err != nil {
		t.Fatalf("SaveAlert error: %v", err)
	}
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStore(config.StorageConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error")
	}
}
