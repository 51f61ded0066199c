package persistence

import (
	"context"
	"testing"

	"sentinel/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t).(*sqliteStore)
	if err := store.migrate(); err != nil {
		t.Fatalf("second migrate() call should be a no-op, got error: %v", err)
	}
}

func TestInsertRawEventAndTypedEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	event := &model.Event{
		EventType: model.EventTypeMCP,
		Producer:  model.ProducerLocal,
		Ts:        1234,
		McpTag:    "server-1",
		Data: model.EventData{
			Task: model.TaskSend,
			Message: model.RPCMessage{
				Method: "tools/call",
			},
		},
	}

	id, err := store.InsertRawEvent(ctx, event)
	if err != nil {
		t.Fatalf("InsertRawEvent: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty raw event id")
	}

	if err := store.InsertRPCEvent(ctx, event, id); err != nil {
		t.Fatalf("InsertRPCEvent: %v", err)
	}
	// Inserting again with the same raw event id must not error (ON CONFLICT DO NOTHING).
	if err := store.InsertRPCEvent(ctx, event, id); err != nil {
		t.Fatalf("InsertRPCEvent (duplicate): %v", err)
	}
}

func TestInsertToolCatalogOnlyReturnsNewRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	descriptors := []model.ToolDescriptor{
		{McpTag: "server-1", Producer: model.ProducerLocal, ToolSlug: "send_email", Description: "sends email"},
		{McpTag: "server-1", Producer: model.ProducerLocal, ToolSlug: "read_file", Description: "reads a file"},
	}

	inserted, err := store.InsertToolCatalog(ctx, descriptors)
	if err != nil {
		t.Fatalf("InsertToolCatalog: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected 2 newly inserted descriptors, got %d", len(inserted))
	}

	// Re-inserting the same descriptors plus one new one should only return the new one.
	more := append(descriptors, model.ToolDescriptor{
		McpTag: "server-1", Producer: model.ProducerLocal, ToolSlug: "delete_file", Description: "deletes a file",
	})
	inserted, err = store.InsertToolCatalog(ctx, more)
	if err != nil {
		t.Fatalf("InsertToolCatalog (second call): %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 newly inserted descriptor, got %d: %+v", len(inserted), inserted)
	}
	if inserted[0].ToolSlug != "delete_file" {
		t.Errorf("expected delete_file to be the new descriptor, got %q", inserted[0].ToolSlug)
	}

	queried, err := store.QueryToolsBy(ctx, "server-1", model.ProducerLocal)
	if err != nil {
		t.Fatalf("QueryToolsBy: %v", err)
	}
	if len(queried) != 3 {
		t.Fatalf("expected 3 cataloged tools, got %d", len(queried))
	}
}

func TestInsertEngineResultSkipsNoneSeverity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.InsertEngineResult(ctx, &model.Result{Detector: "test", Severity: model.SeverityNone}, "raw-1", "server-1", model.ProducerLocal)
	if err != nil {
		t.Fatalf("InsertEngineResult (none severity): %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id for SeverityNone result, got %q", id)
	}

	id, err = store.InsertEngineResult(ctx, nil, "raw-1", "server-1", model.ProducerLocal)
	if err != nil {
		t.Fatalf("InsertEngineResult (nil result): %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id for nil result, got %q", id)
	}

	id, err = store.InsertEngineResult(ctx, &model.Result{Detector: "test", Severity: model.SeverityHigh}, "raw-1", "server-1", model.ProducerLocal)
	if err != nil {
		t.Fatalf("InsertEngineResult (high severity): %v", err)
	}
	if id == "" {
		t.Error("expected non-empty id for SeverityHigh result")
	}
}
