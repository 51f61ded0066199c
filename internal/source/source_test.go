package source

import (
	"context"
	"testing"
	"time"

	"sentinel/internal/audit"
	"sentinel/internal/model"
)

type noopLogger struct{}

func (noopLogger) Log(ctx context.Context, event *audit.Event) error                          { return nil }
func (noopLogger) LogEventIngested(ctx context.Context, rawEventID string) error               { return nil }
func (noopLogger) LogEventDropped(ctx context.Context, reason string) error                    { return nil }
func (noopLogger) LogPersistFailed(ctx context.Context, rawEventID string, err error) error     { return nil }
func (noopLogger) LogCatalogInserted(ctx context.Context, mcpTag string, count int) error       { return nil }
func (noopLogger) LogEngineError(ctx context.Context, engine, rawEventID string, err error) error {
	return nil
}
func (noopLogger) LogResultEmitted(ctx context.Context, engine, rawEventID, severity string) error {
	return nil
}
func (noopLogger) LogRateLimitRetry(ctx context.Context, engine string, attempt int, wait time.Duration) error {
	return nil
}
func (noopLogger) LogRateLimitExhausted(ctx context.Context, engine string) error { return nil }
func (noopLogger) Sync() error                                                   { return nil }
func (noopLogger) Close() error                                                  { return nil }

func TestDecodeLineRequiresEventType(t *testing.T) {
	cases := []struct {
		name string
		line string
		ok   bool
	}{
		{"valid event", `{"eventType":"MCP","producer":"local","ts":1}`, true},
		{"missing eventType", `{"producer":"local","ts":1}`, false},
		{"null eventType", `{"eventType":null}`, false},
		{"not json", `not json at all`, false},
		{"empty object", `{}`, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, ok := decodeLine([]byte(c.line))
			if ok != c.ok {
				t.Errorf("decodeLine(%q) ok = %v, want %v", c.line, ok, c.ok)
			}
		})
	}
}

func TestDecodeLineDecodesFullEvent(t *testing.T) {
	event, ok := decodeLine([]byte(`{"eventType":"MCP","producer":"remote","ts":42,"mcpTag":"server-1"}`))
	if !ok {
		t.Fatal("expected valid decode")
	}
	if event.EventType != model.EventTypeMCP || event.Producer != model.ProducerRemote || event.Ts != 42 {
		t.Errorf("decoded event = %+v, unexpected field values", event)
	}
}

func TestPushStreamDeliversEvents(t *testing.T) {
	ps := NewPushStream(4, noopLogger{})
	defer ps.Close()

	event := &model.Event{EventType: model.EventTypeMCP}
	ps.Push(context.Background(), event)

	select {
	case got := <-ps.Events():
		if got != event {
			t.Error("expected the pushed event to come back unchanged")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed event")
	}
}

func TestPushStreamDropsOnFullQueue(t *testing.T) {
	ps := NewPushStream(1, noopLogger{})
	defer ps.Close()

	ps.Push(context.Background(), &model.Event{EventType: model.EventTypeMCP, Ts: 1})
	// Queue is now full (capacity 1); this push must not block.
	done := make(chan struct{})
	go func() {
		ps.Push(context.Background(), &model.Event{EventType: model.EventTypeMCP, Ts: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a full queue instead of dropping")
	}

	// Only the first event should be deliverable.
	first := <-ps.Events()
	if first.Ts != 1 {
		t.Errorf("expected first delivered event to have Ts=1, got %d", first.Ts)
	}
	select {
	case extra := <-ps.Events():
		t.Errorf("expected no second event to be queued, got %+v", extra)
	default:
	}
}

func TestPushStreamCloseIsIdempotent(t *testing.T) {
	ps := NewPushStream(1, noopLogger{})
	if err := ps.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got error: %v", err)
	}
}
