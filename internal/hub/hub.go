package hub

import (
	"context"
	"sync"
	"time"

	"sentinel/internal/audit"
	"sentinel/internal/metrics"
	"sentinel/internal/model"
	"sentinel/internal/persistence"
)

// Broadcaster is the "optionally notifies a UI fan-out" hook from spec §4.2.
// The hub calls it only for successfully persisted, non-nil Results — never
// for engine internals (spec §7).
type Broadcaster interface {
	Publish(result *model.Result)
}

// Hub is the Event Hub (spec §4.2): a serial dispatcher that persists every
// event, upserts the tool catalog, invokes the tool-poisoning bulk pass on
// newly cataloged descriptors, fans the event out to every other registered
// engine concurrently, and persists every non-nil result.
//
// Hub.Process is not safe for concurrent invocation: the hub is a serial
// dispatcher by construction (spec §5), and callers must not call Process
// from more than one goroutine at a time.
type Hub struct {
	store       persistence.Store
	engines     []Engine
	logger      audit.Logger
	broadcaster Broadcaster

	// eventIDMap is the ts -> raw_event_id correlation fallback (grounded on
	// event_hub.py's event_id_map): when persistAndBroadcast is handed an
	// empty raw event id, it attributes the result by the event's timestamp.
	// A miss leaves the id empty; the result is still persisted and nothing
	// is logged.
	mu         sync.Mutex
	eventIDMap map[int64]string
}

// New builds a Hub. engines should include exactly one BulkEngine (the
// tool-poisoning engine); the hub detects it via type assertion.
func New(store persistence.Store, logger audit.Logger, broadcaster Broadcaster, engines []Engine) *Hub {
	return &Hub{
		store:       store,
		engines:     engines,
		logger:      logger,
		broadcaster: broadcaster,
		eventIDMap:  make(map[int64]string),
	}
}

// Process implements the four-step hub dispatch from spec §4.2.
func (h *Hub) Process(ctx context.Context, event *model.Event) error {
	rawEventID, err := h.store.InsertRawEvent(ctx, event)
	if err != nil {
		_ = h.logger.LogPersistFailed(ctx, "", err)
		metrics.PersistFailuresTotal.WithLabelValues("raw_event").Inc()
		return err
	}
	event.RawEventID = rawEventID
	metrics.EventsIngestedTotal.WithLabelValues(string(event.EventType), string(event.Producer)).Inc()

	h.mu.Lock()
	h.eventIDMap[event.Ts] = rawEventID
	h.mu.Unlock()

	_ = h.logger.LogEventIngested(ctx, rawEventID)

	h.persistTyped(ctx, event, rawEventID)

	h.dispatchCatalog(ctx, event, rawEventID)

	h.dispatchEngines(ctx, event, rawEventID)

	return nil
}

// persistTyped routes the event to its type-specific persistence path
// (spec §4.2 step 2).
func (h *Hub) persistTyped(ctx context.Context, event *model.Event, rawEventID string) {
	var err error
	switch event.EventType {
	case model.EventTypeMCP:
		err = h.store.InsertRPCEvent(ctx, event, rawEventID)
	case model.EventTypeFile:
		err = h.store.InsertFileEvent(ctx, event, rawEventID)
	case model.EventTypeProcess:
		err = h.store.InsertProcessEvent(ctx, event, rawEventID)
	}
	if err != nil {
		_ = h.logger.LogPersistFailed(ctx, rawEventID, err)
		metrics.PersistFailuresTotal.WithLabelValues("typed_event").Inc()
	}
}

// dispatchCatalog implements spec §4.2 step 3: on a RECV of tools/list
// carrying a non-empty tools array, upsert the catalog and, for any newly
// inserted descriptors, synchronously invoke the bulk tool-poisoning pass.
func (h *Hub) dispatchCatalog(ctx context.Context, event *model.Event, rawEventID string) {
	if event.EventType != model.EventTypeMCP || event.Data.Task != model.TaskRecv {
		return
	}
	if event.Data.Message.Method != "tools/list" || len(event.Data.Message.Tools) == 0 {
		return
	}

	descriptors := make([]model.ToolDescriptor, len(event.Data.Message.Tools))
	for i, t := range event.Data.Message.Tools {
		t.McpTag = event.McpTag
		t.Producer = event.Producer
		descriptors[i] = t
	}

	inserted, err := h.store.InsertToolCatalog(ctx, descriptors)
	if err != nil {
		_ = h.logger.LogPersistFailed(ctx, rawEventID, err)
		return
	}
	if len(inserted) == 0 {
		return
	}
	_ = h.logger.LogCatalogInserted(ctx, event.McpTag, len(inserted))
	metrics.ToolCatalogInsertsTotal.WithLabelValues(event.McpTag).Add(float64(len(inserted)))

	for _, e := range h.engines {
		bulk, ok := e.(BulkEngine)
		if !ok {
			continue
		}
		results := bulk.ProcessTools(ctx, inserted, event)
		for _, res := range results {
			h.persistAndBroadcast(ctx, bulk.Name(), res, rawEventID, event)
		}
	}
}

// dispatchEngines implements spec §4.2 step 4: for each engine whose
// ShouldProcess accepts the event, invoke HandleEvent concurrently, gather
// results, and persist each non-null one. Per spec §5, the set of accepting
// engines is invoked concurrently with a join barrier (sync.WaitGroup +
// buffered channel) and independent per-engine failure.
func (h *Hub) dispatchEngines(ctx context.Context, event *model.Event, rawEventID string) {
	type outcome struct {
		engine string
		result *model.Result
	}

	var accepting []Engine
	for _, e := range h.engines {
		if e.ShouldProcess(event) {
			accepting = append(accepting, e)
		}
	}
	if len(accepting) == 0 {
		return
	}

	outcomes := make(chan outcome, len(accepting))
	var wg sync.WaitGroup
	for _, e := range accepting {
		wg.Add(1)
		go func(e Engine) {
			defer wg.Done()
			start := time.Now()
			res := HandleEvent(ctx, e, event)
			metrics.EngineProcessDuration.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())
			outcomes <- outcome{engine: e.Name(), result: res}
		}(e)
	}
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.result == nil {
			continue
		}
		h.persistAndBroadcast(ctx, o.engine, o.result, rawEventID, event)
	}
}

// persistAndBroadcast persists a non-nil result and, on success, notifies
// the UI broadcaster. It never reports engine internals to the UI (spec §7).
func (h *Hub) persistAndBroadcast(ctx context.Context, engineName string, result *model.Result, rawEventID string, event *model.Event) {
	if result == nil || result.Severity == model.SeverityNone {
		return
	}

	attributedID := rawEventID
	if attributedID == "" {
		attributedID = h.lookupRawEventID(event.Ts)
	}

	id, err := h.store.InsertEngineResult(ctx, result, attributedID, event.McpTag, event.Producer)
	if err != nil {
		_ = h.logger.LogEngineError(ctx, engineName, attributedID, err)
		metrics.EngineErrorsTotal.WithLabelValues(engineName).Inc()
		return
	}
	if id == "" {
		return
	}

	_ = h.logger.LogResultEmitted(ctx, engineName, attributedID, string(result.Severity))
	metrics.FindingsEmittedTotal.WithLabelValues(engineName, string(result.Severity)).Inc()

	if h.broadcaster != nil {
		h.broadcaster.Publish(result)
	}
}

// lookupRawEventID is the event_id_map correlation fallback: a result that
// arrives without a raw event id is attributed by event timestamp. A miss
// returns "", which the caller persists as is.
func (h *Hub) lookupRawEventID(ts int64) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eventIDMap[ts]
}
