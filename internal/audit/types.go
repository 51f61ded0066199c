package audit

import "time"

// EventType represents the type of audit event.
type EventType string

const (
	// Ingestion events
	EventIngested     EventType = "ingest.event"
	EventDropped      EventType = "ingest.dropped"
	EventSourceClosed EventType = "ingest.source_closed"

	// Hub / persistence events
	EventPersistFailed  EventType = "hub.persist_failed"
	EventCatalogDedup   EventType = "hub.catalog_dedup"
	EventCatalogInserts EventType = "hub.catalog_inserted"

	// Engine events
	EventEngineError    EventType = "engine.error"
	EventEngineTimeout  EventType = "engine.timeout"
	EventResultEmitted  EventType = "engine.result_emitted"
	EventRateLimitRetry EventType = "engine.rate_limit_retry"
	EventRateLimitGiveUp EventType = "engine.rate_limit_exhausted"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"
	EventConfigReload  EventType = "config.reload"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventHealthCheck    EventType = "system.health_check"
)

// Result represents the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDropped Result = "dropped"
)

// Event represents a single audit event.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	Engine      string                 `json:"engine,omitempty"`
	RawEventID  string                 `json:"raw_event_id,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

func (e *Event) WithEngine(name string) *Event {
	e.Engine = name
	return e
}

func (e *Event) WithRawEventID(id string) *Event {
	e.RawEventID = id
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
