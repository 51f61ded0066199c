package model

// Severity ranks a Result's overall risk.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for max-of-findings comparisons. Critical only
// appears at the Finding level (§3); a Result's own severity tops out at
// high per §4.4-4.7's scoring tables.
var rank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Max returns the higher-ranked of two severities.
func Max(a, b Severity) Severity {
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

// Finding is one piece of evidence contributed by a detection engine.
type Finding struct {
	Category    Severity `json:"category"`
	Type        string   `json:"type,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	MatchedText string   `json:"matched_text"`
	Reason      string   `json:"reason"`
}

// Result is an engine's envelope carrying one or more findings for one
// event. Per spec, a Result is emitted only when Severity != none.
type Result struct {
	Detector     string    `json:"detector"`
	Severity     Severity  `json:"severity"`
	Evaluation   int       `json:"evaluation"` // 0-100
	Findings     []Finding `json:"findings"`
	EventType    EventType `json:"event_type"`
	Producer     Producer  `json:"producer,omitempty"`
	AnalysisText string    `json:"analysis_text,omitempty"`
	OriginalEvent *Event   `json:"original_event,omitempty"`
}

// Envelope pairs a result with the raw event ids it references. The SQLite
// store persists results as engine_results columns and the WebSocket
// broadcaster sends them inside its own message type; neither uses Envelope.
type Envelope struct {
	Reference []string `json:"reference"`
	Result    *Result  `json:"result"`
}
