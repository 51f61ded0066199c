// Package exfiltration implements the zero-click data-exfiltration engine
// (spec §4.7): a stateful, two-phase cross-event correlator. Phase 1
// harvests email addresses appearing in tool results; phase 2 checks
// whether a later outbound email call sends to an address the user never
// typed.
package exfiltration

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sentinel/internal/correlation"
	"sentinel/internal/hub"
	"sentinel/internal/model"
)

const detectorName = "DataExfiltration"

// maxWalkDepth bounds the iterative text-extraction walk (spec §9's
// explicit Design Note: never recurse to the runtime stack limit).
const maxWalkDepth = 10

var emailRegex = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// emailSenderKeywords identifies tools that send email, matched
// case-insensitively against the tool slug. The original implementation
// compared the uppercase keyword against an already-lowercased haystack,
// which could never match; this engine implements the documented,
// test-asserted intent instead: both sides are compared lower-cased.
var emailSenderKeywords = []string{"send_email", "gmail_send_email"}

var recipientFields = []string{"to", "cc", "bcc", "recipient_email"}

// Engine is the zero-click data-exfiltration engine. It owns the suspicious
// email registry; per spec §4.8 this state is engine-local and never
// shared or persisted.
type Engine struct {
	hub.BaseEngine
	registry *correlation.SuspiciousEmailRegistry
}

// New builds the exfiltration engine against a registry owned by the
// caller (injected via constructor per spec §9's Design Note, not an
// ambient global).
func New(registry *correlation.SuspiciousEmailRegistry) *Engine {
	return &Engine{
		BaseEngine: hub.BaseEngine{
			EngineName:    detectorName,
			AcceptedTypes: []model.EventType{model.EventTypeMCP},
		},
		registry: registry,
	}
}

// Process dispatches to the harvest or detect phase depending on the
// event's task and method, per spec §4.7.
func (e *Engine) Process(ctx context.Context, event *model.Event) (*model.Result, error) {
	if event.Data.Task == model.TaskRecv && len(event.Data.Message.Result) > 0 {
		e.harvest(event)
		return nil, nil
	}

	if event.Data.Task == model.TaskSend && event.Data.Message.Method == "tools/call" {
		return e.detect(event), nil
	}

	return nil, nil
}

// harvest implements Phase 1: extract every string from message.result,
// scan for email addresses, and record new ones with a ±50-char context
// window (spec §4.7).
func (e *Engine) harvest(event *model.Event) {
	var root interface{}
	if err := json.Unmarshal(event.Data.Message.Result, &root); err != nil {
		return
	}

	for _, text := range extractStrings(root, maxWalkDepth) {
		for _, loc := range emailRegex.FindAllStringIndex(text, -1) {
			addr := text[loc[0]:loc[1]]
			context := contextWindow(text, loc[0], loc[1], 50)
			e.registry.Record(addr, "tool_response", event.McpTag, context, nowFromTs(event.Ts))
		}
	}
}

// detect implements Phase 2: if the invoked tool is an email sender, check
// every recipient field against the registry and emit a critical finding
// per match (spec §4.7).
func (e *Engine) detect(event *model.Event) *model.Result {
	if len(event.Data.Message.Params) == 0 {
		return nil
	}

	var params model.MessageParams
	if err := json.Unmarshal(event.Data.Message.Params, &params); err != nil {
		return nil
	}

	if !isEmailTool(params.Name) {
		return nil
	}

	var argMap map[string]interface{}
	if len(params.Arguments) > 0 {
		_ = json.Unmarshal(params.Arguments, &argMap)
	}
	if argMap == nil {
		return nil
	}

	var findings []model.Finding
	for _, field := range recipientFields {
		for _, addr := range recipientEmails(argMap[field]) {
			rec, ok := e.registry.Lookup(addr)
			if !ok {
				continue
			}
			findings = append(findings, model.Finding{
				Category:    model.SeverityCritical,
				Type:        "zero_click_exfiltration",
				MatchedText: addr,
				Reason: fmt.Sprintf(
					"recipient %q was harvested from a prior tool response (source=%s, mcpTag=%s, context=%q)",
					addr, rec.Source, rec.McpTag, rec.Context,
				),
			})
		}
	}

	if len(findings) == 0 {
		return nil
	}

	score := 95 + minInt(len(findings), 5)
	if score > 100 {
		score = 100
	}

	return &model.Result{
		Detector:      detectorName,
		Severity:      model.SeverityHigh,
		Evaluation:    score,
		Findings:      findings,
		EventType:     event.EventType,
		Producer:      event.Producer,
		OriginalEvent: event,
	}
}

// isEmailTool reports whether toolSlug identifies an email-sending tool,
// matched case-insensitively (see emailSenderKeywords on the original's
// case bug).
func isEmailTool(toolSlug string) bool {
	lower := strings.ToLower(toolSlug)
	for _, kw := range emailSenderKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// recipientEmails extracts email addresses from a recipient field value,
// which may be a single string or a list of strings.
func recipientEmails(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return emailRegex.FindAllString(val, -1)
	case []interface{}:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, emailRegex.FindAllString(s, -1)...)
			}
		}
		return out
	default:
		return nil
	}
}

// contextWindow returns up to `radius` characters on either side of the
// match at [start,end), together with the match itself, i.e. at most
// 2*radius characters plus the length of the match.
func contextWindow(text string, start, end, radius int) string {
	from := start - radius
	if from < 0 {
		from = 0
	}
	to := end + radius
	if to > len(text) {
		to = len(text)
	}
	return text[from:to]
}

// extractStrings walks an untyped JSON tree iteratively, bounded to
// maxDepth, collecting every string value encountered (spec §9's Design
// Note: iterative, not recursive).
func extractStrings(root interface{}, maxDepth int) []string {
	type frame struct {
		value interface{}
		depth int
	}

	var out []string
	stack := []frame{{root, 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth >= maxDepth {
			continue
		}

		switch v := f.value.(type) {
		case string:
			out = append(out, v)
		case map[string]interface{}:
			for _, val := range v {
				stack = append(stack, frame{val, f.depth + 1})
			}
		case []interface{}:
			for _, item := range v {
				stack = append(stack, frame{item, f.depth + 1})
			}
		}
	}

	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// nowFromTs converts an event's millisecond timestamp into a time.Time so
// the registry records the harvest time of the originating event rather
// than wall-clock time at processing.
func nowFromTs(ts int64) time.Time {
	return time.UnixMilli(ts)
}
