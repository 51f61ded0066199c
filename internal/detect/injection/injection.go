// Package injection implements the command-injection detection engine
// (spec §4.4): a static pattern matcher over the concatenated analysis text
// of an MCP event's task, method, and params/arguments.
package injection

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"sentinel/internal/hub"
	"sentinel/internal/model"
)

const detectorName = "CommandInjection"

// pattern ties a compiled regex to the Finding category it contributes.
type pattern struct {
	re       *regexp.Regexp
	category model.Severity
	reason   string
}

var patterns = []pattern{
	// critical: shell-metacharacter sequences chaining destructive commands.
	{regexp.MustCompile(`;\s*rm\b`), model.SeverityCritical, "command chaining into rm"},
	{regexp.MustCompile(`\|\s*rm\b`), model.SeverityCritical, "pipe into rm"},
	{regexp.MustCompile(`&&\s*rm\b`), model.SeverityCritical, "conditional chaining into rm"},
	{regexp.MustCompile(`rm\s+-rf\b`), model.SeverityCritical, "recursive force delete"},
	{regexp.MustCompile(`eval\s*\(`), model.SeverityCritical, "eval() invocation"},
	{regexp.MustCompile("`[^`]*(curl|wget|sh)[^`]*`"), model.SeverityCritical, "backtick expansion wrapping a network/shell tool"},

	// high: command chaining combined with network tools.
	{regexp.MustCompile(`;\s*wget\b`), model.SeverityHigh, "command chaining into wget"},
	{regexp.MustCompile(`&&\s*bash\b`), model.SeverityHigh, "conditional chaining into bash"},
	{regexp.MustCompile(`&&\s*curl\b`), model.SeverityHigh, "conditional chaining into curl"},
	{regexp.MustCompile(`&&\s*wget\b`), model.SeverityHigh, "conditional chaining into wget"},
	{regexp.MustCompile(`\|\s*curl\b`), model.SeverityHigh, "pipe into curl"},
	{regexp.MustCompile(`\$\([^)]*\)`), model.SeverityHigh, "command substitution"},
	{regexp.MustCompile("`[^`]+`"), model.SeverityHigh, "backtick expansion"},

	// medium: shell interpreter invocation, unbounded pings, suspicious flags.
	{regexp.MustCompile(`cmd\s*/c`), model.SeverityMedium, "cmd.exe /c invocation"},
	{regexp.MustCompile(`bash\s+-c`), model.SeverityMedium, "bash -c invocation"},
	{regexp.MustCompile(`(?i)powershell`), model.SeverityMedium, "powershell invocation"},
	{regexp.MustCompile(`ping\s+-t\b`), model.SeverityMedium, "unbounded ping"},
}

// dangerousCommands are bare binaries that, regardless of metacharacters,
// each contribute a medium-tier finding, also when a higher-tier pattern
// matched the same text; the Result's severity still comes from the highest
// tier present (spec §4.4's "dangerous commands" tier).
var dangerousCommands = []string{"rm", "del", "wget", "curl", "nc", "chmod"}

var wordBoundary = func(word string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
}

// Engine is the command-injection detection engine.
type Engine struct {
	hub.BaseEngine
}

// New builds the command-injection engine. Per spec §4.4, it applies to any
// MCP event whose producer is local or remote.
func New() *Engine {
	return &Engine{
		BaseEngine: hub.BaseEngine{
			EngineName:     detectorName,
			AcceptedTypes:  []model.EventType{model.EventTypeMCP},
			AcceptedOrigin: []model.Producer{model.ProducerLocal, model.ProducerRemote},
		},
	}
}

// analysisText concatenates task, method, and the JSON-serialized
// params/arguments into one string for pattern matching (spec §4.4).
func analysisText(event *model.Event) string {
	var sb strings.Builder
	sb.WriteString(event.Data.Task)
	sb.WriteString(" ")
	sb.WriteString(event.Data.Message.Method)
	sb.WriteString(" ")

	if len(event.Data.Message.Params) > 0 {
		var params model.MessageParams
		if err := json.Unmarshal(event.Data.Message.Params, &params); err == nil {
			sb.WriteString(params.Name)
			sb.WriteString(" ")
			sb.Write(params.Arguments)
		} else {
			sb.Write(event.Data.Message.Params)
		}
	}
	return sb.String()
}

// Process implements the command-injection scan described in spec §4.4.
func (e *Engine) Process(ctx context.Context, event *model.Event) (*model.Result, error) {
	text := analysisText(event)

	var findings []model.Finding
	for _, p := range patterns {
		if m := p.re.FindString(text); m != "" {
			findings = append(findings, model.Finding{
				Category:    p.category,
				Pattern:     p.re.String(),
				MatchedText: m,
				Reason:      p.reason,
			})
		}
	}

	// Dangerous bare commands: always a medium finding; a higher-tier match
	// on the same text does not suppress it.
	for _, cmd := range dangerousCommands {
		if wordBoundary(cmd).MatchString(text) {
			findings = append(findings, model.Finding{
				Category:    model.SeverityMedium,
				Pattern:     cmd,
				MatchedText: cmd,
				Reason:      "dangerous command present: " + cmd,
			})
		}
	}

	if len(findings) == 0 {
		return nil, nil
	}

	severity := model.SeverityNone
	for _, f := range findings {
		tier := f.Category
		// The Result envelope's severity enum tops out at "high"; a
		// critical-tier Finding still yields a high-severity Result
		// (spec §3's Finding.category and Result.severity use distinct
		// enums, confirmed by the kept test suite).
		if tier == model.SeverityCritical {
			tier = model.SeverityHigh
		}
		severity = model.Max(severity, tier)
	}

	base := map[model.Severity]int{
		model.SeverityHigh:   85,
		model.SeverityMedium: 50,
		model.SeverityLow:    25,
		model.SeverityNone:   0,
	}
	score := base[severity] + minInt(3*len(findings), 15)
	if score > 100 {
		score = 100
	}

	return &model.Result{
		Detector:      detectorName,
		Severity:      severity,
		Evaluation:    score,
		Findings:      findings,
		EventType:     event.EventType,
		Producer:      event.Producer,
		AnalysisText:  text,
		OriginalEvent: event,
	}, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
