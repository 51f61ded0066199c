// Package toolpoison implements the tool-description poisoning detection
// engine (spec §4.6): a catalog-scoped, LLM-backed classifier invoked in
// bulk over newly observed tool descriptors, never over individual events.
package toolpoison

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"sentinel/internal/audit"
	"sentinel/internal/classifier"
	"sentinel/internal/hub"
	"sentinel/internal/metrics"
	"sentinel/internal/model"
)

const detectorName = "ToolPoisoning"

type verdict string

const (
	verdictDeny  verdict = "DENY"
	verdictAllow verdict = "ALLOW"
)

// highRiskKeywords contribute to the confidence score for a DENY verdict
// (spec §4.6, grounded on the classifier's fixed keyword list).
var highRiskKeywords = []string{
	"data exfiltration", "exfiltration", "bypass", "override",
	"elevated privilege", "admin mode", "ignore above", "ignore all",
	"secret_mode", "hidden", "do not notify", "webhook", "attacker",
	"password", "api key", "session token", "rm -rf", "shell command",
}

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")

// classifierVerdict is the shape the classifier's JSON array response
// decodes into.
type classifierVerdict struct {
	FunctionName string `json:"function_name"`
	IsMalicious  int    `json:"is_malicious"`
	Reason       string `json:"reason"`
}

// Engine is the tool-poisoning detection engine.
type Engine struct {
	hub.BaseEngine
	classifier        classifier.Classifier
	logger            audit.Logger
	maxRetries        int
	baseBackoff       time.Duration
	interRequestDelay time.Duration
}

// New builds the tool-poisoning engine. maxRetries/baseBackoff/
// interRequestDelay come from configuration (spec §6's "LLM retry
// parameters"); the defaults (3 attempts in total, 2s base, 1s inter-request
// delay) are grounded on the classifier's original retry policy.
func New(c classifier.Classifier, logger audit.Logger, maxRetries int, baseBackoff, interRequestDelay time.Duration) *Engine {
	return &Engine{
		BaseEngine: hub.BaseEngine{
			EngineName: detectorName,
		},
		classifier:        c,
		logger:            logger,
		maxRetries:        maxRetries,
		baseBackoff:       baseBackoff,
		interRequestDelay: interRequestDelay,
	}
}

// ShouldProcess always returns false: this engine is driven by the hub's
// catalog-insert path (ProcessTools), not the per-event fan-out (spec
// §4.6, §9's Design Note on the original's unconditional-false routing).
func (e *Engine) ShouldProcess(event *model.Event) bool { return false }

// Process is never called by the hub's event fan-out because ShouldProcess
// always returns false; it exists only to satisfy the Engine interface.
func (e *Engine) Process(ctx context.Context, event *model.Event) (*model.Result, error) {
	return nil, nil
}

// ProcessTools implements the bulk entry point: one classifier call per
// descriptor, serialized with an inter-request delay, producing one Result
// per DENY verdict whose confidence maps to a non-none severity.
func (e *Engine) ProcessTools(ctx context.Context, descriptors []model.ToolDescriptor, event *model.Event) []*model.Result {
	var results []*model.Result

	for idx, d := range descriptors {
		if idx > 0 {
			if !sleepCtx(ctx, e.interRequestDelay) {
				break
			}
		}

		v, confidence, reason := e.analyzeWithRetry(ctx, d.ToolSlug, d.Description)
		if v != verdictDeny {
			continue
		}

		severity := severityFromConfidence(confidence)
		if severity == model.SeverityNone {
			continue
		}

		results = append(results, &model.Result{
			Detector:   detectorName,
			Severity:   severity,
			Evaluation: confidence,
			Findings: []model.Finding{{
				Category:    severity,
				Type:        "tool_poisoning",
				MatchedText: d.ToolSlug,
				Reason:      reason,
			}},
			EventType:     event.EventType,
			Producer:      d.Producer,
			OriginalEvent: event,
		})
	}

	return results
}

// analyzeWithRetry submits one descriptor to the classifier, making at most
// maxRetries calls in total (the first call included) while it reports a
// rate-limit signal. Between calls it waits baseBackoff * n after the n-th
// call (2s, then 4s for a 2s base and maxRetries 3); no wait follows the
// last call. On exhaustion it degrades to ALLOW with confidence 0 and reason
// "Rate limit exceeded" (spec §4.6, §7).
func (e *Engine) analyzeWithRetry(ctx context.Context, toolName, description string) (verdict, int, string) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		text, err := e.classifier.Classify(ctx, toolName, description)
		if err == nil {
			return parseVerdict(text, description)
		}

		if !classifier.IsRateLimited(err) {
			_ = e.logger.LogEngineError(ctx, detectorName, "", err)
			return verdictAllow, 0, "classifier error"
		}

		if attempt < e.maxRetries-1 {
			wait := e.baseBackoff * time.Duration(attempt+1)
			_ = e.logger.LogRateLimitRetry(ctx, detectorName, attempt+1, wait)
			metrics.ClassifierRateLimitRetriesTotal.Inc()
			if !sleepCtx(ctx, wait) {
				break
			}
		}
	}

	_ = e.logger.LogRateLimitExhausted(ctx, detectorName)
	metrics.ClassifierRateLimitExhaustedTotal.Inc()
	return verdictAllow, 0, "Rate limit exceeded"
}

// parseVerdict parses the classifier's response text as a JSON array
// (optionally fenced), falling back to a text-keyword match when JSON
// parsing fails (spec §4.6, §8's boundary property).
func parseVerdict(text, toolDescription string) (verdict, int, string) {
	jsonText := text
	if m := fencedJSONBlock.FindStringSubmatch(text); len(m) == 2 {
		jsonText = m[1]
	}

	var verdicts []classifierVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonText)), &verdicts); err == nil && len(verdicts) > 0 {
		v := verdicts[0]
		if v.IsMalicious == 1 {
			return verdictDeny, calculateConfidence(v.Reason, toolDescription), v.Reason
		}
		return verdictAllow, 10, v.Reason
	}

	switch {
	case strings.Contains(text, "DENY"):
		return verdictDeny, 85, ""
	case strings.Contains(text, "ALLOW"):
		return verdictAllow, 90, ""
	default:
		return verdictAllow, 50, ""
	}
}

// calculateConfidence derives a DENY verdict's confidence from the
// classifier's reason text: a base score plus bonuses for reason length
// and high-risk keyword density (spec §4.6).
func calculateConfidence(reason, _ string) int {
	score := 60

	switch {
	case len(reason) > 200:
		score += 15
	case len(reason) > 100:
		score += 10
	case len(reason) > 50:
		score += 5
	}

	lower := strings.ToLower(reason)
	count := 0
	for _, kw := range highRiskKeywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	switch {
	case count >= 4:
		score += 20
	case count >= 3:
		score += 15
	case count >= 2:
		score += 10
	case count >= 1:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}

// severityFromConfidence maps a DENY confidence score to a Result severity
// tier (spec §4.6).
func severityFromConfidence(confidence int) model.Severity {
	switch {
	case confidence >= 80:
		return model.SeverityHigh
	case confidence >= 60:
		return model.SeverityMedium
	case confidence >= 40:
		return model.SeverityLow
	default:
		return model.SeverityNone
	}
}

// sleepCtx sleeps for d or returns early (false) if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
