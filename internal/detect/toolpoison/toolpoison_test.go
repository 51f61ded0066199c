package toolpoison

import (
	"context"
	"errors"
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

type scriptedClassifier struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClassifier) Classify(ctx context.Context, toolName, description string) (string, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", nil
}

type rateLimitedErr struct{}

func (rateLimitedErr) Error() string { return "classifier rate limited (status 429): slow down" }

func TestParseVerdictJSONDeny(t *testing.T) {
	text := `[{"function_name":"send_email","is_malicious":1,"reason":"instructs exfiltration to attacker webhook, bypass review"}]`
	v, confidence, reason := parseVerdict(text, "")
	if v != verdictDeny {
		t.Fatalf("verdict = %v, want deny", v)
	}
	if confidence < 60 {
		t.Errorf("confidence = %d, want >= 60 given keyword hits", confidence)
	}
	if reason == "" {
		t.Error("expected non-empty reason")
	}
}

func TestParseVerdictJSONAllow(t *testing.T) {
	text := `[{"function_name":"get_weather","is_malicious":0,"reason":"benign lookup tool"}]`
	v, confidence, _ := parseVerdict(text, "")
	if v != verdictAllow {
		t.Fatalf("verdict = %v, want allow", v)
	}
	if confidence != 10 {
		t.Errorf("confidence = %d, want 10", confidence)
	}
}

func TestParseVerdictFencedJSONBlock(t *testing.T) {
	text := "Here is my analysis:\n```json\n[{\"function_name\":\"x\",\"is_malicious\":1,\"reason\":\"override admin mode\"}]\n```\n"
	v, _, reason := parseVerdict(text, "")
	if v != verdictDeny {
		t.Fatalf("verdict = %v, want deny", v)
	}
	if reason != "override admin mode" {
		t.Errorf("reason = %q, want %q", reason, "override admin mode")
	}
}

func TestParseVerdictTextFallback(t *testing.T) {
	cases := []struct {
		text string
		want verdict
	}{
		{"Verdict: DENY, this tool is malicious", verdictDeny},
		{"Verdict: ALLOW, looks fine", verdictAllow},
		{"unparseable garbage", verdictAllow},
	}
	for _, c := range cases {
		v, _, _ := parseVerdict(c.text, "")
		if v != c.want {
			t.Errorf("parseVerdict(%q) verdict = %v, want %v", c.text, v, c.want)
		}
	}
}

func TestCalculateConfidenceMaxesOutBonusesWithoutExceeding100(t *testing.T) {
	reason := "data exfiltration bypass override elevated privilege admin mode ignore above ignore all secret_mode hidden do not notify webhook attacker password api key session token rm -rf shell command " +
		"this reason text is deliberately extremely long to exceed the 200 character length bonus threshold as well, piling on every possible scoring bonus available in the formula"
	score := calculateConfidence(reason, "")
	if score > 100 {
		t.Errorf("score = %d, want <= 100", score)
	}
	// base 60 + max length bonus 15 + max keyword-density bonus 20 = 95.
	if score != 95 {
		t.Errorf("score = %d, want 95 given max length + keyword bonuses", score)
	}
}

func TestCalculateConfidenceBaseScore(t *testing.T) {
	score := calculateConfidence("", "")
	if score != 60 {
		t.Errorf("score for empty reason = %d, want base 60", score)
	}
}

func TestSeverityFromConfidence(t *testing.T) {
	cases := []struct {
		confidence int
		want       model.Severity
	}{
		{95, model.SeverityHigh},
		{80, model.SeverityHigh},
		{70, model.SeverityMedium},
		{60, model.SeverityMedium},
		{45, model.SeverityLow},
		{40, model.SeverityLow},
		{10, model.SeverityNone},
	}
	for _, c := range cases {
		if got := severityFromConfidence(c.confidence); got != c.want {
			t.Errorf("severityFromConfidence(%d) = %v, want %v", c.confidence, got, c.want)
		}
	}
}

func TestProcessToolsEmitsResultOnlyForDenyVerdicts(t *testing.T) {
	cl := &scriptedClassifier{
		responses: []string{
			`[{"function_name":"send_email","is_malicious":1,"reason":"exfiltration bypass override elevated privilege webhook attacker"}]`,
			`[{"function_name":"get_weather","is_malicious":0,"reason":"benign"}]`,
		},
	}
	e := New(cl, noopLogger{}, 3, time.Millisecond, time.Microsecond)

	descriptors := []model.ToolDescriptor{
		{ToolSlug: "send_email", Description: "sends email"},
		{ToolSlug: "get_weather", Description: "gets weather"},
	}

	results := e.ProcessTools(context.Background(), descriptors, &model.Event{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result (only the DENY verdict), got %d", len(results))
	}
	if results[0].Findings[0].MatchedText != "send_email" {
		t.Errorf("expected result for send_email, got %q", results[0].Findings[0].MatchedText)
	}
}

func TestAnalyzeWithRetryExhaustsAndDegradesToAllow(t *testing.T) {
	cl := &scriptedClassifier{
		errs: []error{rateLimitedErr{}, rateLimitedErr{}, rateLimitedErr{}},
	}
	e := New(cl, noopLogger{}, 3, time.Millisecond, time.Microsecond)

	v, confidence, reason := e.analyzeWithRetry(context.Background(), "tool", "desc")
	if v != verdictAllow {
		t.Errorf("verdict = %v, want allow after rate-limit exhaustion", v)
	}
	if confidence != 0 {
		t.Errorf("confidence = %d, want 0", confidence)
	}
	if reason != "Rate limit exceeded" {
		t.Errorf("reason = %q, want %q", reason, "Rate limit exceeded")
	}
	if cl.calls != 3 {
		t.Errorf("expected 3 classifier calls (maxRetries), got %d", cl.calls)
	}
}

func TestAnalyzeWithRetryNonRateLimitErrorDoesNotRetry(t *testing.T) {
	cl := &scriptedClassifier{
		errs: []error{errors.New("boom: malformed request")},
	}
	e := New(cl, noopLogger{}, 3, time.Millisecond, time.Microsecond)

	v, confidence, _ := e.analyzeWithRetry(context.Background(), "tool", "desc")
	if v != verdictAllow {
		t.Errorf("verdict = %v, want allow", v)
	}
	if confidence != 0 {
		t.Errorf("confidence = %d, want 0", confidence)
	}
	if cl.calls != 1 {
		t.Errorf("expected exactly 1 classifier call for a non-rate-limit error, got %d", cl.calls)
	}
}

func TestShouldProcessAlwaysFalse(t *testing.T) {
	e := New(&scriptedClassifier{}, noopLogger{}, 1, time.Millisecond, time.Microsecond)
	if e.ShouldProcess(&model.Event{EventType: model.EventTypeMCP}) {
		t.Error("expected ShouldProcess to always return false")
	}
}
