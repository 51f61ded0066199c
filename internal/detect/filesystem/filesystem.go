// Package filesystem implements the filesystem-exposure detection engine
// (spec §4.5): scans an MCP event's arguments for path-bearing fields and
// flags system paths, credential files, dangerous extensions, and
// path-traversal sequences.
package filesystem

import (
	"context"
	"encoding/json"
	"strings"

	"sentinel/internal/hub"
	"sentinel/internal/model"
)

const detectorName = "FileSystemExposure"

// maxWalkDepth bounds the iterative tree walk per spec §9's Design Note:
// never recurse to the runtime stack limit.
const maxWalkDepth = 10

var pathKeys = map[string]bool{
	"path": true, "file": true, "filepath": true,
	"directory": true, "folder": true, "location": true,
}

var criticalSystemPaths = []string{
	"/etc/passwd", "/etc/shadow", "/etc/sudoers",
	`C:\Windows\System32\config\SAM`, `C:\boot.ini`,
}

var criticalSystemPrefixes = []string{
	"/root/.ssh/", "/proc/self/", `C:\Windows\SysWOW64\`,
}

var credentialSuffixes = []string{
	"/.ssh/id_rsa", "/.ssh/id_dsa", "/.ssh/id_ecdsa", "/.ssh/id_ed25519",
	"/.aws/credentials", "/.kube/config", "/.docker/config.json",
}

var dangerousExtensions = []string{".key", ".pem", ".env", ".ini"}

var traversalSubstrings = []string{
	"../", `..\`, "%2e%2e%2f", "%252e%252e%252f", "%2e%2e/", "..%2f",
}

// Engine is the filesystem-exposure detection engine.
type Engine struct {
	hub.BaseEngine
}

// New builds the filesystem-exposure engine. Per spec §4.5, it applies to
// any MCP event.
func New() *Engine {
	return &Engine{
		BaseEngine: hub.BaseEngine{
			EngineName:    detectorName,
			AcceptedTypes: []model.EventType{model.EventTypeMCP},
		},
	}
}

// Process implements the filesystem-exposure scan described in spec §4.5.
func (e *Engine) Process(ctx context.Context, event *model.Event) (*model.Result, error) {
	candidates := extractPathCandidates(event)
	if len(candidates) == 0 {
		return nil, nil
	}

	var findings []model.Finding
	for _, p := range candidates {
		findings = append(findings, matchPath(p)...)
	}
	if len(findings) == 0 {
		return nil, nil
	}

	severity := model.SeverityNone
	for _, f := range findings {
		severity = model.Max(severity, f.Category)
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
		OriginalEvent: event,
	}, nil
}

// matchPath applies the five rules of spec §4.5 to a single candidate path.
func matchPath(p string) []model.Finding {
	var findings []model.Finding

	for _, sys := range criticalSystemPaths {
		if p == sys {
			findings = append(findings, model.Finding{
				Category: model.SeverityHigh, Type: "system_path",
				MatchedText: p, Reason: "critical system path",
			})
		}
	}
	for _, prefix := range criticalSystemPrefixes {
		if strings.HasPrefix(p, prefix) {
			findings = append(findings, model.Finding{
				Category: model.SeverityHigh, Type: "system_path",
				MatchedText: p, Reason: "critical system path prefix: " + prefix,
			})
		}
	}

	for _, suffix := range credentialSuffixes {
		if strings.HasSuffix(p, suffix) {
			findings = append(findings, model.Finding{
				Category: model.SeverityMedium, Type: "credential_file",
				MatchedText: p, Reason: "credential file path",
			})
		}
	}

	for _, ext := range dangerousExtensions {
		if strings.HasSuffix(strings.ToLower(p), ext) {
			findings = append(findings, model.Finding{
				Category: model.SeverityLow, Type: "dangerous_extension",
				MatchedText: p, Reason: "dangerous file extension: " + ext,
			})
		}
	}

	lower := strings.ToLower(p)
	for _, t := range traversalSubstrings {
		if strings.Contains(lower, strings.ToLower(t)) {
			findings = append(findings, model.Finding{
				Category: model.SeverityHigh, Type: "path_traversal",
				MatchedText: p, Reason: "path traversal sequence: " + t,
			})
			break
		}
	}

	if depth := segmentDepth(p); depth > 4 {
		findings = append(findings, model.Finding{
			Category: model.SeverityLow, Type: "deep_path",
			MatchedText: p, Reason: "unusually deep path",
		})
	}

	return findings
}

func segmentDepth(p string) int {
	p = strings.ReplaceAll(p, `\`, "/")
	parts := strings.Split(strings.Trim(p, "/"), "/")
	return len(parts)
}

// extractPathCandidates walks the event's params JSON iteratively, bounded
// to maxWalkDepth, collecting every string value at a path-bearing key.
func extractPathCandidates(event *model.Event) []string {
	if len(event.Data.Message.Params) == 0 {
		return nil
	}

	var root interface{}
	if err := json.Unmarshal(event.Data.Message.Params, &root); err != nil {
		return nil
	}

	type frame struct {
		value interface{}
		depth int
	}

	var candidates []string
	stack := []frame{{root, 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth >= maxWalkDepth {
			continue
		}

		switch v := f.value.(type) {
		case map[string]interface{}:
			for k, val := range v {
				if s, ok := val.(string); ok && pathKeys[strings.ToLower(k)] {
					candidates = append(candidates, s)
					continue
				}
				stack = append(stack, frame{val, f.depth + 1})
			}
		case []interface{}:
			for _, item := range v {
				stack = append(stack, frame{item, f.depth + 1})
			}
		}
	}

	return candidates
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
