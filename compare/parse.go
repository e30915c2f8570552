package compare

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// The comparator program wraps its machine-readable payload between these two
// marker lines. Everything outside the markers is free-form log noise.
const (
	jsonStartMarker = "===JSON_OUTPUT==="
	jsonEndMarker   = "===END_JSON==="
)

// OutcomeKind tags the three ways a comparator run can resolve.
type OutcomeKind int

const (
	// OutcomeStructured means the marker-wrapped JSON payload parsed cleanly.
	OutcomeStructured OutcomeKind = iota
	// OutcomeTextReport means no JSON payload was found but the process exited
	// zero, so known metrics were scraped from its text report. Best effort,
	// not a guaranteed contract.
	OutcomeTextReport
	// OutcomeFailure means the run failed, either reported by the program
	// itself (success:false) or inferred from a non-zero exit.
	OutcomeFailure
)

// Outcome is the tagged result of interpreting a comparator run.
type Outcome struct {
	Kind    OutcomeKind
	Results map[string]interface{}
	Message string
}

type programEnvelope struct {
	Success bool                   `json:"success"`
	Results map[string]interface{} `json:"results"`
	Error   string                 `json:"error"`
}

const maxErrorOutputLen = 600

// ParseOutput interprets a finished comparator run. The decision order is:
// marker-wrapped JSON first; otherwise non-zero exit becomes a failure carrying
// the raw output; otherwise the text-report fallback.
func ParseOutput(stdout, stderr []byte, exitCode int) Outcome {
	if payload, ok := extractMarkedJSON(string(stdout)); ok {
		var envelope programEnvelope
		if err := json.Unmarshal([]byte(payload), &envelope); err == nil {
			if !envelope.Success {
				message := envelope.Error
				if message == "" {
					message = "comparator reported failure without detail"
				}
				return Outcome{Kind: OutcomeFailure, Message: message}
			}
			return Outcome{Kind: OutcomeStructured, Results: NormalizeResults(envelope.Results)}
		}
	}

	if exitCode != 0 {
		return Outcome{Kind: OutcomeFailure, Message: failureMessage(stdout, stderr, exitCode)}
	}

	return Outcome{Kind: OutcomeTextReport, Results: parseTextReport(string(stdout))}
}

func extractMarkedJSON(s string) (string, bool) {
	start := strings.Index(s, jsonStartMarker)
	if start == -1 {
		return "", false
	}
	rest := s[start+len(jsonStartMarker):]
	end := strings.Index(rest, jsonEndMarker)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func failureMessage(stdout, stderr []byte, exitCode int) string {
	detail := strings.TrimSpace(string(stderr))
	if detail == "" {
		detail = strings.TrimSpace(string(stdout))
	}
	if detail == "" {
		detail = "no output"
	}
	if len(detail) > maxErrorOutputLen {
		detail = detail[:maxErrorOutputLen] + "..."
	}
	return "comparator exited with code " + strconv.Itoa(exitCode) + ": " + detail
}

// textMetricPatterns maps the labels the comparator prints in its human report
// to canonical metric keys. The report is Vietnamese; English labels are
// accepted for newer script revisions.
var textMetricPatterns = []struct {
	key     string
	integer bool
	re      *regexp.Regexp
}{
	{"mean_offset_ms", false, regexp.MustCompile(`(?i)(?:Trung bình|Mean(?:\s+offset)?)\s*:\s*(-?\d+(?:\.\d+)?)\s*ms`)},
	{"std_offset_ms", false, regexp.MustCompile(`(?i)(?:Độ lệch chuẩn|Std(?:\s+offset)?)\s*:\s*(-?\d+(?:\.\d+)?)\s*ms`)},
	{"max_offset_ms", false, regexp.MustCompile(`(?i)(?:Lớn nhất|Max(?:\s+offset)?)\s*:\s*(-?\d+(?:\.\d+)?)\s*ms`)},
	{"matched_notes", true, regexp.MustCompile(`(?i)(?:Nốt khớp|Matched(?:\s+notes)?)\s*:\s*(\d+)`)},
	{"missing_notes", true, regexp.MustCompile(`(?i)(?:Nốt thiếu|Missing(?:\s+notes)?)\s*:\s*(\d+)`)},
	{"extra_notes", true, regexp.MustCompile(`(?i)(?:Nốt thừa|Extra(?:\s+notes)?)\s*:\s*(\d+)`)},
}

func parseTextReport(s string) map[string]interface{} {
	results := map[string]interface{}{}
	for _, pattern := range textMetricPatterns {
		match := pattern.re.FindStringSubmatch(s)
		if match == nil {
			continue
		}
		if pattern.integer {
			if value, err := strconv.Atoi(match[1]); err == nil {
				results[pattern.key] = value
			}
			continue
		}
		if value, err := strconv.ParseFloat(match[1], 64); err == nil {
			results[pattern.key] = value
		}
	}
	return results
}

// NormalizeResults coalesces "_count"-suffixed field variants emitted by some
// script revisions into the canonical keys, e.g. missing_notes_count into
// missing_notes. The canonical key wins when both are present.
func NormalizeResults(results map[string]interface{}) map[string]interface{} {
	if results == nil {
		return map[string]interface{}{}
	}
	for key, value := range results {
		base, found := strings.CutSuffix(key, "_count")
		if !found || base == "" {
			continue
		}
		if _, exists := results[base]; !exists {
			results[base] = value
		}
		delete(results, key)
	}
	return results
}
