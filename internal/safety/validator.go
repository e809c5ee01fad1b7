// Package safety screens analyst queries and synthesized answers for
// destructive intent. It is one rail among several: the graph adapter already
// excludes destructive capabilities at the boundary, and the synthesis prompt
// forbids suggesting them. Policy outcomes are surfaced as statuses, never errors.
package safety

import (
	"regexp"
	"strings"
)

// RefusalMessage is the fixed analyst-facing text returned when a query is
// blocked pre-flight.
const RefusalMessage = "This assistant is read-only. I can't delete, restart, " +
	"reconfigure, or execute anything on monitored infrastructure. I can help you " +
	"investigate alerts, look up detection capabilities, and analyze telemetry instead."

// RedactionMarker replaces destructive operations found in generated answers.
const RedactionMarker = "[redacted: destructive operation]"

// SafeFollowUps is the fixed suggestion list attached to a blocked response.
var SafeFollowUps = []string{
	"Show me the highest-severity alerts from the last 24 hours",
	"Which agents have reported the most alerts recently?",
	"What detection capabilities exist for lateral movement?",
}

// preflight patterns match write/mutate/destructive intent in incoming queries.
var preflightPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(delete|remove|deregister|unregister)\b.*\b(agent|rule|decoder|index|group|user|polic(y|ies))\b`),
	regexp.MustCompile(`(?i)\b(restart|reboot|shut\s*down|stop|kill)\b.*\b(agent|manager|service|daemon|cluster|node|host)\b`),
	regexp.MustCompile(`(?i)\b(trigger|run|launch|execute|fire)\b.*\bactive[- ]?response\b`),
	regexp.MustCompile(`(?i)\b(execute|run)\b.*\b(command|script|shell|payload)\b.*\b(on|against)\b`),
	regexp.MustCompile(`(?i)\b(change|modify|update|edit|rewrite|push)\b.*\b(config|configuration|ossec\.conf|settings)\b`),
	regexp.MustCompile(`(?i)\b(disable|enable)\b.*\b(rule|decoder|module|wodle)\b`),
	regexp.MustCompile(`(?i)\b(quarantine|isolate|block)\b.*\b(host|agent|endpoint|ip)\b`),
}

// generation patterns match concrete destructive operations inside answers.
var generationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DELETE|PUT)\s+/[\w./\-{}?=&]*\b(agents?|groups?|rules?|decoders?|tasks?)\b[\w./\-{}?=&]*`),
	regexp.MustCompile(`(?i)\bPOST\s+/[\w./\-{}?=&]*\bactive-response\b[\w./\-{}?=&]*`),
	regexp.MustCompile(`(?i)\bPUT\s+/[\w./\-{}?=&]*\brestart\b[\w./\-{}?=&]*`),
	regexp.MustCompile(`(?i)\brm\s+-r?f?\s+/\S*`),
	regexp.MustCompile(`(?i)\bsystemctl\s+(stop|restart|disable)\s+\S+`),
	regexp.MustCompile(`(?i)\b(agent_control|active-response)\b\s+-\S+`),
	regexp.MustCompile(`(?i)\bshutdown\s+(-[a-z]\s+)?\S+`),
}

// PreflightResult reports a query-level screening decision.
type PreflightResult struct {
	Blocked bool
	Pattern string
}

// ScanResult reports an answer-level screening pass.
type ScanResult struct {
	Text     string
	Filtered bool
	Matches  []string
}

// Validator screens queries and answers against the fixed pattern sets.
// The zero value is not usable; construct with NewValidator.
type Validator struct {
	preflight  []*regexp.Regexp
	generation []*regexp.Regexp
}

// NewValidator returns a Validator with the built-in pattern sets.
func NewValidator() *Validator {
	return &Validator{preflight: preflightPatterns, generation: generationPatterns}
}

// CheckQuery screens an incoming analyst query. Any match short-circuits the
// whole pipeline before retrieval or synthesis runs.
func (v *Validator) CheckQuery(query string) PreflightResult {
	trimmed := strings.TrimSpace(query)
	for _, re := range v.preflight {
		if re.MatchString(trimmed) {
			return PreflightResult{Blocked: true, Pattern: re.String()}
		}
	}
	return PreflightResult{}
}

// ScanAnswer replaces destructive operations in a generated answer with the
// redaction marker. Scanning already-clean text is idempotent.
func (v *Validator) ScanAnswer(answer string) ScanResult {
	result := ScanResult{Text: answer}
	for _, re := range v.generation {
		matches := re.FindAllString(result.Text, -1)
		if len(matches) == 0 {
			continue
		}
		result.Filtered = true
		result.Matches = append(result.Matches, matches...)
		result.Text = re.ReplaceAllString(result.Text, RedactionMarker)
	}
	return result
}
