package models

import "time"

// IntentCategory buckets an analyst question for retrieval planning.
type IntentCategory string

const (
	IntentGeneral       IntentCategory = "general"
	IntentAlertTriage   IntentCategory = "alert_triage"
	IntentVulnerability IntentCategory = "vulnerability"
	IntentCapability    IntentCategory = "capability"
	IntentErrorAnalysis IntentCategory = "error_analysis"
	IntentAgentHealth   IntentCategory = "agent_health"
)

// RetrievalStrategy selects which read-only sources a run consults.
type RetrievalStrategy string

const (
	StrategyGraph RetrievalStrategy = "graph"
	StrategyIndex RetrievalStrategy = "index"
	StrategyBoth  RetrievalStrategy = "both"
)

// Intent is the classified shape of one analyst query. Ephemeral, one per run.
type Intent struct {
	Category   IntentCategory      `json:"category"`
	Keywords   []string            `json:"keywords"`
	AgentIDs   []string            `json:"agent_ids"`
	RuleIDs    []string            `json:"rule_ids"`
	CVEs       []string            `json:"cves"`
	Strategies []RetrievalStrategy `json:"strategies"`
	TimeRange  *TimeRange          `json:"time_range,omitempty"`
	Confidence float64             `json:"confidence"`
}

// TimeRange bounds a telemetry window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultIntent is the fallback when classification output is malformed or missing.
func DefaultIntent(query string) Intent {
	return Intent{
		Category:   IntentGeneral,
		Keywords:   []string{query},
		Strategies: []RetrievalStrategy{StrategyBoth},
		Confidence: 0.5,
	}
}

// WantsGraph reports whether the graph retrieval branch should run.
func (i Intent) WantsGraph() bool {
	for _, s := range i.Strategies {
		if s == StrategyGraph || s == StrategyBoth {
			return true
		}
	}
	return false
}

// WantsIndex reports whether the index retrieval branch should run.
func (i Intent) WantsIndex() bool {
	for _, s := range i.Strategies {
		if s == StrategyIndex || s == StrategyBoth {
			return true
		}
	}
	return false
}

// ChatTurn is one prior exchange item supplied as conversational context.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
