package models

import "time"

// SourceOrigin names the backend a retrieval source came from.
type SourceOrigin string

const (
	OriginGraph SourceOrigin = "graph"
	OriginIndex SourceOrigin = "index"
	OriginStats SourceOrigin = "stats"
)

// SourceRelevance tags how a retrieval source relates to the answer.
type SourceRelevance string

const (
	RelevanceContext    SourceRelevance = "context"
	RelevancePrimary    SourceRelevance = "primary"
	RelevanceSupporting SourceRelevance = "supporting"
	RelevanceError      SourceRelevance = "error"
)

// RetrievalSource is one piece of evidence gathered for synthesis. Immutable once created.
type RetrievalSource struct {
	Origin    SourceOrigin    `json:"origin"`
	Label     string          `json:"label"`
	Payload   string          `json:"payload"`
	Relevance SourceRelevance `json:"relevance"`
}

// StepStatus is the lifecycle state of one trace entry.
type StepStatus string

const (
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepError    StepStatus = "error"
	StepBlocked  StepStatus = "blocked"
)

// AgentStep is one append-only trace entry describing a pipeline phase.
type AgentStep struct {
	Role        string     `json:"role"`
	Phase       string     `json:"phase"`
	Action      string     `json:"action"`
	Detail      string     `json:"detail"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	DataPoints  int        `json:"data_points,omitempty"`
}

// SafetyStatus is the policy outcome attached to a response.
type SafetyStatus string

const (
	SafetyClean    SafetyStatus = "clean"
	SafetyFiltered SafetyStatus = "filtered"
	SafetyBlocked  SafetyStatus = "blocked"
)

// Provenance records which backends contributed to a response.
type Provenance struct {
	GraphConsulted bool      `json:"graph_consulted"`
	IndexConsulted bool      `json:"index_consulted"`
	DataPoints     int       `json:"data_points"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// AnalystResponse is the immutable final output of one pipeline run.
type AnalystResponse struct {
	Answer       string            `json:"answer"`
	Reasoning    string            `json:"reasoning"`
	Sources      []RetrievalSource `json:"sources"`
	FollowUps    []string          `json:"follow_ups"`
	TrustScore   float64           `json:"trust_score"`
	Confidence   float64           `json:"confidence"`
	SafetyStatus SafetyStatus      `json:"safety_status"`
	Provenance   Provenance        `json:"provenance"`
	Steps        []AgentStep       `json:"steps"`
}
