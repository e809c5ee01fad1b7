package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/safety"
)

// Pipeline phases, in transition order.
const (
	phasePreflight   = "preflight_check"
	phaseIntent      = "intent_analysis"
	phaseGate        = "confidence_gate"
	phaseGraphFetch  = "graph_retrieval"
	phaseIndexFetch  = "index_retrieval"
	phaseSynthesis   = "synthesis"
	phaseSafetyCheck = "safety_validation"
)

// confidenceGateThreshold marks classifications worth flagging in the trace.
// The gate is informational and never halts a run.
const confidenceGateThreshold = 0.6

// Pipeline sequences preflight refusal, intent classification, parallel
// retrieval, synthesis, and post-generation safety validation into one run.
type Pipeline struct {
	logger      *slog.Logger
	validator   *safety.Validator
	classifier  *Classifier
	coordinator *Coordinator
	synthesizer *Synthesizer
}

// NewPipeline constructs the analysis pipeline.
func NewPipeline(logger *slog.Logger, validator *safety.Validator, classifier *Classifier, coordinator *Coordinator, synthesizer *Synthesizer) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = safety.NewValidator()
	}
	return &Pipeline{
		logger:      logger,
		validator:   validator,
		classifier:  classifier,
		coordinator: coordinator,
		synthesizer: synthesizer,
	}
}

// Run executes one pipeline run. The returned response is always well-formed
// when err is nil; retrieval sub-failures are contained inside it. Only a
// failed answer-generation call fails the run.
func (p *Pipeline) Run(ctx context.Context, query string, history []models.ChatTurn, priority llm.Priority) (models.AnalystResponse, error) {
	tr := newTrace()

	// Pre-flight refusal: a write-intent query never reaches retrieval.
	step := tr.start("safety", phasePreflight, "screen query against prohibited-operation patterns")
	if res := p.validator.CheckQuery(query); res.Blocked {
		tr.finish(step, models.StepBlocked, "query matched a write-intent pattern", 0)
		p.logger.Info("query blocked pre-flight", slog.String("pattern", res.Pattern))
		return blockedResponse(tr.steps), nil
	}
	tr.finish(step, models.StepComplete, "no prohibited intent detected", 0)

	step = tr.start("classifier", phaseIntent, "classify query intent")
	intent := p.classifier.Classify(ctx, priority, query, history)
	tr.finish(step, models.StepComplete, fmt.Sprintf("category=%s confidence=%.2f strategies=%v", intent.Category, intent.Confidence, intent.Strategies), 0)

	step = tr.start("orchestrator", phaseGate, "check classification confidence")
	if intent.Confidence < confidenceGateThreshold {
		tr.finish(step, models.StepComplete, fmt.Sprintf("low confidence %.2f, proceeding with broad retrieval", intent.Confidence), 0)
	} else {
		tr.finish(step, models.StepComplete, fmt.Sprintf("confidence %.2f", intent.Confidence), 0)
	}

	graphStep := -1
	if intent.WantsGraph() {
		graphStep = tr.start("researcher", phaseGraphFetch, "query capability knowledge graph")
	}
	indexStep := -1
	if intent.WantsIndex() {
		indexStep = tr.start("researcher", phaseIndexFetch, "query telemetry search index")
	}

	graphReport, indexReport := p.coordinator.Retrieve(ctx, intent)
	if graphStep >= 0 {
		tr.finish(graphStep, branchStatus(graphReport), fmt.Sprintf("%d sources in %s", len(graphReport.Sources), graphReport.Duration.Round(time.Millisecond)), graphReport.DataPoints)
	}
	if indexStep >= 0 {
		tr.finish(indexStep, branchStatus(indexReport), fmt.Sprintf("%d sources in %s", len(indexReport.Sources), indexReport.Duration.Round(time.Millisecond)), indexReport.DataPoints)
	}

	sources := append(append([]models.RetrievalSource(nil), graphReport.Sources...), indexReport.Sources...)
	dataPoints := graphReport.DataPoints + indexReport.DataPoints

	step = tr.start("analyst", phaseSynthesis, "synthesize answer from evidence")
	answer, err := p.synthesizer.Synthesize(ctx, priority, query, history, sources)
	if err != nil {
		tr.finish(step, models.StepError, err.Error(), 0)
		return models.AnalystResponse{Steps: tr.steps}, err
	}
	followUps := p.synthesizer.FollowUps(ctx, priority, query, answer)
	tr.finish(step, models.StepComplete, "answer and follow-ups generated", dataPoints)

	step = tr.start("safety", phaseSafetyCheck, "scan answer for destructive operations")
	scan := p.validator.ScanAnswer(answer)
	safetyStatus := models.SafetyClean
	if scan.Filtered {
		safetyStatus = models.SafetyFiltered
		tr.finish(step, models.StepComplete, fmt.Sprintf("redacted %d destructive operation(s)", len(scan.Matches)), 0)
		p.logger.Warn("answer filtered post-generation", slog.Int("matches", len(scan.Matches)))
	} else {
		tr.finish(step, models.StepComplete, "answer clean", 0)
	}

	return models.AnalystResponse{
		Answer:       scan.Text,
		Reasoning:    summarizeEvidence(sources, dataPoints),
		Sources:      sources,
		FollowUps:    followUps,
		TrustScore:   trustScore(sources, dataPoints, scan.Filtered),
		Confidence:   clamp01(intent.Confidence),
		SafetyStatus: safetyStatus,
		Provenance: models.Provenance{
			GraphConsulted: graphReport.Ran,
			IndexConsulted: indexReport.Ran,
			DataPoints:     dataPoints,
			GeneratedAt:    time.Now().UTC(),
		},
		Steps: tr.steps,
	}, nil
}

// blockedResponse is the fixed refusal payload for pre-flight blocks.
func blockedResponse(steps []models.AgentStep) models.AnalystResponse {
	return models.AnalystResponse{
		Answer:       safety.RefusalMessage,
		Reasoning:    "Query refused before retrieval: it requested a write or destructive operation.",
		Sources:      []models.RetrievalSource{},
		FollowUps:    append([]string(nil), safety.SafeFollowUps...),
		TrustScore:   1.0,
		Confidence:   1.0,
		SafetyStatus: models.SafetyBlocked,
		Provenance:   models.Provenance{GeneratedAt: time.Now().UTC()},
		Steps:        steps,
	}
}

func branchStatus(report BranchReport) models.StepStatus {
	for _, s := range report.Sources {
		if s.Relevance != models.RelevanceError {
			return models.StepComplete
		}
	}
	if len(report.Sources) > 0 {
		return models.StepError
	}
	return models.StepComplete
}

// trace accumulates the append-only AgentStep log for one run.
type trace struct {
	steps []models.AgentStep
}

func newTrace() *trace {
	return &trace{}
}

// start appends a running step and returns its index.
func (t *trace) start(role, phase, action string) int {
	t.steps = append(t.steps, models.AgentStep{
		Role:      role,
		Phase:     phase,
		Action:    action,
		Status:    models.StepRunning,
		StartedAt: time.Now().UTC(),
	})
	return len(t.steps) - 1
}

// finish closes a step in place, preserving emission order.
func (t *trace) finish(i int, status models.StepStatus, detail string, dataPoints int) {
	step := &t.steps[i]
	step.Status = status
	step.Detail = detail
	step.DataPoints = dataPoints
	step.CompletedAt = time.Now().UTC()
	step.DurationMs = step.CompletedAt.Sub(step.StartedAt).Milliseconds()
}
