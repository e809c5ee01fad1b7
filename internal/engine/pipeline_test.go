package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/repo"
	"github.com/sentrastack/sentra-triage/internal/safety"
)

func newTestPipeline(completer *fakeCompleter, graph *fakeGraph, index *fakeIndex) *Pipeline {
	return NewPipeline(
		nil,
		safety.NewValidator(),
		NewClassifier(completer, nil),
		NewCoordinator(graph, index, nil),
		NewSynthesizer(completer, nil),
	)
}

func TestRunBlocksWriteIntentBeforeRetrieval(t *testing.T) {
	completer := &fakeCompleter{}
	graph := &fakeGraph{configured: true}
	index := &fakeIndex{configured: true}
	p := newTestPipeline(completer, graph, index)

	resp, err := p.Run(context.Background(), "please delete agent web-01", nil, llm.PriorityNormal)
	if err != nil {
		t.Fatalf("blocked run must not error: %v", err)
	}

	if resp.SafetyStatus != models.SafetyBlocked {
		t.Fatalf("expected blocked status, got %s", resp.SafetyStatus)
	}
	if resp.Answer != safety.RefusalMessage {
		t.Fatalf("expected fixed refusal message")
	}
	if resp.TrustScore != 1.0 || resp.Confidence != 1.0 {
		t.Fatalf("refusal is fully confident: trust=%v confidence=%v", resp.TrustScore, resp.Confidence)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("blocked run must carry no sources")
	}
	if len(resp.FollowUps) != len(safety.SafeFollowUps) {
		t.Fatalf("expected safe follow-up set, got %v", resp.FollowUps)
	}
	if len(completer.calls) != 0 {
		t.Fatalf("blocked run must not call the model, saw %v", completer.calls)
	}
	if len(graph.calls) != 0 || len(index.patterns) != 0 {
		t.Fatalf("blocked run must perform no retrieval: graph=%v index=%v", graph.calls, index.patterns)
	}
	if len(resp.Steps) != 1 || resp.Steps[0].Status != models.StepBlocked {
		t.Fatalf("expected a single blocked step, got %+v", resp.Steps)
	}
}

func TestRunProducesWellFormedResponse(t *testing.T) {
	completer := &fakeCompleter{
		intentText:    `{"category":"alert_triage","keywords":["ssh"],"agent_ids":["web-01"],"strategies":["both"],"confidence":0.9}`,
		answerText:    "Rule 5710 fired repeatedly on web-01 due to SSH brute-force attempts.",
		followUpsText: `["Which source IPs were involved?","Did any attempt succeed?","Are other agents seeing rule 5710?"]`,
	}
	graph := &fakeGraph{configured: true, entries: []repo.GraphEntry{{Name: "ssh_brute_force"}}}
	index := &fakeIndex{configured: true, hits: someHits(3)}
	p := newTestPipeline(completer, graph, index)

	resp, err := p.Run(context.Background(), "why is rule 5710 firing on web-01?", nil, llm.PriorityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.SafetyStatus != models.SafetyClean {
		t.Fatalf("expected clean status, got %s", resp.SafetyStatus)
	}
	if resp.Answer == "" || len(resp.Sources) == 0 {
		t.Fatalf("expected answer and sources")
	}
	if resp.TrustScore < 0 || resp.TrustScore > 1 {
		t.Fatalf("trust score out of range: %v", resp.TrustScore)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", resp.Confidence)
	}
	if !resp.Provenance.GraphConsulted || !resp.Provenance.IndexConsulted {
		t.Fatalf("both branches should be recorded in provenance")
	}
	if len(resp.FollowUps) != 3 {
		t.Fatalf("expected 3 follow-ups, got %v", resp.FollowUps)
	}
	for _, step := range resp.Steps {
		if step.Status == models.StepRunning {
			t.Fatalf("no step may remain running: %+v", step)
		}
		if step.CompletedAt.Before(step.StartedAt) {
			t.Fatalf("step completion precedes start: %+v", step)
		}
	}
}

func TestRunFiltersDestructiveAnswer(t *testing.T) {
	completer := &fakeCompleter{
		intentText:    `{"category":"agent_health","keywords":["web-01"],"strategies":["graph"],"confidence":0.8}`,
		answerText:    "You could remove it with DELETE /api/v4/agents?agents_list=001 and then systemctl restart wazuh-manager.",
		followUpsText: `["a","b","c"]`,
	}
	graph := &fakeGraph{configured: true, entries: []repo.GraphEntry{{Name: "agents"}}}
	p := newTestPipeline(completer, graph, &fakeIndex{})

	resp, err := p.Run(context.Background(), "how do I clean up stale agents?", nil, llm.PriorityNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.SafetyStatus != models.SafetyFiltered {
		t.Fatalf("expected filtered status, got %s", resp.SafetyStatus)
	}
	if strings.Contains(resp.Answer, "DELETE /api/v4/agents") || strings.Contains(resp.Answer, "systemctl restart") {
		t.Fatalf("destructive operations must not survive the scan: %q", resp.Answer)
	}
	if !strings.Contains(resp.Answer, safety.RedactionMarker) {
		t.Fatalf("expected redaction marker in answer: %q", resp.Answer)
	}
	if resp.TrustScore < 0 || resp.TrustScore > 1 {
		t.Fatalf("trust score out of range: %v", resp.TrustScore)
	}
}

func TestRunFailsWhenSynthesisFails(t *testing.T) {
	completer := &fakeCompleter{
		intentText: `{"category":"general","keywords":["x"],"strategies":["graph"],"confidence":0.7}`,
		answerErr:  errors.New("model backend unavailable"),
	}
	graph := &fakeGraph{configured: true}
	p := newTestPipeline(completer, graph, &fakeIndex{})

	resp, err := p.Run(context.Background(), "anything odd today?", nil, llm.PriorityNormal)
	if err == nil {
		t.Fatalf("synthesis failure must fail the run")
	}
	if len(resp.Steps) == 0 {
		t.Fatalf("failed run still returns its step trace")
	}
	last := resp.Steps[len(resp.Steps)-1]
	if last.Status != models.StepError {
		t.Fatalf("expected terminal error step, got %+v", last)
	}
}

func TestRunContainsRetrievalFailures(t *testing.T) {
	completer := &fakeCompleter{
		intentText:    `{"category":"alert_triage","keywords":["ssh"],"strategies":["both"],"confidence":0.9}`,
		answerText:    "Partial evidence only; the telemetry index was unreachable.",
		followUpsText: `["a","b","c"]`,
	}
	graph := &fakeGraph{configured: true, entries: []repo.GraphEntry{{Name: "x"}}}
	index := &fakeIndex{configured: true, searchErr: errors.New("index down")}
	p := newTestPipeline(completer, graph, index)

	resp, err := p.Run(context.Background(), "what fired overnight?", nil, llm.PriorityNormal)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the run: %v", err)
	}

	if countErrors(resp.Sources) == 0 {
		t.Fatalf("index failure should surface as error-tagged sources")
	}
	if resp.SafetyStatus != models.SafetyClean {
		t.Fatalf("expected clean status, got %s", resp.SafetyStatus)
	}
}
