package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
)

// fakeCompleter scripts responses by schema name: "intent" for classification,
// "follow_ups" for suggestions, empty for synthesis.
type fakeCompleter struct {
	intentText    string
	intentErr     error
	answerText    string
	answerErr     error
	followUpsText string
	followUpsErr  error

	calls []string
}

func (f *fakeCompleter) Complete(_ context.Context, _ llm.Priority, req llm.Request) (llm.Completion, error) {
	switch req.SchemaName {
	case "intent":
		f.calls = append(f.calls, "intent")
		return llm.Completion{Text: f.intentText}, f.intentErr
	case "follow_ups":
		f.calls = append(f.calls, "follow_ups")
		return llm.Completion{Text: f.followUpsText}, f.followUpsErr
	default:
		f.calls = append(f.calls, "answer")
		return llm.Completion{Text: f.answerText}, f.answerErr
	}
}

func TestClassifyParsesWellFormedOutput(t *testing.T) {
	completer := &fakeCompleter{
		intentText: `{"category":"alert_triage","keywords":["ssh","brute force"],"agent_ids":["web-01"],"rule_ids":["5710"],"cves":[],"strategies":["both"],"confidence":0.85}`,
	}
	c := NewClassifier(completer, nil)

	intent := c.Classify(context.Background(), llm.PriorityHigh, "why did 5710 fire on web-01?", nil)

	if intent.Category != models.IntentAlertTriage {
		t.Fatalf("unexpected category %s", intent.Category)
	}
	if len(intent.Keywords) != 2 || intent.Keywords[0] != "ssh" {
		t.Fatalf("unexpected keywords %v", intent.Keywords)
	}
	if intent.Confidence != 0.85 {
		t.Fatalf("unexpected confidence %f", intent.Confidence)
	}
	if !intent.WantsGraph() || !intent.WantsIndex() {
		t.Fatalf("strategy 'both' should select both branches")
	}
}

func TestClassifyFallsBackOnMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"not json":           `the category is alert_triage`,
		"unknown category":   `{"category":"weather","keywords":["x"],"strategies":["both"],"confidence":0.9}`,
		"unknown strategy":   `{"category":"general","keywords":["x"],"strategies":["everything"],"confidence":0.9}`,
		"confidence range":   `{"category":"general","keywords":["x"],"strategies":["both"],"confidence":1.7}`,
		"missing strategies": `{"category":"general","keywords":["x"],"strategies":[],"confidence":0.9}`,
	}

	for name, raw := range cases {
		completer := &fakeCompleter{intentText: raw}
		c := NewClassifier(completer, nil)

		intent := c.Classify(context.Background(), llm.PriorityNormal, "what happened overnight?", nil)

		if intent.Category != models.IntentGeneral {
			t.Errorf("%s: expected default category, got %s", name, intent.Category)
		}
		if len(intent.Keywords) != 1 || intent.Keywords[0] != "what happened overnight?" {
			t.Errorf("%s: expected query as sole keyword, got %v", name, intent.Keywords)
		}
		if intent.Confidence != 0.5 {
			t.Errorf("%s: expected default confidence, got %f", name, intent.Confidence)
		}
	}
}

func TestClassifyFallsBackOnCompletionError(t *testing.T) {
	completer := &fakeCompleter{intentErr: errors.New("backend down")}
	c := NewClassifier(completer, nil)

	intent := c.Classify(context.Background(), llm.PriorityNormal, "anything odd today?", nil)

	if intent.Category != models.IntentGeneral || intent.Confidence != 0.5 {
		t.Fatalf("expected default intent, got %+v", intent)
	}
}
