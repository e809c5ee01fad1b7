package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
)

// maxSourceChars bounds how much of each retrieval source enters the context block.
const maxSourceChars = 2000

// synthesisInstruction is the immutable system prompt for answer generation.
// It is a prompt-level safety rail layered on top of the pre-flight check and
// the post-generation scan.
const synthesisInstruction = `You are a security-operations analyst assistant working with read-only data.
Rules you must always follow:
- Never suggest, describe, or output commands or API calls that delete, restart,
  reconfigure, execute code on, or otherwise mutate monitored infrastructure.
- Base your answer only on the evidence provided in the context block.
- When evidence is missing or contradictory, say so plainly instead of guessing.
- Cite alert rule ids, agent names, and CVE ids exactly as they appear in the evidence.
Answer the analyst's question concisely and concretely.`

const followUpInstruction = `Given the analyst's question and the assistant's answer, propose exactly 3
short follow-up questions the analyst would plausibly ask next. All suggestions
must be read-only investigations. Return a JSON array of 3 strings, nothing else.`

var followUpSchema = json.RawMessage(`{
  "type": "array",
  "items": {"type": "string"},
  "minItems": 3,
  "maxItems": 3
}`)

// genericFollowUps replaces follow-up output that failed to parse.
var genericFollowUps = []string{
	"Show me related alerts from the same agent",
	"Were there similar alerts across other agents?",
	"What detection coverage exists for this technique?",
}

// Synthesizer builds a bounded context block and generates the answer and
// follow-up suggestions. It does not enforce safety on its output; the
// pipeline's post-generation scan does.
type Synthesizer struct {
	llm    Completer
	logger *slog.Logger
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(completer Completer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{llm: completer, logger: logger}
}

// Synthesize issues the answer-generation call over the gathered evidence.
// A transport or backend failure here fails the run; there is no safe default
// answer to substitute.
func (s *Synthesizer) Synthesize(ctx context.Context, priority llm.Priority, query string, history []models.ChatTurn, sources []models.RetrievalSource) (string, error) {
	contextBlock := buildContextBlock(sources)

	messages := []llm.Message{{Role: "system", Content: synthesisInstruction}}
	for _, turn := range lastTurns(history, historyWindow) {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Evidence:\n%s\n\nQuestion: %s", contextBlock, query),
	})

	completion, err := s.llm.Complete(ctx, priority, llm.Request{Messages: messages, MaxTokens: 1024})
	if err != nil {
		return "", fmt.Errorf("answer generation: %w", err)
	}
	return strings.TrimSpace(completion.Text), nil
}

// FollowUps issues an independent call for exactly 3 suggestions. Any failure
// substitutes the fixed generic list.
func (s *Synthesizer) FollowUps(ctx context.Context, priority llm.Priority, query, answer string) []string {
	completion, err := s.llm.Complete(ctx, priority, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: followUpInstruction},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nAnswer: %s", query, answer)},
		},
		Schema:     followUpSchema,
		SchemaName: "follow_ups",
		MaxTokens:  256,
	})
	if err != nil {
		s.logger.Debug("follow-up generation failed, using generic suggestions", slog.Any("error", err))
		return append([]string(nil), genericFollowUps...)
	}

	var suggestions []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion.Text)), &suggestions); err != nil || len(suggestions) != 3 {
		return append([]string(nil), genericFollowUps...)
	}
	return suggestions
}

// buildContextBlock concatenates non-error sources, each truncated to the
// per-source character budget.
func buildContextBlock(sources []models.RetrievalSource) string {
	var b strings.Builder
	for _, source := range sources {
		if source.Relevance == models.RelevanceError {
			continue
		}
		payload := source.Payload
		if len(payload) > maxSourceChars {
			payload = payload[:maxSourceChars]
		}
		fmt.Fprintf(&b, "[%s/%s] %s\n%s\n\n", source.Origin, source.Relevance, source.Label, payload)
	}
	if b.Len() == 0 {
		return "(no evidence retrieved)"
	}
	return b.String()
}

// summarizeEvidence produces the deterministic reasoning summary attached to
// the response.
func summarizeEvidence(sources []models.RetrievalSource, dataPoints int) string {
	graph, index, errored := 0, 0, 0
	for _, s := range sources {
		switch {
		case s.Relevance == models.RelevanceError:
			errored++
		case s.Origin == models.OriginIndex:
			index++
		default:
			graph++
		}
	}
	summary := fmt.Sprintf("Synthesized from %d graph source(s) and %d telemetry source(s) covering %d data points.", graph, index, dataPoints)
	if errored > 0 {
		summary += fmt.Sprintf(" %d retrieval step(s) failed and were excluded.", errored)
	}
	return summary
}
