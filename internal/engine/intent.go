package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/models"
)

// Completer is the gated completion capability used by all pipeline phases.
type Completer interface {
	Complete(ctx context.Context, priority llm.Priority, req llm.Request) (llm.Completion, error)
}

// historyWindow is how many prior turns accompany the classification call.
const historyWindow = 6

const classifierInstruction = `You classify security-analyst questions for a read-only SOC assistant.
Return a JSON object with fields:
  category: one of "general", "alert_triage", "vulnerability", "capability", "error_analysis", "agent_health"
  keywords: up to 5 search keywords drawn from the question
  agent_ids: agent identifiers or hostnames mentioned, if any
  rule_ids: detection rule ids mentioned, if any
  cves: CVE identifiers mentioned, if any
  strategies: subset of ["graph", "index", "both"] naming which sources to consult
  confidence: your confidence in this classification, 0 to 1
Respond with the JSON object only.`

var intentSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "category": {"type": "string"},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "agent_ids": {"type": "array", "items": {"type": "string"}},
    "rule_ids": {"type": "array", "items": {"type": "string"}},
    "cves": {"type": "array", "items": {"type": "string"}},
    "strategies": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number"}
  },
  "required": ["category", "keywords", "strategies", "confidence"],
  "additionalProperties": false
}`)

// Classifier turns a query plus recent history into a structured Intent.
type Classifier struct {
	llm    Completer
	logger *slog.Logger
}

// NewClassifier constructs an intent classifier.
func NewClassifier(completer Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: completer, logger: logger}
}

// Classify issues one classification call. Malformed or missing output never
// fails the run; it falls back to the default Intent for the query.
func (c *Classifier) Classify(ctx context.Context, priority llm.Priority, query string, history []models.ChatTurn) models.Intent {
	messages := []llm.Message{{Role: "system", Content: classifierInstruction}}
	for _, turn := range lastTurns(history, historyWindow) {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})

	completion, err := c.llm.Complete(ctx, priority, llm.Request{
		Messages:   messages,
		Schema:     intentSchema,
		SchemaName: "intent",
		MaxTokens:  512,
	})
	if err != nil {
		c.logger.Warn("intent classification failed, using default", slog.Any("error", err))
		return models.DefaultIntent(query)
	}

	intent, err := parseIntent(completion.Text, query)
	if err != nil {
		c.logger.Warn("intent output malformed, using default", slog.Any("error", err))
		return models.DefaultIntent(query)
	}
	return intent
}

// parseIntent is a strict parse-or-default: any shape violation rejects the
// whole payload instead of keeping partial fields.
func parseIntent(raw, query string) (models.Intent, error) {
	var decoded struct {
		Category   string   `json:"category"`
		Keywords   []string `json:"keywords"`
		AgentIDs   []string `json:"agent_ids"`
		RuleIDs    []string `json:"rule_ids"`
		CVEs       []string `json:"cves"`
		Strategies []string `json:"strategies"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &decoded); err != nil {
		return models.Intent{}, err
	}

	category, ok := parseCategory(decoded.Category)
	if !ok {
		return models.Intent{}, errInvalidShape("category", decoded.Category)
	}
	strategies, ok := parseStrategies(decoded.Strategies)
	if !ok {
		return models.Intent{}, errInvalidShape("strategies", strings.Join(decoded.Strategies, ","))
	}
	if decoded.Confidence < 0 || decoded.Confidence > 1 {
		return models.Intent{}, errInvalidShape("confidence", "out of range")
	}
	keywords := decoded.Keywords
	if len(keywords) == 0 {
		keywords = []string{query}
	}

	return models.Intent{
		Category:   category,
		Keywords:   keywords,
		AgentIDs:   decoded.AgentIDs,
		RuleIDs:    decoded.RuleIDs,
		CVEs:       decoded.CVEs,
		Strategies: strategies,
		Confidence: decoded.Confidence,
	}, nil
}

type shapeError struct {
	field string
	value string
}

func (e shapeError) Error() string {
	return "invalid " + e.field + ": " + e.value
}

func errInvalidShape(field, value string) error {
	return shapeError{field: field, value: value}
}

func parseCategory(raw string) (models.IntentCategory, bool) {
	switch models.IntentCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case models.IntentGeneral:
		return models.IntentGeneral, true
	case models.IntentAlertTriage:
		return models.IntentAlertTriage, true
	case models.IntentVulnerability:
		return models.IntentVulnerability, true
	case models.IntentCapability:
		return models.IntentCapability, true
	case models.IntentErrorAnalysis:
		return models.IntentErrorAnalysis, true
	case models.IntentAgentHealth:
		return models.IntentAgentHealth, true
	default:
		return "", false
	}
}

func parseStrategies(raw []string) ([]models.RetrievalStrategy, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	out := make([]models.RetrievalStrategy, 0, len(raw))
	for _, s := range raw {
		switch models.RetrievalStrategy(strings.ToLower(strings.TrimSpace(s))) {
		case models.StrategyGraph:
			out = append(out, models.StrategyGraph)
		case models.StrategyIndex:
			out = append(out, models.StrategyIndex)
		case models.StrategyBoth:
			out = append(out, models.StrategyBoth)
		default:
			return nil, false
		}
	}
	return out, true
}

func lastTurns(history []models.ChatTurn, n int) []models.ChatTurn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
