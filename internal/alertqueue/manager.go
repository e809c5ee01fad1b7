// Package alertqueue manages the bounded alert review queue: admission with
// severity-based eviction, triage processing, and history cleanup. Capacity
// and uniqueness are enforced here, not in the store.
package alertqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/metrics"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/store"
	"github.com/sentrastack/sentra-triage/internal/utils"
)

// Admission outcomes recorded in metrics.
const (
	admissionAdmitted  = "admitted"
	admissionEvicted   = "evicted"
	admissionRejected  = "rejected"
	admissionDuplicate = "duplicate"
)

// Rule levels at or above these thresholds raise the completion-call priority
// of the triage run.
const (
	criticalLevelThreshold = 12
	highLevelThreshold     = 7
)

// Runner executes one analysis run for a queued alert.
type Runner interface {
	Run(ctx context.Context, query string, history []models.ChatTurn, priority llm.Priority) (models.AnalystResponse, error)
}

// Manager owns queue admission and processing.
type Manager struct {
	store    store.Store
	runner   Runner
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager constructs a Manager with the given capacity.
func NewManager(st store.Store, runner Runner, capacity int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, runner: runner, capacity: capacity, logger: logger, now: time.Now}
}

// Enqueue admits one alert into the queue. Rejections are reported as result
// values; an error means the store itself failed.
//
// Admission order: duplicate active alert ids are rejected first; below
// capacity the alert is inserted directly; at capacity the lowest-severity
// oldest queued item is evicted, but only when the incoming alert's severity
// is at least the victim's. A queue full of in-flight items admits nothing.
func (m *Manager) Enqueue(ctx context.Context, req models.EnqueueRequest) (models.EnqueueResult, error) {
	active, err := m.store.ListItems(ctx, []models.QueueStatus{models.QueueStatusQueued, models.QueueStatusProcessing})
	if err != nil {
		return models.EnqueueResult{}, &utils.AppError{Op: "alertqueue.enqueue", Msg: "list active items", Err: err}
	}

	for _, item := range active {
		if item.AlertID == req.AlertID {
			metrics.ObserveQueueAdmission(admissionDuplicate)
			return models.EnqueueResult{
				Message: fmt.Sprintf("alert %s is already in the queue (item %s)", req.AlertID, item.ID),
			}, nil
		}
	}

	if len(active) >= m.capacity {
		victim, ok := evictionCandidate(active)
		if !ok {
			metrics.ObserveQueueAdmission(admissionRejected)
			return models.EnqueueResult{
				Message: "queue is full and every item is being processed",
			}, nil
		}
		if req.RuleLevel < victim.RuleLevel {
			metrics.ObserveQueueAdmission(admissionRejected)
			return models.EnqueueResult{
				Message: fmt.Sprintf("queue is full; alert severity %d is below the lowest queued severity %d", req.RuleLevel, victim.RuleLevel),
			}, nil
		}
		victim.Status = models.QueueStatusDismissed
		victim.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateItem(ctx, victim); err != nil {
			return models.EnqueueResult{}, &utils.AppError{Op: "alertqueue.enqueue", Msg: "evict item " + victim.ID, Err: err}
		}
		metrics.ObserveQueueAdmission(admissionEvicted)
		m.logger.Info("evicted queued alert to admit a higher-severity one",
			slog.String("evicted_item", victim.ID),
			slog.Int("evicted_level", victim.RuleLevel),
			slog.Int("incoming_level", req.RuleLevel))
	}

	queuedBy := req.QueuedBy
	if queuedBy == "" {
		queuedBy = "analyst"
	}
	now := m.now().UTC()
	item := models.AlertQueueItem{
		ID:              uuid.NewString(),
		AlertID:         req.AlertID,
		RuleID:          req.RuleID,
		RuleDescription: req.RuleDescription,
		RuleLevel:       req.RuleLevel,
		AgentID:         req.AgentID,
		AgentName:       req.AgentName,
		AlertTimestamp:  req.AlertTimestamp,
		RawAlert:        req.RawAlert,
		Status:          models.QueueStatusQueued,
		QueuedBy:        queuedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.CreateItem(ctx, item); err != nil {
		return models.EnqueueResult{}, &utils.AppError{Op: "alertqueue.enqueue", Msg: "create item", Err: err}
	}

	metrics.ObserveQueueAdmission(admissionAdmitted)
	return models.EnqueueResult{
		Success: true,
		Message: "alert queued for triage",
		ItemID:  item.ID,
	}, nil
}

// evictionCandidate returns the lowest-severity oldest queued item. Items
// already being processed are never evicted.
func evictionCandidate(active []models.AlertQueueItem) (models.AlertQueueItem, bool) {
	var victim models.AlertQueueItem
	found := false
	for _, item := range active {
		if item.Status != models.QueueStatusQueued {
			continue
		}
		// active is creation-ordered, so strict less keeps the oldest at
		// each severity.
		if !found || item.RuleLevel < victim.RuleLevel {
			victim = item
			found = true
		}
	}
	return victim, found
}

// Process runs triage for one queued item. Only items in the queued state are
// eligible. The triage outcome is persisted either way; a failed run moves the
// item to failed and returns the run's error.
func (m *Manager) Process(ctx context.Context, id string) (models.AlertQueueItem, error) {
	item, err := m.store.GetItem(ctx, id)
	if err != nil {
		return models.AlertQueueItem{}, &utils.AppError{Op: "alertqueue.process", Msg: "load item " + id, Err: err}
	}
	if item.Status != models.QueueStatusQueued {
		return models.AlertQueueItem{}, &utils.AppError{
			Op:  "alertqueue.process",
			Msg: fmt.Sprintf("item %s is %s, only queued items can be processed", id, item.Status),
		}
	}

	item.Status = models.QueueStatusProcessing
	item.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return models.AlertQueueItem{}, &utils.AppError{Op: "alertqueue.process", Msg: "mark processing", Err: err}
	}

	resp, runErr := m.runner.Run(ctx, triageQuery(item), nil, priorityForLevel(item.RuleLevel))
	if runErr != nil {
		item.Status = models.QueueStatusFailed
		item.TriageResult = failurePayload(item, runErr, m.now().UTC())
		item.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateItem(ctx, item); err != nil {
			m.logger.Error("failed to persist triage failure", slog.String("item", id), slog.Any("error", err))
		}
		return item, &utils.AppError{Op: "alertqueue.process", Msg: "triage run for item " + id, Err: runErr}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"answer":%q}`, resp.Answer))
	}
	item.Status = models.QueueStatusCompleted
	item.TriageResult = string(payload)
	item.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return models.AlertQueueItem{}, &utils.AppError{Op: "alertqueue.process", Msg: "persist triage result", Err: err}
	}
	return item, nil
}

// Remove dismisses one item regardless of its current state.
func (m *Manager) Remove(ctx context.Context, id string) error {
	item, err := m.store.GetItem(ctx, id)
	if err != nil {
		return &utils.AppError{Op: "alertqueue.remove", Msg: "load item " + id, Err: err}
	}
	item.Status = models.QueueStatusDismissed
	item.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return &utils.AppError{Op: "alertqueue.remove", Msg: "dismiss item " + id, Err: err}
	}
	return nil
}

// List returns queue items filtered by status, creation order ascending.
func (m *Manager) List(ctx context.Context, statuses []models.QueueStatus) ([]models.AlertQueueItem, error) {
	items, err := m.store.ListItems(ctx, statuses)
	if err != nil {
		return nil, &utils.AppError{Op: "alertqueue.list", Msg: "list items", Err: err}
	}
	return items, nil
}

// ClearHistory removes terminal items. Queued and processing items survive.
func (m *Manager) ClearHistory(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteItems(ctx, []models.QueueStatus{
		models.QueueStatusCompleted,
		models.QueueStatusFailed,
		models.QueueStatusDismissed,
	})
	if err != nil {
		return 0, &utils.AppError{Op: "alertqueue.clear", Msg: "delete terminal items", Err: err}
	}
	return removed, nil
}

// HasActiveAlert reports whether the alert id is already queued or processing.
func (m *Manager) HasActiveAlert(ctx context.Context, alertID string) (bool, error) {
	active, err := m.store.ListItems(ctx, []models.QueueStatus{models.QueueStatusQueued, models.QueueStatusProcessing})
	if err != nil {
		return false, err
	}
	for _, item := range active {
		if item.AlertID == alertID {
			return true, nil
		}
	}
	return false, nil
}

func priorityForLevel(level int) llm.Priority {
	switch {
	case level >= criticalLevelThreshold:
		return llm.PriorityCritical
	case level >= highLevelThreshold:
		return llm.PriorityHigh
	default:
		return llm.PriorityNormal
	}
}

func triageQuery(item models.AlertQueueItem) string {
	return fmt.Sprintf(
		"Triage this alert: rule %s (%s) fired at level %d on agent %s (%s) at %s. "+
			"Assess severity, likely cause, and recommended read-only next steps.",
		item.RuleID, item.RuleDescription, item.RuleLevel,
		item.AgentName, item.AgentID, item.AlertTimestamp.UTC().Format(time.RFC3339),
	)
}

func failurePayload(item models.AlertQueueItem, runErr error, at time.Time) string {
	payload := map[string]interface{}{
		"answer":        "Triage failed: " + runErr.Error(),
		"safety_status": string(models.SafetyClean),
		"trust_score":   0.0,
		"generated_at":  at.Format(time.RFC3339),
		"alert_id":      item.AlertID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"answer":"triage failed"}`
	}
	return string(data)
}
