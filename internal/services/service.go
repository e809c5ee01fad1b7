// Package services exposes the triage engine's operations as one facade the
// API layer calls into. It owns cross-cutting run accounting: latency
// tracking, run metrics, and rule-mutation side effects on the poller.
package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentrastack/sentra-triage/internal/alertqueue"
	"github.com/sentrastack/sentra-triage/internal/engine"
	"github.com/sentrastack/sentra-triage/internal/llm"
	"github.com/sentrastack/sentra-triage/internal/metrics"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/poller"
	"github.com/sentrastack/sentra-triage/internal/store"
	"github.com/sentrastack/sentra-triage/internal/utils"
)

// latencyLogEvery controls how often the p95 summary is logged.
const latencyLogEvery = 20

// TriageService wires the pipeline, alert queue, and poller behind one surface.
type TriageService struct {
	pipeline *engine.Pipeline
	queue    *alertqueue.Manager
	poller   *poller.Scheduler
	store    store.Store
	logger   *slog.Logger
	latency  *utils.LatencyTracker
}

// NewTriageService constructs the facade.
func NewTriageService(pipeline *engine.Pipeline, queue *alertqueue.Manager, sched *poller.Scheduler, st store.Store, logger *slog.Logger) *TriageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageService{
		pipeline: pipeline,
		queue:    queue,
		poller:   sched,
		store:    st,
		logger:   logger,
		latency:  utils.NewLatencyTracker(512),
	}
}

// RunPipeline executes one analyst query and records run accounting.
func (s *TriageService) RunPipeline(ctx context.Context, query string, history []models.ChatTurn, priority llm.Priority) (models.AnalystResponse, error) {
	start := time.Now()
	resp, err := s.pipeline.Run(ctx, query, history, priority)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeComplete
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
	case resp.SafetyStatus == models.SafetyBlocked:
		outcome = metrics.OutcomeBlocked
	}
	metrics.ObservePipelineRun(elapsed, outcome)

	s.latency.Observe(elapsed)
	if n := s.latency.Count(); n%latencyLogEvery == 0 {
		s.logger.Info("pipeline latency",
			slog.Int("runs", n),
			slog.Duration("p50", s.latency.Percentile(50)),
			slog.Duration("p95", s.latency.Percentile(95)))
	}

	if err != nil {
		return resp, err
	}
	s.logger.Info("pipeline run finished",
		slog.String("safety_status", string(resp.SafetyStatus)),
		slog.Float64("trust_score", resp.TrustScore),
		slog.Int("sources", len(resp.Sources)),
		slog.Duration("elapsed", elapsed))
	return resp, nil
}

// EnqueueAlert admits one alert into the review queue.
func (s *TriageService) EnqueueAlert(ctx context.Context, req models.EnqueueRequest) (models.EnqueueResult, error) {
	return s.queue.Enqueue(ctx, req)
}

// ProcessQueueItem triages one queued item.
func (s *TriageService) ProcessQueueItem(ctx context.Context, id string) (models.AlertQueueItem, error) {
	return s.queue.Process(ctx, id)
}

// ListQueue returns queue items, optionally filtered by status.
func (s *TriageService) ListQueue(ctx context.Context, statuses []models.QueueStatus) ([]models.AlertQueueItem, error) {
	return s.queue.List(ctx, statuses)
}

// RemoveQueueItem dismisses one item.
func (s *TriageService) RemoveQueueItem(ctx context.Context, id string) error {
	return s.queue.Remove(ctx, id)
}

// ClearQueueHistory removes completed, failed, and dismissed items.
func (s *TriageService) ClearQueueHistory(ctx context.Context) (int, error) {
	return s.queue.ClearHistory(ctx)
}

// CreateRule persists a new auto-queue rule and resyncs the poller.
func (s *TriageService) CreateRule(ctx context.Context, rule models.AutoQueueRule) (models.AutoQueueRule, error) {
	if err := validateRule(&rule); err != nil {
		return models.AutoQueueRule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.CurrentHourCount = 0
	rule.HourWindowStart = nil

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return models.AutoQueueRule{}, &utils.AppError{Op: "services.create_rule", Msg: "persist rule", Err: err}
	}
	if err := s.poller.Sync(ctx); err != nil {
		s.logger.Warn("poller sync after rule create failed", slog.Any("error", err))
	}
	return rule, nil
}

// UpdateRule replaces an existing rule and resyncs the poller. Creation time
// and the current rate-limit window are preserved.
func (s *TriageService) UpdateRule(ctx context.Context, rule models.AutoQueueRule) (models.AutoQueueRule, error) {
	if err := validateRule(&rule); err != nil {
		return models.AutoQueueRule{}, err
	}
	existing, err := s.store.GetRule(ctx, rule.ID)
	if err != nil {
		return models.AutoQueueRule{}, &utils.AppError{Op: "services.update_rule", Msg: "load rule " + rule.ID, Err: err}
	}
	rule.CreatedAt = existing.CreatedAt
	rule.CurrentHourCount = existing.CurrentHourCount
	rule.HourWindowStart = existing.HourWindowStart
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return models.AutoQueueRule{}, &utils.AppError{Op: "services.update_rule", Msg: "persist rule", Err: err}
	}
	if err := s.poller.Sync(ctx); err != nil {
		s.logger.Warn("poller sync after rule update failed", slog.Any("error", err))
	}
	return rule, nil
}

// DeleteRule removes a rule and resyncs the poller.
func (s *TriageService) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return &utils.AppError{Op: "services.delete_rule", Msg: "delete rule " + id, Err: err}
	}
	if err := s.poller.Sync(ctx); err != nil {
		s.logger.Warn("poller sync after rule delete failed", slog.Any("error", err))
	}
	return nil
}

// GetRule fetches one rule.
func (s *TriageService) GetRule(ctx context.Context, id string) (models.AutoQueueRule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return models.AutoQueueRule{}, &utils.AppError{Op: "services.get_rule", Msg: "load rule " + id, Err: err}
	}
	return rule, nil
}

// ListRules returns rules in evaluation order.
func (s *TriageService) ListRules(ctx context.Context) ([]models.AutoQueueRule, error) {
	rules, err := s.store.ListRules(ctx, false)
	if err != nil {
		return nil, &utils.AppError{Op: "services.list_rules", Msg: "list rules", Err: err}
	}
	return rules, nil
}

// PollOnce triggers one auto-enqueue cycle out of band.
func (s *TriageService) PollOnce(ctx context.Context) models.PollResult {
	return s.poller.PollOnce(ctx)
}

// PollerStatus reports the scheduler state.
func (s *TriageService) PollerStatus(ctx context.Context) poller.Status {
	return s.poller.Status(ctx)
}

// Shutdown stops background work.
func (s *TriageService) Shutdown() {
	s.poller.Stop()
}

func validateRule(rule *models.AutoQueueRule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return &utils.AppError{Op: "services.validate_rule", Msg: "rule name is required"}
	}
	if rule.MinSeverity < 0 {
		return &utils.AppError{Op: "services.validate_rule", Msg: "min_severity must be non-negative"}
	}
	if rule.MaxPerHour <= 0 {
		return &utils.AppError{Op: "services.validate_rule", Msg: "max_per_hour must be positive"}
	}
	return nil
}
