// Package poller runs the auto-enqueue loop: on a fixed interval it pulls
// recent alerts from the telemetry index, evaluates them against the
// operator-managed rule set, and admits matches into the alert queue. The loop
// only runs while at least one enabled rule exists.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sentrastack/sentra-triage/internal/metrics"
	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/store"
)

// autoQueuedBy marks items the poller admitted, as opposed to an analyst.
const autoQueuedBy = "auto-queue"

// AlertSource fetches recently indexed alerts.
type AlertSource interface {
	Configured() bool
	RecentAlerts(ctx context.Context, since time.Time, limit int) ([]models.IndexedAlert, error)
}

// Admitter is the queue surface the poller needs.
type Admitter interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (models.EnqueueResult, error)
	HasActiveAlert(ctx context.Context, alertID string) (bool, error)
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running      bool               `json:"running"`
	EnabledRules int                `json:"enabled_rules"`
	Interval     time.Duration      `json:"interval"`
	LastPoll     *models.PollResult `json:"last_poll,omitempty"`
}

// Scheduler owns the polling goroutine and the rule-evaluation logic.
type Scheduler struct {
	store    store.Store
	source   AlertSource
	queue    Admitter
	interval time.Duration
	lookback time.Duration
	maxBatch int
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	lastPoll *models.PollResult
}

// NewScheduler constructs a stopped scheduler. maxBatch bounds how many
// alerts one cycle may admit; it should match the queue capacity.
func NewScheduler(st store.Store, source AlertSource, queue Admitter, interval, lookback time.Duration, maxBatch int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    st,
		source:   source,
		queue:    queue,
		interval: interval,
		lookback: lookback,
		maxBatch: maxBatch,
		logger:   logger,
		now:      time.Now,
	}
}

// Sync starts or stops the loop to match the current rule set. Call it at
// startup and after every rule mutation.
func (s *Scheduler) Sync(ctx context.Context) error {
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("poller sync: %w", err)
	}
	if len(rules) > 0 {
		s.start()
	} else {
		s.Stop()
	}
	return nil
}

func (s *Scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	s.logger.Info("auto-enqueue poller started", slog.Duration("interval", s.interval))
}

// Stop halts the loop and waits for the in-flight cycle to finish. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("auto-enqueue poller stopped")
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.PollOnce(context.Background())
		}
	}
}

// Status reports the scheduler state and the last cycle's result.
func (s *Scheduler) Status(ctx context.Context) Status {
	enabled := 0
	if rules, err := s.store.ListRules(ctx, true); err == nil {
		enabled = len(rules)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:      s.running,
		EnabledRules: enabled,
		Interval:     s.interval,
		LastPoll:     s.lastPoll,
	}
}

// PollOnce runs a single cycle. Per-alert failures are collected into the
// result's error list; PollOnce itself never fails.
func (s *Scheduler) PollOnce(ctx context.Context) models.PollResult {
	result := models.PollResult{PolledAt: s.now().UTC()}
	defer func() {
		metrics.ObservePollerCycle(result.Matched, result.Queued, result.Skipped)
		s.mu.Lock()
		snapshot := result
		s.lastPoll = &snapshot
		s.mu.Unlock()
	}()

	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		result.Errors = append(result.Errors, "list rules: "+err.Error())
		return result
	}
	if len(rules) == 0 {
		return result
	}
	if s.source == nil || !s.source.Configured() {
		result.Errors = append(result.Errors, "telemetry index not configured")
		return result
	}

	alerts, err := s.source.RecentAlerts(ctx, s.now().Add(-s.lookback), s.maxBatch*4)
	if err != nil {
		result.Errors = append(result.Errors, "fetch alerts: "+err.Error())
		return result
	}

	for _, alert := range alerts {
		// Once the batch is full, remaining alerts are skipped without
		// consulting the rules at all.
		if result.Queued >= s.maxBatch {
			result.Skipped++
			continue
		}

		rule := firstMatch(rules, alert)
		if rule == nil {
			continue
		}
		result.Matched++

		// Re-queueing an in-flight alert would be rejected anyway; skipping
		// here keeps the skip from consuming the rule's hourly budget.
		active, err := s.queue.HasActiveAlert(ctx, alert.AlertID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("alert %s: check active: %v", alert.AlertID, err))
			continue
		}
		if active {
			result.Skipped++
			continue
		}

		allowed, err := s.consumeRateLimit(ctx, rule)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("rule %s: rate limit: %v", rule.ID, err))
			continue
		}
		if !allowed {
			result.Skipped++
			continue
		}

		res, err := s.queue.Enqueue(ctx, models.EnqueueRequest{
			AlertID:         alert.AlertID,
			RuleID:          alert.RuleID,
			RuleDescription: alert.RuleDescription,
			RuleLevel:       alert.RuleLevel,
			AgentID:         alert.AgentID,
			AgentName:       alert.AgentName,
			AlertTimestamp:  alert.Timestamp,
			RawAlert:        alert.Raw,
			QueuedBy:        autoQueuedBy,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("alert %s: enqueue: %v", alert.AlertID, err))
			continue
		}
		if res.Success {
			result.Queued++
		} else {
			result.Skipped++
		}
	}

	if result.Matched > 0 {
		s.logger.Info("auto-enqueue cycle",
			slog.Int("matched", result.Matched),
			slog.Int("queued", result.Queued),
			slog.Int("skipped", result.Skipped),
			slog.Int("errors", len(result.Errors)))
	}
	return result
}

// consumeRateLimit charges one admission against the rule's hourly budget and
// persists the updated window. It returns false when the budget is spent.
func (s *Scheduler) consumeRateLimit(ctx context.Context, rule *models.AutoQueueRule) (bool, error) {
	now := s.now().UTC()

	if rule.HourWindowStart == nil || now.Sub(*rule.HourWindowStart) >= time.Hour {
		windowStart := now
		rule.HourWindowStart = &windowStart
		rule.CurrentHourCount = 1
	} else {
		if rule.CurrentHourCount >= rule.MaxPerHour {
			return false, nil
		}
		rule.CurrentHourCount++
	}

	rule.UpdatedAt = now
	if err := s.store.UpdateRule(ctx, *rule); err != nil {
		return false, err
	}
	return true, nil
}

// firstMatch returns the first rule (creation order) matching the alert, or
// nil. Later rules are not consulted once one matches.
func firstMatch(rules []models.AutoQueueRule, alert models.IndexedAlert) *models.AutoQueueRule {
	for i := range rules {
		if ruleMatches(&rules[i], alert) {
			return &rules[i]
		}
	}
	return nil
}

func ruleMatches(rule *models.AutoQueueRule, alert models.IndexedAlert) bool {
	if alert.RuleLevel < rule.MinSeverity {
		return false
	}
	if len(rule.RuleIDs) > 0 && !contains(rule.RuleIDs, alert.RuleID) {
		return false
	}
	if rule.AgentPattern != "" && !agentMatches(rule.AgentPattern, alert.AgentID, alert.AgentName) {
		return false
	}
	if len(rule.TechniqueIDs) > 0 && !intersects(rule.TechniqueIDs, alert.TechniqueIDs) {
		return false
	}
	return true
}

// agentMatches compares the rule's agent pattern against both the agent id
// and name. A pattern containing '*' is treated as an anchored wildcard
// expression; otherwise a case-insensitive substring match applies.
func agentMatches(pattern, agentID, agentName string) bool {
	if strings.Contains(pattern, "*") {
		re, err := wildcardRegexp(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(agentID) || re.MatchString(agentName)
	}
	p := strings.ToLower(pattern)
	return strings.Contains(strings.ToLower(agentID), p) || strings.Contains(strings.ToLower(agentName), p)
}

func wildcardRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
