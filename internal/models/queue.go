package models

import "time"

// QueueStatus is the lifecycle state of an alert-queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusDismissed  QueueStatus = "dismissed"
)

// Active reports whether the status counts against queue capacity.
func (s QueueStatus) Active() bool {
	return s == QueueStatusQueued || s == QueueStatusProcessing
}

// AlertQueueItem is one review task. The external alert id is unique among active items.
type AlertQueueItem struct {
	ID              string      `json:"id"`
	AlertID         string      `json:"alert_id"`
	RuleID          string      `json:"rule_id"`
	RuleDescription string      `json:"rule_description"`
	RuleLevel       int         `json:"rule_level"`
	AgentID         string      `json:"agent_id"`
	AgentName       string      `json:"agent_name"`
	AlertTimestamp  time.Time   `json:"alert_timestamp"`
	RawAlert        string      `json:"raw_alert,omitempty"`
	Status          QueueStatus `json:"status"`
	QueuedBy        string      `json:"queued_by"`
	TriageResult    string      `json:"triage_result,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// EnqueueRequest carries the alert fields needed for queue admission.
type EnqueueRequest struct {
	AlertID         string    `json:"alert_id"`
	RuleID          string    `json:"rule_id"`
	RuleDescription string    `json:"rule_description"`
	RuleLevel       int       `json:"rule_level"`
	AgentID         string    `json:"agent_id"`
	AgentName       string    `json:"agent_name"`
	AlertTimestamp  time.Time `json:"alert_timestamp"`
	RawAlert        string    `json:"raw_alert,omitempty"`
	QueuedBy        string    `json:"queued_by,omitempty"`
}

// EnqueueResult reports the outcome of one admission attempt. Rejections are
// values, never errors.
type EnqueueResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ItemID  string `json:"item_id,omitempty"`
}

// AutoQueueRule describes one operator-managed matching rule for the poller.
type AutoQueueRule struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Enabled          bool       `json:"enabled"`
	MinSeverity      int        `json:"min_severity"`
	RuleIDs          []string   `json:"rule_ids,omitempty"`
	AgentPattern     string     `json:"agent_pattern,omitempty"`
	TechniqueIDs     []string   `json:"technique_ids,omitempty"`
	MaxPerHour       int        `json:"max_per_hour"`
	CurrentHourCount int        `json:"current_hour_count"`
	HourWindowStart  *time.Time `json:"hour_window_start,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IndexedAlert is one detection event as returned by the telemetry index.
type IndexedAlert struct {
	AlertID         string    `json:"alert_id"`
	RuleID          string    `json:"rule_id"`
	RuleDescription string    `json:"rule_description"`
	RuleLevel       int       `json:"rule_level"`
	AgentID         string    `json:"agent_id"`
	AgentName       string    `json:"agent_name"`
	TechniqueIDs    []string  `json:"technique_ids,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Raw             string    `json:"raw,omitempty"`
}

// PollResult summarises one auto-enqueue cycle.
type PollResult struct {
	Matched  int       `json:"matched"`
	Queued   int       `json:"queued"`
	Skipped  int       `json:"skipped"`
	Errors   []string  `json:"errors,omitempty"`
	PolledAt time.Time `json:"polled_at"`
}
