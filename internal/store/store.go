// Package store persists alert-queue items and auto-queue rules. Two
// implementations exist: a Redis-backed store for deployment and an in-memory
// store for tests and storeless development. Both guarantee row-level
// atomicity only; cross-row invariants (uniqueness, capacity) are enforced by
// the alert-queue manager's admission sequence.
package store

import (
	"context"
	"errors"

	"github.com/sentrastack/sentra-triage/internal/models"
)

// ErrNotFound signals that no row exists for the requested id.
var ErrNotFound = errors.New("not found")

// Store combines queue-item and rule persistence.
type Store interface {
	CreateItem(ctx context.Context, item models.AlertQueueItem) error
	GetItem(ctx context.Context, id string) (models.AlertQueueItem, error)
	UpdateItem(ctx context.Context, item models.AlertQueueItem) error
	// ListItems returns items whose status is in statuses (all items when
	// empty), ordered by creation time ascending.
	ListItems(ctx context.Context, statuses []models.QueueStatus) ([]models.AlertQueueItem, error)
	// DeleteItems removes items whose status is in statuses and reports how
	// many were removed.
	DeleteItems(ctx context.Context, statuses []models.QueueStatus) (int, error)

	CreateRule(ctx context.Context, rule models.AutoQueueRule) error
	GetRule(ctx context.Context, id string) (models.AutoQueueRule, error)
	UpdateRule(ctx context.Context, rule models.AutoQueueRule) error
	DeleteRule(ctx context.Context, id string) error
	// ListRules returns rules in creation order; enabledOnly filters to
	// enabled ones. Creation order is the rule-evaluation precedence.
	ListRules(ctx context.Context, enabledOnly bool) ([]models.AutoQueueRule, error)
}

func statusIn(status models.QueueStatus, statuses []models.QueueStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
