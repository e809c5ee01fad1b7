package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sentrastack/sentra-triage/internal/models"
)

// MemoryStore is an in-process Store used by tests and storeless development.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]models.AlertQueueItem
	rules map[string]models.AutoQueueRule
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]models.AlertQueueItem),
		rules: make(map[string]models.AutoQueueRule),
	}
}

// CreateItem inserts a queue item.
func (s *MemoryStore) CreateItem(_ context.Context, item models.AlertQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneItem(item)
	return nil
}

// GetItem fetches a queue item by id.
func (s *MemoryStore) GetItem(_ context.Context, id string) (models.AlertQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return models.AlertQueueItem{}, ErrNotFound
	}
	return cloneItem(item), nil
}

// UpdateItem replaces an existing queue item.
func (s *MemoryStore) UpdateItem(_ context.Context, item models.AlertQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return ErrNotFound
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

// ListItems returns items filtered by status, creation order ascending.
func (s *MemoryStore) ListItems(_ context.Context, statuses []models.QueueStatus) ([]models.AlertQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AlertQueueItem, 0, len(s.items))
	for _, item := range s.items {
		if statusIn(item.Status, statuses) {
			out = append(out, cloneItem(item))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteItems removes items matching the given statuses.
func (s *MemoryStore) DeleteItems(_ context.Context, statuses []models.QueueStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, item := range s.items {
		if statusIn(item.Status, statuses) {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// CreateRule inserts a rule.
func (s *MemoryStore) CreateRule(_ context.Context, rule models.AutoQueueRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// GetRule fetches a rule by id.
func (s *MemoryStore) GetRule(_ context.Context, id string) (models.AutoQueueRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return models.AutoQueueRule{}, ErrNotFound
	}
	return cloneRule(rule), nil
}

// UpdateRule replaces an existing rule.
func (s *MemoryStore) UpdateRule(_ context.Context, rule models.AutoQueueRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return ErrNotFound
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// DeleteRule removes a rule.
func (s *MemoryStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// ListRules returns rules in creation order.
func (s *MemoryStore) ListRules(_ context.Context, enabledOnly bool) ([]models.AutoQueueRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AutoQueueRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, cloneRule(rule))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneItem(item models.AlertQueueItem) models.AlertQueueItem {
	return item
}

func cloneRule(rule models.AutoQueueRule) models.AutoQueueRule {
	clone := rule
	clone.RuleIDs = append([]string(nil), rule.RuleIDs...)
	clone.TechniqueIDs = append([]string(nil), rule.TechniqueIDs...)
	if rule.HourWindowStart != nil {
		ws := *rule.HourWindowStart
		clone.HourWindowStart = &ws
	}
	return clone
}
