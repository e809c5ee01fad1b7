package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sentrastack/sentra-triage/internal/models"
)

// RedisConfig configures Redis access for queue and rule persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore persists queue items and rules as JSON documents with sorted-set
// indexes preserving creation order.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "sentra:triage"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) itemKey(id string) string { return s.prefix + ":queue:item:" + id }
func (s *RedisStore) itemIndex() string        { return s.prefix + ":queue:index" }
func (s *RedisStore) ruleKey(id string) string { return s.prefix + ":rules:rule:" + id }
func (s *RedisStore) ruleIndex() string        { return s.prefix + ":rules:index" }

// CreateItem inserts a queue item and indexes it by creation time.
func (s *RedisStore) CreateItem(ctx context.Context, item models.AlertQueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.itemKey(item.ID), data, 0)
	pipe.ZAdd(ctx, s.itemIndex(), redis.Z{Score: float64(item.CreatedAt.UnixNano()), Member: item.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store queue item %s: %w", item.ID, err)
	}
	return nil
}

// GetItem fetches a queue item by id.
func (s *RedisStore) GetItem(ctx context.Context, id string) (models.AlertQueueItem, error) {
	data, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.AlertQueueItem{}, ErrNotFound
		}
		return models.AlertQueueItem{}, fmt.Errorf("get queue item %s: %w", id, err)
	}
	var item models.AlertQueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return models.AlertQueueItem{}, fmt.Errorf("decode queue item %s: %w", id, err)
	}
	return item, nil
}

// UpdateItem replaces an existing queue item.
func (s *RedisStore) UpdateItem(ctx context.Context, item models.AlertQueueItem) error {
	exists, err := s.client.Exists(ctx, s.itemKey(item.ID)).Result()
	if err != nil {
		return fmt.Errorf("check queue item %s: %w", item.ID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	if err := s.client.Set(ctx, s.itemKey(item.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("update queue item %s: %w", item.ID, err)
	}
	return nil
}

// ListItems returns items filtered by status, creation order ascending.
func (s *RedisStore) ListItems(ctx context.Context, statuses []models.QueueStatus) ([]models.AlertQueueItem, error) {
	ids, err := s.client.ZRange(ctx, s.itemIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue index: %w", err)
	}
	items := make([]models.AlertQueueItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Index entry outlived its document; repair lazily.
				s.client.ZRem(ctx, s.itemIndex(), id)
				continue
			}
			return nil, err
		}
		if statusIn(item.Status, statuses) {
			items = append(items, item)
		}
	}
	return items, nil
}

// DeleteItems removes items matching the given statuses.
func (s *RedisStore) DeleteItems(ctx context.Context, statuses []models.QueueStatus) (int, error) {
	items, err := s.ListItems(ctx, statuses)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.itemKey(item.ID))
		pipe.ZRem(ctx, s.itemIndex(), item.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("delete queue item %s: %w", item.ID, err)
		}
		removed++
	}
	return removed, nil
}

// CreateRule inserts a rule and indexes it by creation time.
func (s *RedisStore) CreateRule(ctx context.Context, rule models.AutoQueueRule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.ruleKey(rule.ID), data, 0)
	pipe.ZAdd(ctx, s.ruleIndex(), redis.Z{Score: float64(rule.CreatedAt.UnixNano()), Member: rule.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRule fetches a rule by id.
func (s *RedisStore) GetRule(ctx context.Context, id string) (models.AutoQueueRule, error) {
	data, err := s.client.Get(ctx, s.ruleKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.AutoQueueRule{}, ErrNotFound
		}
		return models.AutoQueueRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	var rule models.AutoQueueRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return models.AutoQueueRule{}, fmt.Errorf("decode rule %s: %w", id, err)
	}
	return rule, nil
}

// UpdateRule replaces an existing rule.
func (s *RedisStore) UpdateRule(ctx context.Context, rule models.AutoQueueRule) error {
	exists, err := s.client.Exists(ctx, s.ruleKey(rule.ID)).Result()
	if err != nil {
		return fmt.Errorf("check rule %s: %w", rule.ID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	if err := s.client.Set(ctx, s.ruleKey(rule.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	return nil
}

// DeleteRule removes a rule and its index entry.
func (s *RedisStore) DeleteRule(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.ruleKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	s.client.ZRem(ctx, s.ruleIndex(), id)
	return nil
}

// ListRules returns rules in creation order.
func (s *RedisStore) ListRules(ctx context.Context, enabledOnly bool) ([]models.AutoQueueRule, error) {
	ids, err := s.client.ZRange(ctx, s.ruleIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list rule index: %w", err)
	}
	rules := make([]models.AutoQueueRule, 0, len(ids))
	for _, id := range ids {
		rule, err := s.GetRule(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.client.ZRem(ctx, s.ruleIndex(), id)
				continue
			}
			return nil, err
		}
		if enabledOnly && !rule.Enabled {
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
