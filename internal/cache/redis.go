package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisProvider implements Provider backed by a Redis-compatible server.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds connection parameters for the cache backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisProvider creates a Provider using the supplied configuration. It pings
// the target so misconfiguration fails at startup rather than mid-request.
func NewRedisProvider(cfg RedisConfig) (*RedisProvider, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "sentra:cache"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis cache: %w", err)
	}

	return &RedisProvider{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, p.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, nil
}

// Set stores bytes under key with the supplied TTL.
func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := p.client.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Del removes a key.
func (p *RedisProvider) Del(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, p.key(key)).Err(); err != nil {
		return fmt.Errorf("cache del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

func (p *RedisProvider) key(key string) string {
	return p.prefix + ":" + key
}
