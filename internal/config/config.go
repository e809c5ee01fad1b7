package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Clients ClientsConfig `yaml:"clients"`
	Queue   QueueConfig   `yaml:"queue"`
	Poller  PollerConfig  `yaml:"poller"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups the read-only data providers and the completion backend.
type ClientsConfig struct {
	Graph      GraphClientConfig      `yaml:"graph"`
	Index      IndexClientConfig      `yaml:"index"`
	Completion CompletionClientConfig `yaml:"completion"`
}

// GraphClientConfig configures access to the capability knowledge-graph API.
type GraphClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// IndexClientConfig configures access to the telemetry search index.
type IndexClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	AlertsPattern string        `yaml:"alertsPattern"`
	VulnsPattern  string        `yaml:"vulnsPattern"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CompletionClientConfig configures the chat-completion backend. All calls are
// routed through the priority gate; MaxConcurrent matches backend parallelism.
type CompletionClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	APIKey        string        `yaml:"apiKey"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
}

// QueueConfig controls alert-queue admission.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// PollerConfig controls the auto-enqueue scheduler.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects the persistence backend for queue items and rules.
type StoreConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection parameters for the Redis store and cache.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// CacheConfig controls caching of expensive graph lookups.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	StatsTTL time.Duration `yaml:"statsTTL"`
	ListTTL  time.Duration `yaml:"listTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTRA_TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Graph: GraphClientConfig{Timeout: 5 * time.Second},
			Index: IndexClientConfig{
				AlertsPattern: "wazuh-alerts-*",
				VulnsPattern:  "wazuh-states-vulnerabilities-*",
				Timeout:       5 * time.Second,
			},
			Completion: CompletionClientConfig{
				Timeout:       60 * time.Second,
				MaxConcurrent: 2,
			},
		},
		Queue:  QueueConfig{Capacity: 10},
		Poller: PollerConfig{Interval: 60 * time.Second, Lookback: 90 * time.Second},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Store: StoreConfig{
			Redis: RedisConfig{KeyPrefix: "sentra:triage"},
		},
		Cache: CacheConfig{
			Enabled:  false,
			StatsTTL: 5 * time.Minute,
			ListTTL:  10 * time.Minute,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", cfg.Queue.Capacity)
	}
	if cfg.Clients.Completion.MaxConcurrent <= 0 {
		return fmt.Errorf("clients.completion.maxConcurrent must be positive, got %d", cfg.Clients.Completion.MaxConcurrent)
	}
	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if cfg.Poller.Lookback < cfg.Poller.Interval {
		return fmt.Errorf("poller.lookback must be at least poller.interval to tolerate jitter")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTRA_TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTRA_TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTRA_GRAPH_BASE_URL"); v != "" {
		cfg.Clients.Graph.BaseURL = v
	}
	if v := os.Getenv("SENTRA_GRAPH_API_KEY"); v != "" {
		cfg.Clients.Graph.APIKey = v
	}
	if v := os.Getenv("SENTRA_INDEX_BASE_URL"); v != "" {
		cfg.Clients.Index.BaseURL = v
	}
	if v := os.Getenv("SENTRA_INDEX_USERNAME"); v != "" {
		cfg.Clients.Index.Username = v
	}
	if v := os.Getenv("SENTRA_INDEX_PASSWORD"); v != "" {
		cfg.Clients.Index.Password = v
	}
	if v := os.Getenv("SENTRA_COMPLETION_BASE_URL"); v != "" {
		cfg.Clients.Completion.BaseURL = v
	}
	if v := os.Getenv("SENTRA_COMPLETION_API_KEY"); v != "" {
		cfg.Clients.Completion.APIKey = v
	}
	if v := os.Getenv("SENTRA_COMPLETION_MODEL"); v != "" {
		cfg.Clients.Completion.Model = v
	}
	if v := os.Getenv("SENTRA_COMPLETION_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clients.Completion.MaxConcurrent = n
		}
	}
	if v := os.Getenv("SENTRA_TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTRA_TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTRA_TRIAGE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Capacity = n
		}
	}
	if v := os.Getenv("SENTRA_TRIAGE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poller.Interval = d
		}
	}
	if v := os.Getenv("SENTRA_TRIAGE_POLL_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Poller.Lookback = d
		}
	}
	if v := os.Getenv("SENTRA_TRIAGE_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("SENTRA_TRIAGE_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("SENTRA_TRIAGE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("SENTRA_TRIAGE_REDIS_KEY_PREFIX"); v != "" {
		cfg.Store.Redis.KeyPrefix = v
	}
	if v := os.Getenv("SENTRA_TRIAGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTRA_TRIAGE_CACHE_STATS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.StatsTTL = d
		}
	}
	if v := os.Getenv("SENTRA_TRIAGE_CACHE_LIST_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ListTTL = d
		}
	}
}
