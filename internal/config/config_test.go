package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":8085" {
		t.Fatalf("unexpected address %s", cfg.Server.Address)
	}
	if cfg.Queue.Capacity != 10 {
		t.Fatalf("unexpected queue capacity %d", cfg.Queue.Capacity)
	}
	if cfg.Clients.Completion.MaxConcurrent != 2 {
		t.Fatalf("unexpected gate concurrency %d", cfg.Clients.Completion.MaxConcurrent)
	}
	if cfg.Poller.Interval != 60*time.Second || cfg.Poller.Lookback != 90*time.Second {
		t.Fatalf("unexpected poller timing %v/%v", cfg.Poller.Interval, cfg.Poller.Lookback)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
server:
  address: ":9000"
queue:
  capacity: 5
poller:
  interval: 30s
  lookback: 2m
clients:
  index:
    baseURL: "https://indexer:9200"
    alertsPattern: "wazuh-alerts-*"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" || cfg.Queue.Capacity != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Clients.Index.BaseURL != "https://indexer:9200" {
		t.Fatalf("nested values not applied: %+v", cfg.Clients.Index)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("defaults lost on partial file: %s", cfg.Server.MetricsAddress)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTRA_TRIAGE_SERVER_ADDRESS", ":7777")
	t.Setenv("SENTRA_TRIAGE_QUEUE_CAPACITY", "3")
	t.Setenv("SENTRA_COMPLETION_BASE_URL", "http://llm:8080")
	t.Setenv("SENTRA_TRIAGE_POLL_INTERVAL", "45s")
	t.Setenv("SENTRA_TRIAGE_POLL_LOOKBACK", "80s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("env address not applied: %s", cfg.Server.Address)
	}
	if cfg.Queue.Capacity != 3 {
		t.Fatalf("env capacity not applied: %d", cfg.Queue.Capacity)
	}
	if cfg.Clients.Completion.BaseURL != "http://llm:8080" {
		t.Fatalf("env base url not applied: %s", cfg.Clients.Completion.BaseURL)
	}
	if cfg.Poller.Interval != 45*time.Second || cfg.Poller.Lookback != 80*time.Second {
		t.Fatalf("env poller timing not applied: %v/%v", cfg.Poller.Interval, cfg.Poller.Lookback)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("SENTRA_TRIAGE_QUEUE_CAPACITY", "0")
	if _, err := Load(""); err == nil {
		t.Fatalf("zero capacity must be rejected")
	}
}

func TestValidateRejectsShortLookback(t *testing.T) {
	t.Setenv("SENTRA_TRIAGE_POLL_INTERVAL", "60s")
	t.Setenv("SENTRA_TRIAGE_POLL_LOOKBACK", "30s")
	if _, err := Load(""); err == nil {
		t.Fatalf("lookback shorter than interval must be rejected")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing explicit config file must fail")
	}
}
