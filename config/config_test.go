package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.Sync.CacheTTL)
	}
	if cfg.Sync.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v, want 500ms", cfg.Sync.Debounce)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetedge.yaml")
	data := []byte(`
device_id: scanner-7
sync:
  max_retries: 5
  cache_ttl: 1m
messaging:
  backend: kafka
  kafka:
    brokers: ["k1:9092"]
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeviceID != "scanner-7" {
		t.Errorf("DeviceID = %q", cfg.DeviceID)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %v, want 1m", cfg.Sync.CacheTTL)
	}
	// Untouched keys keep their defaults
	if cfg.Sync.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v, want default", cfg.Sync.Debounce)
	}
	if cfg.KafkaGroupID() != "assetedge-scanner-7" {
		t.Errorf("KafkaGroupID = %q", cfg.KafkaGroupID())
	}
}
