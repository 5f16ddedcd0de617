package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Server.HTTPPort != 8085 {
		t.Errorf("http port = %d, want 8085", cfg.Server.HTTPPort)
	}
	if cfg.Coordinator.MaxInFlight != 1000 {
		t.Errorf("max in flight = %d, want 1000", cfg.Coordinator.MaxInFlight)
	}
	if cfg.History.FlushEvery != 5 {
		t.Errorf("flush every = %d, want 5", cfg.History.FlushEvery)
	}
	if cfg.Realtime.AutosavePeriod != 30*time.Second {
		t.Errorf("autosave period = %v, want 30s", cfg.Realtime.AutosavePeriod)
	}
	if cfg.Aggregator == nil || cfg.Gate == nil {
		t.Fatal("aggregator and gate configs must be populated")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should not fail: %v", err)
	}
	if cfg.Server.HTTPPort != 8085 {
		t.Errorf("http port = %d, want default 8085", cfg.Server.HTTPPort)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  http_port: 9100
history:
  flush_every: 3
coordinator:
  max_in_flight: 50
  retry_after_seconds: 10
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPPort != 9100 {
		t.Errorf("http port = %d, want 9100", cfg.Server.HTTPPort)
	}
	if cfg.History.FlushEvery != 3 {
		t.Errorf("flush every = %d, want 3", cfg.History.FlushEvery)
	}
	if cfg.Coordinator.MaxInFlight != 50 {
		t.Errorf("max in flight = %d, want 50", cfg.Coordinator.MaxInFlight)
	}
	// Values the file does not mention keep their defaults.
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ACCURACY_HTTP_PORT", "9200")
	t.Setenv("ACCURACY_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("ACCURACY_DATABASE_DSN", "postgres://x:y@db/acc")
	t.Setenv("ACCURACY_NATS_URL", "nats://queue:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.HTTPPort != 9200 {
		t.Errorf("http port = %d, want 9200", cfg.Server.HTTPPort)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Database.DSN != "postgres://x:y@db/acc" {
		t.Errorf("dsn = %q, want env override", cfg.Database.DSN)
	}
	if cfg.NATS.URL != "nats://queue:4222" {
		t.Errorf("nats url = %q, want env override", cfg.NATS.URL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []string{
		"server:\n  http_port: -1\n",
		"coordinator:\n  max_in_flight: 0\n",
		"history:\n  flush_every: -2\n",
	}
	for _, body := range cases {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("Load should reject config:\n%s", body)
		}
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load should reject malformed YAML")
	}
}
