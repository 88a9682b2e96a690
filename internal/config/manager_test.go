package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./postpulse.db
publisher:
  due_tolerance: 1m
  timezone: UTC
driver:
  base_url: https://community.example.com
control:
  enabled: true
  token: secret
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Publisher == nil || cfg.Publisher.DueTolerance != "1m" {
		t.Fatalf("publisher = %+v", cfg.Publisher)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging:
  level: info
publsher:
  timezone: UTC
`)
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("expected strict decode to reject unknown key")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("garbage duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Control: &ControlConfig{Enabled: true, Token: "secret"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"control", "logging"}
	if len(changed) != len(want) || changed[0] != want[0] || changed[1] != want[1] {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info","console":false,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"min_level":"","rate_per_sec":0}}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(2)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug","console":false,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"min_level":"","rate_per_sec":0}}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config update received")
	}
}
