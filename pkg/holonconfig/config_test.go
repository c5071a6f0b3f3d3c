package holonconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse empty config: %v", err)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", cfg.AI.Model)
	}
	if cfg.AI.MaxResponseTokens != 4096 {
		t.Errorf("max_response_tokens = %d, want 4096", cfg.AI.MaxResponseTokens)
	}
	if cfg.AI.StructuredOutput == nil || !*cfg.AI.StructuredOutput {
		t.Error("structured_output should default to true")
	}
	if cfg.AI.RequestTimeout() != 120*time.Second {
		t.Errorf("request timeout = %v, want 2m", cfg.AI.RequestTimeout())
	}
	if cfg.Heart.Interval() != time.Second {
		t.Errorf("interval = %v, want 1s", cfg.Heart.Interval())
	}
	if cfg.API.Listen != "127.0.0.1:5000" {
		t.Errorf("listen = %q", cfg.API.Listen)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "" {
		t.Errorf("storage path should default to empty, got %q", cfg.Storage.Path)
	}
}

func TestParseOverrides(t *testing.T) {
	doc := `
ai:
    provider: anthropic
    model: claude-sonnet-4-0
    api_key: sk-test
    max_response_tokens: 512
    structured_output: false
    request_timeout_seconds: 30
heart:
    interval_secs: 0.5
    root_allocation: 25
    allocations:
        11111111-1111-1111-1111-111111111111: 10
storage:
    path: /tmp/keeper.hln
    passphrase: hunter2
api:
    listen: 0.0.0.0:8080
telemetry:
    snapshot_cron: "*/10 * * * *"
logging:
    level: debug
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.AI.Provider != "anthropic" || cfg.AI.Model != "claude-sonnet-4-0" {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.AI.StructuredOutput == nil || *cfg.AI.StructuredOutput {
		t.Error("explicit structured_output: false must survive defaulting")
	}
	if cfg.AI.RequestTimeout() != 30*time.Second {
		t.Errorf("request timeout = %v", cfg.AI.RequestTimeout())
	}
	if cfg.Heart.Interval() != 500*time.Millisecond {
		t.Errorf("interval = %v, want 500ms", cfg.Heart.Interval())
	}
	if cfg.Heart.RootAllocation != 25 {
		t.Errorf("root_allocation = %d", cfg.Heart.RootAllocation)
	}
	if cfg.Heart.Allocations["11111111-1111-1111-1111-111111111111"] != 10 {
		t.Errorf("allocations = %v", cfg.Heart.Allocations)
	}
	if cfg.Storage.Path != "/tmp/keeper.hln" || cfg.Storage.Passphrase != "hunter2" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.API.Listen != "0.0.0.0:8080" {
		t.Errorf("listen = %q", cfg.API.Listen)
	}
	if cfg.Telemetry.SnapshotCron != "*/10 * * * *" {
		t.Errorf("snapshot_cron = %q", cfg.Telemetry.SnapshotCron)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestExampleConfigParses(t *testing.T) {
	cfg, err := Parse([]byte(ExampleConfig))
	if err != nil {
		t.Fatalf("example config does not parse: %v", err)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Errorf("example model = %q", cfg.AI.Model)
	}
	if cfg.Heart.RootAllocation != 100 {
		t.Errorf("example root_allocation = %d", cfg.Heart.RootAllocation)
	}
	if cfg.Telemetry.SnapshotCron == "" {
		t.Error("example snapshot_cron missing")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n    level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loading a missing file should fail")
	}
}
