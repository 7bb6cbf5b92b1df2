package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Execution.Mode != "single-shot" {
		t.Errorf("mode = %q, want single-shot", cfg.Execution.Mode)
	}
	if cfg.Execution.HardTimeout() != 600*time.Second {
		t.Errorf("hard timeout = %v, want 600s", cfg.Execution.HardTimeout())
	}
	if cfg.Execution.IdleTimeout() != 120*time.Second {
		t.Errorf("idle timeout = %v, want 120s", cfg.Execution.IdleTimeout())
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should default to enabled")
	}
	if cfg.Sandbox.Enabled {
		t.Error("sandbox should default to disabled")
	}
	if cfg.Sandbox.Timeout() != 1800*time.Second {
		t.Errorf("sandbox timeout = %v, want 1800s", cfg.Sandbox.Timeout())
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.yaml")
	data := `
root: /data/crucible
agent:
  command: claude
  model: opus
execution:
  mode: interactive
  hard_timeout_seconds: 1200
groups:
  treatment:
    prompt_prefix: "Think step by step."
    extra_args: ["--verbose"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/data/crucible" {
		t.Errorf("root = %q", cfg.Root)
	}
	if cfg.Agent.Model != "opus" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Execution.Mode != "interactive" {
		t.Errorf("mode = %q", cfg.Execution.Mode)
	}
	if cfg.Execution.HardTimeoutSec != 1200 {
		t.Errorf("hard timeout = %d", cfg.Execution.HardTimeoutSec)
	}
	// Unset keys keep their defaults.
	if cfg.Execution.IdleTimeoutSec != 120 {
		t.Errorf("idle timeout = %d, want default 120", cfg.Execution.IdleTimeoutSec)
	}
	if cfg.Groups.Treatment.PromptPrefix == "" {
		t.Error("treatment prompt prefix not loaded")
	}
	if len(cfg.Groups.Treatment.ExtraArgs) != 1 {
		t.Errorf("treatment extra args = %v", cfg.Groups.Treatment.ExtraArgs)
	}
	if cfg.Groups.Control.PromptPrefix != "" {
		t.Errorf("control prompt prefix = %q, want empty", cfg.Groups.Control.PromptPrefix)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("root: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Root = "/data"

	if got := cfg.WorkspacePath("control", "task-1"); got != "/data/workspace/control/task-1" {
		t.Errorf("WorkspacePath = %q", got)
	}
	if got := cfg.MirrorsDir(); got != "/data/.cache/mirrors" {
		t.Errorf("MirrorsDir = %q", got)
	}
}

func TestDetectorConfig_APIKey(t *testing.T) {
	t.Setenv("CRUCIBLE_TEST_KEY", "sekrit")
	c := DetectorConfig{APIKeyEnv: "CRUCIBLE_TEST_KEY"}
	if got := c.APIKey(); got != "sekrit" {
		t.Errorf("APIKey = %q", got)
	}
}
