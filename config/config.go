// Package config defines the Crucible harness configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level harness configuration.
type Config struct {
	Root      string          `json:"root" yaml:"root"` // base directory for workspaces, results, cache
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Sandbox   SandboxConfig   `json:"sandbox" yaml:"sandbox"`
	Detector  DetectorConfig  `json:"detector" yaml:"detector"`
	Groups    GroupsConfig    `json:"groups" yaml:"groups"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// AgentConfig describes the coding agent under test.
type AgentConfig struct {
	Command string   `json:"command" yaml:"command"` // e.g., "claude"
	Model   string   `json:"model,omitempty" yaml:"model"`
	Args    []string `json:"args,omitempty" yaml:"args"` // extra args appended to every invocation
}

// ExecutionConfig controls how task sessions run.
type ExecutionConfig struct {
	Mode            string `json:"mode" yaml:"mode"` // "single-shot" or "interactive"
	MaxTurns        int    `json:"max_turns" yaml:"max_turns"`
	HardTimeoutSec  int    `json:"hard_timeout_seconds" yaml:"hard_timeout_seconds"`
	IdleTimeoutSec  int    `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	Parallelism     int    `json:"parallelism" yaml:"parallelism"`
	RetainWorkspace bool   `json:"retain_workspace,omitempty" yaml:"retain_workspace"` // keep worktrees for debugging
}

// CacheConfig controls the repository mirror cache.
type CacheConfig struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	RefreshIntervalSec int `json:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
}

// SandboxConfig controls Docker-based patch evaluation.
type SandboxConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Image       string   `json:"image" yaml:"image"`
	TimeoutSec  int      `json:"timeout_seconds" yaml:"timeout_seconds"`
	Parallelism int      `json:"parallelism" yaml:"parallelism"`
	TestCommand []string `json:"test_command,omitempty" yaml:"test_command"` // test id appended per run
	MemoryLimit int64    `json:"memory_limit,omitempty" yaml:"memory_limit"`
	NetworkMode string   `json:"network_mode,omitempty" yaml:"network_mode"`
}

// DetectorConfig controls waiting-state detection for interactive sessions.
type DetectorConfig struct {
	Semantic   bool   `json:"semantic" yaml:"semantic"` // enable LLM fallback classification
	Model      string `json:"model,omitempty" yaml:"model"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url"`
	APIKeyEnv  string `json:"api_key_env,omitempty" yaml:"api_key_env"`
	TimeoutSec int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
}

// GroupConfig customizes one experiment arm.
type GroupConfig struct {
	PromptPrefix string   `json:"prompt_prefix,omitempty" yaml:"prompt_prefix"`
	ExtraArgs    []string `json:"extra_args,omitempty" yaml:"extra_args"`
}

// GroupsConfig holds per-group customization for the A/B arms.
type GroupsConfig struct {
	Control   GroupConfig `json:"control" yaml:"control"`
	Treatment GroupConfig `json:"treatment" yaml:"treatment"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Root: "./crucible",
		Agent: AgentConfig{
			Command: "claude",
			Model:   "sonnet",
		},
		Execution: ExecutionConfig{
			Mode:           "single-shot",
			MaxTurns:       50,
			HardTimeoutSec: 600,
			IdleTimeoutSec: 120,
			Parallelism:    1,
		},
		Cache: CacheConfig{
			Enabled:            true,
			RefreshIntervalSec: 300,
		},
		Sandbox: SandboxConfig{
			Enabled:     false,
			TimeoutSec:  1800,
			Parallelism: 2,
			TestCommand: []string{"python", "-m", "pytest", "-x", "-q"},
		},
		Detector: DetectorConfig{
			Semantic:   false,
			APIKeyEnv:  "OPENAI_API_KEY",
			TimeoutSec: 5,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// TasksDir is the directory holding task definition JSON files.
func (c *Config) TasksDir() string { return filepath.Join(c.Root, "tasks") }

// WorkspaceDir is the parent directory for per-task workspaces.
func (c *Config) WorkspaceDir() string { return filepath.Join(c.Root, "workspace") }

// ResultsDir is the directory experiment results are written to.
func (c *Config) ResultsDir() string { return filepath.Join(c.Root, "results") }

// MirrorsDir is the directory holding cached bare repositories.
func (c *Config) MirrorsDir() string { return filepath.Join(c.Root, ".cache", "mirrors") }

// WorkspacePath returns the workspace directory for one task and group.
func (c *Config) WorkspacePath(group, taskID string) string {
	return filepath.Join(c.WorkspaceDir(), group, taskID)
}

// HardTimeout returns the per-session wall-clock budget.
func (c *ExecutionConfig) HardTimeout() time.Duration {
	return time.Duration(c.HardTimeoutSec) * time.Second
}

// IdleTimeout returns the maximum allowed silence between output chunks.
func (c *ExecutionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// RefreshInterval returns how long a mirror stays fresh between fetches.
func (c *CacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSec) * time.Second
}

// Timeout returns the evaluation wall-clock budget.
func (c *SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Timeout returns the bound on a single semantic classification call.
func (c *DetectorConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// APIKey resolves the semantic detector API key from the environment.
func (c *DetectorConfig) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}
