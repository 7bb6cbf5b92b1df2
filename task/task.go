// Package task defines the benchmark task model and task loading.
package task

import "strings"

// Tier groups tasks by the kind of evaluation they require.
type Tier string

const (
	TierStandard    Tier = "standard"
	TierContracts   Tier = "contracts"
	TierIntegration Tier = "integration"
	TierRepo        Tier = "repo" // backed by a real upstream repository
)

// Group identifies one arm of the A/B experiment.
type Group string

const (
	GroupControl   Group = "control"
	GroupTreatment Group = "treatment"
)

// RepoRef points a task at an upstream repository and the test sets that
// decide whether a patch resolves it.
type RepoRef struct {
	InstanceID string   `json:"instance_id"`
	Repo       string   `json:"repo"` // "org/name" slug or full clone URL
	BaseCommit string   `json:"base_commit"`
	FailToPass []string `json:"fail_to_pass"` // must pass after the patch
	PassToPass []string `json:"pass_to_pass"` // must keep passing after the patch
	Image      string   `json:"image,omitempty"` // evaluation image override
}

// CloneURL returns the URL to clone the upstream repository from.
// Bare "org/name" slugs resolve to GitHub.
func (r *RepoRef) CloneURL() string {
	if strings.Contains(r.Repo, "://") || strings.HasPrefix(r.Repo, "/") {
		return r.Repo
	}
	return "https://github.com/" + r.Repo + ".git"
}

// Constraints carries per-task overrides for execution limits.
// Zero values defer to the harness configuration.
type Constraints struct {
	HardTimeoutSec int `json:"hard_timeout_seconds,omitempty"`
	IdleTimeoutSec int `json:"idle_timeout_seconds,omitempty"`
	MaxTurns       int `json:"max_turns,omitempty"`
}

// Task is an immutable benchmark task descriptor. Tasks are created at load
// time and never mutated afterwards.
type Task struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tier        Tier              `json:"tier"`
	Prompt      string            `json:"prompt"`
	Difficulty  string            `json:"difficulty,omitempty"`
	Tags        []string          `json:"tags,omitempty"`

	// InitialFiles seeds the workspace for tasks without a repository.
	InitialFiles map[string]string `json:"initial_files,omitempty"`
	TestFile     string            `json:"test_file,omitempty"`

	Repo        *RepoRef    `json:"repo_ref,omitempty"`
	Constraints Constraints `json:"constraints,omitempty"`
}

// NeedsRepo reports whether the task requires a repository-backed workspace
// rather than a plain seeded directory.
func (t *Task) NeedsRepo() bool {
	return t.Repo != nil && t.Repo.Repo != "" && len(t.InitialFiles) == 0
}
