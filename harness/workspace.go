package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cruciblebench/crucible/repocache"
	"github.com/cruciblebench/crucible/task"
)

const gitTimeout = 60 * time.Second

// provisionWorkspace prepares the directory the agent will work in and
// returns the git ref that marks the pre-agent baseline.
func (c *Controller) provisionWorkspace(ctx context.Context, t *task.Task, dest string) (string, error) {
	if t.NeedsRepo() {
		if c.cache != nil {
			err := c.cache.CreateWorktree(ctx, t.Repo.Repo, t.Repo.CloneURL(), t.Repo.BaseCommit, dest)
			if err != nil {
				return "", &SetupError{Op: "worktree", Err: err}
			}
		} else {
			if err := repocache.DirectCheckout(ctx, t.Repo.CloneURL(), t.Repo.BaseCommit, dest); err != nil {
				return "", &SetupError{Op: "checkout", Err: err}
			}
		}
		return t.Repo.BaseCommit, nil
	}

	if err := seedWorkspace(t, dest); err != nil {
		return "", &SetupError{Op: "seed", Err: err}
	}
	sha, err := initBaseline(ctx, dest)
	if err != nil {
		return "", &SetupError{Op: "baseline", Err: err}
	}
	return sha, nil
}

// seedWorkspace writes a task's inline files into a fresh directory.
func seedWorkspace(t *task.Task, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	for name, content := range t.InitialFiles {
		path := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("initial file escapes workspace: %s", name)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create parent for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if t.TestFile != "" {
		path := filepath.Join(dest, "test_"+t.ID+".py")
		if err := os.WriteFile(path, []byte(t.TestFile), 0o644); err != nil {
			return fmt.Errorf("write test file: %w", err)
		}
	}
	return nil
}

// initBaseline turns a seeded directory into a git repo with one commit so
// the agent's changes can later be extracted as a diff.
func initBaseline(ctx context.Context, dir string) (string, error) {
	steps := [][]string{
		{"init", "--quiet"},
		{"config", "user.email", "agent@crucible.local"},
		{"config", "user.name", "Crucible Agent"},
		{"add", "-A"},
		{"commit", "--quiet", "--allow-empty", "-m", "baseline"},
	}
	for _, args := range steps {
		if _, err := runGit(ctx, dir, args...); err != nil {
			return "", err
		}
	}
	sha, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sha), nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, detail)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// cleanupWorkspace removes a task workspace after the run unless retention
// is configured.
func (c *Controller) cleanupWorkspace(ctx context.Context, t *task.Task, dest string) {
	if c.cfg.Execution.RetainWorkspace {
		return
	}
	if t.NeedsRepo() && c.cache != nil {
		if err := c.cache.RemoveWorktree(ctx, t.Repo.Repo, dest); err != nil {
			c.logger.Warn("workspace cleanup failed", "path", dest, "error", err)
		}
		return
	}
	if err := os.RemoveAll(dest); err != nil {
		c.logger.Warn("workspace cleanup failed", "path", dest, "error", err)
	}
}
