package repocache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	fetchTimeout    = 120 * time.Second
	cloneTimeout    = 300 * time.Second
	worktreeTimeout = 60 * time.Second
)

// authURL injects GITHUB_TOKEN for HTTPS auth if available.
func authURL(repoURL string) string {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && strings.HasPrefix(repoURL, "https://") {
		return strings.Replace(repoURL, "https://", "https://"+token+"@", 1)
	}
	return repoURL
}

// runGit executes a git command in dir with a timeout, returning combined
// stdout. Stderr is folded into the error on failure.
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, detail)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// configureIdentity sets a local commit identity so agent commits in the
// worktree never fail on missing global config.
func configureIdentity(ctx context.Context, dir string) error {
	if _, err := runGit(ctx, dir, worktreeTimeout, "config", "user.email", "agent@crucible.local"); err != nil {
		return err
	}
	if _, err := runGit(ctx, dir, worktreeTimeout, "config", "user.name", "Crucible Agent"); err != nil {
		return err
	}
	return nil
}
