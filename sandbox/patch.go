package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 60 * time.Second

// ExtractPatch produces a unified diff of everything the agent changed in
// workspace relative to baseRef, including files it created. An empty string
// means the agent changed nothing.
func ExtractPatch(ctx context.Context, workspace, baseRef string) (string, error) {
	// Intent-to-add makes untracked files visible to diff without staging
	// their content.
	if _, err := gitOut(ctx, workspace, "add", "-N", "."); err != nil {
		return "", fmt.Errorf("sandbox: stage new files: %w", err)
	}
	out, err := gitOut(ctx, workspace, "diff", "--binary", baseRef)
	if err != nil {
		return "", fmt.Errorf("sandbox: extract patch: %w", err)
	}
	return out, nil
}

func gitOut(ctx context.Context, dir string, args ...string) (string, error) {
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
