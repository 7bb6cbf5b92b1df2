package repocache

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newUpstream creates a local repository to act as the remote, returning its
// path and head commit.
func newUpstream(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}
	run("init", "--quiet")
	run("config", "user.email", "test@test.local")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("upstream\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "--quiet", "-m", "initial")
	return dir, run("rev-parse", "HEAD")
}

// addCommit appends a commit to an upstream repo and returns its SHA.
func addCommit(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(name+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"add", "-A"}, {"commit", "--quiet", "-m", name}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSlug(t *testing.T) {
	if got := Slug("psf/requests"); got != "psf__requests.git" {
		t.Errorf("Slug = %q", got)
	}
}

func TestManager_EnsureMirror(t *testing.T) {
	upstream, _ := newUpstream(t)
	m := newTestManager(t)

	path, err := m.EnsureMirror(context.Background(), "org/repo", upstream)
	if err != nil {
		t.Fatalf("EnsureMirror: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "HEAD")); err != nil {
		t.Errorf("mirror not bare repo: %v", err)
	}

	// Second call inside the refresh interval reuses the mirror.
	again, err := m.EnsureMirror(context.Background(), "org/repo", upstream)
	if err != nil {
		t.Fatalf("EnsureMirror again: %v", err)
	}
	if again != path {
		t.Errorf("path changed: %q vs %q", again, path)
	}
}

func TestManager_EnsureMirror_BadRemote(t *testing.T) {
	m := newTestManager(t)

	_, err := m.EnsureMirror(context.Background(), "org/missing", filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing remote")
	}
}

func TestManager_CreateWorktree(t *testing.T) {
	upstream, head := newUpstream(t)
	m := newTestManager(t)
	dest := filepath.Join(t.TempDir(), "ws")

	if err := m.CreateWorktree(context.Background(), "org/repo", upstream, head, dest); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "README.md")); err != nil {
		t.Errorf("worktree missing file: %v", err)
	}

	// Committing inside the worktree must work without global git config.
	cmd := exec.Command("git", "commit", "--allow-empty", "-m", "agent work")
	cmd.Dir = dest
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Errorf("commit in worktree: %v\n%s", err, out)
	}
}

func TestManager_CreateWorktree_RefetchesForNewCommit(t *testing.T) {
	upstream, head := newUpstream(t)
	m := newTestManager(t)

	// Prime the mirror at the first commit.
	if _, err := m.EnsureMirror(context.Background(), "org/repo", upstream); err != nil {
		t.Fatalf("EnsureMirror: %v", err)
	}
	_ = head

	// A commit the mirror has not seen forces a refresh fetch.
	newHead := addCommit(t, upstream, "feature.py")
	dest := filepath.Join(t.TempDir(), "ws")
	if err := m.CreateWorktree(context.Background(), "org/repo", upstream, newHead, dest); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "feature.py")); err != nil {
		t.Errorf("worktree missing new commit content: %v", err)
	}
}

func TestManager_CreateWorktree_Concurrent(t *testing.T) {
	// Two simultaneous checkouts of the same repo and commit share one
	// mirror; both must succeed with intact trees.
	upstream, head := newUpstream(t)
	m := newTestManager(t)

	base := t.TempDir()
	dests := []string{filepath.Join(base, "a"), filepath.Join(base, "b")}
	errs := make(chan error, len(dests))
	for _, dest := range dests {
		go func(dest string) {
			errs <- m.CreateWorktree(context.Background(), "org/repo", upstream, head, dest)
		}(dest)
	}
	for range dests {
		if err := <-errs; err != nil {
			t.Fatalf("CreateWorktree: %v", err)
		}
	}
	for _, dest := range dests {
		if _, err := os.Stat(filepath.Join(dest, "README.md")); err != nil {
			t.Errorf("worktree %s missing checkout: %v", dest, err)
		}
	}
}

func TestManager_CreateWorktree_UnknownCommit(t *testing.T) {
	upstream, _ := newUpstream(t)
	m := newTestManager(t)
	dest := filepath.Join(t.TempDir(), "ws")

	err := m.CreateWorktree(context.Background(), "org/repo", upstream,
		"0000000000000000000000000000000000000000", dest)
	if !errors.Is(err, ErrCommitNotFound) {
		t.Fatalf("err = %v, want ErrCommitNotFound", err)
	}
}

func TestManager_RemoveWorktree(t *testing.T) {
	upstream, head := newUpstream(t)
	m := newTestManager(t)
	dest := filepath.Join(t.TempDir(), "ws")

	if err := m.CreateWorktree(context.Background(), "org/repo", upstream, head, dest); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if err := m.RemoveWorktree(context.Background(), "org/repo", dest); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("worktree still on disk: %v", err)
	}

	// With the worktree gone the mirror can be cleared.
	if err := m.Clear("org/repo"); err != nil {
		t.Errorf("Clear: %v", err)
	}
}

func TestManager_Clear_BusyMirror(t *testing.T) {
	upstream, head := newUpstream(t)
	m := newTestManager(t)
	dest := filepath.Join(t.TempDir(), "ws")

	if err := m.CreateWorktree(context.Background(), "org/repo", upstream, head, dest); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if err := m.Clear("org/repo"); !errors.Is(err, ErrMirrorBusy) {
		t.Fatalf("err = %v, want ErrMirrorBusy", err)
	}
}

func TestManager_Stats(t *testing.T) {
	upstream, head := newUpstream(t)
	m := newTestManager(t)
	dest := filepath.Join(t.TempDir(), "ws")

	if err := m.CreateWorktree(context.Background(), "org/repo", upstream, head, dest); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}

	stats := m.Stats()
	if len(stats) != 1 {
		t.Fatalf("len(stats) = %d, want 1", len(stats))
	}
	s := stats[0]
	if s.Repo != "org/repo" {
		t.Errorf("Repo = %q", s.Repo)
	}
	if s.Worktrees != 1 {
		t.Errorf("Worktrees = %d, want 1", s.Worktrees)
	}
	if s.DiskBytes <= 0 {
		t.Errorf("DiskBytes = %d, want > 0", s.DiskBytes)
	}
}

func TestDirectCheckout_MatchesWorktree(t *testing.T) {
	upstream, head := newUpstream(t)
	m := newTestManager(t)

	cached := filepath.Join(t.TempDir(), "cached")
	if err := m.CreateWorktree(context.Background(), "org/repo", upstream, head, cached); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	direct := filepath.Join(t.TempDir(), "direct")
	if err := DirectCheckout(context.Background(), upstream, head, direct); err != nil {
		t.Fatalf("DirectCheckout: %v", err)
	}

	a, err := os.ReadFile(filepath.Join(cached, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(direct, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("checkout content differs: %q vs %q", a, b)
	}
}

func TestDirectCheckout_UnknownCommit(t *testing.T) {
	upstream, _ := newUpstream(t)
	dest := filepath.Join(t.TempDir(), "ws")

	err := DirectCheckout(context.Background(), upstream,
		"0000000000000000000000000000000000000000", dest)
	if err == nil {
		t.Fatal("expected error for unknown commit")
	}
	if _, serr := os.Stat(dest); !os.IsNotExist(serr) {
		t.Error("failed checkout left destination behind")
	}
}
