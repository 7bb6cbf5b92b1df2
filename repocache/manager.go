package repocache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrCommitNotFound is returned when a base commit cannot be resolved
	// even after refreshing the mirror.
	ErrCommitNotFound = errors.New("repocache: commit not found")
	// ErrMirrorBusy is returned when a clear is attempted while worktrees
	// derived from the mirror are still outstanding.
	ErrMirrorBusy = errors.New("repocache: mirror has outstanding worktrees")
)

// Stats summarizes cache state for one mirror.
type Stats struct {
	Repo      string    `json:"repo"`
	Path      string    `json:"path"`
	DiskBytes int64     `json:"disk_bytes"`
	Worktrees int       `json:"worktrees"`
	LastFetch time.Time `json:"last_fetch"`
}

type entry struct {
	mu        sync.Mutex
	repo      string
	cloneURL  string
	path      string
	lastFetch time.Time
	worktrees map[string]struct{}
}

// Manager maintains bare blob-filtered mirrors under a root directory and
// provisions detached worktrees from them. All operations on one repository
// are serialized; different repositories proceed concurrently.
type Manager struct {
	root    string
	refresh time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates a cache manager rooted at dir. Mirrors older than
// refresh are fetched before use; a zero refresh fetches on every use.
func NewManager(dir string, refresh time.Duration, logger *slog.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("repocache: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repocache: create root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:    dir,
		refresh: refresh,
		logger:  logger,
		entries: make(map[string]*entry),
	}, nil
}

// Slug flattens an org/repo name into a single path component.
func Slug(repo string) string {
	return strings.NewReplacer("/", "__", ":", "_", "\\", "__").Replace(repo) + ".git"
}

func (m *Manager) entryFor(repo, cloneURL string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[repo]
	if !ok {
		e = &entry{
			repo:      repo,
			cloneURL:  cloneURL,
			path:      filepath.Join(m.root, Slug(repo)),
			worktrees: make(map[string]struct{}),
		}
		m.entries[repo] = e
	}
	return e
}

// EnsureMirror guarantees a fresh bare mirror for repo exists and returns
// its path. A transient fetch or clone failure is retried once before the
// error surfaces.
func (m *Manager) EnsureMirror(ctx context.Context, repo, cloneURL string) (string, error) {
	e := m.entryFor(repo, cloneURL)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.ensureMirrorLocked(ctx, e); err != nil {
		return "", err
	}
	return e.path, nil
}

func (m *Manager) ensureMirrorLocked(ctx context.Context, e *entry) error {
	if _, err := os.Stat(filepath.Join(e.path, "HEAD")); err != nil {
		m.logger.Info("cloning bare mirror", "repo", e.repo, "path", e.path)
		_ = os.RemoveAll(e.path)
		if err := retryOnce(func() error {
			_, cerr := runGit(ctx, "", cloneTimeout,
				"clone", "--bare", "--filter=blob:none", authURL(e.cloneURL), e.path)
			return cerr
		}); err != nil {
			_ = os.RemoveAll(e.path)
			return fmt.Errorf("repocache: clone mirror %s: %w", e.repo, err)
		}
		// Bare clones carry no fetch refspec; set one so refreshes update refs.
		_, _ = runGit(ctx, e.path, worktreeTimeout, "config", "remote.origin.fetch", "+refs/*:refs/*")
		e.lastFetch = time.Now()
		return nil
	}

	if m.refresh > 0 && time.Since(e.lastFetch) < m.refresh {
		return nil
	}
	m.logger.Debug("refreshing mirror", "repo", e.repo)
	if err := retryOnce(func() error {
		_, ferr := runGit(ctx, e.path, fetchTimeout, "fetch", "--all", "--prune")
		return ferr
	}); err != nil {
		return fmt.Errorf("repocache: fetch mirror %s: %w", e.repo, err)
	}
	e.lastFetch = time.Now()
	return nil
}

func retryOnce(op func() error) error {
	if err := op(); err != nil {
		time.Sleep(time.Second)
		return op()
	}
	return nil
}

// CreateWorktree provisions a detached worktree at dest pinned to commit,
// refreshing the mirror once if the commit is not yet known. Any stale
// content at dest is removed first.
func (m *Manager) CreateWorktree(ctx context.Context, repo, cloneURL, commit, dest string) error {
	e := m.entryFor(repo, cloneURL)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.ensureMirrorLocked(ctx, e); err != nil {
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("repocache: clear destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("repocache: create parent: %w", err)
	}

	// Drop registrations for worktree paths deleted out from under git.
	_, _ = runGit(ctx, e.path, worktreeTimeout, "worktree", "prune")

	if !m.hasCommit(ctx, e.path, commit) {
		if _, err := runGit(ctx, e.path, fetchTimeout, "fetch", "--all", "--prune"); err != nil {
			return fmt.Errorf("repocache: fetch for commit %s: %w", shortSHA(commit), err)
		}
		e.lastFetch = time.Now()
		if !m.hasCommit(ctx, e.path, commit) {
			return fmt.Errorf("%w: %s in %s", ErrCommitNotFound, shortSHA(commit), repo)
		}
	}

	if _, err := runGit(ctx, e.path, worktreeTimeout,
		"worktree", "add", "--detach", dest, commit); err != nil {
		return fmt.Errorf("repocache: add worktree: %w", err)
	}
	if err := configureIdentity(ctx, dest); err != nil {
		_, _ = runGit(ctx, e.path, worktreeTimeout, "worktree", "remove", "--force", dest)
		return fmt.Errorf("repocache: configure worktree: %w", err)
	}
	e.worktrees[dest] = struct{}{}
	m.logger.Debug("worktree created", "repo", repo, "commit", shortSHA(commit), "dest", dest)
	return nil
}

func (m *Manager) hasCommit(ctx context.Context, mirror, commit string) bool {
	_, err := runGit(ctx, mirror, worktreeTimeout, "cat-file", "-e", commit+"^{commit}")
	return err == nil
}

// RemoveWorktree deletes a worktree and unregisters it from its mirror.
func (m *Manager) RemoveWorktree(ctx context.Context, repo, dest string) error {
	m.mu.Lock()
	e, ok := m.entries[repo]
	m.mu.Unlock()
	if !ok {
		return os.RemoveAll(dest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := runGit(ctx, e.path, worktreeTimeout, "worktree", "remove", "--force", dest); err != nil {
		// The worktree dir may already be gone; prune the registration.
		_ = os.RemoveAll(dest)
		_, _ = runGit(ctx, e.path, worktreeTimeout, "worktree", "prune")
	}
	delete(e.worktrees, dest)
	return nil
}

// Stats reports per-mirror disk usage and outstanding worktree counts.
// Mirrors left on disk by earlier runs are included with zero worktrees.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	known := make(map[string]struct{}, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
		known[filepath.Base(e.path)] = struct{}{}
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, Stats{
			Repo:      e.repo,
			Path:      e.path,
			DiskBytes: dirSize(e.path),
			Worktrees: len(e.worktrees),
			LastFetch: e.lastFetch,
		})
		e.mu.Unlock()
	}

	if dirents, err := os.ReadDir(m.root); err == nil {
		for _, d := range dirents {
			name := d.Name()
			if !d.IsDir() || !strings.HasSuffix(name, ".git") {
				continue
			}
			if _, ok := known[name]; ok {
				continue
			}
			path := filepath.Join(m.root, name)
			out = append(out, Stats{
				Repo:      strings.ReplaceAll(strings.TrimSuffix(name, ".git"), "__", "/"),
				Path:      path,
				DiskBytes: dirSize(path),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out
}

// Clear removes the mirror for one repository. It refuses while worktrees
// derived from the mirror are still registered.
func (m *Manager) Clear(repo string) error {
	m.mu.Lock()
	e, ok := m.entries[repo]
	m.mu.Unlock()
	if !ok {
		// Unknown to this process; remove any on-disk remnant.
		return os.RemoveAll(filepath.Join(m.root, Slug(repo)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.worktrees) > 0 {
		return fmt.Errorf("%w: %s has %d", ErrMirrorBusy, repo, len(e.worktrees))
	}
	if err := os.RemoveAll(e.path); err != nil {
		return fmt.Errorf("repocache: clear %s: %w", repo, err)
	}
	e.lastFetch = time.Time{}
	m.logger.Info("mirror cleared", "repo", repo)
	return nil
}

// ClearAll removes every mirror. Fails on the first busy mirror.
func (m *Manager) ClearAll() error {
	m.mu.Lock()
	repos := make([]string, 0, len(m.entries))
	for name := range m.entries {
		repos = append(repos, name)
	}
	m.mu.Unlock()

	sort.Strings(repos)
	for _, name := range repos {
		if err := m.Clear(name); err != nil {
			return err
		}
	}
	// Sweep mirrors left by earlier runs.
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return nil
	}
	for _, d := range dirents {
		if d.IsDir() && strings.HasSuffix(d.Name(), ".git") {
			_ = os.RemoveAll(filepath.Join(m.root, d.Name()))
		}
	}
	return nil
}

// DirectCheckout provisions dest without the mirror cache: a blob-filtered
// no-checkout clone followed by a detached checkout of commit. The resulting
// tree is content-identical to a cached worktree of the same commit.
func DirectCheckout(ctx context.Context, cloneURL, commit, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("repocache: clear destination: %w", err)
	}
	if _, err := runGit(ctx, "", cloneTimeout,
		"clone", "--no-checkout", "--filter=blob:none", authURL(cloneURL), dest); err != nil {
		return fmt.Errorf("repocache: direct clone: %w", err)
	}
	if _, err := runGit(ctx, dest, cloneTimeout, "checkout", "--detach", commit); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("repocache: checkout %s: %w", shortSHA(commit), err)
	}
	if err := configureIdentity(ctx, dest); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("repocache: configure checkout: %w", err)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
