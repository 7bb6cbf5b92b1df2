package task

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTask(t *testing.T, dir, tier, name, content string) {
	t.Helper()
	sub := filepath.Join(dir, tier)
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_AllTiers(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "standard", "b.json", `{"id": "std-b", "prompt": "fix it"}`)
	writeTask(t, dir, "standard", "a.json", `{"id": "std-a", "prompt": "fix it"}`)
	writeTask(t, dir, "repo", "r.json", `{
		"id": "repo-1",
		"prompt": "fix the bug",
		"repo_ref": {"repo": "psf/requests", "base_commit": "abc123", "fail_to_pass": ["test_x"]}
	}`)

	tasks, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(tasks))
	}
	// Sorted by ID.
	if tasks[0].ID != "repo-1" || tasks[1].ID != "std-a" || tasks[2].ID != "std-b" {
		t.Errorf("order = %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	// Tier filled from directory name.
	if tasks[1].Tier != TierStandard {
		t.Errorf("tier = %q, want standard", tasks[1].Tier)
	}
	if !tasks[0].NeedsRepo() {
		t.Error("repo task should need a repository")
	}
}

func TestLoad_TierFilter(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "standard", "a.json", `{"id": "std-a", "prompt": "p"}`)
	writeTask(t, dir, "repo", "r.json", `{"id": "repo-1", "prompt": "p"}`)

	tasks, err := Load(dir, TierRepo)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "repo-1" {
		t.Errorf("tasks = %v, want only repo-1", tasks)
	}
}

func TestLoad_MissingID(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "standard", "bad.json", `{"prompt": "p"}`)

	if _, err := Load(dir, ""); err == nil {
		t.Fatal("expected error for task without id")
	}
}

func TestLoad_MissingPrompt(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "standard", "bad.json", `{"id": "x"}`)

	if _, err := Load(dir, ""); err == nil {
		t.Fatal("expected error for task without prompt")
	}
}

func TestLoad_MissingDir(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope"), ""); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRepoRef_CloneURL(t *testing.T) {
	cases := []struct {
		repo string
		want string
	}{
		{"psf/requests", "https://github.com/psf/requests.git"},
		{"https://gitlab.com/org/repo.git", "https://gitlab.com/org/repo.git"},
		{"/srv/git/local", "/srv/git/local"},
	}
	for _, tc := range cases {
		r := &RepoRef{Repo: tc.repo}
		if got := r.CloneURL(); got != tc.want {
			t.Errorf("CloneURL(%q) = %q, want %q", tc.repo, got, tc.want)
		}
	}
}

func TestTask_NeedsRepo(t *testing.T) {
	seeded := &Task{
		Repo:         &RepoRef{Repo: "org/repo"},
		InitialFiles: map[string]string{"main.py": ""},
	}
	if seeded.NeedsRepo() {
		t.Error("task with initial files should not need a repository")
	}
	if (&Task{}).NeedsRepo() {
		t.Error("task without repo ref should not need a repository")
	}
}
