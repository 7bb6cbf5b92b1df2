package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cruciblebench/crucible/task"
)

func TestSeedWorkspace(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "ws")
	tk := &task.Task{
		ID: "t1",
		InitialFiles: map[string]string{
			"main.py":       "def f(): pass\n",
			"pkg/helper.py": "x = 1\n",
		},
		TestFile: "def test_f():\n    assert True\n",
	}
	if err := seedWorkspace(tk, dest); err != nil {
		t.Fatalf("seedWorkspace: %v", err)
	}

	for _, name := range []string{"main.py", "pkg/helper.py", "test_t1.py"} {
		if _, err := os.Stat(filepath.Join(dest, filepath.FromSlash(name))); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestSeedWorkspace_RejectsEscape(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "ws")
	tk := &task.Task{
		ID: "t1",
		InitialFiles: map[string]string{
			"../evil.py": "import os\n",
		},
	}
	err := seedWorkspace(tk, dest)
	if err == nil || !strings.Contains(err.Error(), "escapes workspace") {
		t.Fatalf("err = %v, want escape rejection", err)
	}
}

func TestInitBaseline(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "ws")
	tk := &task.Task{
		ID:           "t1",
		InitialFiles: map[string]string{"a.py": "pass\n"},
	}
	if err := seedWorkspace(tk, dest); err != nil {
		t.Fatal(err)
	}

	sha, err := initBaseline(context.Background(), dest)
	if err != nil {
		t.Fatalf("initBaseline: %v", err)
	}
	if len(sha) != 40 {
		t.Errorf("sha = %q, want full commit hash", sha)
	}

	// The baseline commit covers the seeded files.
	out, err := runGit(context.Background(), dest, "status", "--porcelain")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "" {
		t.Errorf("dirty tree after baseline: %q", out)
	}
}
