package harness

import (
	"os"
	"testing"
	"time"

	"github.com/cruciblebench/crucible/sandbox"
	"github.com/cruciblebench/crucible/task"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	f, err := os.CreateTemp("", "crucible-results-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := NewResultStore(path)
	if err != nil {
		t.Fatalf("NewResultStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResultStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)

	r := &TaskResult{
		ID:         "res-1",
		TaskID:     "task-1",
		TaskName:   "Fix the parser",
		Tier:       task.TierRepo,
		Group:      task.GroupTreatment,
		Status:     StatusCompleted,
		EvalStatus: EvalResolved,
		Eval: &sandbox.Result{
			JobID:    "res-1",
			Resolved: true,
			FailToPass: []sandbox.TestResult{
				{ID: "test_x", Passed: true, ExitCode: 0},
			},
		},
		ExitCode:   0,
		Responses:  2,
		Patch:      "diff --git a/x b/x\n",
		StartedAt:  time.Now().UTC().Truncate(time.Second),
		Duration:   42 * time.Second,
		Transcript: "agent output here",
	}
	if err := store.SaveResult(r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := store.GetResult("res-1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.TaskID != "task-1" || got.Group != task.GroupTreatment {
		t.Errorf("got = %+v", got)
	}
	if got.Status != StatusCompleted || got.EvalStatus != EvalResolved {
		t.Errorf("status = %s/%s", got.Status, got.EvalStatus)
	}
	if got.Eval == nil || !got.Eval.Resolved || len(got.Eval.FailToPass) != 1 {
		t.Errorf("eval = %+v", got.Eval)
	}
	if got.Duration != 42*time.Second {
		t.Errorf("duration = %v", got.Duration)
	}
	if got.Transcript != "agent output here" {
		t.Errorf("transcript = %q", got.Transcript)
	}
}

func TestResultStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetResult("nope"); err == nil {
		t.Fatal("expected error for missing result")
	}
}

func TestResultStore_List(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		taskID := "task-1"
		if id == "c" {
			taskID = "task-2"
		}
		r := &TaskResult{
			ID:        id,
			TaskID:    taskID,
			Group:     task.GroupControl,
			Status:    StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveResult(r); err != nil {
			t.Fatalf("SaveResult(%s): %v", id, err)
		}
	}

	all, err := store.ListResults("")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "c" {
		t.Errorf("all[0].ID = %s, want c", all[0].ID)
	}

	one, err := store.ListResults("task-1")
	if err != nil {
		t.Fatalf("ListResults(task-1): %v", err)
	}
	if len(one) != 2 {
		t.Errorf("len(one) = %d, want 2", len(one))
	}
}

func TestResultStore_Upsert(t *testing.T) {
	store := newTestStore(t)

	r := &TaskResult{ID: "res-1", TaskID: "t", Group: task.GroupControl,
		Status: StatusHardTimeout, StartedAt: time.Now().UTC()}
	if err := store.SaveResult(r); err != nil {
		t.Fatal(err)
	}
	r.Status = StatusCompleted
	if err := store.SaveResult(r); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetResult("res-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want completed after upsert", got.Status)
	}
}
