package journal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	id, err := store.BeginRun(ctx, "build", 2, start)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated run ID")
	}

	runs, err := store.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusRunning || !runs[0].FinishedAt.IsZero() {
		t.Fatalf("unexpected runs %+v", runs)
	}

	if err := store.FinishRun(ctx, id, start.Add(time.Minute), 0); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	runs, _ = store.Runs(ctx, 10)
	got := runs[0]
	if got.Status != StatusSucceeded || got.Pipeline != "build" || got.Total != 2 {
		t.Errorf("unexpected run %+v", got)
	}
	if !got.StartedAt.Equal(start) || got.FinishedAt.Sub(got.StartedAt) != time.Minute {
		t.Errorf("unexpected timestamps %v / %v", got.StartedAt, got.FinishedAt)
	}
}

func TestFinishRunWithFailures(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, _ := store.BeginRun(ctx, "deploy", 3, time.Now())
	if err := store.FinishRun(ctx, id, time.Now(), 2); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, _ := store.Runs(ctx, 0)
	if runs[0].Status != StatusFailed || runs[0].Failed != 2 {
		t.Errorf("unexpected run %+v", runs[0])
	}
}

func TestFinishUnknownRun(t *testing.T) {
	store := testStore(t)
	err := store.FinishRun(context.Background(), "missing", time.Now(), 0)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestRunsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, name := range []string{"first", "second", "third"} {
		if _, err := store.BeginRun(ctx, name, 1, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
	}

	runs, err := store.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].Pipeline != "third" || runs[1].Pipeline != "second" {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestTaskRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	id, _ := store.BeginRun(ctx, "ci", 3, base)

	store.RecordStart(ctx, id, "lint", base.Add(time.Second))
	store.RecordFinish(ctx, id, "lint", base.Add(3*time.Second), "ok", nil, "")
	store.RecordStart(ctx, id, "test", base.Add(2*time.Second))
	store.RecordFinish(ctx, id, "test", base.Add(4*time.Second), "", errors.New("exit status 1"), "test")
	// never started: short-circuited by a failed parent
	store.RecordFinish(ctx, id, "publish", base.Add(5*time.Second), "", errors.New("parent failed"), "test")

	entries, err := store.TaskRuns(ctx, id)
	if err != nil {
		t.Fatalf("TaskRuns: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	lint, test, publish := entries[0], entries[1], entries[2]
	if lint.Task != "lint" || lint.Status != StatusSucceeded || lint.Result != "ok" || lint.Duration() != 2*time.Second {
		t.Errorf("unexpected lint entry %+v", lint)
	}
	if test.Task != "test" || test.Status != StatusFailed || test.Error != "exit status 1" || test.Origin != "test" {
		t.Errorf("unexpected test entry %+v", test)
	}
	if publish.Task != "publish" || !publish.StartedAt.IsZero() || publish.Origin != "test" || publish.Duration() != 0 {
		t.Errorf("unexpected publish entry %+v", publish)
	}
}

func TestTaskRunsRequireRun(t *testing.T) {
	store := testStore(t)
	if err := store.RecordStart(context.Background(), "missing", "t", time.Now()); err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	id, _ := store.BeginRun(ctx, "persisted", 1, time.Now())
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	runs, err := reopened.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Errorf("unexpected runs after reopen %+v", runs)
	}
}

func TestRecorderJournalsTaskSet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	exec := goExecutor{}

	fetch := scheduler.NewAsyncTask(exec, "fetch", func() (string, error) { return "payload", nil })
	parse := scheduler.NewAsyncTask(exec, "parse", func() (int, error) { return 0, errors.New("bad payload") })
	save := scheduler.NewAsyncTask[int](exec, "save", nil)
	set := scheduler.NewBuilder(exec, "etl").Add(fetch).Before(parse).Add(parse).Before(save).Build()

	rec := Record(ctx, store, set, "etl.yaml")
	set.Execute()

	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for recorder")
	}

	if rec.WriteErrors() != 0 {
		t.Errorf("unexpected write errors: %d", rec.WriteErrors())
	}

	runs, _ := store.Runs(ctx, 0)
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.ID != rec.RunID() || run.Pipeline != "etl.yaml" || run.Total != 3 || run.Status != StatusFailed || run.Failed != 2 {
		t.Errorf("unexpected run %+v", run)
	}

	entries, _ := store.TaskRuns(ctx, run.ID)
	byTask := map[string]TaskRun{}
	for _, e := range entries {
		byTask[e.Task] = e
	}
	if e := byTask["fetch"]; e.Status != StatusSucceeded || e.Result != "payload" {
		t.Errorf("fetch entry %+v", e)
	}
	if e := byTask["parse"]; e.Status != StatusFailed || e.Origin != "parse" {
		t.Errorf("parse entry %+v", e)
	}
	if e := byTask["save"]; e.Status != StatusFailed || e.Origin != "parse" {
		t.Errorf("save entry %+v", e)
	}
}

type goExecutor struct{}

func (goExecutor) Dispatch(_ scheduler.ThreadMode, work func()) { go work() }
