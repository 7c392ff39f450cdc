package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/journal"
	"github.com/aristath/taskgraph/internal/pipeline"
)

const releasePipeline = `
name: release
groups:
  - name: checks
    after: [prepare]
tasks:
  - name: prepare
    run: echo prepared
  - name: vet
    run: echo vetted
    group: checks
  - name: unit
    run: echo tested
    group: checks
  - name: package
    run: echo "packaged $TARGET"
    after: [checks]
    mode: ui-enqueue
    env:
      TARGET: linux
  - name: announce
    run: echo announced
    trigger: published
`

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing pipeline: %v", err)
	}
	return path
}

func testOptions(t *testing.T, path string, out *bytes.Buffer) runOptions {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workers = 2
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	return runOptions{path: path, cfg: cfg, out: out}
}

func runWithTimeout(t *testing.T, opts runOptions) (*runReport, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return runPipeline(ctx, opts)
}

func TestRunPipelineSucceeds(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, writePipeline(t, releasePipeline), &out)

	report, err := runWithTimeout(t, opts)
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Errorf("failed = %v", report.Failed)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "published" {
		t.Errorf("skipped = %v", report.Skipped)
	}
	if report.RunID != "" {
		t.Errorf("journal disabled, got run %s", report.RunID)
	}

	text := out.String()
	for _, want := range []string{"✓ prepare", "✓ vet", "✓ unit", "✓ package", "    packaged linux", "release succeeded", "not triggered: published"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "announce") {
		t.Error("announce must not run without its trigger")
	}
	if strings.Index(text, "✓ prepare") > strings.Index(text, "✓ package") {
		t.Errorf("package finished before prepare:\n%s", text)
	}
}

func TestRunPipelineTrigger(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, writePipeline(t, releasePipeline), &out)
	opts.triggers = []string{"published"}

	report, err := runWithTimeout(t, opts)
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if len(report.Skipped) != 0 {
		t.Errorf("skipped = %v", report.Skipped)
	}
	text := out.String()
	if !strings.Contains(text, "✓ announce") {
		t.Errorf("triggered task did not run:\n%s", text)
	}
	if strings.Index(text, "✓ package") > strings.Index(text, "✓ announce") {
		t.Errorf("trigger ran before the pipeline finished:\n%s", text)
	}
}

func TestRunPipelineUnknownTrigger(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, writePipeline(t, releasePipeline), &out)
	opts.triggers = []string{"deployed"}

	_, err := runWithTimeout(t, opts)
	if err == nil || !strings.Contains(err.Error(), `unknown trigger "deployed"`) {
		t.Errorf("expected unknown trigger error, got %v", err)
	}
}

func TestRunPipelineFailure(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, writePipeline(t, `
name: broken
tasks:
  - {name: build, run: "echo compiler error >&2; exit 2"}
  - {name: ship, run: echo shipped, after: [build]}
  - {name: docs, run: echo docs}
  - {name: notify, run: echo notified, trigger: published}
`), &out)
	opts.triggers = []string{"published"}
	opts.journal = true

	report, err := runWithTimeout(t, opts)
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if !slices.Equal(report.Failed, []string{"build", "ship"}) {
		t.Errorf("failed = %v", report.Failed)
	}

	text := out.String()
	for _, want := range []string{"✗ build", "compiler error", "- ship skipped: build failed", "✓ docs", "broken failed (build, ship)"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "notified") {
		t.Error("triggers must not fire after a failed pipeline")
	}

	if report.RunID == "" {
		t.Fatal("expected a journaled run")
	}
	store, err := journal.NewSQLiteStore(context.Background(), opts.cfg.Journal.Path)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer store.Close()

	runs, err := store.Runs(context.Background(), 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != journal.StatusFailed || runs[0].Failed != 2 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRunPipelineInterrupted(t *testing.T) {
	var out bytes.Buffer
	opts := testOptions(t, writePipeline(t, `
name: slow
tasks:
  - {name: wait, run: sleep 30}
  - {name: after, run: echo late, after: [wait]}
`), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runPipeline(ctx, opts)
	if err == nil || !strings.Contains(err.Error(), "run interrupted") {
		t.Fatalf("expected interruption, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("interrupted run took %s", elapsed)
	}
	if strings.Contains(out.String(), "late") {
		t.Error("dependent task ran after interruption")
	}
}

func newTestCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd
}

func TestPrintPlan(t *testing.T) {
	def, err := pipeline.Parse([]byte(releasePipeline))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var out bytes.Buffer
	if err := printPlan(newTestCommand(&out), def); err != nil {
		t.Fatalf("printPlan: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"release: 5 task(s)",
		"  1. prepare [async]",
		"package [ui-enqueue] after group checks",
		"on published: announce",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("plan missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, ".root") || strings.Contains(text, ".end") {
		t.Errorf("plan leaks sentinel names:\n%s", text)
	}
}

func TestPrintHistory(t *testing.T) {
	ctx := context.Background()
	store, err := journal.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	var out bytes.Buffer
	cmd := newTestCommand(&out)
	if err := printRuns(cmd, store, 10); err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	if !strings.Contains(out.String(), "no runs journaled yet") {
		t.Errorf("unexpected output %q", out.String())
	}

	start := time.Now().Add(-time.Minute)
	id, err := store.BeginRun(ctx, "release", 2, start)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	store.RecordStart(ctx, id, "build", start)
	store.RecordFinish(ctx, id, "build", start.Add(time.Second), "", errStub("exit status 2\ncompiler error"), "build")
	store.RecordStart(ctx, id, "ship", start.Add(time.Second))
	store.RecordFinish(ctx, id, "ship", start.Add(time.Second), "", errStub("parent failed"), "build")
	if err := store.FinishRun(ctx, id, start.Add(2*time.Second), 2); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	out.Reset()
	if err := printRuns(cmd, store, 10); err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	text := out.String()
	for _, want := range []string{id, "release", journal.StatusFailed, "1 minute ago", "2s"} {
		if !strings.Contains(text, want) {
			t.Errorf("runs missing %q:\n%s", want, text)
		}
	}

	out.Reset()
	if err := printTaskRuns(cmd, store, id); err != nil {
		t.Fatalf("printTaskRuns: %v", err)
	}
	text = out.String()
	for _, want := range []string{"exit status 2 ...", "skipped: build failed"} {
		if !strings.Contains(text, want) {
			t.Errorf("task runs missing %q:\n%s", want, text)
		}
	}

	if err := printTaskRuns(cmd, store, "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}

type errStub string

func (e errStub) Error() string { return string(e) }

func TestSpan(t *testing.T) {
	now := time.Now()
	tests := []struct {
		start, end time.Time
		want       string
	}{
		{time.Time{}, now, "-"},
		{now, time.Time{}, "-"},
		{now, now.Add(1500 * time.Millisecond), "1.5s"},
	}
	for _, tt := range tests {
		if got := span(tt.start, tt.end); got != tt.want {
			t.Errorf("span = %q, want %q", got, tt.want)
		}
	}
}
