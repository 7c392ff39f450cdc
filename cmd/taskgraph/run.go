package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/executor"
	"github.com/aristath/taskgraph/internal/journal"
	"github.com/aristath/taskgraph/internal/pipeline"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/tui"
)

const shutdownTimeout = 10 * time.Second

var errQuit = errors.New("quit from the progress view")

var (
	runTriggers []string
	runTUI      bool
	runHold     bool
	runJournal  bool
	runDebug    bool
	runWorkers  int
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline",
	Long: `Run executes every task of the pipeline that is not gated by a trigger.

Tasks gated by a trigger run only when the trigger is passed with --trigger,
after the rest of the pipeline succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runTriggers, "trigger", "t", nil, "Invoke the tasks gated by this trigger (repeatable)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live progress view (default from config)")
	runCmd.Flags().BoolVar(&runHold, "hold", false, "Keep the progress view open after the run")
	runCmd.Flags().BoolVar(&runJournal, "journal", false, "Record the run in the journal (default from config)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Log scheduler diagnostics")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Size of the async worker pool (default from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		return err
	}
	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return err
	}

	opts := runOptions{
		path:        args[0],
		triggers:    runTriggers,
		cfg:         cfg,
		journal:     cfg.Journal.Enabled,
		tui:         cfg.UI.Enabled,
		hold:        runHold,
		globalPath:  globalPath,
		projectPath: projectPath,
		out:         cmd.OutOrStdout(),
	}
	if cmd.Flags().Changed("journal") {
		opts.journal = runJournal
	}
	if cmd.Flags().Changed("tui") {
		opts.tui = runTUI
	}
	if runWorkers > 0 {
		cfg.Workers = runWorkers
	}
	cfg.Debug = cfg.Debug || runDebug

	scheduler.SetLogger(scheduler.NewStdLogger(nil))
	scheduler.SetDebug(cfg.Debug)

	if opts.tui {
		f, err := tea.LogToFile(filepath.Join(filepath.Dir(globalPath), "taskgraph.log"), "taskgraph")
		if err != nil {
			return fmt.Errorf("redirecting log output: %w", err)
		}
		defer f.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runPipeline(ctx, opts)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("pipeline %s failed: %s", report.Pipeline, strings.Join(report.Failed, ", "))
	}
	return nil
}

type runOptions struct {
	path        string
	triggers    []string
	cfg         *config.Config
	journal     bool
	tui         bool
	hold        bool
	globalPath  string
	projectPath string
	out         io.Writer
}

// runReport summarizes a finished run.
type runReport struct {
	Pipeline string
	RunID    string   // empty when the run was not journaled
	Failed   []string // failed tasks, including triggered ones
	Skipped  []string // triggers that were not requested
	Duration time.Duration
}

// runPipeline builds the pipeline at opts.path and runs it to completion.
func runPipeline(ctx context.Context, opts runOptions) (*runReport, error) {
	def, err := pipeline.Load(opts.path)
	if err != nil {
		return nil, err
	}
	baseDir, err := filepath.Abs(filepath.Dir(opts.path))
	if err != nil {
		return nil, fmt.Errorf("resolving pipeline directory: %w", err)
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	disp := executor.New(executor.WithWorkers(opts.cfg.Workers))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := disp.Close(closeCtx); err != nil {
			log.Printf("WARNING: closing executor: %v", err)
		}
	}()

	pm := pipeline.NewProcessManager()
	plan, err := pipeline.Build(runCtx, disp, def, pipeline.NewShellRunner(pm), pipeline.Options{BaseDir: baseDir})
	if err != nil {
		return nil, err
	}
	for _, name := range opts.triggers {
		if _, ok := plan.Deferred[name]; !ok {
			return nil, fmt.Errorf("unknown trigger %q (pipeline %s declares: %s)",
				name, def.Name, strings.Join(plan.Triggers(), ", "))
		}
	}

	m := scheduler.NewManager()
	m.Init(disp)

	bus := events.NewBus()
	defer bus.Close()
	events.Attach(bus, plan.Set)

	report := &runReport{Pipeline: def.Name}

	var jh *journalHandle
	if opts.journal {
		jh, err = openJournal(ctx, opts.cfg, plan, def.Name)
		if err != nil {
			log.Printf("WARNING: journal disabled for this run: %v", err)
		} else {
			defer jh.close()
		}
	}

	// Registered last, so every other set listener has returned once it fires.
	setDone := make(chan struct{})
	plan.Set.AddSetListener(&scheduler.ListenerFuncs{OnAfterSet: func(*scheduler.TaskSet) { close(setDone) }})

	var ui *progressView
	var consumerDone <-chan struct{}
	if opts.tui {
		ui = startUI(bus, opts, cancelRun)
		consumerDone = ui.done
	} else {
		consumerDone = printEvents(opts.out, bus.SubscribeAll(opts.cfg.QueueSize))
	}

	conditions := make(map[string]*scheduler.Condition)
	var deferred []scheduler.Node
	var settled sync.WaitGroup
	for _, name := range plan.Triggers() {
		if !slices.Contains(opts.triggers, name) {
			log.Printf("trigger %s not requested, skipping %d task(s)", name, len(plan.Deferred[name]))
			report.Skipped = append(report.Skipped, name)
			continue
		}
		cond := scheduler.NewCondition(name)
		for _, n := range plan.Deferred[name] {
			events.Watch(bus, n, name)
			settled.Add(1)
			n.AddListener(&scheduler.ListenerFuncs{OnAfter: func(scheduler.Node) { settled.Done() }})
			m.AddConditionTask(cond, n)
			deferred = append(deferred, n)
		}
		conditions[name] = cond
	}

	interrupted := func() (*runReport, error) {
		log.Println("Shutdown signal received, cleaning up...")
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if _, err := plan.Set.WaitForResult(shutdownCtx); err != nil {
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
		bus.Close()
		if ui != nil {
			ui.stop(shutdownCtx)
		} else {
			<-consumerDone
		}
		return nil, fmt.Errorf("run interrupted: %w", context.Cause(runCtx))
	}

	start := time.Now()
	m.StartTask(plan.Set)
	if _, err := plan.Set.WaitForResult(runCtx); err != nil {
		return interrupted()
	}
	<-setDone
	report.Failed = plan.Set.Failed()

	switch {
	case len(report.Failed) > 0 && len(conditions) > 0:
		log.Printf("pipeline %s failed, not invoking triggers", def.Name)
	case len(conditions) > 0:
		for _, name := range opts.triggers {
			if cond, ok := conditions[name]; ok {
				m.InvokeCondition(cond)
				delete(conditions, name)
			}
		}
		if err := m.WaitForCompleted(runCtx); err != nil {
			return interrupted()
		}
		settled.Wait()
		for _, n := range deferred {
			if res, ok := n.AnyResult(); ok && res.IsFailure() {
				report.Failed = append(report.Failed, n.Name())
			}
		}
	}
	report.Duration = time.Since(start)

	if jh != nil {
		report.RunID = jh.RunID()
	}
	if dropped := bus.Dropped(); dropped > 0 {
		log.Printf("WARNING: %d progress event(s) dropped", dropped)
	}

	bus.Close()
	<-consumerDone
	if !opts.tui {
		printSummary(opts.out, report)
	}
	return report, nil
}

// journalHandle ties a journal store to the recorder writing into it.
type journalHandle struct {
	*journal.Recorder
	store *journal.SQLiteStore
}

func (j *journalHandle) close() {
	if err := j.store.Close(); err != nil {
		log.Printf("WARNING: closing journal: %v", err)
	}
}

func openJournal(ctx context.Context, cfg *config.Config, plan *pipeline.Plan, name string) (*journalHandle, error) {
	path, err := cfg.JournalPath()
	if err != nil {
		return nil, err
	}
	store, err := journal.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, err
	}
	// Journal writes outlive an interrupted run.
	rec := journal.Record(context.WithoutCancel(ctx), store, plan.Set, name)
	return &journalHandle{Recorder: rec, store: store}, nil
}

// progressView is the running Bubble Tea program.
type progressView struct {
	p    *tea.Program
	done chan struct{}
}

// startUI runs the progress view until it exits. Quitting it early cancels
// the run.
func startUI(bus *events.Bus, opts runOptions, cancelRun context.CancelCauseFunc) *progressView {
	var modelOpts []tui.Option
	if !opts.hold {
		modelOpts = append(modelOpts, tui.WithExitOnClose())
	}
	model := tui.New(bus, opts.cfg, opts.globalPath, opts.projectPath, modelOpts...)

	v := &progressView{
		p:    tea.NewProgram(model, tea.WithAltScreen()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		if _, err := v.p.Run(); err != nil {
			log.Printf("TUI exit error: %v", err)
		}
		cancelRun(errQuit)
	}()
	return v
}

// stop quits the program and waits for it to restore the terminal.
func (v *progressView) stop(ctx context.Context) {
	v.p.Quit()
	select {
	case <-v.done:
	case <-ctx.Done():
		v.p.Kill()
	}
}
