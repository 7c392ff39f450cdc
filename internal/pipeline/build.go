package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Plan is a pipeline wired into the scheduler.
type Plan struct {
	Def *Definition

	// Set contains every non-triggered task; groups are nested sets.
	Set    *scheduler.TaskSet
	Groups map[string]*scheduler.TaskSet
	Tasks  map[string]*scheduler.Task[Output]

	// Deferred holds the triggered tasks by trigger name.
	Deferred map[string][]scheduler.Node
}

// Triggers returns the trigger names in sorted order.
func (p *Plan) Triggers() []string {
	names := make([]string, 0, len(p.Deferred))
	for name := range p.Deferred {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Order returns the non-triggered tasks in dependency order.
func (p *Plan) Order() ([]string, error) {
	return p.Set.Order()
}

// Options tune Build.
type Options struct {
	// BaseDir resolves relative task directories. Usually the directory of the
	// pipeline file.
	BaseDir string
	// Locks is shared by all tasks of the plan; nil creates a fresh table.
	Locks *Locks
	// Breakers holds the circuit breakers named by tasks; nil creates a
	// registry with default settings.
	Breakers *Breakers
}

// Build creates one task per definition entry. ctx is handed to every command.
func Build(ctx context.Context, exec scheduler.Executor, def *Definition, runner Runner, opts Options) (*Plan, error) {
	if def == nil || runner == nil {
		return nil, fmt.Errorf("build: definition and runner are required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if opts.Locks == nil {
		opts.Locks = NewLocks()
	}
	if opts.Breakers == nil {
		opts.Breakers = NewBreakers(BreakerSettings{})
	}

	plan := &Plan{
		Def:      def,
		Groups:   make(map[string]*scheduler.TaskSet),
		Tasks:    make(map[string]*scheduler.Task[Output]),
		Deferred: make(map[string][]scheduler.Node),
	}

	for i := range def.Tasks {
		td := &def.Tasks[i]
		mode := td.Mode
		if mode == "" {
			mode = DefaultMode
		}
		m, _ := scheduler.ParseThreadMode(mode)
		plan.Tasks[td.Name] = scheduler.NewTask(exec, td.Name, m, taskFunc(ctx, def, td, runner, opts))
	}

	node := func(name string) scheduler.Node {
		if set, ok := plan.Groups[name]; ok {
			return set
		}
		return plan.Tasks[name]
	}
	link := func(from string, before, after []string) {
		for _, ref := range before {
			node(from).Before(node(ref))
		}
		for _, ref := range after {
			node(from).After(node(ref))
		}
	}

	// Group-internal edges must exist before a group is built so that its
	// sentinels attach to the right members.
	for _, td := range def.Tasks {
		if td.Group != "" {
			link(td.Name, td.Before, td.After)
		}
	}
	for _, gd := range def.Groups {
		b := scheduler.NewBuilder(exec, gd.Name)
		for _, td := range def.Tasks {
			if td.Group == gd.Name {
				b.Add(plan.Tasks[td.Name])
			}
		}
		plan.Groups[gd.Name] = b.Build()
	}

	for _, td := range def.Tasks {
		if td.Group == "" && td.Trigger == "" {
			link(td.Name, td.Before, td.After)
		}
	}
	for _, gd := range def.Groups {
		link(gd.Name, gd.Before, gd.After)
	}

	top := scheduler.NewBuilder(exec, def.Name)
	for _, gd := range def.Groups {
		top.Add(plan.Groups[gd.Name])
	}
	for _, td := range def.Tasks {
		switch {
		case td.Trigger != "":
			plan.Deferred[td.Trigger] = append(plan.Deferred[td.Trigger], plan.Tasks[td.Name])
		case td.Group == "":
			top.Add(plan.Tasks[td.Name])
		}
	}
	plan.Set = top.Build()

	return plan, nil
}

func taskFunc(ctx context.Context, def *Definition, td *TaskDef, runner Runner, opts Options) func() (Output, error) {
	cmd := Command{
		Task:  td.Name,
		Run:   td.Run,
		Shell: def.Shell,
		Dir:   resolveDir(opts.BaseDir, def.Dir, td.Dir),
		Env:   mergeMaps(def.Env, td.Env),
	}
	keys := append([]string(nil), td.Locks...)
	locks := opts.Locks

	run := runner.Run
	if td.Retries > 0 || td.Breaker != "" {
		policy := DefaultRetryPolicy(td.Retries)
		if td.RetryDelay > 0 {
			policy.InitialInterval = td.RetryDelay
		}
		var cb *gobreaker.CircuitBreaker
		if td.Breaker != "" {
			cb = opts.Breakers.Get(td.Breaker)
		}
		run = func(ctx context.Context, cmd Command) (Output, error) {
			return runResilient(ctx, runner, cmd, policy, cb)
		}
	}

	return func() (Output, error) {
		release := locks.Acquire(keys)
		defer release()

		if err := ctx.Err(); err != nil {
			return Output{}, fmt.Errorf("task %q not started: %w", cmd.Task, err)
		}
		out, err := run(ctx, cmd)
		if err != nil {
			log.Printf("ERROR: task %s failed after %s: %v", cmd.Task, out.Duration, err)
		}
		return out, err
	}
}

// resolveDir joins the task directory onto the pipeline directory and base.
func resolveDir(base string, dirs ...string) string {
	dir := base
	for _, d := range dirs {
		switch {
		case d == "":
		case filepath.IsAbs(d):
			dir = d
		default:
			dir = filepath.Join(dir, d)
		}
	}
	return dir
}

func mergeMaps(maps ...EnvMap) map[string]string {
	var merged map[string]string
	for _, m := range maps {
		for k, v := range m {
			if merged == nil {
				merged = make(map[string]string)
			}
			merged[k] = v
		}
	}
	return merged
}
