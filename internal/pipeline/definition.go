// Package pipeline turns a YAML pipeline definition into a task graph whose
// tasks run shell commands.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// DefaultMode is used for tasks that don't name one.
const DefaultMode = "async"

// Suffixes of the sentinel tasks the scheduler adds to every set.
const (
	sentinelRoot = ".root"
	sentinelEnd  = ".end"
)

// Definition is a pipeline file.
type Definition struct {
	Name   string     `yaml:"name"`
	Shell  string     `yaml:"shell,omitempty"`
	Dir    string     `yaml:"dir,omitempty"`
	Env    EnvMap     `yaml:"env,omitempty"`
	Groups []GroupDef `yaml:"groups,omitempty"`
	Tasks  []TaskDef  `yaml:"tasks"`
}

// GroupDef declares a nested task set. Groups may be ordered against
// ungrouped tasks and other groups.
type GroupDef struct {
	Name   string   `yaml:"name"`
	Before []string `yaml:"before,omitempty"`
	After  []string `yaml:"after,omitempty"`
}

// TaskDef declares one task.
type TaskDef struct {
	Name    string   `yaml:"name"`
	Run     string   `yaml:"run"`
	Mode    string   `yaml:"mode,omitempty"`
	Group   string   `yaml:"group,omitempty"`
	Trigger string   `yaml:"trigger,omitempty"` // deferred until the trigger is invoked
	Before  []string `yaml:"before,omitempty"`
	After   []string `yaml:"after,omitempty"`
	Locks   []string `yaml:"locks,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	Env     EnvMap   `yaml:"env,omitempty"`

	// Retries is how many more times a failing command is attempted.
	Retries    int           `yaml:"retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"` // first backoff interval
	// Breaker names a circuit breaker shared by tasks that depend on the same
	// flaky resource.
	Breaker string `yaml:"breaker,omitempty"`
}

// EnvMap holds environment overrides.
type EnvMap map[string]string

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid pipeline: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid pipeline: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// ErrCycle is wrapped when the declared ordering contains a cycle.
var ErrCycle = errors.New("dependency cycle")

// Load reads and validates a pipeline file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a pipeline definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// scopes indexes tasks and groups by name.
func (d *Definition) scopes() (tasks map[string]*TaskDef, groups map[string]*GroupDef) {
	tasks = make(map[string]*TaskDef, len(d.Tasks))
	for i := range d.Tasks {
		tasks[d.Tasks[i].Name] = &d.Tasks[i]
	}
	groups = make(map[string]*GroupDef, len(d.Groups))
	for i := range d.Groups {
		groups[d.Groups[i].Name] = &d.Groups[i]
	}
	return tasks, groups
}

// Validate checks names, references, modes and ordering. Edges may only join
// nodes of the same scope: tasks of one group with each other, and ungrouped
// tasks with each other and with groups. Triggered tasks stand alone.
func (d *Definition) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.Name == "" {
		addf("pipeline name is required")
	}
	if len(d.Tasks) == 0 {
		addf("pipeline %q declares no tasks", d.Name)
	}

	seen := make(map[string]bool)
	groupSize := make(map[string]int)
	for _, g := range d.Groups {
		switch {
		case g.Name == "":
			addf("group name is required")
		case seen[g.Name]:
			addf("duplicate name %q", g.Name)
		}
		seen[g.Name] = true
		groupSize[g.Name] = 0
	}
	for _, t := range d.Tasks {
		switch {
		case t.Name == "":
			addf("task name is required")
		case seen[t.Name]:
			addf("duplicate name %q", t.Name)
		}
		seen[t.Name] = true

		if t.Run == "" {
			addf("task %q: run is required", t.Name)
		}
		if _, ok := scheduler.ParseThreadMode(t.Mode); !ok {
			addf("task %q: unknown mode %q", t.Name, t.Mode)
		}
		if t.Group != "" {
			if _, ok := groupSize[t.Group]; !ok {
				addf("task %q: unknown group %q", t.Name, t.Group)
			} else {
				groupSize[t.Group]++
			}
		}
		if t.Trigger != "" && (t.Group != "" || len(t.Before) > 0 || len(t.After) > 0) {
			addf("task %q: triggered tasks cannot have a group or ordering", t.Name)
		}
		if t.Retries < 0 || t.RetryDelay < 0 {
			addf("task %q: retries and retry_delay cannot be negative", t.Name)
		}
	}
	for _, g := range d.Groups {
		if g.Name != "" && groupSize[g.Name] == 0 {
			addf("group %q has no tasks", g.Name)
		}
		if g.Name != "" && g.Name == d.Name {
			addf("group %q has the name of the pipeline", g.Name)
		}
	}

	// Every set gets root and end sentinels named after it.
	reserved := map[string]bool{d.Name + sentinelRoot: true, d.Name + sentinelEnd: true}
	for _, g := range d.Groups {
		reserved[g.Name+sentinelRoot] = true
		reserved[g.Name+sentinelEnd] = true
	}
	for _, t := range d.Tasks {
		if reserved[t.Name] {
			addf("task name %q is reserved for a set sentinel", t.Name)
		}
	}
	for _, g := range d.Groups {
		if reserved[g.Name] {
			addf("group name %q is reserved for a set sentinel", g.Name)
		}
	}

	tasks, groups := d.scopes()
	scopeOf := func(name string) (string, bool) {
		if t, ok := tasks[name]; ok {
			if t.Trigger != "" {
				return "", false
			}
			return t.Group, true
		}
		if _, ok := groups[name]; ok {
			return "", true
		}
		return "", false
	}
	checkRefs := func(owner, scope string, refs []string) {
		for _, ref := range refs {
			if ref == owner {
				addf("%q cannot reference itself", owner)
				continue
			}
			refScope, ok := scopeOf(ref)
			if !ok {
				addf("%q references unknown or triggered task %q", owner, ref)
				continue
			}
			if refScope != scope {
				addf("%q and %q are in different groups", owner, ref)
			}
		}
	}
	for _, t := range d.Tasks {
		checkRefs(t.Name, t.Group, t.Before)
		checkRefs(t.Name, t.Group, t.After)
	}
	for _, g := range d.Groups {
		checkRefs(g.Name, "", g.Before)
		checkRefs(g.Name, "", g.After)
	}

	if len(problems) == 0 {
		if _, err := d.Order(); err != nil {
			addf("%v", err)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// orderNode is a toposort node. Tasks and group sentinels are distinct nodes
// even when their names look alike.
type orderNode struct {
	name string
	kind nodeKind
}

type nodeKind int

const (
	taskNode nodeKind = iota
	groupRoot
	groupEnd
)

// Order returns the non-triggered task names in an order that respects every
// declared edge. Groups are expanded in place.
func (d *Definition) Order() ([]string, error) {
	_, groups := d.scopes()

	var edges []toposort.Edge
	addEdge := func(from, to orderNode) {
		edges = append(edges, toposort.Edge{from, to})
	}
	for _, g := range d.Groups {
		addEdge(orderNode{g.Name, groupRoot}, orderNode{g.Name, groupEnd})
		for _, ref := range g.Before {
			addEdge(orderNode{g.Name, groupEnd}, head(ref, groups))
		}
		for _, ref := range g.After {
			addEdge(tail(ref, groups), orderNode{g.Name, groupRoot})
		}
	}
	for _, t := range d.Tasks {
		if t.Trigger != "" {
			continue
		}
		self := orderNode{t.Name, taskNode}
		edges = append(edges, toposort.Edge{nil, self})
		if t.Group != "" {
			addEdge(orderNode{t.Group, groupRoot}, self)
			addEdge(self, orderNode{t.Group, groupEnd})
		}
		for _, ref := range t.Before {
			addEdge(self, head(ref, groups))
		}
		for _, ref := range t.After {
			addEdge(tail(ref, groups), self)
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]string, 0, len(d.Tasks))
	for _, id := range sorted {
		if n, ok := id.(orderNode); ok && n.kind == taskNode {
			order = append(order, n.name)
		}
	}
	return order, nil
}

// head and tail map a reference to the node an edge attaches to: the
// sentinels for a group, the task itself otherwise.
func head(name string, groups map[string]*GroupDef) orderNode {
	if _, ok := groups[name]; ok {
		return orderNode{name, groupRoot}
	}
	return orderNode{name, taskNode}
}

func tail(name string, groups map[string]*GroupDef) orderNode {
	if _, ok := groups[name]; ok {
		return orderNode{name, groupEnd}
	}
	return orderNode{name, taskNode}
}
