package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

const tagSet = "taskgraph.TaskSet"

// TaskSet is a subgraph addressable as one node. It wraps its members between
// a root and an end sentinel: starting the set starts root, and the set is
// completed once end is.
type TaskSet struct {
	name    string
	root    *vertex
	end     *vertex
	members map[string]Node
	order   []string // member names in contribution order

	listeners    observers[Listener]
	setListeners observers[SetListener]
}

func newTaskSet(name string, root, end *vertex, members map[string]Node, order []string) *TaskSet {
	s := &TaskSet{
		name:    name,
		root:    root,
		end:     end,
		members: members,
		order:   order,
	}
	s.wire()
	return s
}

// wire connects the sentinels and every member to the set-level observers.
func (s *TaskSet) wire() {
	s.root.listeners.add(&ListenerFuncs{OnBefore: func(Node) {
		for _, l := range s.listeners.snapshot() {
			l.BeforeExecute(s)
		}
		for _, l := range s.setListeners.snapshot() {
			l.BeforeExecuteSet(s)
		}
	}})

	s.end.listeners.add(&ListenerFuncs{OnAfter: func(Node) {
		for _, l := range s.listeners.snapshot() {
			l.AfterExecute(s)
		}
		for _, l := range s.setListeners.snapshot() {
			l.AfterExecuteSet(s)
		}
	}})

	relay := &ListenerFuncs{
		OnBefore: func(n Node) {
			for _, l := range s.setListeners.snapshot() {
				l.BeforeExecute(n)
			}
		},
		OnAfter: func(n Node) {
			for _, l := range s.setListeners.snapshot() {
				l.AfterExecute(n)
			}
		},
	}
	for _, name := range s.order {
		s.members[name].AddListener(relay)
	}
}

func (s *TaskSet) String() string {
	return fmt.Sprintf("TaskSet{name=%q, members=%d, state=%s}", s.name, len(s.members), s.State())
}

func (s *TaskSet) Name() string { return s.name }

// State is StateNew until root started and StateCompleted once end completed.
func (s *TaskSet) State() State {
	if s.root.getState() == StateNew {
		return StateNew
	}
	if s.end.getState() == StateCompleted {
		return StateCompleted
	}
	return StateRunning
}

// Execute starts the root sentinel, which drives the whole subgraph.
func (s *TaskSet) Execute() { s.root.execute() }

// Before attaches other behind the end sentinel.
func (s *TaskSet) Before(other Node) bool {
	if other == nil {
		return false
	}
	return link(s.end, other.head())
}

// After attaches other in front of the root sentinel.
func (s *TaskSet) After(other Node) bool {
	if other == nil {
		return false
	}
	return link(other.tail(), s.root)
}

func (s *TaskSet) AddListener(l Listener) bool {
	if l == nil {
		return false
	}
	s.listeners.add(l)
	return true
}

func (s *TaskSet) RemoveListener(l Listener) bool {
	if l == nil {
		return false
	}
	return s.listeners.remove(l)
}

func (s *TaskSet) ClearListeners() { s.listeners.clear() }

// AddSetListener registers l for set-level events and every member's events.
func (s *TaskSet) AddSetListener(l SetListener) bool {
	if l == nil {
		return false
	}
	s.setListeners.add(l)
	return true
}

func (s *TaskSet) RemoveSetListener(l SetListener) bool {
	if l == nil {
		return false
	}
	return s.setListeners.remove(l)
}

func (s *TaskSet) ClearSetListeners() { s.setListeners.clear() }

// Result aggregates the results of all members by name once the set completed.
// Every member has an entry; one abandoned by a failure elsewhere and not yet
// finished reports a Failure wrapping ErrNotCompleted.
func (s *TaskSet) Result() (Result[map[string]Result[any]], bool) {
	if s.State() != StateCompleted {
		return Result[map[string]Result[any]]{}, false
	}
	return Success(s.collect()), true
}

// WaitForResult blocks until the end sentinel completed.
func (s *TaskSet) WaitForResult(ctx context.Context) (Result[map[string]Result[any]], error) {
	if _, err := s.end.wait(ctx); err != nil {
		return Result[map[string]Result[any]]{}, err
	}
	return Success(s.collect()), nil
}

func (s *TaskSet) collect() map[string]Result[any] {
	results := make(map[string]Result[any], len(s.members))
	for name, member := range s.members {
		res, ok := member.AnyResult()
		if !ok {
			res = Failure[any](fmt.Errorf("%w: %s", ErrNotCompleted, name))
		}
		results[name] = res
	}
	return results
}

func (s *TaskSet) AnyResult() (Result[any], bool) {
	res, ok := s.Result()
	if !ok {
		return Result[any]{}, false
	}
	return erase(res), true
}

func (s *TaskSet) WaitAny(ctx context.Context) (Result[any], error) {
	res, err := s.WaitForResult(ctx)
	if err != nil {
		return Result[any]{}, err
	}
	return erase(res), nil
}

// Task returns the member with the given name, searching nested sets too.
func (s *TaskSet) Task(name string) (Node, bool) {
	n, ok := s.members[name]
	return n, ok
}

// TaskResult returns the current result of the named member.
func (s *TaskSet) TaskResult(name string) (Result[any], bool) {
	n, ok := s.members[name]
	if !ok {
		return Result[any]{}, false
	}
	return n.AnyResult()
}

// Members returns the names of all flattened members, sorted.
func (s *TaskSet) Members() []string {
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed returns the sorted names of plain members that completed with a failure.
func (s *TaskSet) Failed() []string {
	var names []string
	for name, member := range s.members {
		if _, isSet := member.(*TaskSet); isSet {
			continue
		}
		if res, ok := member.AnyResult(); ok && res.IsFailure() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Order returns the plain members in a dependency-respecting order. The
// scheduler itself never needs it; it exists for planning and diagnostics and
// reports an error when the subgraph contains a cycle.
func (s *TaskSet) Order() ([]string, error) {
	plain := make(map[*vertex]string)
	for name, member := range s.members {
		if _, isSet := member.(*TaskSet); !isSet {
			plain[member.head()] = name
		}
	}

	// Vertices, not names, are the toposort nodes: sentinel names of nested
	// sets may repeat.
	var edges []toposort.Edge
	seen := make(map[*vertex]bool)
	queue := []*vertex{s.root}
	for v := range plain {
		edges = append(edges, toposort.Edge{nil, v})
		queue = append(queue, v)
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if seen[v] || v == s.end {
			continue
		}
		seen[v] = true

		for _, child := range v.childVertices() {
			edges = append(edges, toposort.Edge{v, child})
			queue = append(queue, child)
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task set %q contains cycle: %w", s.name, err)
	}

	order := make([]string, 0, len(plain))
	for _, id := range sorted {
		if v, ok := id.(*vertex); ok {
			if name, ok := plain[v]; ok {
				order = append(order, name)
			}
		}
	}
	return order, nil
}

func (s *TaskSet) head() *vertex {
	if s == nil {
		return nil
	}
	return s.root
}

func (s *TaskSet) tail() *vertex {
	if s == nil {
		return nil
	}
	return s.end
}

// Builder assembles a TaskSet. The task passed to Add becomes the anchor that
// subsequent Before and After calls link against.
type Builder struct {
	exec    Executor
	name    string
	anchor  Node
	members map[string]Node
	order   []string
}

// NewBuilder starts a TaskSet named name whose sentinels run on exec.
func NewBuilder(exec Executor, name string) *Builder {
	return &Builder{
		exec:    exec,
		name:    name,
		members: make(map[string]Node),
	}
}

func (b *Builder) register(n Node) {
	if _, ok := b.members[n.Name()]; !ok {
		b.order = append(b.order, n.Name())
	}
	b.members[n.Name()] = n
}

// Add registers n and makes it the anchor.
func (b *Builder) Add(n Node) *Builder {
	if n == nil {
		logError(tagSet, "builder add; task is nil, just return", nil)
		return b
	}
	b.register(n)
	b.anchor = n
	return b
}

// Before registers n and links anchor -> n.
func (b *Builder) Before(n Node) *Builder {
	if n == nil {
		logError(tagSet, "builder before; task is nil, just return", nil)
		return b
	}
	b.register(n)
	if b.anchor != nil {
		b.anchor.Before(n)
	}
	return b
}

// After registers n and links n -> anchor.
func (b *Builder) After(n Node) *Builder {
	if n == nil {
		logError(tagSet, "builder after; task is nil, just return", nil)
		return b
	}
	b.register(n)
	if b.anchor != nil {
		b.anchor.After(n)
	}
	return b
}

// Build creates the set. Members without predecessors hang under root, members
// without successors feed end, and nested sets contribute their flattened members.
func (b *Builder) Build() *TaskSet {
	root := newVertex(b.exec, b.name+".root", UIBlock, nil)
	end := newVertex(b.exec, b.name+".end", UIBlock, nil)

	members := make(map[string]Node, len(b.members))
	order := make([]string, 0, len(b.order))
	add := func(name string, n Node) {
		if _, ok := members[name]; !ok {
			order = append(order, name)
		}
		members[name] = n
	}

	for _, name := range b.order {
		add(name, b.members[name])
	}

	for _, name := range b.order {
		n := b.members[name]
		if inner, ok := n.(*TaskSet); ok {
			for _, innerName := range inner.order {
				add(innerName, inner.members[innerName])
			}
		}
		if !n.head().hasParents() {
			link(root, n.head())
		}
		if !n.tail().hasChildren() {
			link(n.tail(), end)
		}
	}
	// an empty set still completes
	if !end.hasParents() {
		link(root, end)
	}

	s := newTaskSet(b.name, root, end, members, order)
	root.owner = s
	end.owner = s
	logDebug(tagSet, fmt.Sprintf("build; set=%s members=%d", b.name, len(members)))
	return s
}
