package scheduler

import "context"

// Node is the capability shared by plain tasks and task sets.
type Node interface {
	// Name returns the unique, stable name of the node.
	Name() string
	// State returns the current lifecycle state.
	State() State
	// Execute submits the node to its executor. Repeated calls run it at most once.
	Execute()
	// Before makes other depend on this node.
	Before(other Node) bool
	// After makes this node depend on other.
	After(other Node) bool

	AddListener(l Listener) bool
	RemoveListener(l Listener) bool
	ClearListeners()

	// AnyResult returns the untyped result without blocking.
	AnyResult() (Result[any], bool)
	// WaitAny blocks until the node completed or ctx is done.
	WaitAny(ctx context.Context) (Result[any], error)

	// head is where predecessors attach, tail where successors attach.
	head() *vertex
	tail() *vertex
}

// Task is a named unit of work producing a V.
type Task[V any] struct {
	v *vertex
}

// NewTask creates a task that runs fn on exec using mode. A nil fn completes
// with the zero value.
func NewTask[V any](exec Executor, name string, mode ThreadMode, fn func() (V, error)) *Task[V] {
	var call func() (any, error)
	if fn != nil {
		call = func() (any, error) {
			value, err := fn()
			return value, err
		}
	}

	t := &Task[V]{v: newVertex(exec, name, mode, call)}
	t.v.owner = t
	return t
}

// NewAsyncTask creates a task on the worker pool.
func NewAsyncTask[V any](exec Executor, name string, fn func() (V, error)) *Task[V] {
	return NewTask(exec, name, Async, fn)
}

// NewUITask creates a task on the UI context.
func NewUITask[V any](exec Executor, name string, fn func() (V, error)) *Task[V] {
	return NewTask(exec, name, UIBlock, fn)
}

func (t *Task[V]) String() string { return t.v.String() }

func (t *Task[V]) Name() string { return t.v.name }

// Mode returns the requested thread mode.
func (t *Task[V]) Mode() ThreadMode { return t.v.mode }

func (t *Task[V]) State() State { return t.v.getState() }

func (t *Task[V]) Execute() { t.v.execute() }

func (t *Task[V]) Before(other Node) bool {
	if other == nil {
		return false
	}
	return link(t.tail(), other.head())
}

func (t *Task[V]) After(other Node) bool {
	if other == nil {
		return false
	}
	return link(other.tail(), t.head())
}

func (t *Task[V]) AddListener(l Listener) bool {
	if l == nil {
		return false
	}
	t.v.listeners.add(l)
	return true
}

func (t *Task[V]) RemoveListener(l Listener) bool {
	if l == nil {
		return false
	}
	return t.v.listeners.remove(l)
}

func (t *Task[V]) ClearListeners() { t.v.listeners.clear() }

// Result returns the result if the task completed. It never blocks.
func (t *Task[V]) Result() (Result[V], bool) {
	res, ok := t.v.getResult()
	if !ok {
		return Result[V]{}, false
	}
	return narrow[V](res), true
}

// WaitForResult blocks until the task completed and returns its result.
// It returns ctx.Err() if ctx is done first.
func (t *Task[V]) WaitForResult(ctx context.Context) (Result[V], error) {
	res, err := t.v.wait(ctx)
	if err != nil {
		return Result[V]{}, err
	}
	return narrow[V](res), nil
}

func (t *Task[V]) AnyResult() (Result[any], bool) { return t.v.getResult() }

func (t *Task[V]) WaitAny(ctx context.Context) (Result[any], error) { return t.v.wait(ctx) }

// Parents returns the names of the parents still awaited.
func (t *Task[V]) Parents() []string {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	names := make([]string, 0, len(t.v.parents))
	for p := range t.v.parents {
		names = append(names, p.name)
	}
	return names
}

// Children returns the names of the dependents in insertion order.
func (t *Task[V]) Children() []string { return t.v.childNames() }

func (t *Task[V]) head() *vertex {
	if t == nil {
		return nil
	}
	return t.v
}

func (t *Task[V]) tail() *vertex { return t.head() }
