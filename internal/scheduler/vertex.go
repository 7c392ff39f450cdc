package scheduler

import (
	"context"
	"fmt"
	"sync"
)

const tagTask = "taskgraph.Task"

// vertex is one node of the dependency graph. It owns its own state and refers
// to neighbours through the parents and children indexes. Edges are keyed by
// vertex identity; names only label vertices and need not be unique across
// sentinels.
type vertex struct {
	name  string
	mode  ThreadMode
	exec  Executor
	fn    func() (any, error)
	owner Node // reported to listeners

	mu        sync.Mutex
	claimed   bool // run-step entered; guards against double execution
	state     State
	result    *Result[any]
	parents   map[*vertex]struct{} // parents still awaited
	children  map[*vertex]struct{}
	childList []*vertex // children in insertion order
	parentErr error
	done      chan struct{}

	listeners observers[Listener]
}

func newVertex(exec Executor, name string, mode ThreadMode, fn func() (any, error)) *vertex {
	return &vertex{
		name:     name,
		mode:     mode,
		exec:     exec,
		fn:       fn,
		parents:  make(map[*vertex]struct{}),
		children: make(map[*vertex]struct{}),
		done:     make(chan struct{}),
	}
}

func (v *vertex) String() string {
	return fmt.Sprintf("Task{name=%q, mode=%s, state=%s}", v.name, v.mode, v.getState())
}

// link adds the edge parent -> child on both sides. It reports whether the edge
// was newly added.
func link(parent, child *vertex) bool {
	if parent == nil || child == nil || parent == child {
		return false
	}

	parent.mu.Lock()
	_, exists := parent.children[child]
	if !exists {
		parent.children[child] = struct{}{}
		parent.childList = append(parent.childList, child)
	}
	parent.mu.Unlock()

	child.mu.Lock()
	child.parents[parent] = struct{}{}
	child.mu.Unlock()

	return !exists
}

func (v *vertex) getState() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *vertex) getResult() (Result[any], bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.result == nil {
		return Result[any]{}, false
	}
	return *v.result, true
}

func (v *vertex) wait(ctx context.Context) (Result[any], error) {
	select {
	case <-v.done:
		res, _ := v.getResult()
		return res, nil
	case <-ctx.Done():
		return Result[any]{}, ctx.Err()
	}
}

func (v *vertex) hasParents() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.parents) > 0
}

func (v *vertex) hasChildren() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.children) > 0
}

func (v *vertex) childVertices() []*vertex {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*vertex(nil), v.childList...)
}

func (v *vertex) childNames() []string {
	children := v.childVertices()
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.name
	}
	return names
}

// execute hands the run-step to the executor.
func (v *vertex) execute() {
	if v.exec == nil {
		logError(tagTask, "execute; no executor for task="+v.name, nil)
		return
	}
	v.exec.Dispatch(v.mode, v.run)
}

// run is the run-step. Only the first invocation has any effect.
func (v *vertex) run() {
	v.mu.Lock()
	if v.claimed || v.state != StateNew {
		v.mu.Unlock()
		return
	}
	v.claimed = true
	v.mu.Unlock()

	for _, l := range v.listeners.snapshot() {
		l.BeforeExecute(v.owner)
	}

	logDebug(tagTask, "start execute task="+v.name)

	v.mu.Lock()
	v.result = nil
	v.state = StateRunning
	parentErr := v.parentErr
	v.mu.Unlock()

	var res Result[any]
	if parentErr != nil {
		res = Failure[any](parentErr)
	} else {
		res = v.call()
	}
	if res.IsFailure() {
		logError(tagTask, "fail execute task="+v.name, res.Err())
	}

	v.mu.Lock()
	v.result = &res
	v.state = StateCompleted
	close(v.done)
	children := v.childList
	v.mu.Unlock()

	logDebug(tagTask, "end execute task="+v.name)

	for _, l := range v.listeners.snapshot() {
		l.AfterExecute(v.owner)
	}

	for _, child := range children {
		child.onParentFinished(v, res)
	}
}

func (v *vertex) call() (res Result[any]) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure[any](fmt.Errorf("%w: task %q: %v", ErrPanic, v.name, r))
		}
	}()

	if v.fn == nil {
		return Success[any](nil)
	}
	value, err := v.fn()
	if err != nil {
		return Failure[any](err)
	}
	return Success(value)
}

// onParentFinished is called by a parent once it completed. A failed parent
// releases all remaining parents and records the first failure only.
func (v *vertex) onParentFinished(parent *vertex, res Result[any]) {
	v.mu.Lock()
	delete(v.parents, parent)
	if res.IsFailure() {
		clear(v.parents)
		if v.parentErr == nil {
			v.parentErr = &ParentError{Task: v.name, Parent: parent.name, Err: res.Err()}
		}
	}
	ready := len(v.parents) == 0
	v.mu.Unlock()

	if ready {
		v.execute()
	}
}
