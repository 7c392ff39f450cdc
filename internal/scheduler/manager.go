package scheduler

import (
	"context"
	"fmt"
	"sync"
)

const tagManager = "taskgraph.Manager"

// Condition is an opaque key gating deferred activation of tasks. Conditions
// compare by identity; the label is only used in diagnostics.
type Condition struct {
	label string
}

// NewCondition creates a distinct condition.
func NewCondition(label string) *Condition {
	return &Condition{label: label}
}

func (c *Condition) String() string {
	if c == nil {
		return "Condition(<nil>)"
	}
	return fmt.Sprintf("Condition(%s)", c.label)
}

// Manager tracks named tasks, condition-gated activation and result lookup.
// A Manager must be initialized exactly once with Init before tasks are registered.
type Manager struct {
	initOnce sync.Once
	exec     Executor

	mu         sync.RWMutex
	tasks      map[string]Node
	order      []string // registration order
	conditions map[*Condition][]Node
}

// NewManager returns an uninitialized Manager.
func NewManager() *Manager {
	return &Manager{
		tasks:      make(map[string]Node),
		conditions: make(map[*Condition][]Node),
	}
}

// Init binds the executor. Only the first call has an effect; it reports
// whether this call performed the initialization.
func (m *Manager) Init(exec Executor) bool {
	initialized := false
	m.initOnce.Do(func() {
		m.mu.Lock()
		m.exec = exec
		m.mu.Unlock()
		initialized = true
	})
	return initialized
}

// Executor returns the executor bound by Init, or nil.
func (m *Manager) Executor() Executor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exec
}

func (m *Manager) register(n Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		logError(tagManager, "register; task="+n.Name(), ErrNotInitialized)
		return false
	}
	if _, exists := m.tasks[n.Name()]; !exists {
		m.order = append(m.order, n.Name())
	}
	m.tasks[n.Name()] = n
	return true
}

// StartTask registers n by name and executes it.
func (m *Manager) StartTask(n Node) bool {
	if n == nil || n.Name() == "" {
		logError(tagManager, "startTask; task is nil or task name is empty, just return", nil)
		return false
	}
	if !m.register(n) {
		return false
	}

	logDebug(tagManager, fmt.Sprintf("startTask; execute task=%v", n))
	n.Execute()
	return true
}

// AddConditionTask registers n by name and defers it until c is invoked.
func (m *Manager) AddConditionTask(c *Condition, n Node) bool {
	if c == nil || n == nil || n.Name() == "" {
		logError(tagManager, fmt.Sprintf("addConditionTask; condition or task is nil or task name is empty. condition=%v, just return", c), nil)
		return false
	}
	if !m.register(n) {
		return false
	}

	m.mu.Lock()
	m.conditions[c] = append(m.conditions[c], n)
	m.mu.Unlock()

	logDebug(tagManager, fmt.Sprintf("addConditionTask; condition=%v, task=%v", c, n))
	return true
}

// InvokeCondition executes the tasks registered under c at the time of the call.
// A task that still awaits parents is a caller error: it is reported and left
// for its parents to start.
func (m *Manager) InvokeCondition(c *Condition) int {
	m.mu.RLock()
	pending := append([]Node(nil), m.conditions[c]...)
	m.mu.RUnlock()

	if len(pending) == 0 {
		logDebug(tagManager, fmt.Sprintf("invokeCondition; condition=%v matched no task, just return", c))
		return 0
	}

	started := 0
	for _, n := range pending {
		if n.head().hasParents() {
			logError(tagManager, fmt.Sprintf("invokeCondition; task=%s still has pending parents, not executed by condition=%v", n.Name(), c), nil)
			continue
		}
		n.Execute()
		started++
	}
	logDebug(tagManager, fmt.Sprintf("invokeCondition; condition=%v executed %d/%d task(s)", c, started, len(pending)))
	return started
}

// WaitForCompleted blocks until every registered task completed, including
// tasks registered while it waits. A wait that is cut short by ctx is reported
// and the remaining tasks are still visited.
func (m *Manager) WaitForCompleted(ctx context.Context) error {
	var firstErr error
	waited := make(map[Node]bool)
	for {
		pending := m.unwaited(waited)
		if len(pending) == 0 {
			return firstErr
		}
		for _, n := range pending {
			waited[n] = true
			if _, err := n.WaitAny(ctx); err != nil {
				logDebug(tagManager, fmt.Sprintf("waitForCompleted; interrupted waiting for task=%s: %v", n.Name(), err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
}

// unwaited returns the registered nodes not in waited, in registration order.
func (m *Manager) unwaited(waited map[Node]bool) []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var nodes []Node
	for _, name := range m.order {
		if n := m.tasks[name]; !waited[n] {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Task resolves name among registered tasks and, recursively, the members of
// registered task sets.
func (m *Manager) Task(name string) (Node, bool) {
	if name == "" {
		logDebug(tagManager, "getTask; name is empty, just return")
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if n, ok := m.tasks[name]; ok {
		return n, true
	}
	for _, registered := range m.order {
		if set, ok := m.tasks[registered].(*TaskSet); ok {
			if n, found := set.Task(name); found {
				return n, true
			}
		}
	}

	logError(tagManager, "getTask; cannot find task by name="+name, nil)
	return nil, false
}

// TaskResult returns the success value of the named task. It reports false
// when the task is unknown, failed, or is not completed and mode is NonBlock.
func (m *Manager) TaskResult(ctx context.Context, name string, mode LookupMode) (any, bool) {
	n, ok := m.Task(name)
	if !ok {
		return nil, false
	}

	if n.State() == StateCompleted {
		res, ok := n.AnyResult()
		if !ok || res.IsFailure() {
			return nil, false
		}
		return res.Value(), true
	}

	if mode == NonBlock {
		logDebug(tagManager, "getTaskResult; task="+name+" is not completed and mode is non-blocking, just return")
		return nil, false
	}

	res, err := n.WaitAny(ctx)
	if err != nil {
		logDebug(tagManager, fmt.Sprintf("getTaskResult; interrupted waiting for task=%s: %v", name, err))
		return nil, false
	}
	if res.IsFailure() {
		return nil, false
	}
	return res.Value(), true
}

// ResultOf is the typed form of Manager.TaskResult.
func ResultOf[V any](ctx context.Context, m *Manager, name string, mode LookupMode) (V, bool) {
	var zero V
	value, ok := m.TaskResult(ctx, name, mode)
	if !ok {
		return zero, false
	}
	typed, ok := value.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}
