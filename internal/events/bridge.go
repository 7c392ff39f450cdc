package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Bridge publishes the lifecycle of a task set and its members on a Bus.
// Nested sets are not counted as members; their own members are.
type Bridge struct {
	bus *Bus
	set *scheduler.TaskSet

	mu        sync.Mutex
	total     int
	running   int
	completed int
	failed    int
	started   time.Time
	taskStart map[string]time.Time
}

// Attach creates a Bridge and registers it as a set listener on set.
func Attach(bus *Bus, set *scheduler.TaskSet) *Bridge {
	b := &Bridge{
		bus:       bus,
		set:       set,
		total:     countPlain(set),
		taskStart: make(map[string]time.Time),
	}
	set.AddSetListener(b)
	return b
}

// Detach stops publishing.
func (b *Bridge) Detach() {
	b.set.RemoveSetListener(b)
}

func countPlain(set *scheduler.TaskSet) int {
	n := 0
	for _, name := range set.Members() {
		if member, ok := set.Task(name); ok {
			if _, nested := member.(*scheduler.TaskSet); !nested {
				n++
			}
		}
	}
	return n
}

// BeforeExecuteSet implements scheduler.SetListener.
func (b *Bridge) BeforeExecuteSet(s *scheduler.TaskSet) {
	now := time.Now()
	b.mu.Lock()
	b.started = now
	b.mu.Unlock()

	b.bus.Publish(TopicGraph, GraphStartedEvent{Set: s.Name(), Total: b.total, Timestamp: now})
	b.publishProgress()
}

// AfterExecuteSet implements scheduler.SetListener.
func (b *Bridge) AfterExecuteSet(s *scheduler.TaskSet) {
	now := time.Now()
	b.mu.Lock()
	elapsed := now.Sub(b.started)
	b.mu.Unlock()

	b.bus.Publish(TopicGraph, GraphCompletedEvent{
		Set:       s.Name(),
		Failed:    s.Failed(),
		Duration:  elapsed,
		Timestamp: now,
	})
}

// BeforeExecute implements scheduler.Listener.
func (b *Bridge) BeforeExecute(n scheduler.Node) {
	if _, nested := n.(*scheduler.TaskSet); nested {
		return
	}

	now := time.Now()
	b.mu.Lock()
	b.running++
	b.taskStart[n.Name()] = now
	b.mu.Unlock()

	b.bus.Publish(TopicTask, TaskStartedEvent{Name: n.Name(), Set: b.set.Name(), Timestamp: now})
	b.publishProgress()
}

// AfterExecute implements scheduler.Listener.
func (b *Bridge) AfterExecute(n scheduler.Node) {
	if _, nested := n.(*scheduler.TaskSet); nested {
		return
	}

	res, _ := n.AnyResult()
	now := time.Now()

	b.mu.Lock()
	b.running--
	if res.IsFailure() {
		b.failed++
	} else {
		b.completed++
	}
	elapsed := now.Sub(b.taskStart[n.Name()])
	delete(b.taskStart, n.Name())
	b.mu.Unlock()

	b.bus.Publish(TopicTask, finishedEvent(n.Name(), b.set.Name(), res, elapsed, now))
	b.publishProgress()
}

func (b *Bridge) publishProgress() {
	b.mu.Lock()
	ev := GraphProgressEvent{
		Set:       b.set.Name(),
		Total:     b.total,
		Completed: b.completed,
		Running:   b.running,
		Failed:    b.failed,
		Pending:   b.total - b.completed - b.running - b.failed,
		Timestamp: time.Now(),
	}
	b.mu.Unlock()

	b.bus.Publish(TopicGraph, ev)
}

// finishedEvent describes the completion of name as a completed or failed event.
func finishedEvent(name, set string, res scheduler.Result[any], elapsed time.Duration, now time.Time) Event {
	if res.IsFailure() {
		origin, _ := scheduler.RootCause(res.Err())
		if origin == "" {
			origin = name
		}
		return TaskFailedEvent{
			Name:      name,
			Set:       set,
			Origin:    origin,
			Err:       res.Err(),
			Duration:  elapsed,
			Timestamp: now,
		}
	}
	return TaskCompletedEvent{
		Name:      name,
		Set:       set,
		Value:     formatValue(res.Value()),
		Duration:  elapsed,
		Timestamp: now,
	}
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Watcher publishes the task events of a single node that is not a member of
// an attached set, such as a condition task. It does not publish progress.
type Watcher struct {
	bus   *Bus
	node  scheduler.Node
	group string

	mu      sync.Mutex
	started time.Time
}

// Watch creates a Watcher for n and registers it as a listener. group is
// reported as the Set of the published events.
func Watch(bus *Bus, n scheduler.Node, group string) *Watcher {
	w := &Watcher{bus: bus, node: n, group: group}
	n.AddListener(w)
	return w
}

// Detach stops publishing.
func (w *Watcher) Detach() {
	w.node.RemoveListener(w)
}

// BeforeExecute implements scheduler.Listener.
func (w *Watcher) BeforeExecute(n scheduler.Node) {
	now := time.Now()
	w.mu.Lock()
	w.started = now
	w.mu.Unlock()

	w.bus.Publish(TopicTask, TaskStartedEvent{Name: n.Name(), Set: w.group, Timestamp: now})
}

// AfterExecute implements scheduler.Listener.
func (w *Watcher) AfterExecute(n scheduler.Node) {
	res, _ := n.AnyResult()
	now := time.Now()
	w.mu.Lock()
	elapsed := now.Sub(w.started)
	w.mu.Unlock()

	w.bus.Publish(TopicTask, finishedEvent(n.Name(), w.group, res, elapsed, now))
}

var (
	_ scheduler.SetListener = (*Bridge)(nil)
	_ scheduler.Listener    = (*Watcher)(nil)
)
