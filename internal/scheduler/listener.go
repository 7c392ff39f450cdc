package scheduler

import "sync"

// Listener observes the run-step of a task. Callbacks run synchronously on the
// goroutine executing the task: BeforeExecute before the state leaves StateNew,
// AfterExecute once the state is StateCompleted.
type Listener interface {
	BeforeExecute(n Node)
	AfterExecute(n Node)
}

// SetListener observes a TaskSet: the set itself plus every member.
type SetListener interface {
	Listener
	BeforeExecuteSet(s *TaskSet)
	AfterExecuteSet(s *TaskSet)
}

// ListenerFuncs adapts optional callbacks to Listener and SetListener.
// Use it by pointer so it can be removed again.
type ListenerFuncs struct {
	OnBefore    func(Node)
	OnAfter     func(Node)
	OnBeforeSet func(*TaskSet)
	OnAfterSet  func(*TaskSet)
}

func (f *ListenerFuncs) BeforeExecute(n Node) {
	if f.OnBefore != nil {
		f.OnBefore(n)
	}
}

func (f *ListenerFuncs) AfterExecute(n Node) {
	if f.OnAfter != nil {
		f.OnAfter(n)
	}
}

func (f *ListenerFuncs) BeforeExecuteSet(s *TaskSet) {
	if f.OnBeforeSet != nil {
		f.OnBeforeSet(s)
	}
}

func (f *ListenerFuncs) AfterExecuteSet(s *TaskSet) {
	if f.OnAfterSet != nil {
		f.OnAfterSet(s)
	}
}

// observers is a copy-on-write list: iteration works on an immutable snapshot,
// so callbacks may add or remove observers while being notified.
type observers[L comparable] struct {
	mu    sync.Mutex
	items []L
}

func (o *observers[L]) add(l L) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := make([]L, len(o.items), len(o.items)+1)
	copy(next, o.items)
	o.items = append(next, l)
}

func (o *observers[L]) remove(l L) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, item := range o.items {
		if item == l {
			next := make([]L, 0, len(o.items)-1)
			next = append(next, o.items[:i]...)
			o.items = append(next, o.items[i+1:]...)
			return true
		}
	}
	return false
}

func (o *observers[L]) clear() {
	o.mu.Lock()
	o.items = nil
	o.mu.Unlock()
}

func (o *observers[L]) snapshot() []L {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items
}
