package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	if !m.Init(goExecutor{}) {
		t.Fatal("first Init must initialize")
	}
	return m
}

func TestManagerInitOnce(t *testing.T) {
	m := NewManager()
	if m.Executor() != nil {
		t.Fatal("executor must be nil before Init")
	}

	first := goExecutor{}
	if !m.Init(first) {
		t.Fatal("first Init must initialize")
	}
	if m.Init(InlineExecutor{}) {
		t.Error("second Init must be a no-op")
	}
	if _, ok := m.Executor().(goExecutor); !ok {
		t.Errorf("executor replaced by second Init: %T", m.Executor())
	}
}

func TestManagerRejectsInvalidTasks(t *testing.T) {
	uninitialized := NewManager()
	task := NewUITask[int](InlineExecutor{}, "t", nil)
	if uninitialized.StartTask(task) {
		t.Error("StartTask must fail before Init")
	}
	if task.State() != StateNew {
		t.Error("rejected task must not run")
	}

	m := newTestManager(t)
	if m.StartTask(nil) {
		t.Error("StartTask(nil) must fail")
	}
	if m.StartTask(NewUITask[int](InlineExecutor{}, "", nil)) {
		t.Error("StartTask with empty name must fail")
	}
	if m.AddConditionTask(nil, task) {
		t.Error("AddConditionTask with nil condition must fail")
	}
	if m.AddConditionTask(NewCondition("c"), nil) {
		t.Error("AddConditionTask with nil task must fail")
	}
	if _, ok := m.Task(""); ok {
		t.Error("Task(\"\") must not resolve")
	}
	if _, ok := m.Task("unknown"); ok {
		t.Error("unknown task must not resolve")
	}
}

func TestManagerConditionGating(t *testing.T) {
	m := newTestManager(t)
	cond := NewCondition("app-ready")
	other := NewCondition("app-ready")

	var counts [3]atomic.Int32
	tasks := make([]*Task[int], 3)
	for i := range tasks {
		i := i
		tasks[i] = NewAsyncTask(goExecutor{}, []string{"t5", "t7", "t2"}[i], func() (int, error) {
			counts[i].Add(1)
			return i, nil
		})
		if !m.AddConditionTask(cond, tasks[i]) {
			t.Fatalf("AddConditionTask(%d) failed", i)
		}
	}

	time.Sleep(20 * time.Millisecond)
	for i, task := range tasks {
		if task.State() != StateNew || counts[i].Load() != 0 {
			t.Fatalf("task %s ran before its condition was invoked", task.Name())
		}
	}

	if n := m.InvokeCondition(other); n != 0 {
		t.Errorf("a different condition with the same label started %d task(s)", n)
	}

	if n := m.InvokeCondition(cond); n != 3 {
		t.Errorf("expected 3 started tasks, got %d", n)
	}
	if err := m.WaitForCompleted(waitCtx(t)); err != nil {
		t.Fatalf("WaitForCompleted: %v", err)
	}

	m.InvokeCondition(cond)
	time.Sleep(20 * time.Millisecond)

	for i := range counts {
		if got := counts[i].Load(); got != 1 {
			t.Errorf("task %d ran %d times", i, got)
		}
	}
}

func TestManagerInvokeUsesSnapshot(t *testing.T) {
	m := newTestManager(t)
	cond := NewCondition("snapshot")

	early := NewUITask[int](InlineExecutor{}, "early", nil)
	m.AddConditionTask(cond, early)

	m.InvokeCondition(cond)

	late := NewUITask[int](InlineExecutor{}, "late", nil)
	m.AddConditionTask(cond, late)

	if early.State() != StateCompleted {
		t.Errorf("early = %s", early.State())
	}
	if late.State() != StateNew {
		t.Errorf("late must not be started by an earlier invocation, got %s", late.State())
	}
}

func TestManagerConditionTaskWithPendingParents(t *testing.T) {
	m := newTestManager(t)
	cond := NewCondition("blocked")

	parent := NewUITask[int](InlineExecutor{}, "parent", nil)
	child := NewUITask[int](InlineExecutor{}, "child", nil)
	parent.Before(child)
	m.AddConditionTask(cond, child)

	if n := m.InvokeCondition(cond); n != 0 {
		t.Errorf("task with pending parents must not be started, started %d", n)
	}
	if child.State() != StateNew {
		t.Errorf("child = %s", child.State())
	}

	parent.Execute()
	if child.State() != StateCompleted {
		t.Errorf("child must run once its parent completed, got %s", child.State())
	}
}

func TestManagerTaskResultModes(t *testing.T) {
	m := newTestManager(t)
	release := make(chan struct{})
	task := NewAsyncTask(goExecutor{}, "slow", func() (string, error) {
		<-release
		return "value", nil
	})
	m.StartTask(task)

	ctx := waitCtx(t)
	if v, ok := m.TaskResult(ctx, "slow", NonBlock); ok || v != nil {
		t.Errorf("NonBlock on incomplete task = (%v, %v)", v, ok)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	v, ok := m.TaskResult(ctx, "slow", Block)
	if !ok || v != "value" {
		t.Errorf("Block = (%v, %v)", v, ok)
	}
	if task.State() != StateCompleted {
		t.Errorf("state after Block = %s", task.State())
	}

	typed, ok := ResultOf[string](ctx, m, "slow", NonBlock)
	if !ok || typed != "value" {
		t.Errorf("ResultOf = (%q, %v)", typed, ok)
	}
	if _, ok := ResultOf[int](ctx, m, "slow", NonBlock); ok {
		t.Error("ResultOf with wrong type must report false")
	}
}

func TestManagerTaskResultFailureIsAbsent(t *testing.T) {
	m := newTestManager(t)
	m.StartTask(NewAsyncTask(goExecutor{}, "broken", func() (int, error) {
		return 0, errors.New("broken")
	}))

	if v, ok := m.TaskResult(waitCtx(t), "broken", Block); ok {
		t.Errorf("failed task must yield no value, got %v", v)
	}
	if _, ok := m.TaskResult(waitCtx(t), "missing", Block); ok {
		t.Error("unknown task must yield no value")
	}
}

func TestManagerBlockingLookupHonoursContext(t *testing.T) {
	m := newTestManager(t)
	cond := NewCondition("never")
	m.AddConditionTask(cond, NewAsyncTask[int](goExecutor{}, "parked", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, ok := m.TaskResult(ctx, "parked", Block); ok {
		t.Error("expected no value after context expiry")
	}
	if err := m.WaitForCompleted(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForCompleted = %v", err)
	}
}

func TestManagerResolvesSetMembers(t *testing.T) {
	m := newTestManager(t)
	rec := &recorder{}
	set, _ := newSet1(rec)

	if !m.StartTask(set) {
		t.Fatal("StartTask(set) failed")
	}

	ctx := waitCtx(t)
	v, ok := ResultOf[string](ctx, m, "task3", Block)
	if !ok || v != "task3.result" {
		t.Errorf("task3 = (%q, %v)", v, ok)
	}

	all, ok := ResultOf[map[string]Result[any]](ctx, m, "set1", Block)
	if !ok {
		t.Fatal("expected aggregated set result")
	}
	if len(all) != 4 {
		t.Errorf("expected 4 member results, got %d", len(all))
	}

	n, ok := m.Task("task6")
	if !ok || n.Name() != "task6" {
		t.Errorf("Task(task6) = (%v, %v)", n, ok)
	}
}

func TestManagerWaitForCompleted(t *testing.T) {
	m := newTestManager(t)
	cond := NewCondition("later")
	rec := &recorder{}

	set, _ := newSet1(rec)
	m.StartTask(set)
	extra := rec.task("extra", nil)
	m.AddConditionTask(cond, extra)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.InvokeCondition(cond)
	}()

	if err := m.WaitForCompleted(waitCtx(t)); err != nil {
		t.Fatalf("WaitForCompleted: %v", err)
	}
	if set.State() != StateCompleted || extra.State() != StateCompleted {
		t.Errorf("states after WaitForCompleted: set=%s extra=%s", set.State(), extra.State())
	}
}

func TestManagerWaitForCompletedSeesLateRegistrations(t *testing.T) {
	m := newTestManager(t)
	releaseFirst := make(chan struct{})
	releaseLate := make(chan struct{})

	first := NewAsyncTask(goExecutor{}, "first", func() (int, error) {
		<-releaseFirst
		return 1, nil
	})
	late := NewAsyncTask(goExecutor{}, "late", func() (int, error) {
		<-releaseLate
		return 2, nil
	})
	m.StartTask(first)

	ctx := waitCtx(t)
	done := make(chan error, 1)
	go func() { done <- m.WaitForCompleted(ctx) }()
	time.Sleep(20 * time.Millisecond) // let the wait start on first

	m.StartTask(late)
	close(releaseFirst)

	select {
	case err := <-done:
		t.Fatalf("WaitForCompleted returned before the late task finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseLate)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForCompleted: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForCompleted did not return")
	}
	if late.State() != StateCompleted {
		t.Errorf("late state = %s", late.State())
	}
}
