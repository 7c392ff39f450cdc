package events

import (
	"errors"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

func drain(t *testing.T, ch <-chan Event, until string) []Event {
	t.Helper()
	var got []Event
	for {
		select {
		case ev := <-ch:
			got = append(got, ev)
			if ev.EventType() == until {
				return got
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s, got %d events", until, len(got))
			return nil
		}
	}
}

func TestBridgePublishesLifecycle(t *testing.T) {
	exec := scheduler.InlineExecutor{}
	fetch := scheduler.NewAsyncTask(exec, "fetch", func() (int, error) { return 3, nil })
	parse := scheduler.NewAsyncTask(exec, "parse", func() (int, error) { return 0, errors.New("bad input") })
	store := scheduler.NewAsyncTask[int](exec, "store", nil)

	inner := scheduler.NewBuilder(exec, "io").Add(parse).Before(store).Build()
	set := scheduler.NewBuilder(exec, "etl").Add(fetch).Before(inner).Build()

	bus := NewBus()
	defer bus.Close()
	all := bus.SubscribeAll(0)

	Attach(bus, set)
	set.Execute()

	events := drain(t, all, EventTypeGraphCompleted)

	started, ok := events[0].(GraphStartedEvent)
	if !ok || started.Set != "etl" || started.Total != 3 {
		t.Fatalf("first event = %#v", events[0])
	}

	var completed, failed []string
	origins := map[string]string{}
	var last GraphProgressEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case TaskCompletedEvent:
			completed = append(completed, e.Name)
			if e.Name == "fetch" && e.Value != "3" {
				t.Errorf("fetch value = %q", e.Value)
			}
		case TaskFailedEvent:
			failed = append(failed, e.Name)
			origins[e.Name] = e.Origin
		case GraphProgressEvent:
			last = e
		case TaskStartedEvent:
			if e.Name == "io" {
				t.Error("nested set must not be reported as a task")
			}
		}
	}

	if len(completed) != 1 || completed[0] != "fetch" {
		t.Errorf("completed = %v", completed)
	}
	if len(failed) != 2 {
		t.Fatalf("failed = %v", failed)
	}
	if origins["parse"] != "parse" || origins["store"] != "parse" {
		t.Errorf("origins = %v", origins)
	}
	if last.Completed != 1 || last.Failed != 2 || last.Running != 0 || last.Pending != 0 {
		t.Errorf("final progress = %+v", last)
	}

	done := events[len(events)-1].(GraphCompletedEvent)
	if len(done.Failed) != 2 || done.Failed[0] != "parse" || done.Failed[1] != "store" {
		t.Errorf("graph failed = %v", done.Failed)
	}
}

func TestBridgeDetach(t *testing.T) {
	exec := scheduler.InlineExecutor{}
	set := scheduler.NewBuilder(exec, "quiet").Add(scheduler.NewUITask[int](exec, "t", nil)).Build()

	bus := NewBus()
	defer bus.Close()
	all := bus.SubscribeAll(0)

	Attach(bus, set).Detach()
	set.Execute()

	select {
	case ev := <-all:
		t.Errorf("detached bridge published %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}
}

func TestWatchPublishesTaskEvents(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"success", func() (string, error) { return "sent", nil }, EventTypeTaskCompleted},
		{"failure", func() (string, error) { return "", errors.New("smtp down") }, EventTypeTaskFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := scheduler.InlineExecutor{}
			notify := scheduler.NewAsyncTask(exec, "notify", tt.fn)

			bus := NewBus()
			defer bus.Close()
			all := bus.SubscribeAll(0)

			Watch(bus, notify, "published")
			notify.Execute()

			events := drain(t, all, tt.want)
			if len(events) != 2 {
				t.Fatalf("expected start and finish, got %d events", len(events))
			}
			if started, ok := events[0].(TaskStartedEvent); !ok || started.Set != "published" {
				t.Errorf("first event = %#v", events[0])
			}
			switch ev := events[1].(type) {
			case TaskCompletedEvent:
				if ev.Value != "sent" {
					t.Errorf("value = %q", ev.Value)
				}
			case TaskFailedEvent:
				if ev.Origin != "notify" || ev.Err == nil {
					t.Errorf("failed event = %#v", ev)
				}
			}
		})
	}
}
