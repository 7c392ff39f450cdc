package events

import (
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)
	bus.Publish(TopicTask, TaskStartedEvent{Name: "build", Set: "ci", Timestamp: time.Now()})

	received := receive(t, ch)
	if received.TaskName() != "build" {
		t.Errorf("expected task 'build', got %q", received.TaskName())
	}
	if received.EventType() != EventTypeTaskStarted {
		t.Errorf("expected event type %q, got %q", EventTypeTaskStarted, received.EventType())
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskCompletedEvent{Name: "test", Value: "ok", Duration: time.Millisecond})

	for i, ch := range []<-chan Event{ch1, ch2} {
		if got := receive(t, ch).TaskName(); got != "test" {
			t.Errorf("subscriber %d: got %q", i+1, got)
		}
	}
}

func TestPublishDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskStartedEvent{Name: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked")
	}

	if received := receive(t, ch); received == nil {
		t.Error("received nil event")
	}
	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for range ch {
		t.Error("unexpected event on closed topic channel")
	}
	for range all {
		t.Error("unexpected event on closed all-topic channel")
	}

	late := bus.Subscribe(TopicGraph, 1)
	if _, ok := <-late; ok {
		t.Error("subscribing after close must return a closed channel")
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close panicked: %v", r)
		}
	}()
	bus.Publish(TopicTask, TaskFailedEvent{Name: "t", Err: errors.New("x")})

	if _, ok := <-ch; ok {
		t.Error("received event after bus was closed")
	}
}

func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	graphCh := bus.Subscribe(TopicGraph, 10)

	bus.Publish(TopicTask, TaskStartedEvent{Name: "t"})
	bus.Publish(TopicGraph, GraphProgressEvent{Set: "g", Total: 10, Completed: 5, Running: 2, Pending: 3})

	if got := receive(t, taskCh).EventType(); got != EventTypeTaskStarted {
		t.Errorf("task channel got %s", got)
	}
	if got := receive(t, graphCh).EventType(); got != EventTypeGraphProgress {
		t.Errorf("graph channel got %s", got)
	}

	select {
	case ev := <-taskCh:
		t.Errorf("task channel received unexpected %s", ev.EventType())
	case ev := <-graphCh:
		t.Errorf("graph channel received unexpected %s", ev.EventType())
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(0)
	bus.Publish(TopicTask, TaskStartedEvent{Name: "t"})
	bus.Publish(TopicGraph, GraphCompletedEvent{Set: "g"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[receive(t, all).EventType()] = true
	}
	if !seen[EventTypeTaskStarted] || !seen[EventTypeGraphCompleted] {
		t.Errorf("SubscribeAll saw %v", seen)
	}
}
