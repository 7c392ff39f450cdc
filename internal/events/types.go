package events

import (
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	EventType() string
	TaskName() string
}

// Topics
const (
	TopicTask  = "task"
	TopicGraph = "graph"
)

// Event types
const (
	EventTypeTaskStarted    = "task.started"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskFailed     = "task.failed"
	EventTypeGraphStarted   = "graph.started"
	EventTypeGraphProgress  = "graph.progress"
	EventTypeGraphCompleted = "graph.completed"
)

// TaskStartedEvent is published before a task's computation runs.
type TaskStartedEvent struct {
	Name      string
	Set       string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskName() string  { return e.Name }

// TaskCompletedEvent is published when a task completed successfully.
type TaskCompletedEvent struct {
	Name      string
	Set       string
	Value     string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskName() string  { return e.Name }

// TaskFailedEvent is published when a task completed with a failure. Origin
// names the task whose own computation failed; it equals Name unless the
// failure was propagated from a parent.
type TaskFailedEvent struct {
	Name      string
	Set       string
	Origin    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskName() string  { return e.Name }

// GraphStartedEvent is published when a task set starts.
type GraphStartedEvent struct {
	Set       string
	Total     int
	Timestamp time.Time
}

func (e GraphStartedEvent) EventType() string { return EventTypeGraphStarted }
func (e GraphStartedEvent) TaskName() string  { return e.Set }

// GraphProgressEvent is published whenever a member changes state.
type GraphProgressEvent struct {
	Set       string
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) TaskName() string  { return e.Set }

// GraphCompletedEvent is published once a task set completed.
type GraphCompletedEvent struct {
	Set       string
	Failed    []string
	Duration  time.Duration
	Timestamp time.Time
}

func (e GraphCompletedEvent) EventType() string { return EventTypeGraphCompleted }
func (e GraphCompletedEvent) TaskName() string  { return e.Set }
