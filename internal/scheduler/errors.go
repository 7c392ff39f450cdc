package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrPanic wraps a panic recovered from a task computation.
	ErrPanic = errors.New("task panicked")

	// ErrNotInitialized is reported when a Manager is used before Init.
	ErrNotInitialized = errors.New("manager not initialized")

	// ErrNotCompleted marks a set member that was still unfinished when the set
	// completed, because a failure elsewhere stopped the set from waiting on it.
	ErrNotCompleted = errors.New("task not completed")
)

// ParentError records that Task was short-circuited because Parent failed.
type ParentError struct {
	Task   string
	Parent string
	Err    error
}

func (e *ParentError) Error() string {
	return fmt.Sprintf("task %q: parent %q failed: %v", e.Task, e.Parent, e.Err)
}

func (e *ParentError) Unwrap() error { return e.Err }

// RootCause follows a chain of ParentErrors and returns the name of the task
// whose own computation failed together with that failure.
func RootCause(err error) (string, error) {
	origin := ""
	for {
		var pe *ParentError
		if !errors.As(err, &pe) {
			return origin, err
		}
		origin = pe.Parent
		err = pe.Err
	}
}
