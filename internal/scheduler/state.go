package scheduler

// State represents the lifecycle position of a task.
type State int

const (
	StateNew       State = iota // Not started yet
	StateRunning                // Run-step in progress
	StateCompleted              // Result available, terminal
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ThreadMode selects the execution context an Executor runs a task in.
type ThreadMode int

const (
	// UIBlock runs inline when already on the UI context, otherwise enqueues onto it.
	UIBlock ThreadMode = iota
	// UIEnqueue always enqueues onto the UI context.
	UIEnqueue
	// UIIdle runs once the UI context becomes idle.
	UIIdle
	// Async runs on the bounded worker pool.
	Async
)

func (m ThreadMode) String() string {
	switch m {
	case UIBlock:
		return "ui-block"
	case UIEnqueue:
		return "ui-enqueue"
	case UIIdle:
		return "ui-idle"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// ParseThreadMode maps a mode name as produced by String back to a ThreadMode.
// The empty string selects UIBlock.
func ParseThreadMode(s string) (ThreadMode, bool) {
	switch s {
	case "", "ui-block", "ui":
		return UIBlock, true
	case "ui-enqueue":
		return UIEnqueue, true
	case "ui-idle", "idle":
		return UIIdle, true
	case "async":
		return Async, true
	default:
		return UIBlock, false
	}
}

// LookupMode controls whether Manager.TaskResult waits for completion.
type LookupMode int

const (
	Block    LookupMode = iota // Wait until the task completes
	NonBlock                   // Return immediately if not completed
)
