package scheduler

// Executor dispatches a unit of work according to the requested thread mode.
// Implementations must eventually run every accepted unit of work.
type Executor interface {
	Dispatch(mode ThreadMode, work func())
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(mode ThreadMode, work func())

// Dispatch calls f(mode, work).
func (f ExecutorFunc) Dispatch(mode ThreadMode, work func()) { f(mode, work) }

// InlineExecutor runs every unit of work synchronously on the caller's goroutine
// regardless of mode.
type InlineExecutor struct{}

// Dispatch runs work immediately.
func (InlineExecutor) Dispatch(_ ThreadMode, work func()) { work() }
