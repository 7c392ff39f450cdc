package scheduler

import (
	"errors"
	"fmt"
)

// errEmptyFailure is stored when Failure is given a nil error so that a
// failure can never be mistaken for a success.
var errEmptyFailure = errors.New("failure without cause")

// Result is the immutable outcome of a task: either a value or an error.
type Result[V any] struct {
	value V
	err   error
}

// Success returns a successful Result carrying value.
func Success[V any](value V) Result[V] {
	return Result[V]{value: value}
}

// Failure returns a failed Result carrying err.
func Failure[V any](err error) Result[V] {
	if err == nil {
		err = errEmptyFailure
	}
	return Result[V]{err: err}
}

// IsSuccess reports whether the result carries a value.
func (r Result[V]) IsSuccess() bool { return r.err == nil }

// IsFailure reports whether the result carries an error.
func (r Result[V]) IsFailure() bool { return r.err != nil }

// Value returns the value of a successful result, or the zero value on failure.
func (r Result[V]) Value() V {
	if r.err != nil {
		var zero V
		return zero
	}
	return r.value
}

// Err returns the error of a failed result, or nil on success.
func (r Result[V]) Err() error { return r.err }

// Unwrap returns value and error together.
func (r Result[V]) Unwrap() (V, error) { return r.Value(), r.err }

func (r Result[V]) String() string {
	if r.err != nil {
		return fmt.Sprintf("Failure(%v)", r.err)
	}
	return fmt.Sprintf("Success(%v)", r.value)
}

// erase converts a typed result to its untyped form.
func erase[V any](r Result[V]) Result[any] {
	if r.err != nil {
		return Failure[any](r.err)
	}
	return Success[any](r.value)
}

// narrow converts an untyped result back to V. A value of the wrong dynamic
// type narrows to the zero value.
func narrow[V any](r Result[any]) Result[V] {
	if r.err != nil {
		return Failure[V](r.err)
	}
	v, _ := r.value.(V)
	return Success(v)
}
