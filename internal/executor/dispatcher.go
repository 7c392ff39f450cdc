// Package executor provides the execution contexts tasks are dispatched to:
// a single-goroutine Loop standing in for the UI context and a worker Pool
// for asynchronous work.
package executor

import (
	"context"
	"errors"
	"log"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Dispatcher routes work by thread mode onto a Loop or a Pool.
type Dispatcher struct {
	loop *Loop
	pool *Pool
}

// New starts a Loop and a Pool configured by opts.
func New(opts ...PoolOption) *Dispatcher {
	return &Dispatcher{
		loop: NewLoop(),
		pool: NewPool(opts...),
	}
}

// Dispatch implements scheduler.Executor.
//
//   - UIBlock runs inline when already on the loop, otherwise it is posted.
//   - UIEnqueue is always posted.
//   - UIIdle is posted as idle work.
//   - Async runs on the pool.
func (d *Dispatcher) Dispatch(mode scheduler.ThreadMode, work func()) {
	var err error
	switch mode {
	case scheduler.UIBlock:
		if d.loop.OnLoop() {
			work()
			return
		}
		err = d.loop.Post(work)
	case scheduler.UIEnqueue:
		err = d.loop.Post(work)
	case scheduler.UIIdle:
		err = d.loop.PostIdle(work)
	case scheduler.Async:
		err = d.pool.Submit(work)
	default:
		log.Printf("WARNING: unknown thread mode %d, running on pool", mode)
		err = d.pool.Submit(work)
	}
	if err != nil {
		log.Printf("ERROR: dispatch %s: %v", mode, err)
	}
}

// Loop returns the UI loop.
func (d *Dispatcher) Loop() *Loop { return d.loop }

// Stats returns the pool counters.
func (d *Dispatcher) Stats() PoolStats { return d.pool.Stats() }

// Close drains the pool, then the loop. Pool work may still post to the loop.
func (d *Dispatcher) Close(ctx context.Context) error {
	return errors.Join(d.pool.Close(ctx), d.loop.Close(ctx))
}

// Inline returns an executor that runs everything on the calling goroutine.
func Inline() scheduler.Executor {
	return scheduler.InlineExecutor{}
}

var _ scheduler.Executor = (*Dispatcher)(nil)
