package executor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool runs work on a fixed number of worker goroutines. The backlog is an
// unbounded FIFO, so Submit never blocks.
type Pool struct {
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	g    errgroup.Group
	done chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
	active    atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of workers. Values <= 0 keep the default.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// PoolStats is a point-in-time view of pool activity.
type PoolStats struct {
	Workers   int
	Queued    int
	Active    int64
	Submitted int64
	Completed int64
}

// NewPool starts a pool with runtime.NumCPU() workers unless overridden.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		workers: runtime.NumCPU(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < p.workers; i++ {
		p.g.Go(func() error {
			p.work()
			return nil
		})
	}
	go func() {
		_ = p.g.Wait()
		close(p.done)
	}()

	return p
}

// Submit queues work for a worker.
func (p *Pool) Submit(work func()) error {
	if work == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, work)
	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()

	return PoolStats{
		Workers:   p.workers,
		Queued:    queued,
		Active:    p.active.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
	}
}

// Close stops accepting work, lets the workers drain the backlog and waits for
// them to exit or for ctx to be done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.active.Add(1)
		runGuarded("pool", job)
		p.active.Add(-1)
		p.completed.Add(1)
	}
}
