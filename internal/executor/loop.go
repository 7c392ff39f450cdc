package executor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("executor closed")

// Loop is a single goroutine draining a FIFO queue. It plays the role of the
// UI context: work posted to it never runs concurrently with other loop work.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	idle   []func()
	closed bool

	gid  atomic.Uint64
	done chan struct{}
}

// NewLoop starts a loop goroutine.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)

	ready := make(chan struct{})
	go l.run(ready)
	<-ready
	return l
}

// Post appends work to the queue.
func (l *Loop) Post(work func()) error {
	return l.push(work, false)
}

// PostIdle queues work that runs once the main queue is empty. Every idle job
// runs exactly once.
func (l *Loop) PostIdle(work func()) error {
	return l.push(work, true)
}

func (l *Loop) push(work func(), idle bool) error {
	if work == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if idle {
		l.idle = append(l.idle, work)
	} else {
		l.queue = append(l.queue, work)
	}
	l.cond.Signal()
	return nil
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	return goroutineID() == l.gid.Load()
}

// Close stops accepting work and waits until everything already queued ran.
func (l *Loop) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()

	if l.OnLoop() {
		// Waiting here would deadlock; the loop exits after the current job.
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop goroutine exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ready chan<- struct{}) {
	defer close(l.done)

	l.gid.Store(goroutineID())
	close(ready)

	for {
		work, ok := l.next()
		if !ok {
			return
		}
		runGuarded("loop", work)
	}
}

// next blocks for the next job. Queued work wins over idle work.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.queue) == 0 && len(l.idle) == 0 && !l.closed {
		l.cond.Wait()
	}

	switch {
	case len(l.queue) > 0:
		work := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		return work, true
	case len(l.idle) > 0:
		work := l.idle[0]
		l.idle[0] = nil
		l.idle = l.idle[1:]
		return work, true
	default:
		return nil, false
	}
}

// runGuarded keeps the executing goroutine alive when work panics.
func runGuarded(where string, work func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: %s: recovered panic: %v", where, r)
		}
	}()
	work()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
