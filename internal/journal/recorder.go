package journal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Recorder journals one execution of a task set. It implements
// scheduler.SetListener; nested sets are journaled through their members only.
type Recorder struct {
	ctx      context.Context
	store    Store
	pipeline string

	mu    sync.Mutex
	runID string
	done  chan struct{}

	writeErrs atomic.Int64
}

// Record attaches a Recorder to set. The run row is created when the set starts.
func Record(ctx context.Context, store Store, set *scheduler.TaskSet, pipeline string) *Recorder {
	r := &Recorder{
		ctx:      ctx,
		store:    store,
		pipeline: pipeline,
		done:     make(chan struct{}),
	}
	set.AddSetListener(r)
	return r
}

// RunID returns the ID of the journaled run, or "" before the set started.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Done is closed once the run was finished in the journal.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// WriteErrors returns how many journal writes failed.
func (r *Recorder) WriteErrors() int64 {
	return r.writeErrs.Load()
}

func (r *Recorder) warn(err error) {
	r.writeErrs.Add(1)
	log.Printf("WARNING: journal: %v", err)
}

// BeforeExecuteSet implements scheduler.SetListener.
func (r *Recorder) BeforeExecuteSet(s *scheduler.TaskSet) {
	total := 0
	for _, name := range s.Members() {
		if n, ok := s.Task(name); ok {
			if _, nested := n.(*scheduler.TaskSet); !nested {
				total++
			}
		}
	}

	id, err := r.store.BeginRun(r.ctx, r.pipeline, total, time.Now())
	if err != nil {
		r.warn(err)
		return
	}

	r.mu.Lock()
	r.runID = id
	r.mu.Unlock()
}

// AfterExecuteSet implements scheduler.SetListener.
func (r *Recorder) AfterExecuteSet(s *scheduler.TaskSet) {
	defer close(r.done)

	id := r.RunID()
	if id == "" {
		return
	}
	if err := r.store.FinishRun(r.ctx, id, time.Now(), len(s.Failed())); err != nil {
		r.warn(err)
	}
}

// BeforeExecute implements scheduler.Listener.
func (r *Recorder) BeforeExecute(n scheduler.Node) {
	id := r.RunID()
	if id == "" || isSet(n) {
		return
	}
	if err := r.store.RecordStart(r.ctx, id, n.Name(), time.Now()); err != nil {
		r.warn(err)
	}
}

// AfterExecute implements scheduler.Listener.
func (r *Recorder) AfterExecute(n scheduler.Node) {
	id := r.RunID()
	if id == "" || isSet(n) {
		return
	}

	res, _ := n.AnyResult()
	var result, origin string
	if res.IsFailure() {
		origin, _ = scheduler.RootCause(res.Err())
		if origin == "" {
			origin = n.Name()
		}
	} else if v := res.Value(); v != nil {
		result = fmt.Sprint(v)
	}

	if err := r.store.RecordFinish(r.ctx, id, n.Name(), time.Now(), result, res.Err(), origin); err != nil {
		r.warn(err)
	}
}

func isSet(n scheduler.Node) bool {
	_, ok := n.(*scheduler.TaskSet)
	return ok
}

var _ scheduler.SetListener = (*Recorder)(nil)
