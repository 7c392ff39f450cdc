package pipeline

import (
	"sort"
	"sync"
)

// Locks provides named mutual exclusion between tasks. Each key gets its own
// mutex, so tasks sharing no key run concurrently.
type Locks struct {
	mu    sync.Mutex // guards keys
	keys  map[string]*sync.Mutex
	holds map[string]int // acquisitions per key, for diagnostics
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{
		keys:  make(map[string]*sync.Mutex),
		holds: make(map[string]int),
	}
}

func (l *Locks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	l.holds[key]++
	return m
}

// Acquire locks all keys and returns the function releasing them. Keys are
// deduplicated and taken in sorted order, so two tasks can never wait on each
// other's keys.
func (l *Locks) Acquire(keys []string) (release func()) {
	sorted := normalize(keys)
	if len(sorted) == 0 {
		return func() {}
	}

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, key := range sorted {
		m := l.get(key)
		m.Lock()
		held = append(held, m)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].Unlock()
			}
		})
	}
}

// Acquisitions returns how often key was acquired.
func (l *Locks) Acquisitions(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holds[key]
}

func normalize(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	return sorted
}
