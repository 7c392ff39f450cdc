package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryPolicy configures exponential backoff between command attempts.
type RetryPolicy struct {
	Retries             int           // attempts after the first one
	InitialInterval     time.Duration // Initial retry interval (default 500ms)
	MaxInterval         time.Duration // Maximum retry interval (default 30s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryPolicy returns the default policy with the given retry count.
func DefaultRetryPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		Retries:             retries,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.InitialInterval
	policy.MaxInterval = p.MaxInterval
	policy.MaxElapsedTime = 0 // bounded by the retry count
	policy.Multiplier = p.Multiplier
	policy.RandomizationFactor = p.RandomizationFactor

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(p.Retries, 0))), ctx)
}

// BreakerSettings tune the breakers created by a Breakers registry.
type BreakerSettings struct {
	Threshold   uint32        // consecutive failures that open a breaker (default 5)
	OpenTimeout time.Duration // time spent open before probing again (default 30s)
}

// Breakers hands out named circuit breakers. Tasks naming the same breaker
// share it, so once a resource keeps failing the remaining tasks fail fast.
type Breakers struct {
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates an empty registry.
func NewBreakers(settings BreakerSettings) *Breakers {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	return &Breakers{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker called name, creating it on first use.
func (r *Breakers) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.settings.Threshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled run says nothing about the resource.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[name] = cb
	return cb
}

// State reports the state of the breaker called name; unknown breakers are closed.
func (r *Breakers) State(name string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// runResilient runs cmd through cb (when non-nil) and retries failures
// according to policy. The output of the last attempt is returned.
func runResilient(ctx context.Context, runner Runner, cmd Command, policy RetryPolicy, cb *gobreaker.CircuitBreaker) (Output, error) {
	var out Output
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		if cb == nil {
			var err error
			out, err = runner.Run(ctx, cmd)
			return retryable(ctx, err)
		}

		result, err := cb.Execute(func() (interface{}, error) {
			o, err := runner.Run(ctx, cmd)
			return o, err
		})
		if o, ok := result.(Output); ok {
			out = o
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return retryable(ctx, err)
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("WARNING: task %s attempt %d failed, retrying in %s: %v", cmd.Task, attempt, wait.Round(time.Millisecond), err)
	}

	err := backoff.RetryNotify(operation, policy.backOff(ctx), notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return out, err
}

func retryable(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	return err
}
