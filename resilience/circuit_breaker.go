package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrCircuitBreakerOpen    = errors.New("circuit breaker is open")
	ErrCircuitBreakerTimeout = errors.New("circuit breaker operation timeout")
)

// State is the state of a circuit breaker
type State int32

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines configuration for the circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int `yaml:"maxFailures"`

	// Cooldown is how long the circuit stays open before a probe is allowed
	Cooldown time.Duration `yaml:"cooldown"`

	// HalfOpenRequests is the number of concurrent probes allowed while half-open
	HalfOpenRequests int `yaml:"halfOpenRequests"`

	// SuccessThreshold is the number of probe successes needed to close again
	SuccessThreshold int `yaml:"successThreshold"`

	// RequestTimeout bounds a single guarded call, zero means no bound
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// DefaultConfig returns the configuration used for remote cache stores.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		Cooldown:         10 * time.Second,
		HalfOpenRequests: 1,
		SuccessThreshold: 2,
		RequestTimeout:   2 * time.Second,
	}
}

// StateChangeFunc is notified when the breaker changes state.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker stops calling a failing store until a cooldown has passed.
type CircuitBreaker struct {
	name     string
	config   Config
	onChange StateChangeFunc

	state           int32
	failures        int32
	successes       int32
	requests        int32
	lastFailureTime int64

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker. Zero config fields take
// their value from DefaultConfig.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	def := DefaultConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = def.HalfOpenRequests
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  int32(StateClosed),
	}
}

// OnStateChange registers a callback for state transitions.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Name returns the name the breaker was created with.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn under the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn under the breaker and returns its result.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	halfOpen, err := cb.beforeRequest()
	if err != nil {
		return zero, err
	}
	if halfOpen {
		defer atomic.AddInt32(&cb.requests, -1)
	}

	callCtx := ctx
	if cb.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn(callCtx)
		done <- result{val, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			cb.onFailure()
			return zero, cb.timeoutErr(ctx, callCtx, res.err)
		}
		cb.onSuccess()
		return res.val, nil
	case <-callCtx.Done():
		cb.onFailure()
		return zero, cb.timeoutErr(ctx, callCtx, callCtx.Err())
	}
}

func (cb *CircuitBreaker) timeoutErr(parent, callCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(ErrCircuitBreakerTimeout, "%s", cb.name)
	}
	return err
}

func (cb *CircuitBreaker) beforeRequest() (bool, error) {
	switch cb.State() {
	case StateClosed:
		return false, nil
	case StateOpen:
		if !cb.shouldAttemptReset() {
			return false, errors.Wrapf(ErrCircuitBreakerOpen, "%s", cb.name)
		}
		cb.transition(StateOpen, StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if atomic.AddInt32(&cb.requests, 1) > int32(cb.config.HalfOpenRequests) {
			atomic.AddInt32(&cb.requests, -1)
			return false, errors.Wrapf(ErrCircuitBreakerOpen, "%s", cb.name)
		}
		return true, nil
	default:
		return false, errors.Wrapf(ErrCircuitBreakerOpen, "%s", cb.name)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.State() {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)
	case StateHalfOpen:
		if int(atomic.AddInt32(&cb.successes, 1)) >= cb.config.SuccessThreshold {
			cb.transition(StateHalfOpen, StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
	switch cb.State() {
	case StateClosed:
		if int(failures) >= cb.config.MaxFailures {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateHalfOpen, StateOpen)
	}
}

func (cb *CircuitBreaker) shouldAttemptReset() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	return time.Since(time.Unix(0, lastFailure)) >= cb.config.Cooldown
}

// transition moves from one state to another; it is a no-op when another
// goroutine already left the from state.
func (cb *CircuitBreaker) transition(from, to State) {
	cb.mu.Lock()
	if !atomic.CompareAndSwapInt32(&cb.state, int32(from), int32(to)) {
		cb.mu.Unlock()
		return
	}
	switch to {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)
		atomic.StoreInt32(&cb.successes, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&cb.successes, 0)
	case StateOpen:
		atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
	}
	fn := cb.onChange
	cb.mu.Unlock()
	if fn != nil {
		fn(cb.name, from, to)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	return State(atomic.LoadInt32(&cb.state))
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.transition(cb.State(), StateClosed)
}

// Stats is a snapshot of the breaker counters.
type Stats struct {
	State     State
	Failures  int
	Successes int
	Requests  int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() Stats {
	return Stats{
		State:     cb.State(),
		Failures:  int(atomic.LoadInt32(&cb.failures)),
		Successes: int(atomic.LoadInt32(&cb.successes)),
		Requests:  int(atomic.LoadInt32(&cb.requests)),
	}
}
