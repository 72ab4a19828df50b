// Package resilience provides the admission-control primitives that
// protect callers from cascading provider failures: a circuit breaker
// with consecutive-failure tripping and a bounded-parallelism gate.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/erradvise/erradvise/core"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen rejects all requests
	StateOpen
	// StateHalfOpen admits a single probe
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors count toward the failure
// threshold
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts provider failures but not outcomes
// that prove the upstream is healthy or that the client gave up:
// a well-formed no-advice response and context cancellation.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrNoAdvice) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	// Name identifies the breaker, normally the provider id
	Name string

	// FailureThreshold is the number of consecutive failures before
	// opening. Zero disables tripping entirely.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before the
	// next invocation is admitted as a half-open probe
	RecoveryTimeout time.Duration

	// OperationTimeout bounds each wrapped call. Zero means no bound
	// beyond the caller's context.
	OperationTimeout time.Duration

	// Classifier determines which errors count as failures
	Classifier ErrorClassifier

	// Logger for state transitions and rejections
	Logger core.Logger
}

// Metrics is a snapshot of breaker counters.
// AverageResponseTime is a running mean over successful calls.
type Metrics struct {
	TotalRequests       uint64
	SuccessfulRequests  uint64
	FailedRequests      uint64
	AverageResponseTime time.Duration
	LastFailureAt       time.Time
}

// CircuitBreaker wraps a single async operation with
// CLOSED/OPEN/HALF_OPEN failure isolation. All state is mutated under
// one mutex; transitions are linearizable with respect to the
// operations that trigger them.
type CircuitBreaker struct {
	config *BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	probeInFlight       bool

	total          uint64
	success        uint64
	failed         uint64
	latencySamples uint64  // successful completions folded into avgMS
	avgMS          float64 // running mean of success latency in milliseconds
}

// NewCircuitBreaker creates a breaker in the CLOSED state
func NewCircuitBreaker(config *BreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: breaker config is nil", core.ErrInvalidConfiguration)
	}
	if config.FailureThreshold < 0 {
		return nil, fmt.Errorf("%w: failure threshold must be >= 0, got %d",
			core.ErrInvalidConfiguration, config.FailureThreshold)
	}
	if config.RecoveryTimeout <= 0 {
		return nil, fmt.Errorf("%w: recovery timeout must be > 0, got %s",
			core.ErrInvalidConfiguration, config.RecoveryTimeout)
	}
	if config.Classifier == nil {
		config.Classifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}, nil
}

// Execute runs fn with breaker protection and the configured operation
// timeout. The error returned is either the operation's own error or
// core.ErrCircuitOpen when the call was rejected.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	isProbe, allowed := cb.admit()
	if !allowed {
		cb.config.Logger.Info("Circuit breaker rejected execution", map[string]interface{}{
			"operation": "circuit_breaker_reject",
			"name":      cb.config.Name,
			"state":     cb.GetState(),
		})
		return fmt.Errorf("circuit breaker %q: %w", cb.config.Name, core.ErrCircuitOpen)
	}

	start := time.Now()
	err := cb.run(ctx, fn)
	cb.record(isProbe, err, time.Since(start))
	return err
}

// admit decides whether the call proceeds and whether it is the
// half-open probe
func (cb *CircuitBreaker) admit() (isProbe, allowed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true

	case StateOpen:
		if time.Since(cb.lastFailureAt) > cb.config.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.probeInFlight = true
			return true, true
		}
		return false, false

	case StateHalfOpen:
		// Exactly one probe; concurrent invocations behave as OPEN
		if cb.probeInFlight {
			return false, false
		}
		cb.probeInFlight = true
		return true, true
	}
	return false, false
}

// run executes fn bounded by the operation timeout, converting panics
// and deadline expiry into errors the recorder can classify
func (cb *CircuitBreaker) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb.config.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.OperationTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				cb.config.Logger.Error("Circuit breaker caught panic", map[string]interface{}{
					"operation": "circuit_breaker_panic",
					"name":      cb.config.Name,
					"panic":     fmt.Sprintf("%v", r),
				})
				done <- fmt.Errorf("panic in wrapped operation: %v\n%s", r, stack)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", core.ErrOperationTimeout, err)
		}
		return err
	case <-ctx.Done():
		// The detached operation keeps running until its own context
		// expires; its result is discarded here but already counted
		// by the goroutine's err path only if it finishes first.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: exceeded %s", core.ErrOperationTimeout, cb.config.OperationTimeout)
		}
		return ctx.Err()
	}
}

// record applies the outcome to breaker state and metrics
func (cb *CircuitBreaker) record(isProbe bool, err error, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.total++
	failed := cb.config.Classifier(err)

	if failed {
		cb.failed++
		cb.consecutiveFailures++
		cb.lastFailureAt = time.Now()

		if isProbe {
			cb.probeInFlight = false
			cb.transitionLocked(StateOpen)
		} else if cb.state == StateClosed &&
			cb.config.FailureThreshold > 0 &&
			cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
		return
	}

	cb.success++
	if err == nil {
		// Running mean over successful responses only; classified
		// non-failures (no-advice, cancellation) carry no latency sample
		cb.latencySamples++
		cb.avgMS += (float64(elapsed.Milliseconds()) - cb.avgMS) / float64(cb.latencySamples)
	}
	cb.consecutiveFailures = 0
	if isProbe {
		cb.probeInFlight = false
		cb.transitionLocked(StateClosed)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation": "circuit_breaker_transition",
		"name":      cb.config.Name,
		"from":      from.String(),
		"to":        to.String(),
	})
}

// GetState returns the current state as a string
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// GetMetrics returns a snapshot of breaker counters
func (cb *CircuitBreaker) GetMetrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		TotalRequests:       cb.total,
		SuccessfulRequests:  cb.success,
		FailedRequests:      cb.failed,
		AverageResponseTime: time.Duration(cb.avgMS * float64(time.Millisecond)),
		LastFailureAt:       cb.lastFailureAt,
	}
}

// Reset forces CLOSED and zeroes all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
	cb.lastFailureAt = time.Time{}
	cb.total = 0
	cb.success = 0
	cb.failed = 0
	cb.latencySamples = 0
	cb.avgMS = 0
}

// ForceOpen forces OPEN as if a failure had just occurred
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureAt = time.Now()
	cb.probeInFlight = false
	cb.transitionLocked(StateOpen)
}
