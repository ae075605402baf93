package resilience

import (
	"context"
	"sync"
	"time"

	"tradovateLedger/internal/ports"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"    // Normal operation
	BreakerOpen     BreakerState = "open"      // Failing, reject attempts
	BreakerHalfOpen BreakerState = "half_open" // Cooldown elapsed, one trial allowed
)

// CircuitBreaker gates an operation against a failing remote endpoint.
// Thread-safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	state        BreakerState
	failureCount int
	lastFailure  time.Time

	threshold int           // Consecutive failures before opening
	timeout   time.Duration // Cooldown before a half-open trial
	logger    ports.Logger
	now       func() time.Time // Clock hook, overridable in tests
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Threshold int
	Timeout   time.Duration
	Logger    ports.Logger
}

// NewCircuitBreaker creates a closed circuit breaker. Threshold defaults to 5
// failures and timeout to 60 seconds when unset.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		state:     BreakerClosed,
		threshold: threshold,
		timeout:   timeout,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// CanExecute reports whether an attempt is currently allowed. When the breaker
// is open and the cooldown has elapsed since the last failure, it transitions
// to half-open and allows one trial.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) > cb.timeout {
			cb.state = BreakerHalfOpen
			if cb.logger != nil {
				cb.logger.Info(context.Background(), "Circuit breaker half-open, allowing trial")
			}
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and forces the breaker closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state != BreakerClosed && cb.logger != nil {
		cb.logger.Info(context.Background(), "Circuit breaker closed")
	}
	cb.state = BreakerClosed
}

// RecordFailure increments the failure count and timestamps it. The breaker
// opens once the threshold is reached; any failure during a half-open trial
// reopens it and restarts the cooldown clock.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == BreakerHalfOpen || cb.failureCount >= cb.threshold {
		if cb.state != BreakerOpen && cb.logger != nil {
			cb.logger.Warn(context.Background(), "Circuit breaker open", map[string]interface{}{"failures": cb.failureCount})
		}
		cb.state = BreakerOpen
	}
}

// Execute runs the operation through the breaker: it fails fast with
// ErrCircuitOpen when attempts are rejected, otherwise records the outcome and
// returns the operation's error unchanged.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if !cb.CanExecute() {
		return ports.ErrCircuitOpen
	}
	if err := op(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed with no recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
}
