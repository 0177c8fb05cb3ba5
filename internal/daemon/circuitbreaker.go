package daemon

import (
	"sync"
	"time"
)

// Start attempts are refused for DefaultCircuitBreakerCooldown after
// DefaultCircuitBreakerThreshold consecutive failures.
const (
	DefaultCircuitBreakerThreshold = 3
	DefaultCircuitBreakerCooldown  = 30 * time.Second
)

// CircuitState is the externally visible phase of a CircuitBreaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // starts allowed
	CircuitOpen                         // starts refused until the cooldown ends
	CircuitHalfOpen                     // cooldown over, the next start is a probe
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreaker refuses repeated start attempts of a provider that keeps
// failing. It never retries on its own; callers ask Allow before starting
// and report the result.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	trippedAt time.Time // zero while closed
	now       func() time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// state must be called with mu held.
func (cb *CircuitBreaker) state() CircuitState {
	switch {
	case cb.trippedAt.IsZero():
		return CircuitClosed
	case cb.now().Sub(cb.trippedAt) < cb.cooldown:
		return CircuitOpen
	default:
		return CircuitHalfOpen
	}
}

// Allow reports whether a start attempt may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state() != CircuitOpen
}

// RetryAfter returns how long an open circuit keeps refusing attempts.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state() != CircuitOpen {
		return 0
	}
	return cb.cooldown - cb.now().Sub(cb.trippedAt)
}

// RecordSuccess closes the circuit and forgets earlier failures.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.failures = 0
	cb.trippedAt = time.Time{}
	cb.mu.Unlock()
}

// RecordFailure counts a failed start. Reaching the threshold, or failing
// the half-open probe, (re)opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.trippedAt = cb.now()
	}
}

// State returns the current phase.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state()
}

// FailureCount returns the number of consecutive failed starts.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
