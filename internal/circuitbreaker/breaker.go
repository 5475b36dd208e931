// Package circuitbreaker provides the cool-down mechanism that keeps a failing
// RPC endpoint out of rotation for a while without ever removing it.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, endpoint is cooling down
	StateHalfOpen              // Cool-down elapsed, next attempt decides
)

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

// CircuitBreaker counts consecutive failures of one endpoint and opens once
// the threshold is reached. After the reset delay it lets traffic through
// again in half-open state.
type CircuitBreaker struct {
	// Configuration thresholds for triggering the circuit breaker
	thresholds Thresholds

	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration of the cool-down before a half-open attempt
	resetDelay time.Duration

	mu sync.RWMutex

	// Consecutive failures seen while closed
	failures int

	// Event callback for monitoring/alerting
	onTripCallback func(reason string)

	now func() time.Time
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Consecutive failures that open the circuit
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	if t.MaxConsecutiveFailures <= 0 {
		t.MaxConsecutiveFailures = 3
	}
	return &CircuitBreaker{
		thresholds: t,
		state:      StateClosed,
		resetDelay: time.Minute,
		now:        time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces the time source, used by tests
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	if now != nil {
		cb.now = now
	}
	return cb
}

// Allow reports whether an attempt may be made. An open circuit whose reset
// delay has passed moves to half-open and allows the attempt.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	if state != StateOpen {
		return true
	}
	if cb.now().Sub(lastTripTime) >= cb.resetDelay {
		cb.transitionToHalfOpen()
		return true
	}
	return false
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	switch cb.state {
	case StateOpen:
		// attempted as a last resort while cooling down
		cb.state = StateClosed
		logrus.Debug("Circuit breaker closed: endpoint answered during cool-down")
	case StateHalfOpen:
		cb.state = StateClosed
		logrus.Debug("Circuit breaker closed: endpoint has recovered")
	}
}

// RecordFailure counts a failure. A failure while half-open re-opens the
// circuit immediately.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.trip("recovery attempt failed: " + reason)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.thresholds.MaxConsecutiveFailures {
			cb.trip(reason)
		}
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// OpenUntil returns when an open circuit becomes eligible again, zero if not open.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.lastTrip.Add(cb.resetDelay)
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		logrus.Debug("Circuit breaker half-open: testing endpoint recovery")
	}
}

// trip opens the circuit. Reporting is left to the trip callback.
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = cb.now()
	cb.failures = 0

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason)
	}
}
