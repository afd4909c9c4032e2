package notify

import (
	"sync"
	"time"
)

// CircuitBreaker prevents a broken notifier from slowing every approval and
// tick. After threshold consecutive failures the circuit opens and
// notifications are dropped without attempting delivery; after the cooldown
// it half-opens and lets one attempt through.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int           // failures to trigger open
	cooldown  time.Duration // how long to stay open

	failures  int       // consecutive failures
	openUntil time.Time // when to transition from open to half-open
	isOpen    bool
}

// NewCircuitBreaker creates a circuit breaker. Non-positive arguments select
// the defaults (5 failures, 1 minute).
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow returns true if the circuit is closed (healthy) or half-open
// (testing the waters after cooldown).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.isOpen {
		return true
	}
	if time.Now().After(cb.openUntil) {
		// Half-open: allow one attempt; Failure() reopens immediately.
		cb.isOpen = false
		cb.failures = cb.threshold - 1
		return true
	}
	return false
}

// Success records a delivered notification and closes the circuit fully.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}

// Failure records a failed delivery and opens the circuit at the threshold.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.isOpen = true
		cb.openUntil = time.Now().Add(cb.cooldown)
	}
}
