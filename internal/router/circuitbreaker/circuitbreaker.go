// Package circuitbreaker tracks the health of each (service, protocol family)
// pair so the router can skip a family that keeps failing.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/travel-orchestrator/internal/domain"
)

// State represents the state of one circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	defaultFailureThreshold  = 5
	defaultResetTimeout      = 30 * time.Second
	defaultHalfOpenSuccesses = 1
)

// Config tunes the breaker. Zero values take the defaults.
type Config struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenSuccesses int
	Now               func() time.Time
}

type circuit struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      Config
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = defaultHalfOpenSuccesses
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{circuits: make(map[string]*circuit), cfg: cfg}
}

// Key names the circuit of one service over one protocol family.
func Key(serviceID int64, family domain.ProtocolFamily) string {
	return fmt.Sprintf("%d/%s", serviceID, family)
}

// get must be called with mu held.
func (cb *CircuitBreaker) get(key string) *circuit {
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		cb.circuits[key] = c
	}
	return c
}

// AllowRequest reports whether a call may go through. An open circuit whose
// reset timeout elapsed moves to half-open and lets the probe through.
func (cb *CircuitBreaker) AllowRequest(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case StateOpen:
		if cb.cfg.Now().Before(c.openUntil) {
			return false
		}
		c.state = StateHalfOpen
		c.consecutiveFailures = 0
		c.consecutiveSuccesses = 0
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= cb.cfg.FailureThreshold {
			c.state = StateOpen
			c.openUntil = cb.cfg.Now().Add(cb.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		c.state = StateOpen
		c.openUntil = cb.cfg.Now().Add(cb.cfg.ResetTimeout)
		c.consecutiveSuccesses = 0
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case StateClosed:
		c.consecutiveFailures = 0
	case StateHalfOpen:
		c.consecutiveSuccesses++
		if c.consecutiveSuccesses >= cb.cfg.HalfOpenSuccesses {
			c.state = StateClosed
			c.consecutiveFailures = 0
			c.consecutiveSuccesses = 0
		}
	}
}

// GetProviderStatus returns the state and consecutive failures of a circuit
// without transitioning it.
func (cb *CircuitBreaker) GetProviderStatus(key string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c, ok := cb.circuits[key]
	if !ok {
		return StateClosed, 0
	}
	return c.state, c.consecutiveFailures
}
