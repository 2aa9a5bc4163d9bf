// Package resilience provides the circuit breaker and bulkhead primitives
// used to protect remote embedding calls and agent task admission.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/developer-mesh/codegraph/pkg/observability"
	"github.com/pkg/errors"
)

// CircuitBreakerState is the state of a circuit breaker.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

var (
	ErrCircuitBreakerOpen    = errors.New("circuit breaker is open")
	ErrCircuitBreakerTimeout = errors.New("circuit breaker timeout")
	ErrMaxRequestsExceeded   = errors.New("max requests exceeded in half-open state")
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes the breaker's trip/reset behavior.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	FailureRatio        float64
	ResetTimeout        time.Duration
	SuccessThreshold    int
	TimeoutThreshold    time.Duration
	MaxRequestsHalfOpen int
	MinimumRequestCount int
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.TimeoutThreshold == 0 {
		c.TimeoutThreshold = 5 * time.Second
	}
	if c.MaxRequestsHalfOpen == 0 {
		c.MaxRequestsHalfOpen = 5
	}
	if c.MinimumRequestCount == 0 {
		c.MinimumRequestCount = 10
	}
}

// counts tracks request outcomes within the current window.
type counts struct {
	Requests     uint64
	Successes    uint64
	Failures     uint64
	ConsecutiveSuccesses uint64
	ConsecutiveFailures  uint64
}

func (c *counts) onSuccess() {
	c.Requests++
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *counts) onFailure() {
	c.Requests++
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *counts) failureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests)
}

// CircuitBreaker implements the closed/open/half-open pattern around a
// fallible operation, here the remote embedding HTTP call.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger observability.Logger

	mutex           sync.RWMutex
	state           CircuitBreakerState
	counts          counts
	lastStateChange time.Time

	halfOpenRequests atomic.Int32
}

// NewCircuitBreaker constructs a breaker with defaults applied for any zero field.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger) *CircuitBreaker {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           CircuitBreakerClosed,
		lastStateChange: time.Now(),
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := cb.canExecute(); err != nil {
		cb.logger.Warn("circuit breaker rejected call", map[string]interface{}{
			"name": cb.name, "state": cb.State().String(),
		})
		return nil, errors.Wrap(err, "circuit breaker execution failed")
	}

	if cb.State() == CircuitBreakerHalfOpen {
		cb.halfOpenRequests.Add(1)
		defer cb.halfOpenRequests.Add(-1)
	}

	type result struct {
		val interface{}
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		val, err := fn()
		resultCh <- result{val, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			cb.recordFailure()
			return nil, r.err
		}
		cb.recordSuccess()
		return r.val, nil
	case <-ctx.Done():
		cb.recordFailure()
		return nil, ctx.Err()
	case <-time.After(cb.config.TimeoutThreshold):
		cb.recordFailure()
		return nil, ErrCircuitBreakerTimeout
	}
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case CircuitBreakerClosed:
		return nil
	case CircuitBreakerOpen:
		if time.Since(cb.lastStateChange) >= cb.config.ResetTimeout {
			cb.transitionTo(CircuitBreakerHalfOpen)
			return nil
		}
		return ErrCircuitBreakerOpen
	case CircuitBreakerHalfOpen:
		if int(cb.halfOpenRequests.Load()) >= cb.config.MaxRequestsHalfOpen {
			return ErrMaxRequestsExceeded
		}
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.counts.onSuccess()
	if cb.state == CircuitBreakerHalfOpen && cb.counts.ConsecutiveSuccesses >= uint64(cb.config.SuccessThreshold) {
		cb.transitionTo(CircuitBreakerClosed)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.counts.onFailure()

	if cb.state == CircuitBreakerHalfOpen {
		cb.transitionTo(CircuitBreakerOpen)
		return
	}
	if cb.state == CircuitBreakerClosed &&
		cb.counts.Requests >= uint64(cb.config.MinimumRequestCount) &&
		(cb.counts.Failures >= uint64(cb.config.FailureThreshold) || cb.counts.failureRatio() >= cb.config.FailureRatio) {
		cb.transitionTo(CircuitBreakerOpen)
	}
}

// transitionTo must be called with cb.mutex held.
func (cb *CircuitBreaker) transitionTo(state CircuitBreakerState) {
	if cb.state == state {
		return
	}
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.name, "from": cb.state.String(), "to": state.String(),
	})
	cb.state = state
	cb.lastStateChange = time.Now()
	cb.counts = counts{}
}

// Manager lazily creates and shares named circuit breakers.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   observability.Logger
	config   CircuitBreakerConfig
}

// NewManager constructs a circuit breaker manager with a shared default config.
func NewManager(config CircuitBreakerConfig, logger observability.Logger) *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker), logger: logger, config: config}
}

// Get returns the named breaker, creating it under double-checked locking.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, m.config, m.logger)
	m.breakers[name] = cb
	return cb
}
