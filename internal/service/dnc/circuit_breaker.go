package dnc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davidleathers/crm-dnc-relay/internal/service/dnc/providers"
	"go.uber.org/zap"
)

// ErrCircuitOpen is reported as the degradation cause while a list's breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

const (
	stateClosed int32 = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	SuccessThreshold int           // Successes in half-open that close it again
	Timeout          time.Duration // How long the circuit stays open before probing
	MaxRequests      int           // Probes allowed while half-open
}

// CircuitBreaker guards calls to one remote list.
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         int32 // atomic
	openedAt      int64 // atomic: unix nano
	failureCount  int64 // atomic: consecutive failures while closed
	successCount  int64 // atomic: successes while half-open
	halfOpenCount int64 // atomic: probes admitted while half-open
	now           func() time.Time
	mutex         sync.RWMutex
	onStateChange []func(from, to CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests < config.SuccessThreshold {
		config.MaxRequests = config.SuccessThreshold
	}

	return &CircuitBreaker{
		config: config,
		state:  stateClosed,
		now:    time.Now,
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	switch atomic.LoadInt32(&cb.state) {
	case stateOpen:
		return CircuitOpen
	case stateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// SetStateChangeCallback replaces every registered state change callback
// with callback.
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(from, to CircuitState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = []func(from, to CircuitState){callback}
}

// OnStateChange adds callback after the ones already registered.
func (cb *CircuitBreaker) OnStateChange(callback func(from, to CircuitState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = append(cb.onStateChange, callback)
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		return true

	case stateOpen:
		openedAt := time.Unix(0, atomic.LoadInt64(&cb.openedAt))
		if cb.now().Sub(openedAt) < cb.config.Timeout {
			return false
		}
		if atomic.CompareAndSwapInt32(&cb.state, stateOpen, stateHalfOpen) {
			atomic.StoreInt64(&cb.successCount, 0)
			atomic.StoreInt64(&cb.halfOpenCount, 0)
			cb.notifyStateChange(CircuitOpen, CircuitHalfOpen)
		}
		return cb.admitProbe()

	case stateHalfOpen:
		return cb.admitProbe()

	default:
		return false
	}
}

func (cb *CircuitBreaker) admitProbe() bool {
	return atomic.AddInt64(&cb.halfOpenCount, 1) <= int64(cb.config.MaxRequests)
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		atomic.StoreInt64(&cb.failureCount, 0)
	case stateHalfOpen:
		if atomic.AddInt64(&cb.successCount, 1) >= int64(cb.config.SuccessThreshold) {
			if atomic.CompareAndSwapInt32(&cb.state, stateHalfOpen, stateClosed) {
				atomic.StoreInt64(&cb.failureCount, 0)
				cb.notifyStateChange(CircuitHalfOpen, CircuitClosed)
			}
		}
	}
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		if atomic.AddInt64(&cb.failureCount, 1) >= int64(cb.config.FailureThreshold) {
			cb.trip(stateClosed, CircuitClosed)
		}
	case stateHalfOpen:
		cb.trip(stateHalfOpen, CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) trip(from int32, fromState CircuitState) {
	if atomic.CompareAndSwapInt32(&cb.state, from, stateOpen) {
		atomic.StoreInt64(&cb.openedAt, cb.now().UnixNano())
		cb.notifyStateChange(fromState, CircuitOpen)
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	old := cb.State()
	atomic.StoreInt32(&cb.state, stateClosed)
	atomic.StoreInt64(&cb.failureCount, 0)
	atomic.StoreInt64(&cb.successCount, 0)
	atomic.StoreInt64(&cb.halfOpenCount, 0)
	if old != CircuitClosed {
		cb.notifyStateChange(old, CircuitClosed)
	}
}

func (cb *CircuitBreaker) notifyStateChange(from, to CircuitState) {
	cb.mutex.RLock()
	callbacks := cb.onStateChange
	cb.mutex.RUnlock()
	for _, callback := range callbacks {
		if callback != nil {
			callback(from, to)
		}
	}
}

// guardedChecker short-circuits a list checker while its breaker is open.
// A degraded result counts as a failure.
type guardedChecker struct {
	checker providers.Checker
	breaker *CircuitBreaker
}

// WithCircuitBreaker wraps checker so that repeated degraded lookups stop
// hitting the remote list for a while. The wrapped checker still fails open.
func WithCircuitBreaker(checker providers.Checker, breaker *CircuitBreaker, logger *zap.Logger) providers.Checker {
	if logger != nil {
		name := checker.Name()
		breaker.OnStateChange(func(from, to CircuitState) {
			logger.Warn("list checker circuit state changed",
				zap.String("provider", name),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
		})
	}
	return &guardedChecker{checker: checker, breaker: breaker}
}

func (g *guardedChecker) Name() string {
	return g.checker.Name()
}

func (g *guardedChecker) Check(ctx context.Context, phone string) providers.CheckResult {
	if !g.breaker.Allow() {
		return providers.CheckResult{Err: fmt.Errorf("%s: %w", g.checker.Name(), ErrCircuitOpen)}
	}
	result := g.checker.Check(ctx, phone)
	if result.Degraded() {
		g.breaker.RecordFailure()
	} else {
		g.breaker.RecordSuccess()
	}
	return result
}
