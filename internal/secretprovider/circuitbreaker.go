package secretprovider

import (
	"sync"
	"time"
)

// State is the circuit breaker's lifecycle state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// circuitBreaker guards calls to the upstream secret source. State
// transitions are protected by a mutex held only across reads/updates;
// upstream calls always run off-lock.
type circuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state               State
	consecutiveFailures int
	successesInHalfOpen int
	openedAt            time.Time
	lastSuccessAt       time.Time
	lastError           error
}

func newCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
	}
}

// allow reports whether an upstream call may be attempted right now, and
// performs the open -> half_open transition as a side effect when the
// cooldown has elapsed, exactly as CanExecute does in the teacher's circuit
// breaker.
func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.successesInHalfOpen = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastSuccessAt = time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.successesInHalfOpen++
		if cb.successesInHalfOpen >= cb.successThreshold {
			cb.state = StateClosed
			cb.consecutiveFailures = 0
			cb.successesInHalfOpen = 0
		}
	case StateClosed:
		cb.consecutiveFailures = 0
	}
}

func (cb *circuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = err
	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.successesInHalfOpen = 0
	}
}

func (cb *circuitBreaker) snapshot() (state State, consecutiveFailures int, lastError error, nextRetryAt *time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		t := cb.openedAt.Add(cb.cooldown)
		nextRetryAt = &t
	}
	return cb.state, cb.consecutiveFailures, cb.lastError, nextRetryAt
}
