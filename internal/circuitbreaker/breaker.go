package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Probing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the thresholds shared by every breaker of a registry.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultConfig returns failure_threshold 5, recovery_timeout 60s and
// success_threshold 3.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	return c
}

// StateChangeFunc observes a breaker transition. It is called after the
// breaker lock is released.
type StateChangeFunc func(from, to State)

type CircuitBreaker struct {
	mutex       sync.Mutex
	config      Config
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	onChange    StateChangeFunc
	now         func() time.Time
}

func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		config: cfg.withDefaults(),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. An OPEN breaker whose recovery
// timeout has elapsed moves to HALF_OPEN and admits the caller as a probe.
// Concurrent probes are not limited: a single failure while HALF_OPEN
// re-opens the breaker.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.config.RecoveryTimeout {
			cb.mutex.Unlock()
			return false
		}
		from := cb.transition(StateHalfOpen)
		cb.mutex.Unlock()
		cb.notify(from, StateHalfOpen)
		return true
	default:
		cb.mutex.Unlock()
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes < cb.config.SuccessThreshold {
			cb.mutex.Unlock()
			return
		}
		from := cb.transition(StateClosed)
		cb.mutex.Unlock()
		cb.notify(from, StateClosed)
	default:
		cb.failures = 0
		cb.mutex.Unlock()
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		from := cb.transition(StateOpen)
		cb.mutex.Unlock()
		cb.notify(from, StateOpen)
	case StateClosed:
		cb.failures++
		if cb.failures < cb.config.FailureThreshold {
			cb.mutex.Unlock()
			return
		}
		from := cb.transition(StateOpen)
		cb.mutex.Unlock()
		cb.notify(from, StateOpen)
	default:
		cb.mutex.Unlock()
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Snapshot is a point-in-time copy of a breaker's counters.
type Snapshot struct {
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Snapshot{
		State:                cb.state,
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		LastFailure:          cb.lastFailure,
	}
}

// transition must be called with the mutex held. Counters restart on every
// state change.
func (cb *CircuitBreaker) transition(to State) State {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	return from
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}
