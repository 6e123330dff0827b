package circuitbreaker

import (
	"slices"
	"sync"
)

// TransitionFunc observes a state change of the breaker guarding backend.
type TransitionFunc func(backend string, from, to State)

type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
	onChange TransitionFunc
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg.withDefaults(),
	}
}

// OnStateChange installs fn for breakers created after the call.
func (r *Registry) OnStateChange(fn TransitionFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onChange = fn
}

// GetBreaker returns the breaker for backend, creating it on first use.
func (r *Registry) GetBreaker(backend string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[backend]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[backend]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.config)
	if fn := r.onChange; fn != nil {
		cb.onChange = func(from, to State) { fn(backend, from, to) }
	}
	r.breakers[backend] = cb
	return cb
}

func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]Snapshot, len(r.breakers))
	for backend, cb := range r.breakers {
		stats[backend] = cb.Snapshot()
	}
	return stats
}

// OpenBackends lists, sorted, the backends whose breaker is currently OPEN.
func (r *Registry) OpenBackends() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	open := []string{}
	for backend, cb := range r.breakers {
		if cb.State() == StateOpen {
			open = append(open, backend)
		}
	}
	slices.Sort(open)
	return open
}
