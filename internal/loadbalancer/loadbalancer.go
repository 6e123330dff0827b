package loadbalancer

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/backend"
	"github.com/angeloszaimis/tool-dispatcher/internal/strategy"
)

var (
	ErrNoCandidates = errors.New("no candidate backends")
	ErrNoSelection  = errors.New("strategy returned nil backend")
)

// BackendStats is the per-backend view returned by Stats.
type BackendStats = backend.Stats

type Config struct {
	// MinSuccessRate is the floor below which a candidate is skipped once it
	// has at least MinSamples recorded outcomes.
	MinSuccessRate float64
	MinSamples     int64
}

func DefaultConfig() Config {
	return Config{
		MinSuccessRate: 0.5,
		MinSamples:     10,
	}
}

type LoadBalancer struct {
	strategy strategy.Strategy
	config   Config
	logger   *slog.Logger

	mutex sync.Mutex

	registryMutex sync.RWMutex
	backends      map[string]*backend.Backend
}

func New(strat strategy.Strategy, cfg Config, logger *slog.Logger) *LoadBalancer {
	if strat == nil {
		strat = strategy.NewRoundRobinStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LoadBalancer{
		strategy: strat,
		config:   cfg,
		logger:   logger,
		backends: make(map[string]*backend.Backend),
	}
}

// Register adds a backend with a weight. Backends that are only ever seen as
// candidates are registered on the fly with weight one.
func (lb *LoadBalancer) Register(name string, weight int) {
	lb.registryMutex.Lock()
	defer lb.registryMutex.Unlock()

	if _, exists := lb.backends[name]; !exists {
		lb.backends[name] = backend.New(name, weight)
	}
}

func (lb *LoadBalancer) backend(name string) *backend.Backend {
	lb.registryMutex.RLock()
	b, exists := lb.backends[name]
	lb.registryMutex.RUnlock()

	if exists {
		return b
	}

	lb.registryMutex.Lock()
	defer lb.registryMutex.Unlock()

	if b, exists = lb.backends[name]; exists {
		return b
	}

	b = backend.New(name, 1)
	lb.backends[name] = b
	return b
}

func (lb *LoadBalancer) lookup(name string) (*backend.Backend, bool) {
	lb.registryMutex.RLock()
	defer lb.registryMutex.RUnlock()

	b, exists := lb.backends[name]
	return b, exists
}

// SelectBackend picks one of candidates and reserves an in-flight slot on it.
// Callers pair every successful selection with Release.
func (lb *LoadBalancer) SelectBackend(candidates []string) (string, error) {
	return lb.selectBackend(candidates, func(eligible []*backend.Backend) *backend.Backend {
		return lb.strategy.SelectBackend(eligible)
	})
}

// SelectBackendWithKey routes key to a stable backend when the strategy
// supports keyed selection and behaves like SelectBackend otherwise.
func (lb *LoadBalancer) SelectBackendWithKey(candidates []string, key string) (string, error) {
	keyed, ok := lb.strategy.(strategy.KeyedStrategy)
	if !ok {
		return lb.SelectBackend(candidates)
	}

	return lb.selectBackend(candidates, func(eligible []*backend.Backend) *backend.Backend {
		return keyed.SelectBackendForKey(eligible, key)
	})
}

func (lb *LoadBalancer) selectBackend(candidates []string, pick func([]*backend.Backend) *backend.Backend) (string, error) {
	resolved := lb.resolve(candidates)
	if len(resolved) == 0 {
		return "", ErrNoCandidates
	}

	eligible := lb.filterEligible(resolved)
	if len(eligible) == 0 {
		lb.logger.Debug("No eligible candidates, falling back to all",
			slog.Any("candidates", candidates))
		eligible = resolved
	}

	lb.mutex.Lock()
	chosen := pick(eligible)
	lb.mutex.Unlock()

	if chosen == nil {
		return "", ErrNoSelection
	}

	chosen.IncrementInFlight()
	return chosen.Name(), nil
}

func (lb *LoadBalancer) resolve(candidates []string) []*backend.Backend {
	seen := make(map[string]struct{}, len(candidates))
	resolved := make([]*backend.Backend, 0, len(candidates))

	for _, name := range candidates {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		resolved = append(resolved, lb.backend(name))
	}

	return resolved
}

func (lb *LoadBalancer) filterEligible(backends []*backend.Backend) []*backend.Backend {
	eligible := make([]*backend.Backend, 0, len(backends))

	for _, b := range backends {
		if !b.IsHealthy() {
			continue
		}
		rate, samples := b.SuccessRate()
		if samples >= lb.config.MinSamples && rate < lb.config.MinSuccessRate {
			continue
		}
		eligible = append(eligible, b)
	}

	return eligible
}

// Release returns the in-flight slot reserved by SelectBackend.
func (lb *LoadBalancer) Release(name string) {
	if b, ok := lb.lookup(name); ok {
		b.DecrementInFlight()
	}
}

func (lb *LoadBalancer) RecordOutcome(name string, success bool, latency time.Duration) {
	lb.backend(name).RecordOutcome(success, latency)
}

func (lb *LoadBalancer) SetHealthy(name string, healthy bool) {
	if !lb.backend(name).SetHealthy(healthy) {
		return
	}

	if healthy {
		lb.logger.Info("Backend is healthy", slog.String("backend", name))
	} else {
		lb.logger.Warn("Backend is unhealthy", slog.String("backend", name))
	}
}

// Backends returns the names of every known backend in sorted order.
func (lb *LoadBalancer) Backends() []string {
	lb.registryMutex.RLock()
	names := make([]string, 0, len(lb.backends))
	for name := range lb.backends {
		names = append(names, name)
	}
	lb.registryMutex.RUnlock()

	sort.Strings(names)
	return names
}

func (lb *LoadBalancer) Stats() map[string]BackendStats {
	lb.registryMutex.RLock()
	defer lb.registryMutex.RUnlock()

	stats := make(map[string]BackendStats, len(lb.backends))
	for name, b := range lb.backends {
		stats[name] = b.Stats()
	}
	return stats
}
