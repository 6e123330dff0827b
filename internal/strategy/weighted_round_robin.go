package strategy

import (
	"sync"

	"github.com/angeloszaimis/tool-dispatcher/internal/backend"
)

// weightedRoundRobinStrategy is the smooth weighted round-robin used by nginx:
// every candidate gains its weight each round, the highest current value wins
// and pays back the total weight.
type weightedRoundRobinStrategy struct {
	mutex   sync.Mutex
	current map[string]int
}

func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{
		current: make(map[string]int),
	}
}

func (w *weightedRoundRobinStrategy) SelectBackend(backends []*backend.Backend) *backend.Backend {
	if len(backends) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.cleanup(backends)

	totalWeight := 0
	var chosen *backend.Backend

	for _, b := range backends {
		w.current[b.Name()] += b.Weight()
		totalWeight += b.Weight()

		if chosen == nil || w.current[b.Name()] > w.current[chosen.Name()] {
			chosen = b
		}
	}

	w.current[chosen.Name()] -= totalWeight
	return chosen
}

// cleanup forgets candidates that are no longer offered.
func (w *weightedRoundRobinStrategy) cleanup(backends []*backend.Backend) {
	alive := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		alive[b.Name()] = struct{}{}
	}

	for name := range w.current {
		if _, ok := alive[name]; !ok {
			delete(w.current, name)
		}
	}
}
