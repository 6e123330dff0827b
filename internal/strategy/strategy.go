package strategy

import (
	"fmt"

	"github.com/angeloszaimis/tool-dispatcher/internal/backend"
)

const (
	RoundRobin         = "round-robin"
	Random             = "random"
	LeastConn          = "least-conn"
	LeastResponse      = "least-response"
	WeightedRoundRobin = "weighted-round-robin"
	ConsistentHash     = "consistent-hash"
)

// Names lists every strategy accepted by New.
var Names = []string{RoundRobin, Random, LeastConn, LeastResponse, WeightedRoundRobin, ConsistentHash}

type Strategy interface {
	SelectBackend(backends []*backend.Backend) *backend.Backend
}

// KeyedStrategy selects a backend from a routing key so that the same key
// keeps landing on the same backend while the candidate set is unchanged.
type KeyedStrategy interface {
	Strategy
	SelectBackendForKey(backends []*backend.Backend, key string) *backend.Backend
}

// New builds a strategy by name. virtualNodes only applies to consistent-hash.
func New(name string, virtualNodes int) (Strategy, error) {
	switch name {
	case RoundRobin, "":
		return NewRoundRobinStrategy(), nil
	case Random:
		return NewRandomStrategy(), nil
	case LeastConn:
		return NewLeastConnStrategy(), nil
	case LeastResponse:
		return NewLeastResponseStrategy(), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), nil
	case ConsistentHash:
		return NewConsistentHashStrategy(virtualNodes), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}
