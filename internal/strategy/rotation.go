package strategy

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/backend"
)

// rotation hands out candidates in turn. The counter is shared across
// candidate sets, so rotation is even over many batches rather than within
// one particular candidate list.
type rotation struct {
	next atomic.Uint64
}

func NewRoundRobinStrategy() Strategy {
	return &rotation{}
}

func (r *rotation) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	if len(candidates) == 0 {
		return nil
	}

	turn := r.next.Add(1) - 1
	return candidates[turn%uint64(len(candidates))]
}

type uniform struct{}

func NewRandomStrategy() Strategy {
	return uniform{}
}

func (uniform) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.IntN(len(candidates))]
}

// fewestInFlight picks the candidate with the fewest reserved calls. Ties go
// to the earliest candidate.
type fewestInFlight struct{}

func NewLeastConnStrategy() Strategy {
	return fewestInFlight{}
}

func (fewestInFlight) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	var (
		chosen *backend.Backend
		lowest = math.MaxInt
	)

	for _, b := range candidates {
		if n := b.InFlight(); n < lowest {
			chosen, lowest = b, n
		}
	}
	return chosen
}

// fastestExpected scores each candidate as ewma * (inFlight + 1), the time a
// new call would expect to wait behind the ones already reserved. A candidate
// that has never been measured wins outright so it gets a sample.
type fastestExpected struct{}

func NewLeastResponseStrategy() Strategy {
	return fastestExpected{}
}

func (fastestExpected) SelectBackend(candidates []*backend.Backend) *backend.Backend {
	var (
		chosen *backend.Backend
		best   time.Duration
	)

	for _, b := range candidates {
		ewma := b.EWMATime()
		if ewma == 0 {
			return b
		}

		if score := ewma * time.Duration(b.InFlight()+1); chosen == nil || score < best {
			chosen, best = b, score
		}
	}
	return chosen
}
