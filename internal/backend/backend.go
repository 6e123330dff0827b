package backend

import (
	"sync"
	"time"
)

// Backend is the selection-side view of a backend identity.
type Backend struct {
	name   string
	weight int

	mutex            sync.Mutex
	isHealthy        bool
	inFlight         int
	ewmaResponseTime time.Duration
	hasEWMA          bool
	total            int64
	successes        int64
	latencySum       time.Duration
}

const ewmaAlpha = 0.2

// Stats is a point-in-time copy of a backend's counters.
type Stats struct {
	Total       int64         `json:"total"`
	Successes   int64         `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	EWMALatency time.Duration `json:"ewma_latency"`
	InFlight    int           `json:"in_flight"`
	Healthy     bool          `json:"healthy"`
}

// New creates a healthy Backend. Weights below one are raised to one.
func New(name string, weight int) *Backend {
	if weight < 1 {
		weight = 1
	}
	return &Backend{
		name:      name,
		weight:    weight,
		isHealthy: true,
	}
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Weight() int {
	return b.weight
}

func (b *Backend) IncrementInFlight() {
	b.mutex.Lock()
	b.inFlight++
	b.mutex.Unlock()
}

func (b *Backend) DecrementInFlight() {
	b.mutex.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.mutex.Unlock()
}

func (b *Backend) InFlight() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.inFlight
}

func (b *Backend) IsHealthy() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.isHealthy
}

// SetHealthy updates the health flag and reports whether it changed.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.isHealthy == healthy {
		return false
	}

	b.isHealthy = healthy
	return true
}

// RecordOutcome counts a finished call and folds its latency into the EWMA.
func (b *Backend) RecordOutcome(success bool, latency time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.total++
	if success {
		b.successes++
	}
	b.latencySum += latency

	if !b.hasEWMA {
		b.ewmaResponseTime = latency
		b.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	b.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaResponseTime) + ewmaAlpha*float64(latency))
}

// EWMATime returns 0 until the first outcome is recorded.
func (b *Backend) EWMATime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}
	return b.ewmaResponseTime
}

// SuccessRate returns the success ratio and the number of samples behind it.
func (b *Backend) SuccessRate() (float64, int64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.total == 0 {
		return 1, 0
	}
	return float64(b.successes) / float64(b.total), b.total
}

func (b *Backend) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s := Stats{
		Total:       b.total,
		Successes:   b.successes,
		InFlight:    b.inFlight,
		Healthy:     b.isHealthy,
		EWMALatency: b.ewmaResponseTime,
	}
	if b.total > 0 {
		s.SuccessRate = float64(b.successes) / float64(b.total)
		s.AvgLatency = b.latencySum / time.Duration(b.total)
	}
	return s
}
