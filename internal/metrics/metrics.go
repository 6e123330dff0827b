package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxLatencySamples = 1000

type Metrics struct {
	mutex        sync.RWMutex
	completed    map[string]int64
	failed       map[string]int64
	rejected     map[string]int64
	retries      map[string]int64
	kinds        map[string]map[string]int64
	latencies    map[string][]time.Duration
	breakerState map[string]string
	healthStatus map[string]bool
	evicted      int64
	dropped      int64
	startTime    time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	TotalFailures int64                     `json:"total_failures"`
	Evicted       int64                     `json:"evicted_connections"`
	Dropped       int64                     `json:"dropped_events"`
	Uptime        time.Duration             `json:"uptime"`
	Strategy      string                    `json:"strategy"`
	Backends      map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Completed    int64            `json:"completed"`
	Failed       int64            `json:"failed"`
	Rejected     int64            `json:"rejected"`
	Retries      int64            `json:"retries"`
	FailureKinds map[string]int64 `json:"failure_kinds,omitempty"`
	BreakerState string           `json:"breaker_state,omitempty"`
	Healthy      bool             `json:"healthy"`
	AvgLatency   time.Duration    `json:"avg_latency"`
	P50Latency   time.Duration    `json:"p50_latency"`
	P95Latency   time.Duration    `json:"p95_latency"`
	P99Latency   time.Duration    `json:"p99_latency"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		completed:    make(map[string]int64),
		failed:       make(map[string]int64),
		rejected:     make(map[string]int64),
		retries:      make(map[string]int64),
		kinds:        make(map[string]map[string]int64),
		latencies:    make(map[string][]time.Duration),
		breakerState: make(map[string]string),
		healthStatus: make(map[string]bool),
		startTime:    time.Now(),
	}
}

// RecordCompletion counts a finished call, successful or not.
func (m *Metrics) RecordCompletion(backend string, duration time.Duration, success bool, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.completed[backend]++
	if !success {
		m.failed[backend]++
		m.countKind(backend, kind)
	}

	m.latencies[backend] = append(m.latencies[backend], duration)
	if len(m.latencies[backend]) > maxLatencySamples {
		m.latencies[backend] = m.latencies[backend][1:]
	}
}

// RecordRejection counts a call refused before it reached the executor.
func (m *Metrics) RecordRejection(backend, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.rejected[backend]++
	m.countKind(backend, kind)
}

func (m *Metrics) countKind(backend, kind string) {
	if kind == "" {
		return
	}
	if m.kinds[backend] == nil {
		m.kinds[backend] = make(map[string]int64)
	}
	m.kinds[backend][kind]++
}

func (m *Metrics) RecordRetry(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.retries[backend]++
}

func (m *Metrics) UpdateBreakerState(backend, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.breakerState[backend] = state
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) RecordEviction(count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.evicted += int64(count)
}

func (m *Metrics) RecordDropped() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dropped++
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Strategy: strategy,
		Evicted:  m.evicted,
		Dropped:  m.dropped,
		Backends: make(map[string]BackendMetrics),
	}

	allBackends := make(map[string]struct{})
	for _, byBackend := range []map[string]int64{m.completed, m.rejected, m.retries} {
		for backend := range byBackend {
			allBackends[backend] = struct{}{}
		}
	}
	for backend := range m.breakerState {
		allBackends[backend] = struct{}{}
	}
	for backend := range m.healthStatus {
		allBackends[backend] = struct{}{}
	}

	for backend := range allBackends {
		snap.TotalRequests += m.completed[backend]
		snap.TotalFailures += m.failed[backend]

		bm := BackendMetrics{
			Completed:    m.completed[backend],
			Failed:       m.failed[backend],
			Rejected:     m.rejected[backend],
			Retries:      m.retries[backend],
			BreakerState: m.breakerState[backend],
			Healthy:      m.healthStatus[backend],
		}

		if kinds := m.kinds[backend]; len(kinds) > 0 {
			bm.FailureKinds = make(map[string]int64, len(kinds))
			for k, v := range kinds {
				bm.FailureKinds[k] = v
			}
		}

		if durations := m.latencies[backend]; len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgLatency = average(sorted)
			bm.P50Latency = percentile(sorted, 0.50)
			bm.P95Latency = percentile(sorted, 0.95)
			bm.P99Latency = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
