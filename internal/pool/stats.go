package pool

// BackendStats describes the connections of one backend.
type BackendStats struct {
	Connections        int     `json:"connections"`
	Active             int     `json:"active"`
	Idle               int     `json:"idle"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	Utilization        float64 `json:"utilization"`
}

// Stats aggregates BackendStats across the pool. Idle counts connections
// that left the rotation and are waiting for the sweeper.
type Stats struct {
	TotalConnections   int                     `json:"total_connections"`
	ActiveConnections  int                     `json:"active_connections"`
	IdleConnections    int                     `json:"idle_connections"`
	TotalRequests      int64                   `json:"total_requests"`
	SuccessfulRequests int64                   `json:"successful_requests"`
	FailedRequests     int64                   `json:"failed_requests"`
	Utilization        float64                 `json:"utilization"`
	Backends           map[string]BackendStats `json:"backends"`
}

func (p *Pool) Stats() Stats {
	p.mutex.RLock()
	pools := make(map[string]*backendPool, len(p.backends))
	for backend, bp := range p.backends {
		pools[backend] = bp
	}
	p.mutex.RUnlock()

	maxConns := p.config.MaxConnectionsPerBackend
	stats := Stats{Backends: make(map[string]BackendStats, len(pools))}

	for backend, bp := range pools {
		bp.mutex.Lock()
		bs := BackendStats{
			Connections:        len(bp.conns),
			TotalRequests:      bp.requests,
			SuccessfulRequests: bp.successes,
			FailedRequests:     bp.failures,
		}
		for _, c := range bp.conns {
			if c.active {
				bs.Active++
			}
		}
		bp.mutex.Unlock()

		bs.Idle = bs.Connections - bs.Active
		if bs.TotalRequests > 0 {
			bs.SuccessRate = float64(bs.SuccessfulRequests) / float64(bs.TotalRequests)
		}
		bs.Utilization = float64(bs.Connections) / float64(maxConns)

		stats.TotalConnections += bs.Connections
		stats.ActiveConnections += bs.Active
		stats.IdleConnections += bs.Idle
		stats.TotalRequests += bs.TotalRequests
		stats.SuccessfulRequests += bs.SuccessfulRequests
		stats.FailedRequests += bs.FailedRequests
		stats.Backends[backend] = bs
	}

	if len(pools) > 0 {
		stats.Utilization = float64(stats.TotalConnections) / float64(maxConns*len(pools))
	}

	return stats
}
