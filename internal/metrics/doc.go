// Package metrics collects dispatcher events off the request path.
//
// The engine, the breaker registry, the pool and the health monitor emit
// MetricEvents through a Sink. A Collector drains them in its own goroutine
// and keeps:
//   - Completed, failed and rejected calls per backend
//   - Failure kinds and retry counts
//   - Latency with percentile calculations (P50, P95, P99)
//   - Breaker state and backend health
//
// Emitting never blocks. When the buffer is full the event is dropped and
// counted.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventRequestCompleted,
//		Backend:  "github",
//		Duration: 150 * time.Millisecond,
//		Success:  true,
//	})
//
//	snapshot := collector.Snapshot("round-robin")
//
// A Prometheus exporter can be attached with WithPrometheus so the same
// events also feed a prometheus.Registry served on /metrics.
package metrics
