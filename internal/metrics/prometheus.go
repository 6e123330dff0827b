package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tool_dispatcher"

// breakerStates are the label values exported for the breaker state gauge.
var breakerStates = []string{"CLOSED", "OPEN", "HALF_OPEN"}

// Prometheus exports dispatcher events to a prometheus.Registry.
type Prometheus struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	backendHealthy  *prometheus.GaugeVec
	evictedTotal    prometheus.Counter
}

// NewPrometheus registers the dispatcher metrics on registry, or on a fresh
// registry when registry is nil.
func NewPrometheus(registry *prometheus.Registry) *Prometheus {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	factory := promauto.With(registry)

	return &Prometheus{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Tool calls that reached the executor, by backend and outcome",
		}, []string{"backend", "outcome"}),
		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Tool calls refused before execution, by backend and failure kind",
		}, []string{"backend", "kind"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts by backend",
		}, []string{"backend"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Tool call latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"backend"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "1 for the current circuit breaker state of a backend",
		}, []string{"backend", "state"}),
		backendHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 when the last health probe succeeded",
		}, []string{"backend"}),
		evictedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_connections_total",
			Help:      "Pooled connections closed by the idle sweeper",
		}),
	}
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) Observe(event MetricEvent) {
	switch event.Type {
	case EventRequestCompleted:
		outcome := "success"
		if !event.Success {
			outcome = "failure"
		}
		p.requestsTotal.WithLabelValues(event.Backend, outcome).Inc()
		p.requestDuration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())

	case EventRequestRejected:
		p.rejectedTotal.WithLabelValues(event.Backend, event.Kind).Inc()

	case EventRetry:
		p.retriesTotal.WithLabelValues(event.Backend).Inc()

	case EventBreakerChanged:
		for _, state := range breakerStates {
			value := 0.0
			if state == event.State {
				value = 1
			}
			p.breakerState.WithLabelValues(event.Backend, state).Set(value)
		}

	case EventHealthChanged:
		value := 0.0
		if event.Healthy {
			value = 1
		}
		p.backendHealthy.WithLabelValues(event.Backend).Set(value)

	case EventConnectionsEvicted:
		p.evictedTotal.Add(float64(event.Count))
	}
}
