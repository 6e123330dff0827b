package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger

	startOnce sync.Once
	done      chan struct{}
}

type CollectorOption func(*Collector)

// WithPrometheus mirrors every processed event into p.
func WithPrometheus(p *Prometheus) CollectorOption {
	return func(c *Collector) {
		c.prometheus = p
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit queues event for processing and drops it when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.metrics.RecordDropped()
	}
}

// Start runs the event loop until ctx is done. Remaining buffered events are
// processed before Done is closed.
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Done is closed once the event loop has drained and exited.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestCompleted:
		c.metrics.RecordCompletion(event.Backend, event.Duration, event.Success, event.Kind)

	case EventRequestRejected:
		c.metrics.RecordRejection(event.Backend, event.Kind)

	case EventRetry:
		c.metrics.RecordRetry(event.Backend)

	case EventBreakerChanged:
		c.metrics.UpdateBreakerState(event.Backend, event.State)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)

	case EventConnectionsEvicted:
		c.metrics.RecordEviction(event.Count)

	default:
		c.logger.Debug("Ignoring unknown metric event", slog.String("type", string(event.Type)))
		return
	}

	if c.prometheus != nil {
		c.prometheus.Observe(event)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
