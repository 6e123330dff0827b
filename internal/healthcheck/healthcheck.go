package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tool-dispatcher/internal/metrics"
)

const defaultProbeTimeout = 5 * time.Second

// Prober reports whether backend answers. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, backend string) error
}

type ProberFunc func(ctx context.Context, backend string) error

func (f ProberFunc) Probe(ctx context.Context, backend string) error {
	return f(ctx, backend)
}

// Target receives health updates. *loadbalancer.LoadBalancer satisfies it.
type Target interface {
	SetHealthy(backend string, healthy bool)
}

type Monitor struct {
	prober       Prober
	target       Target
	backends     []string
	interval     time.Duration
	probeTimeout time.Duration
	sink         metrics.Sink
	logger       *slog.Logger

	mutex  sync.Mutex
	status map[string]bool
}

type Config struct {
	Backends     []string
	Interval     time.Duration
	ProbeTimeout time.Duration
}

func NewMonitor(prober Prober, target Target, cfg Config, sink metrics.Sink, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if sink == nil {
		sink = metrics.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		prober:       prober,
		target:       target,
		backends:     cfg.Backends,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		sink:         sink,
		logger:       logger,
		status:       make(map[string]bool),
	}
}

// Run probes every backend once, then again on each tick, until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started",
		slog.Int("backends", len(m.backends)),
		slog.Duration("interval", m.interval))

	m.CheckOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return

		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes all backends concurrently and returns their health.
func (m *Monitor) CheckOnce(ctx context.Context) map[string]bool {
	results := make([]bool, len(m.backends))

	g, gctx := errgroup.WithContext(ctx)
	for i, backend := range m.backends {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, m.probeTimeout)
			defer cancel()

			err := m.prober.Probe(probeCtx, backend)
			if err != nil {
				m.logger.Debug("Health probe failed",
					slog.String("backend", backend),
					slog.Any("err", err))
			}
			results[i] = err == nil
			return nil
		})
	}
	_ = g.Wait()

	health := make(map[string]bool, len(m.backends))
	for i, backend := range m.backends {
		health[backend] = results[i]
		m.update(backend, results[i])
	}
	return health
}

func (m *Monitor) update(backend string, healthy bool) {
	m.mutex.Lock()
	previous, seen := m.status[backend]
	m.status[backend] = healthy
	m.mutex.Unlock()

	if m.target != nil {
		m.target.SetHealthy(backend, healthy)
	}

	if seen && previous == healthy {
		return
	}

	if healthy {
		m.logger.Info("Backend is up", slog.String("backend", backend))
	} else {
		m.logger.Warn("Backend is down", slog.String("backend", backend))
	}

	m.sink.Emit(metrics.MetricEvent{
		Type:    metrics.EventHealthChanged,
		Backend: backend,
		Healthy: healthy,
	})
}

// Status returns the result of the most recent probe per backend.
func (m *Monitor) Status() map[string]bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	status := make(map[string]bool, len(m.status))
	for k, v := range m.status {
		status[k] = v
	}
	return status
}
