package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/config"
	"github.com/angeloszaimis/tool-dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/tool-dispatcher/internal/engine"
	"github.com/angeloszaimis/tool-dispatcher/internal/handler"
	"github.com/angeloszaimis/tool-dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/tool-dispatcher/internal/loadbalancer"
	"github.com/angeloszaimis/tool-dispatcher/internal/mcpexec"
	"github.com/angeloszaimis/tool-dispatcher/internal/metrics"
	"github.com/angeloszaimis/tool-dispatcher/internal/pool"
	"github.com/angeloszaimis/tool-dispatcher/internal/strategy"
)

const metricsBufferSize = 1024

var errNoBackends = errors.New("no backends configured")

// app holds every long-lived component of the dispatcher.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	prometheus *metrics.Prometheus
	collector  *metrics.Collector
	dialer     *mcpexec.Dialer
	pool       *pool.Pool
	balancer   *loadbalancer.LoadBalancer
	engine     *engine.Engine
	monitor    *healthcheck.Monitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if len(cfg.Backends) == 0 {
		return nil, errNoBackends
	}

	strat, err := strategy.New(cfg.Balancer.Strategy, cfg.Balancer.VirtualNodes)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus(nil)
	collector := metrics.NewCollector(metricsBufferSize, logger, metrics.WithPrometheus(prom))

	dialer := mcpexec.NewDialer(cfg.Endpoints(), logger)

	connPool := pool.New(dialer.Dial, cfg.Pool.Settings(), logger)
	connPool.OnEvict(func(n int) {
		collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventConnectionsEvicted,
			Timestamp: time.Now(),
			Count:     n,
		})
	})

	balancer := loadbalancer.New(strat, cfg.Balancer.Settings(), logger)
	for _, b := range cfg.Backends {
		balancer.Register(b.Name, b.Weight)
	}

	prober, err := newProber(cfg, dialer)
	if err != nil {
		return nil, err
	}
	monitor := healthcheck.NewMonitor(prober, balancer, cfg.HealthCheck.Settings(cfg.BackendNames()), collector, logger)

	eng := engine.New(
		engine.WithExecutor(mcpexec.NewExecutor(dialer, logger)),
		engine.WithMaxConcurrency(cfg.Engine.MaxConcurrentRequests),
		engine.WithDefaultTimeout(cfg.Engine.Timeout()),
		engine.WithQueueSize(cfg.Queue.MaxSize),
		engine.WithBreakers(circuitbreaker.NewRegistry(cfg.Breaker.Settings())),
		engine.WithPool(connPool),
		engine.WithBalancer(balancer),
		engine.WithRetryPolicy(cfg.Retry.Policy()),
		engine.WithMetrics(collector),
		engine.WithLogger(logger),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		prometheus: prom,
		collector:  collector,
		dialer:     dialer,
		pool:       connPool,
		balancer:   balancer,
		engine:     eng,
		monitor:    monitor,
	}, nil
}

// newProber pings backends over MCP unless an HTTP health path is configured.
func newProber(cfg *config.Config, dialer *mcpexec.Dialer) (healthcheck.Prober, error) {
	if cfg.HealthCheck.Path == "" {
		return mcpexec.NewProber(dialer), nil
	}

	urls := make(map[string]*url.URL, len(cfg.Backends))
	for _, b := range cfg.Backends {
		u, err := url.Parse(b.URL)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", b.Name, err)
		}
		urls[b.Name] = u
	}

	prober := healthcheck.NewHTTPProber(urls, cfg.HealthCheck.Path)
	prober.SetTimeout(cfg.HealthCheck.Settings(nil).ProbeTimeout)
	return prober, nil
}

func (a *app) router() http.Handler {
	return handler.NewRouter(handler.RouterConfig{
		Logger:       a.logger,
		Dispatcher:   a.engine,
		Metrics:      a.collector.Handler(a.cfg.Balancer.Strategy),
		Prometheus:   a.prometheus.Handler(),
		BatchTimeout: batchTimeout(a.cfg),
	})
}

// start launches the background loops. withMonitor is false for one-shot
// runs that should not probe backends.
func (a *app) start(ctx context.Context, withMonitor bool) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.collector.Start(ctx)
	a.pool.Start(ctx)
	a.engine.Start(ctx)

	if withMonitor {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.monitor.Run(ctx)
		}()
	}
}

// close stops the loops in reverse order and closes pooled sessions.
func (a *app) close() {
	a.engine.Stop()
	a.pool.Close()

	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
		<-a.collector.Done()
	}
}
