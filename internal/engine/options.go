package engine

import (
	"log/slog"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/tool-dispatcher/internal/loadbalancer"
	"github.com/angeloszaimis/tool-dispatcher/internal/metrics"
	"github.com/angeloszaimis/tool-dispatcher/internal/pool"
	"github.com/angeloszaimis/tool-dispatcher/internal/queue"
	"github.com/angeloszaimis/tool-dispatcher/internal/retry"
	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

const (
	DefaultMaxConcurrentRequests = 5
	DefaultTimeout               = 30 * time.Second
)

// Balancer chooses a backend among interchangeable candidates. Keyed
// strategies route by the key; the others ignore it.
// *loadbalancer.LoadBalancer satisfies it.
type Balancer interface {
	SelectBackendWithKey(candidates []string, key string) (string, error)
	Release(backend string)
	RecordOutcome(backend string, success bool, latency time.Duration)
	Stats() map[string]loadbalancer.BackendStats
}

type options struct {
	executor       toolcall.Executor
	maxConcurrent  int
	defaultTimeout time.Duration
	queueSize      int
	breakers       *circuitbreaker.Registry
	pool           *pool.Pool
	balancer       Balancer
	retryPolicy    retry.Policy
	sink           metrics.Sink
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxConcurrent:  DefaultMaxConcurrentRequests,
		defaultTimeout: DefaultTimeout,
		queueSize:      queue.DefaultMaxSize,
		retryPolicy:    retry.DefaultPolicy(),
		sink:           metrics.Discard,
		logger:         slog.Default(),
	}
}

type Option func(*options)

func WithExecutor(executor toolcall.Executor) Option {
	return func(o *options) {
		o.executor = executor
	}
}

// WithMaxConcurrency bounds the number of executor calls in flight.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithDefaultTimeout applies to requests that carry no Timeout of their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithBreakers shares a breaker registry. The engine installs its own state
// change hook, so pass a registry that has not created breakers yet.
func WithBreakers(registry *circuitbreaker.Registry) Option {
	return func(o *options) {
		o.breakers = registry
	}
}

// WithPool makes every attempt acquire a pooled connection for its backend.
// Executors find it with pool.ConnectionFrom.
func WithPool(p *pool.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

func WithBalancer(b Balancer) Option {
	return func(o *options) {
		o.balancer = b
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.retryPolicy = p
	}
}

func WithMetrics(sink metrics.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
