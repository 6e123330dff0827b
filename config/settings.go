package config

import (
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/tool-dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/tool-dispatcher/internal/loadbalancer"
	"github.com/angeloszaimis/tool-dispatcher/internal/pool"
	"github.com/angeloszaimis/tool-dispatcher/internal/retry"
)

// duration parses a value that already passed validation. Empty strings
// become zero so component defaults apply.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (p PoolConfig) Settings() pool.Config {
	return pool.Config{
		MaxConnectionsPerBackend: p.MaxConnectionsPerBackend,
		MaxIdleTime:              duration(p.MaxIdleTime),
		CleanupInterval:          duration(p.CleanupInterval),
	}
}

func (b BreakerConfig) Settings() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: b.FailureThreshold,
		RecoveryTimeout:  duration(b.RecoveryTimeout),
		SuccessThreshold: b.SuccessThreshold,
	}
}

func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   duration(r.BaseDelay),
		MaxDelay:    duration(r.MaxDelay),
		Jitter:      duration(r.Jitter),
	}
}

func (e EngineConfig) Timeout() time.Duration {
	return duration(e.DefaultTimeout)
}

func (b BalancerConfig) Settings() loadbalancer.Config {
	return loadbalancer.Config{
		MinSuccessRate: b.MinSuccessRate,
		MinSamples:     b.MinSamples,
	}
}

func (h HealthCheckConfig) Settings(backends []string) healthcheck.Config {
	return healthcheck.Config{
		Backends:     backends,
		Interval:     duration(h.Interval),
		ProbeTimeout: duration(h.ProbeTimeout),
	}
}

// BackendNames returns the configured backend names in file order.
func (c *Config) BackendNames() []string {
	names := make([]string, len(c.Backends))
	for i, b := range c.Backends {
		names[i] = b.Name
	}
	return names
}

// Endpoints maps backend names to their URLs.
func (c *Config) Endpoints() map[string]string {
	endpoints := make(map[string]string, len(c.Backends))
	for _, b := range c.Backends {
		endpoints[b.Name] = b.URL
	}
	return endpoints
}
