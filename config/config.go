package config

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/tool-dispatcher/internal/httpserver"
	"github.com/angeloszaimis/tool-dispatcher/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address" json:"address"`
	Environment string `mapstructure:"environment" json:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level"`
}

type PoolConfig struct {
	MaxConnectionsPerBackend int    `mapstructure:"max_connections_per_backend" json:"max_connections_per_backend"`
	MaxIdleTime              string `mapstructure:"max_idle_time" json:"max_idle_time"`
	CleanupInterval          string `mapstructure:"cleanup_interval" json:"cleanup_interval"`
}

type BreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  string `mapstructure:"recovery_timeout" json:"recovery_timeout"`
	SuccessThreshold int    `mapstructure:"success_threshold" json:"success_threshold"`
}

type EngineConfig struct {
	MaxConcurrentRequests int    `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`
	DefaultTimeout        string `mapstructure:"default_timeout" json:"default_timeout"`
}

type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts" json:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay" json:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay" json:"max_delay"`
	Jitter      string `mapstructure:"jitter" json:"jitter"`
}

type QueueConfig struct {
	MaxSize int `mapstructure:"max_size" json:"max_size"`
}

type BalancerConfig struct {
	Strategy       string  `mapstructure:"strategy" json:"strategy"`
	MinSuccessRate float64 `mapstructure:"min_success_rate" json:"min_success_rate"`
	MinSamples     int64   `mapstructure:"min_samples" json:"min_samples"`
	VirtualNodes   int     `mapstructure:"virtual_nodes" json:"virtual_nodes"`
}

// HealthCheckConfig configures the backend monitor. With an empty Path the
// monitor pings backends over MCP; otherwise it issues GET requests to Path.
type HealthCheckConfig struct {
	Interval     string `mapstructure:"interval" json:"interval"`
	ProbeTimeout string `mapstructure:"probe_timeout" json:"probe_timeout"`
	Path         string `mapstructure:"path" json:"path"`
}

type BackendConfig struct {
	Name   string `mapstructure:"name" json:"name"`
	URL    string `mapstructure:"url" json:"url"`
	Weight int    `mapstructure:"weight" json:"weight"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	Logging     LoggingConfig     `mapstructure:"logging" json:"logging"`
	Pool        PoolConfig        `mapstructure:"pool" json:"pool"`
	Breaker     BreakerConfig     `mapstructure:"breaker" json:"breaker"`
	Engine      EngineConfig      `mapstructure:"engine" json:"engine"`
	Retry       RetryConfig       `mapstructure:"retry" json:"retry"`
	Queue       QueueConfig       `mapstructure:"queue" json:"queue"`
	Balancer    BalancerConfig    `mapstructure:"balancer" json:"balancer"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check" json:"health_check"`
	Backends    []BackendConfig   `mapstructure:"backends" json:"backends"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("pool.max_connections_per_backend", 5)
	v.SetDefault("pool.max_idle_time", "300s")
	v.SetDefault("pool.cleanup_interval", "60s")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", "60s")
	v.SetDefault("breaker.success_threshold", 3)

	v.SetDefault("engine.max_concurrent_requests", 5)
	v.SetDefault("engine.default_timeout", "30s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.jitter", "1s")

	v.SetDefault("queue.max_size", 1000)

	v.SetDefault("balancer.strategy", strategy.RoundRobin)
	v.SetDefault("balancer.min_success_rate", 0.5)
	v.SetDefault("balancer.min_samples", 10)
	v.SetDefault("balancer.virtual_nodes", 100)

	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.probe_timeout", "5s")
	v.SetDefault("health_check.path", "")
}

// Load reads config.yaml from ./config or the working directory. A missing
// file is not an error; defaults and environment variables still apply.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit file path. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.Any("err", err))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.Any("err", err))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Logging),
		validation.Field(&c.Pool),
		validation.Field(&c.Breaker),
		validation.Field(&c.Engine),
		validation.Field(&c.Retry),
		validation.Field(&c.Queue),
		validation.Field(&c.Balancer),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.Backends,
			validation.By(uniqueBackendNames),
		),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.Address,
			validation.Required,
			validation.By(httpserver.ValidateAddress),
		),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func (p PoolConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxConnectionsPerBackend, validation.Required, validation.Min(1)),
		validation.Field(&p.MaxIdleTime, validation.Required, validation.By(validateDuration)),
		validation.Field(&p.CleanupInterval, validation.Required, validation.By(validateDuration)),
	)
}

func (b BreakerConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&b.RecoveryTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&b.SuccessThreshold, validation.Required, validation.Min(1)),
	)
}

func (e EngineConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MaxConcurrentRequests, validation.Required, validation.Min(1)),
		validation.Field(&e.DefaultTimeout, validation.Required, validation.By(validateDuration)),
	)
}

func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&r.BaseDelay, validation.Required, validation.By(validateDuration)),
		validation.Field(&r.MaxDelay, validation.Required, validation.By(validateDuration)),
		validation.Field(&r.Jitter, validation.By(validateDuration)),
	)
}

func (q QueueConfig) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.MaxSize, validation.Required, validation.Min(1)),
	)
}

func (b BalancerConfig) Validate() error {
	names := make([]interface{}, len(strategy.Names))
	for i, n := range strategy.Names {
		names[i] = n
	}

	return validation.ValidateStruct(&b,
		validation.Field(&b.Strategy, validation.Required, validation.In(names...)),
		validation.Field(&b.MinSuccessRate, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&b.MinSamples, validation.Min(int64(0))),
		validation.Field(&b.VirtualNodes, validation.Required, validation.Min(1)),
	)
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Interval, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.ProbeTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.Path, validation.When(h.Path != "",
			validation.By(func(value interface{}) error {
				if !strings.HasPrefix(value.(string), "/") {
					return validation.NewError("validation_invalid_path", "must start with /")
				}
				return nil
			}),
		)),
	)
}

func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Name, validation.Required),
		validation.Field(&b.URL, validation.Required, validation.By(validateServerURL)),
		validation.Field(&b.Weight, validation.Min(1)),
	)
}

func uniqueBackendNames(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of backends")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.Name]; dup && b.Name != "" {
			return validation.NewError("validation_duplicate_backend", "duplicate backend name "+b.Name)
		}
		seen[b.Name] = struct{}{}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
