package handler

import (
	"log/slog"
	"net/http"
	"time"
)

type RouterConfig struct {
	Logger       *slog.Logger
	Dispatcher   Dispatcher
	Metrics      http.Handler
	Prometheus   http.Handler
	BatchTimeout time.Duration
}

// NewRouter wires every endpoint. Metrics, Prometheus and BatchTimeout are
// optional.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/dispatch", NewDispatchHandler(cfg.Logger, cfg.Dispatcher, WithBatchTimeout(cfg.BatchTimeout)))
	mux.HandleFunc("GET /stats", StatsHandler(cfg.Dispatcher))
	mux.HandleFunc("GET /healthz", Healthz)

	if cfg.Metrics != nil {
		mux.Handle("GET /v1/metrics", cfg.Metrics)
	}
	if cfg.Prometheus != nil {
		mux.Handle("GET /metrics", cfg.Prometheus)
	}

	return mux
}
