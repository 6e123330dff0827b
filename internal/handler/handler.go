package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/tool-dispatcher/internal/engine"
	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

const maxBodyBytes = 4 << 20

// Dispatcher is the part of *engine.Engine the handlers need.
type Dispatcher interface {
	ExecuteParallel(ctx context.Context, reqs []toolcall.Request) ([]toolcall.Result, error)
	Stats() engine.Stats
}

type DispatchHandler struct {
	logger       *slog.Logger
	dispatcher   Dispatcher
	batchTimeout time.Duration
}

type DispatchOption func(*DispatchHandler)

// WithBatchTimeout bounds a whole batch, queueing included. Calls still
// waiting or running at the deadline come back CANCELED.
func WithBatchTimeout(d time.Duration) DispatchOption {
	return func(h *DispatchHandler) {
		h.batchTimeout = d
	}
}

func NewDispatchHandler(logger *slog.Logger, dispatcher Dispatcher, opts ...DispatchOption) *DispatchHandler {
	h := &DispatchHandler{
		logger:     logger,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	log := h.logger.With(
		slog.String("request_id", requestID),
		slog.String("from", extractClientIP(r)))

	var batch Batch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&batch); err != nil {
		log.Warn("Rejected malformed batch", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	reqs, err := batch.ToRequests()
	if err != nil {
		log.Warn("Rejected invalid batch", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info("Dispatching batch", slog.Int("requests", len(reqs)))
	start := time.Now()

	ctx := r.Context()
	if h.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.batchTimeout)
		defer cancel()
	}

	results, err := h.dispatcher.ExecuteParallel(ctx, reqs)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrNoExecutor) {
			status = http.StatusServiceUnavailable
		}
		log.Error("Batch dispatch failed", slog.Any("err", err))
		writeError(w, status, err.Error())
		return
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	log.Info("Batch completed",
		slog.Int("requests", len(results)),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(start)))

	writeJSON(w, http.StatusOK, NewBatchResult(results))
}

// StatsHandler serves engine.Stats as JSON.
func StatsHandler(dispatcher Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dispatcher.Stats())
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
