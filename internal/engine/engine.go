package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/angeloszaimis/tool-dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
	"github.com/angeloszaimis/tool-dispatcher/internal/loadbalancer"
	"github.com/angeloszaimis/tool-dispatcher/internal/metrics"
	"github.com/angeloszaimis/tool-dispatcher/internal/pool"
	"github.com/angeloszaimis/tool-dispatcher/internal/queue"
	"github.com/angeloszaimis/tool-dispatcher/internal/retry"
	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

var ErrNoExecutor = errors.New("no executor configured")

type Engine struct {
	executorMutex sync.RWMutex
	executor      toolcall.Executor

	maxConcurrent  int
	defaultTimeout time.Duration
	sem            *semaphore.Weighted
	breakers       *circuitbreaker.Registry
	pool           *pool.Pool
	balancer       Balancer
	retryPolicy    retry.Policy
	queue          *queue.PriorityQueue
	sink           metrics.Sink
	logger         *slog.Logger

	inFlight atomic.Int64

	loopMutex sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Stats is a point-in-time view of the engine and the components it drives.
// Queued counts requests waiting in the dispatcher queue.
type Stats struct {
	InFlight         int64                                `json:"in_flight"`
	Queued           int                                  `json:"queued"`
	QueuedByPriority map[string]int                       `json:"queued_by_priority"`
	MaxConcurrent    int                                  `json:"max_concurrent"`
	Breakers         map[string]circuitbreaker.Snapshot   `json:"breakers"`
	OpenBreakers     []string                             `json:"open_breakers"`
	Pool             *pool.Stats                          `json:"pool,omitempty"`
	Balancer         map[string]loadbalancer.BackendStats `json:"balancer,omitempty"`
}

func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.breakers == nil {
		o.breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}

	e := &Engine{
		executor:       o.executor,
		maxConcurrent:  o.maxConcurrent,
		defaultTimeout: o.defaultTimeout,
		sem:            semaphore.NewWeighted(int64(o.maxConcurrent)),
		breakers:       o.breakers,
		pool:           o.pool,
		balancer:       o.balancer,
		retryPolicy:    o.retryPolicy,
		queue:          queue.New(o.queueSize),
		sink:           o.sink,
		logger:         o.logger,
	}

	e.breakers.OnStateChange(e.onBreakerChange)
	return e
}

func (e *Engine) SetExecutor(executor toolcall.Executor) {
	e.executorMutex.Lock()
	defer e.executorMutex.Unlock()
	e.executor = executor
}

func (e *Engine) currentExecutor() toolcall.Executor {
	e.executorMutex.RLock()
	defer e.executorMutex.RUnlock()
	return e.executor
}

func (e *Engine) Breakers() *circuitbreaker.Registry {
	return e.breakers
}

// ExecuteParallel runs every request and returns one Result per request, in
// input order. When capacity is exhausted requests are admitted by priority:
// through the dispatcher queue while the loop started by Start is running,
// through a queue private to the batch otherwise. Per-request failures are
// reported in the Results; the error is non-nil only when no executor is
// configured.
func (e *Engine) ExecuteParallel(ctx context.Context, reqs []toolcall.Request) ([]toolcall.Result, error) {
	results := make([]toolcall.Result, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	executor := e.currentExecutor()
	if executor == nil {
		return nil, ErrNoExecutor
	}

	if e.isRunning() {
		e.executeQueued(ctx, reqs, results)
	} else {
		e.executeBatch(ctx, executor, reqs, results)
	}

	return results, nil
}

// executeQueued hands reqs to the dispatcher loop. Requests still waiting when
// ctx ends are withdrawn and reported as canceled.
func (e *Engine) executeQueued(ctx context.Context, reqs []toolcall.Request, results []toolcall.Result) {
	pending := make([]*queue.QueuedRequest, len(reqs))
	for i, req := range reqs {
		qr, err := e.enqueue(ctx, req)
		if err != nil {
			kind := failure.KindOf(err)
			if errors.Is(err, ErrNotRunning) {
				kind = failure.Canceled
			}
			results[i] = e.reject(req, req.Backend, kind, err.Error())
			continue
		}
		pending[i] = qr
	}

	for i, qr := range pending {
		if qr == nil {
			continue
		}

		select {
		case results[i] = <-qr.Result():
		case <-ctx.Done():
			if e.queue.Remove(qr) {
				results[i] = e.reject(qr.Request, qr.Request.Backend, failure.Canceled, canceledMessage(ctx.Err()))
				continue
			}
			results[i] = <-qr.Result()
		}
	}
}

// executeBatch admits reqs from a queue of their own: a slot is taken first,
// then the highest priority request left is started in it.
func (e *Engine) executeBatch(ctx context.Context, executor toolcall.Executor, reqs []toolcall.Request, results []toolcall.Result) {
	batch := queue.New(len(reqs))
	index := make(map[*queue.QueuedRequest]int, len(reqs))
	for i, req := range reqs {
		qr := queue.NewQueuedRequest(ctx, req)
		index[qr] = i
		batch.Enqueue(qr)
	}

	var wg sync.WaitGroup
	for {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			break
		}

		qr, ok := batch.Dequeue()
		if !ok {
			e.sem.Release(1)
			break
		}

		wg.Add(1)
		go func(i int, req toolcall.Request) {
			defer wg.Done()
			results[i] = e.runUnit(ctx, executor, req)
		}(index[qr], qr.Request)
	}
	wg.Wait()

	for {
		qr, ok := batch.Dequeue()
		if !ok {
			return
		}
		results[index[qr]] = e.reject(qr.Request, qr.Request.Backend, failure.Canceled, canceledMessage(ctx.Err()))
	}
}

// runUnit carries one admitted request from backend selection to its Result.
// The caller holds a semaphore slot for it; runUnit gives it back.
func (e *Engine) runUnit(ctx context.Context, executor toolcall.Executor, req toolcall.Request) toolcall.Result {
	defer e.sem.Release(1)

	backend, selected, err := e.resolveBackend(req)
	if err != nil {
		return e.reject(req, req.Backend, failure.KindOf(err), err.Error())
	}
	if selected {
		defer e.balancer.Release(backend)
	}

	if !e.breakers.GetBreaker(backend).Allow() {
		return e.reject(req, backend, failure.CircuitOpen, fmt.Sprintf("circuit breaker open for backend %s", backend))
	}

	if err := ctx.Err(); err != nil {
		return e.reject(req, backend, failure.Canceled, canceledMessage(err))
	}

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	return e.execute(ctx, executor, req, backend)
}

func (e *Engine) resolveBackend(req toolcall.Request) (string, bool, error) {
	if len(req.Candidates) == 0 {
		if req.Backend == "" {
			return "", false, failure.New(failure.Executor, "", fmt.Sprintf("request %s has no backend", req.Name))
		}
		return req.Backend, false, nil
	}

	if e.balancer == nil {
		if req.Backend != "" {
			return req.Backend, false, nil
		}
		return req.Candidates[0], false, nil
	}

	backend, err := e.balancer.SelectBackendWithKey(req.Candidates, req.RoutingKey())
	if err != nil {
		return "", false, failure.Wrap(failure.Executor, "", fmt.Errorf("select backend for %s: %w", req.Name, err))
	}
	return backend, true, nil
}

func (e *Engine) execute(ctx context.Context, executor toolcall.Executor, req toolcall.Request, backend string) toolcall.Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bound := req
	bound.Backend = backend

	policy := e.retryPolicy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Debug("Retrying tool call",
			slog.String("tool", req.Name),
			slog.String("backend", backend),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("err", err))
		e.sink.Emit(metrics.MetricEvent{Type: metrics.EventRetry, Backend: backend, Attempts: attempt})
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	var data any
	start := time.Now()
	attempts, err := policy.Execute(callCtx, func(ctx context.Context, _ int) error {
		var attemptErr error
		data, attemptErr = e.attempt(ctx, executor, bound)
		return attemptErr
	}, failure.IsRetryable)
	elapsed := time.Since(start)

	res := toolcall.Result{
		Name:     req.Name,
		Backend:  backend,
		Elapsed:  elapsed,
		Attempts: attempts,
	}

	switch {
	case err == nil:
		res.Success = true
		res.Data = data

	case ctx.Err() != nil:
		res.Kind = failure.Canceled
		res.Error = canceledMessage(ctx.Err())

	case callCtx.Err() != nil:
		res.Kind = failure.Timeout
		res.Error = fmt.Sprintf("timed out after %s", timeout)

	default:
		res.Kind = failure.KindOf(err)
		res.Error = err.Error()
	}

	e.recordOutcome(res, req.Priority)
	return res
}

type outcome struct {
	data any
	err  error
}

// attempt makes one executor call. It returns as soon as ctx ends even if
// the executor does not; a late result is discarded.
func (e *Engine) attempt(ctx context.Context, executor toolcall.Executor, req toolcall.Request) (any, error) {
	var conn *pool.Connection
	if e.pool != nil {
		var err error
		conn, err = e.pool.Acquire(ctx, req.Backend)
		if err != nil {
			return nil, err
		}
		ctx = pool.WithConnection(ctx, conn)
	}

	done := make(chan outcome, 1)
	go func() {
		data, err := executor.Execute(ctx, req)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		e.releaseConn(conn, out.err)
		return out.data, out.err

	case <-ctx.Done():
		if conn != nil {
			go func() {
				out := <-done
				e.releaseConn(conn, out.err)
			}()
		}
		return nil, ctx.Err()
	}
}

// releaseConn returns conn to its pool. A transport failure leaves the session
// in an unknown state, so the connection is dropped instead of reused.
func (e *Engine) releaseConn(conn *pool.Connection, err error) {
	if conn == nil {
		return
	}

	e.pool.Release(conn, err == nil)
	if failure.IsKind(err, failure.Connection) {
		e.pool.Discard(conn)
	}
}

// recordOutcome feeds breaker, balancer and metrics. Canceled and capacity
// failures say nothing about backend health and only reach metrics.
func (e *Engine) recordOutcome(res toolcall.Result, priority toolcall.Priority) {
	backendFault := res.Kind != failure.Canceled && res.Kind != failure.CapacityExceeded

	if backendFault {
		cb := e.breakers.GetBreaker(res.Backend)
		if res.Success {
			cb.RecordSuccess()
		} else {
			cb.RecordFailure()
		}

		if e.balancer != nil {
			e.balancer.RecordOutcome(res.Backend, res.Success, res.Elapsed)
		}
	}

	if !res.Success {
		e.logger.Debug("Tool call failed",
			slog.String("tool", res.Name),
			slog.String("backend", res.Backend),
			slog.String("kind", string(res.Kind)),
			slog.String("err", res.Error))
	}

	e.sink.Emit(metrics.MetricEvent{
		Type:     metrics.EventRequestCompleted,
		Backend:  res.Backend,
		Duration: res.Elapsed,
		Success:  res.Success,
		Kind:     string(res.Kind),
		Priority: priority.String(),
		Attempts: res.Attempts,
	})
}

func (e *Engine) reject(req toolcall.Request, backend string, kind failure.Kind, message string) toolcall.Result {
	e.logger.Debug("Tool call rejected",
		slog.String("tool", req.Name),
		slog.String("backend", backend),
		slog.String("kind", string(kind)))

	e.sink.Emit(metrics.MetricEvent{
		Type:     metrics.EventRequestRejected,
		Backend:  backend,
		Kind:     string(kind),
		Priority: req.Priority.String(),
	})

	return toolcall.Result{
		Name:    req.Name,
		Backend: backend,
		Error:   message,
		Kind:    kind,
	}
}

func (e *Engine) onBreakerChange(backend string, from, to circuitbreaker.State) {
	attrs := []any{
		slog.String("backend", backend),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	}
	if to == circuitbreaker.StateOpen {
		e.logger.Warn("Circuit breaker opened", attrs...)
	} else {
		e.logger.Info("Circuit breaker state changed", attrs...)
	}

	e.sink.Emit(metrics.MetricEvent{
		Type:    metrics.EventBreakerChanged,
		Backend: backend,
		State:   to.String(),
	})
}

func canceledMessage(err error) string {
	return fmt.Sprintf("canceled: %v", err)
}

func (e *Engine) Stats() Stats {
	stats := Stats{
		InFlight:         e.inFlight.Load(),
		Queued:           e.queue.Len(),
		QueuedByPriority: make(map[string]int, len(toolcall.Priorities)),
		MaxConcurrent:    e.maxConcurrent,
		Breakers:         e.breakers.Stats(),
		OpenBreakers:     e.breakers.OpenBackends(),
	}
	for priority, n := range e.queue.LenByPriority() {
		stats.QueuedByPriority[priority.String()] = n
	}

	if e.pool != nil {
		ps := e.pool.Stats()
		stats.Pool = &ps
	}
	if e.balancer != nil {
		stats.Balancer = e.balancer.Stats()
	}

	return stats
}
