package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
	"github.com/angeloszaimis/tool-dispatcher/internal/queue"
	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

// ErrNotRunning is returned by Submit when the dispatcher loop is not running.
var ErrNotRunning = errors.New("dispatcher is not running")

const stoppedMessage = "canceled: engine stopped"

// Submit queues req for the dispatcher loop started by Start. The returned
// channel delivers exactly one Result. A full queue yields a
// CapacityExceeded failure and a stopped loop ErrNotRunning.
func (e *Engine) Submit(ctx context.Context, req toolcall.Request) (<-chan toolcall.Result, error) {
	if e.currentExecutor() == nil {
		return nil, ErrNoExecutor
	}

	qr, err := e.enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	return qr.Result(), nil
}

// enqueue holds loopMutex so that a request is either rejected or queued
// before the loop exits and drains the queue.
func (e *Engine) enqueue(ctx context.Context, req toolcall.Request) (*queue.QueuedRequest, error) {
	e.loopMutex.Lock()
	defer e.loopMutex.Unlock()

	if !e.running {
		return nil, ErrNotRunning
	}

	qr := queue.NewQueuedRequest(ctx, req)
	if !e.queue.Enqueue(qr) {
		return nil, failure.New(failure.CapacityExceeded, req.Backend, "request queue is full")
	}
	return qr, nil
}

func (e *Engine) isRunning() bool {
	e.loopMutex.Lock()
	defer e.loopMutex.Unlock()
	return e.running
}

// Start runs the dispatcher loop until ctx is done or Stop is called.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.loopMutex.Lock()
	defer e.loopMutex.Unlock()

	if e.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go e.dispatch(loopCtx)
}

// Stop halts the dispatcher loop, waits for submitted calls already running
// and resolves whatever is still queued as canceled.
func (e *Engine) Stop() {
	e.loopMutex.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.running = false
	e.loopMutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	e.wg.Wait()
	e.drain()
}

func (e *Engine) drain() {
	for {
		qr, ok := e.queue.Dequeue()
		if !ok {
			return
		}
		qr.Resolve(toolcall.Result{
			Name:    qr.Request.Name,
			Backend: qr.Request.Backend,
			Error:   stoppedMessage,
			Kind:    failure.Canceled,
		})
	}
}

func (e *Engine) dispatch(ctx context.Context) {
	defer e.wg.Done()

	e.logger.Info("Dispatcher started", slog.Int("max_concurrent", e.maxConcurrent))
	defer e.logger.Info("Dispatcher stopped")

	// The loop also ends when the parent context does; nothing may be left
	// queued behind it.
	defer func() {
		e.loopMutex.Lock()
		e.running = false
		e.loopMutex.Unlock()
		e.drain()
	}()

	for {
		// A slot is taken before dequeuing so the highest priority request
		// waiting at that moment is the one admitted.
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}

		qr, ok := e.queue.Dequeue()
		if !ok {
			e.sem.Release(1)
			select {
			case <-ctx.Done():
				return
			case <-e.queue.Ready():
			}
			continue
		}

		executor := e.currentExecutor()
		reqCtx := qr.Context()
		if err := reqCtx.Err(); err != nil {
			e.sem.Release(1)
			qr.Resolve(e.reject(qr.Request, qr.Request.Backend, failure.Canceled, canceledMessage(err)))
			continue
		}

		e.wg.Add(1)
		go func(qr *queue.QueuedRequest) {
			defer e.wg.Done()
			qr.Resolve(e.runUnit(reqCtx, executor, qr.Request))
		}(qr)
	}
}
