// Package queue orders pending tool calls before admission: strict priority
// across tiers, FIFO within a tier, bounded in total size.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

// DefaultMaxSize bounds the queue across all tiers.
const DefaultMaxSize = 1000

// QueuedRequest is a Request waiting for admission together with the handle
// its submitter waits on.
type QueuedRequest struct {
	Request    toolcall.Request
	EnqueuedAt time.Time

	ctx    context.Context
	result chan toolcall.Result
	once   sync.Once

	// set while queued, guarded by the owning queue's mutex
	tier    *list.List
	element *list.Element
}

func NewQueuedRequest(ctx context.Context, req toolcall.Request) *QueuedRequest {
	if ctx == nil {
		ctx = context.Background()
	}
	return &QueuedRequest{
		Request:    req,
		EnqueuedAt: time.Now(),
		ctx:        ctx,
		result:     make(chan toolcall.Result, 1),
	}
}

// Context is the submitter's context; the request is abandoned when it ends.
func (q *QueuedRequest) Context() context.Context {
	return q.ctx
}

// Result delivers exactly one Result.
func (q *QueuedRequest) Result() <-chan toolcall.Result {
	return q.result
}

// Resolve sets the result. Only the first call has an effect.
func (q *QueuedRequest) Resolve(res toolcall.Result) {
	q.once.Do(func() {
		q.result <- res
		close(q.result)
	})
}

type PriorityQueue struct {
	mutex   sync.Mutex
	tiers   map[toolcall.Priority]*list.List
	size    int
	maxSize int
	ready   chan struct{}
}

func New(maxSize int) *PriorityQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	tiers := make(map[toolcall.Priority]*list.List, len(toolcall.Priorities))
	for _, p := range toolcall.Priorities {
		tiers[p] = list.New()
	}

	return &PriorityQueue{
		tiers:   tiers,
		maxSize: maxSize,
		ready:   make(chan struct{}, 1),
	}
}

// Enqueue appends qr to the tail of its priority tier. It returns false
// without queuing when the queue already holds maxSize requests. Unknown
// priorities are queued as normal.
func (pq *PriorityQueue) Enqueue(qr *QueuedRequest) bool {
	pq.mutex.Lock()
	if pq.size >= pq.maxSize {
		pq.mutex.Unlock()
		return false
	}

	priority := qr.Request.Priority
	if !priority.Valid() {
		priority = toolcall.PriorityNormal
	}
	qr.tier = pq.tiers[priority]
	qr.element = qr.tier.PushBack(qr)
	pq.size++
	pq.mutex.Unlock()

	select {
	case pq.ready <- struct{}{}:
	default:
	}

	return true
}

// Dequeue pops the oldest request of the highest non-empty tier.
func (pq *PriorityQueue) Dequeue() (*QueuedRequest, bool) {
	pq.mutex.Lock()
	defer pq.mutex.Unlock()

	for _, p := range toolcall.Priorities {
		tier := pq.tiers[p]
		if front := tier.Front(); front != nil {
			qr := front.Value.(*QueuedRequest)
			pq.unlink(qr)
			return qr, true
		}
	}

	return nil, false
}

// Remove takes qr out of the queue. It reports false when qr was already
// dequeued or never queued here.
func (pq *PriorityQueue) Remove(qr *QueuedRequest) bool {
	pq.mutex.Lock()
	defer pq.mutex.Unlock()

	if qr.element == nil || !pq.owns(qr) {
		return false
	}
	pq.unlink(qr)
	return true
}

func (pq *PriorityQueue) owns(qr *QueuedRequest) bool {
	for _, tier := range pq.tiers {
		if tier == qr.tier {
			return true
		}
	}
	return false
}

// unlink must be called with pq.mutex held.
func (pq *PriorityQueue) unlink(qr *QueuedRequest) {
	qr.tier.Remove(qr.element)
	qr.tier = nil
	qr.element = nil
	pq.size--
}

// Ready is signaled after an Enqueue. A single signal may cover several
// requests, so receivers should drain with Dequeue until it reports empty.
func (pq *PriorityQueue) Ready() <-chan struct{} {
	return pq.ready
}

func (pq *PriorityQueue) Len() int {
	pq.mutex.Lock()
	defer pq.mutex.Unlock()
	return pq.size
}

func (pq *PriorityQueue) LenByPriority() map[toolcall.Priority]int {
	pq.mutex.Lock()
	defer pq.mutex.Unlock()

	lens := make(map[toolcall.Priority]int, len(pq.tiers))
	for p, tier := range pq.tiers {
		lens[p] = tier.Len()
	}
	return lens
}
