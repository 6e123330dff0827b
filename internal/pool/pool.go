package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
)

// maxConsecutiveErrors is the number of failed releases after which a
// connection leaves the rotation.
const maxConsecutiveErrors = 3

type Config struct {
	MaxConnectionsPerBackend int
	MaxIdleTime              time.Duration
	CleanupInterval          time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerBackend: 5,
		MaxIdleTime:              300 * time.Second,
		CleanupInterval:          60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConnectionsPerBackend <= 0 {
		c.MaxConnectionsPerBackend = def.MaxConnectionsPerBackend
	}
	if c.MaxIdleTime <= 0 {
		c.MaxIdleTime = def.MaxIdleTime
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	return c
}

type backendPool struct {
	mutex   sync.Mutex
	conns   []*Connection
	next    uint64
	dialing int

	requests  int64
	successes int64
	failures  int64
}

// Pool manages connections for every backend. Each backend has its own lock
// so operations on different backends never contend.
type Pool struct {
	config Config
	dial   Dialer
	logger *slog.Logger
	now    func() time.Time

	mutex    sync.RWMutex
	backends map[string]*backendPool

	sweepMutex sync.Mutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	onEvict    func(count int)
}

func New(dial Dialer, cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		config:   cfg.withDefaults(),
		dial:     dial,
		logger:   logger,
		now:      time.Now,
		backends: make(map[string]*backendPool),
	}
}

func (p *Pool) backendPool(backend string) *backendPool {
	p.mutex.RLock()
	bp, exists := p.backends[backend]
	p.mutex.RUnlock()

	if exists {
		return bp
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if bp, exists = p.backends[backend]; exists {
		return bp
	}

	bp = &backendPool{}
	p.backends[backend] = bp
	return bp
}

// Acquire returns the next active connection for backend in round-robin
// order. When no connection is active a new one is dialed, unless the backend
// is already at capacity, in which case a CapacityExceeded failure is
// returned immediately.
func (p *Pool) Acquire(ctx context.Context, backend string) (*Connection, error) {
	bp := p.backendPool(backend)

	bp.mutex.Lock()
	if conn := bp.nextActive(); conn != nil {
		conn.useCount++
		conn.lastUsedAt = p.now()
		bp.mutex.Unlock()
		return conn, nil
	}

	if len(bp.conns)+bp.dialing >= p.config.MaxConnectionsPerBackend {
		bp.mutex.Unlock()
		return nil, failure.New(failure.CapacityExceeded, backend,
			fmt.Sprintf("connection pool for backend %s is at capacity (%d)", backend, p.config.MaxConnectionsPerBackend))
	}
	bp.dialing++
	bp.mutex.Unlock()

	conn, err := p.open(ctx, bp, backend, 1)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Opened backend connection",
		slog.String("backend", backend),
		slog.String("connection", conn.id))

	return conn, nil
}

// Prewarm dials connections for backend until it holds n of them, capped at
// the per-backend maximum. Prewarmed connections start with a zero use count.
func (p *Pool) Prewarm(ctx context.Context, backend string, n int) error {
	bp := p.backendPool(backend)

	for {
		bp.mutex.Lock()
		total := len(bp.conns) + bp.dialing
		if total >= n || total >= p.config.MaxConnectionsPerBackend {
			bp.mutex.Unlock()
			return nil
		}
		bp.dialing++
		bp.mutex.Unlock()

		if _, err := p.open(ctx, bp, backend, 0); err != nil {
			return err
		}
	}
}

// open dials a connection for a slot already reserved through bp.dialing and
// adds it to the rotation with the given use count.
func (p *Pool) open(ctx context.Context, bp *backendPool, backend string, uses int) (*Connection, error) {
	var (
		handle io.Closer
		err    error
	)
	if p.dial != nil {
		handle, err = p.dial(ctx, backend)
	} else {
		err = fmt.Errorf("no dialer configured")
	}

	bp.mutex.Lock()
	defer bp.mutex.Unlock()
	bp.dialing--

	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, failure.Wrap(failure.Connection, backend, fmt.Errorf("dial backend %s: %w", backend, err))
	}

	now := p.now()
	conn := &Connection{
		id:         uuid.New().String(),
		backend:    backend,
		createdAt:  now,
		lastUsedAt: now,
		handle:     handle,
		owner:      bp,
		active:     true,
		useCount:   uses,
	}
	bp.conns = append(bp.conns, conn)
	return conn, nil
}

// nextActive must be called with bp.mutex held.
func (bp *backendPool) nextActive() *Connection {
	active := make([]*Connection, 0, len(bp.conns))
	for _, c := range bp.conns {
		if c.active && c.handle != nil {
			active = append(active, c)
		}
	}

	if len(active) == 0 {
		return nil
	}

	conn := active[bp.next%uint64(len(active))]
	bp.next++
	return conn
}

// Release reports the outcome of a request made over conn. Three failures in
// a row take the connection out of the rotation; a success clears the streak.
func (p *Pool) Release(conn *Connection, success bool) {
	if conn == nil {
		return
	}

	bp := conn.owner
	bp.mutex.Lock()

	bp.requests++
	if success {
		bp.successes++
		conn.errorCount = 0
		bp.mutex.Unlock()
		return
	}

	bp.failures++
	conn.errorCount++
	deactivated := conn.active && conn.errorCount >= maxConsecutiveErrors
	if deactivated {
		conn.active = false
	}
	errorCount := conn.errorCount
	bp.mutex.Unlock()

	if deactivated {
		p.logger.Warn("Connection marked inactive after repeated failures",
			slog.String("backend", conn.backend),
			slog.String("connection", conn.id),
			slog.Int("error_count", errorCount))
	}
}

// Discard removes conn from its pool and closes its handle.
func (p *Pool) Discard(conn *Connection) {
	if conn == nil {
		return
	}

	bp := conn.owner
	bp.mutex.Lock()
	removed := false
	for i, c := range bp.conns {
		if c == conn {
			bp.conns = append(bp.conns[:i], bp.conns[i+1:]...)
			removed = true
			break
		}
	}
	bp.mutex.Unlock()

	if removed {
		p.closeHandle(conn, "discarded")
	}
}

// EvictIdle removes every connection that is inactive or has not been used
// for longer than maxIdle, closing its handle. It returns the number of
// connections removed.
func (p *Pool) EvictIdle(maxIdle time.Duration) int {
	p.mutex.RLock()
	pools := make([]*backendPool, 0, len(p.backends))
	for _, bp := range p.backends {
		pools = append(pools, bp)
	}
	p.mutex.RUnlock()

	now := p.now()
	var evicted []*Connection

	for _, bp := range pools {
		bp.mutex.Lock()
		kept := bp.conns[:0]
		for _, c := range bp.conns {
			if !c.active || now.Sub(c.lastUsedAt) > maxIdle {
				evicted = append(evicted, c)
				continue
			}
			kept = append(kept, c)
		}
		for i := len(kept); i < len(bp.conns); i++ {
			bp.conns[i] = nil
		}
		bp.conns = kept
		bp.mutex.Unlock()
	}

	for _, c := range evicted {
		p.closeHandle(c, "evicted")
	}

	return len(evicted)
}

func (p *Pool) closeHandle(conn *Connection, reason string) {
	p.logger.Info("Closing backend connection",
		slog.String("backend", conn.backend),
		slog.String("connection", conn.id),
		slog.String("reason", reason))

	if conn.handle == nil {
		return
	}

	if err := conn.handle.Close(); err != nil {
		p.logger.Warn("Failed to close backend connection",
			slog.String("backend", conn.backend),
			slog.String("connection", conn.id),
			slog.Any("err", err))
	}
}

// OnEvict installs fn to be called by the sweeper after each cycle that
// evicted at least one connection. It must be called before Start.
func (p *Pool) OnEvict(fn func(count int)) {
	p.sweepMutex.Lock()
	defer p.sweepMutex.Unlock()

	p.onEvict = fn
}

// Start runs the idle sweeper every CleanupInterval until ctx is done or Stop
// is called. Calling Start on a running sweeper is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.sweepMutex.Lock()
	defer p.sweepMutex.Unlock()

	if p.cancel != nil {
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.sweep(sweepCtx, p.onEvict)
}

// Stop halts the sweeper and waits for an in-progress sweep to finish.
func (p *Pool) Stop() {
	p.sweepMutex.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.sweepMutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	p.wg.Wait()
}

func (p *Pool) sweep(ctx context.Context, onEvict func(int)) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	p.logger.Info("Connection sweeper started",
		slog.Duration("interval", p.config.CleanupInterval),
		slog.Duration("max_idle", p.config.MaxIdleTime))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Connection sweeper stopped")
			return
		case <-ticker.C:
			if n := p.EvictIdle(p.config.MaxIdleTime); n > 0 {
				p.logger.Info("Evicted idle connections", slog.Int("count", n))
				if onEvict != nil {
					onEvict(n)
				}
			}
		}
	}
}

// Close stops the sweeper and closes every pooled connection.
func (p *Pool) Close() {
	p.Stop()

	p.mutex.Lock()
	pools := p.backends
	p.backends = make(map[string]*backendPool)
	p.mutex.Unlock()

	for _, bp := range pools {
		bp.mutex.Lock()
		conns := bp.conns
		bp.conns = nil
		bp.mutex.Unlock()

		for _, c := range conns {
			p.closeHandle(c, "pool closed")
		}
	}
}
