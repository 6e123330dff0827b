package pool

import (
	"context"
	"io"
	"time"
)

// Dialer opens a new backend handle. The returned handle is closed by the
// pool when the connection is evicted.
type Dialer func(ctx context.Context, backend string) (io.Closer, error)

// Connection is a pooled backend handle. Mutable fields are guarded by the
// owning backend's lock and exposed through accessors.
type Connection struct {
	id        string
	backend   string
	createdAt time.Time
	handle    io.Closer
	owner     *backendPool

	lastUsedAt time.Time
	active     bool
	useCount   int
	errorCount int
}

func (c *Connection) ID() string           { return c.id }
func (c *Connection) Backend() string      { return c.backend }
func (c *Connection) CreatedAt() time.Time { return c.createdAt }
func (c *Connection) Handle() io.Closer    { return c.handle }

func (c *Connection) LastUsedAt() time.Time {
	c.owner.mutex.Lock()
	defer c.owner.mutex.Unlock()
	return c.lastUsedAt
}

func (c *Connection) Active() bool {
	c.owner.mutex.Lock()
	defer c.owner.mutex.Unlock()
	return c.active
}

func (c *Connection) UseCount() int {
	c.owner.mutex.Lock()
	defer c.owner.mutex.Unlock()
	return c.useCount
}

func (c *Connection) ErrorCount() int {
	c.owner.mutex.Lock()
	defer c.owner.mutex.Unlock()
	return c.errorCount
}

type connectionKey struct{}

// WithConnection returns a context carrying conn for the executor.
func WithConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connectionKey{}, conn)
}

// ConnectionFrom extracts the connection stored by WithConnection.
func ConnectionFrom(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connectionKey{}).(*Connection)
	return conn, ok && conn != nil
}
