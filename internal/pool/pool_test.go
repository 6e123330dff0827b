package pool_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
	"github.com/angeloszaimis/tool-dispatcher/internal/pool"
)

type fakeHandle struct {
	closes  atomic.Int32
	failing bool
}

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	if h.failing {
		return errors.New("close failed")
	}
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (io.Closer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	h := &fakeHandle{}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDialer) dialed() []*fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeHandle(nil), d.handles...)
}

var _ = Describe("Pool", func() {
	var (
		ctx    context.Context
		dialer *fakeDialer
		p      *pool.Pool
		log    *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		dialer = &fakeDialer{}
		log = slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelError}))
		p = pool.New(dialer.Dial, pool.Config{
			MaxConnectionsPerBackend: 3,
			MaxIdleTime:              time.Minute,
			CleanupInterval:          10 * time.Millisecond,
		}, log)
	})

	AfterEach(func() {
		p.Close()
	})

	Describe("Acquire", func() {
		It("should lazily create a connection with a use count of one", func() {
			conn, err := p.Acquire(ctx, "github")
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Backend()).To(Equal("github"))
			Expect(conn.ID()).NotTo(BeEmpty())
			Expect(conn.UseCount()).To(Equal(1))
			Expect(conn.Active()).To(BeTrue())
			Expect(dialer.dialed()).To(HaveLen(1))
		})

		It("should reuse the active connection instead of dialing again", func() {
			first, _ := p.Acquire(ctx, "github")
			second, _ := p.Acquire(ctx, "github")
			Expect(second).To(BeIdenticalTo(first))
			Expect(first.UseCount()).To(Equal(2))
			Expect(dialer.dialed()).To(HaveLen(1))
		})

		It("should visit each of three active connections twice over six acquires", func() {
			Expect(p.Prewarm(ctx, "github", 3)).To(Succeed())

			visits := make(map[string]int)
			var conns []*pool.Connection
			for i := 0; i < 6; i++ {
				conn, err := p.Acquire(ctx, "github")
				Expect(err).NotTo(HaveOccurred())
				if visits[conn.ID()] == 0 {
					conns = append(conns, conn)
				}
				visits[conn.ID()]++
			}

			Expect(visits).To(HaveLen(3))
			for _, conn := range conns {
				Expect(visits[conn.ID()]).To(Equal(2))
				Expect(conn.UseCount()).To(Equal(2))
			}
		})

		It("should keep backends independent", func() {
			a, _ := p.Acquire(ctx, "github")
			b, _ := p.Acquire(ctx, "jira")
			Expect(a).NotTo(BeIdenticalTo(b))
			Expect(p.Stats().Backends).To(HaveLen(2))
		})

		It("should wrap dial failures as connection errors", func() {
			dialer.err = errors.New("connection refused")
			_, err := p.Acquire(ctx, "github")
			Expect(err).To(HaveOccurred())
			Expect(failure.KindOf(err)).To(Equal(failure.Connection))
			Expect(failure.IsRetryable(err)).To(BeTrue())
		})

		It("should report capacity exceeded when every connection is inactive and the pool is full", func() {
			Expect(p.Prewarm(ctx, "github", 3)).To(Succeed())
			for i := 0; i < 3; i++ {
				conn, err := p.Acquire(ctx, "github")
				Expect(err).NotTo(HaveOccurred())
				for j := 0; j < 3; j++ {
					p.Release(conn, false)
				}
			}

			_, err := p.Acquire(ctx, "github")
			Expect(err).To(HaveOccurred())
			Expect(failure.KindOf(err)).To(Equal(failure.CapacityExceeded))
		})
	})

	Describe("Release", func() {
		It("should deactivate a connection after three failures and skip it afterwards", func() {
			Expect(p.Prewarm(ctx, "github", 2)).To(Succeed())
			bad, _ := p.Acquire(ctx, "github")

			p.Release(bad, false)
			p.Release(bad, false)
			Expect(bad.Active()).To(BeTrue())
			p.Release(bad, false)
			Expect(bad.Active()).To(BeFalse())
			Expect(bad.ErrorCount()).To(Equal(3))

			for i := 0; i < 4; i++ {
				conn, err := p.Acquire(ctx, "github")
				Expect(err).NotTo(HaveOccurred())
				Expect(conn).NotTo(BeIdenticalTo(bad))
			}
		})

		It("should reset the error count on success", func() {
			conn, _ := p.Acquire(ctx, "github")
			p.Release(conn, false)
			p.Release(conn, false)
			p.Release(conn, true)
			Expect(conn.ErrorCount()).To(BeZero())
			p.Release(conn, false)
			Expect(conn.Active()).To(BeTrue())
		})

		It("should count requests in stats", func() {
			conn, _ := p.Acquire(ctx, "github")
			p.Release(conn, true)
			p.Release(conn, true)
			p.Release(conn, false)

			stats := p.Stats()
			Expect(stats.TotalRequests).To(Equal(int64(3)))
			Expect(stats.SuccessfulRequests).To(Equal(int64(2)))
			Expect(stats.FailedRequests).To(Equal(int64(1)))
			Expect(stats.Backends["github"].SuccessRate).To(BeNumerically("~", 2.0/3.0, 0.001))
			Expect(stats.Backends["github"].Utilization).To(BeNumerically("~", 1.0/3.0, 0.001))
		})
	})

	Describe("EvictIdle", func() {
		It("should remove idle connections and close each handle exactly once", func() {
			_, err := p.Acquire(ctx, "github")
			Expect(err).NotTo(HaveOccurred())
			time.Sleep(20 * time.Millisecond)

			Expect(p.EvictIdle(10 * time.Millisecond)).To(Equal(1))
			Expect(p.EvictIdle(10 * time.Millisecond)).To(Equal(0))

			handles := dialer.dialed()
			Expect(handles).To(HaveLen(1))
			Expect(handles[0].closes.Load()).To(Equal(int32(1)))
			Expect(p.Stats().TotalConnections).To(BeZero())
		})

		It("should keep recently used connections", func() {
			_, _ = p.Acquire(ctx, "github")
			Expect(p.EvictIdle(time.Minute)).To(BeZero())
			Expect(p.Stats().TotalConnections).To(Equal(1))
		})

		It("should remove inactive connections regardless of age", func() {
			conn, _ := p.Acquire(ctx, "github")
			for i := 0; i < 3; i++ {
				p.Release(conn, false)
			}
			Expect(p.Stats().IdleConnections).To(Equal(1))

			Expect(p.EvictIdle(time.Hour)).To(Equal(1))
		})

		It("should not propagate close failures", func() {
			conn, _ := p.Acquire(ctx, "github")
			conn.Handle().(*fakeHandle).failing = true
			time.Sleep(5 * time.Millisecond)
			Expect(p.EvictIdle(time.Millisecond)).To(Equal(1))
		})
	})

	Describe("Discard", func() {
		It("should close the handle and drop the connection", func() {
			conn, _ := p.Acquire(ctx, "github")
			p.Discard(conn)
			p.Discard(conn)
			Expect(conn.Handle().(*fakeHandle).closes.Load()).To(Equal(int32(1)))
			Expect(p.Stats().TotalConnections).To(BeZero())
		})
	})

	Describe("Sweeper", func() {
		It("should evict idle connections in the background", func() {
			p = pool.New(dialer.Dial, pool.Config{
				MaxConnectionsPerBackend: 2,
				MaxIdleTime:              5 * time.Millisecond,
				CleanupInterval:          10 * time.Millisecond,
			}, log)

			_, _ = p.Acquire(ctx, "github")
			p.Start(ctx)

			Eventually(func() int { return p.Stats().TotalConnections }).
				WithTimeout(time.Second).
				Should(BeZero())
		})

		It("should report evictions to the hook", func() {
			p = pool.New(dialer.Dial, pool.Config{
				MaxConnectionsPerBackend: 2,
				MaxIdleTime:              5 * time.Millisecond,
				CleanupInterval:          10 * time.Millisecond,
			}, log)

			var evicted atomic.Int64
			p.OnEvict(func(n int) { evicted.Add(int64(n)) })

			_, _ = p.Acquire(ctx, "github")
			_, _ = p.Acquire(ctx, "jira")
			p.Start(ctx)

			Eventually(evicted.Load).WithTimeout(time.Second).Should(BeEquivalentTo(2))
		})

		It("should start and stop idempotently without leaking goroutines", func() {
			ignore := goleak.IgnoreCurrent()

			p.Start(ctx)
			p.Start(ctx)
			p.Stop()
			p.Stop()

			goleak.VerifyNone(GinkgoT(), ignore)
		})

		It("should stop when the parent context is canceled", func() {
			ignore := goleak.IgnoreCurrent()

			sweepCtx, cancel := context.WithCancel(ctx)
			p.Start(sweepCtx)
			cancel()
			p.Stop()

			goleak.VerifyNone(GinkgoT(), ignore)
		})
	})

	Describe("ConnectionFrom", func() {
		It("should round-trip a connection through a context", func() {
			conn, _ := p.Acquire(ctx, "github")
			got, ok := pool.ConnectionFrom(pool.WithConnection(ctx, conn))
			Expect(ok).To(BeTrue())
			Expect(got).To(BeIdenticalTo(conn))

			_, ok = pool.ConnectionFrom(ctx)
			Expect(ok).To(BeFalse())
		})
	})
})
