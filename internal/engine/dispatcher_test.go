package engine_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/angeloszaimis/tool-dispatcher/internal/engine"
	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		mutex   sync.Mutex
		order   []string
		entered chan struct{}
		gate    chan struct{}
		eng     *engine.Engine
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		order = nil
		entered = make(chan struct{})
		gate = make(chan struct{})

		executor := toolcall.ExecutorFunc(func(ctx context.Context, req toolcall.Request) (any, error) {
			if req.Name == "blocker" {
				close(entered)
				<-gate
				return "unblocked", nil
			}
			mutex.Lock()
			order = append(order, req.Name)
			mutex.Unlock()
			return req.Priority.String(), nil
		})

		eng = engine.New(
			engine.WithExecutor(executor),
			engine.WithMaxConcurrency(1),
			engine.WithQueueSize(8),
			engine.WithLogger(quietLogger),
		)
	})

	AfterEach(func() {
		cancel()
	})

	It("should admit CRITICAL first once the engine is saturated", func() {
		eng.Start(ctx)
		defer eng.Stop()

		blocker, err := eng.Submit(ctx, toolcall.Request{Name: "blocker", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		Eventually(entered).Should(BeClosed())

		var pending []<-chan toolcall.Result
		for _, p := range []toolcall.Priority{toolcall.PriorityLow, toolcall.PriorityCritical, toolcall.PriorityNormal, toolcall.PriorityHigh} {
			ch, err := eng.Submit(ctx, toolcall.Request{Name: p.String(), Backend: "github", Priority: p})
			Expect(err).NotTo(HaveOccurred())
			pending = append(pending, ch)
		}
		Expect(eng.Stats().Queued).To(Equal(4))

		close(gate)

		Eventually(blocker).Should(Receive(HaveField("Data", "unblocked")))
		for _, ch := range pending {
			Eventually(ch).Should(Receive(HaveField("Success", true)))
		}

		mutex.Lock()
		defer mutex.Unlock()
		Expect(order).To(Equal([]string{"critical", "high", "normal", "low"}))
	})

	It("should reject submissions beyond the queue size", func() {
		eng.Start(ctx)

		_, err := eng.Submit(ctx, toolcall.Request{Name: "blocker", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		Eventually(entered).Should(BeClosed())

		for i := 0; i < 8; i++ {
			_, err := eng.Submit(ctx, toolcall.Request{Name: "queued", Backend: "github"})
			Expect(err).NotTo(HaveOccurred())
		}

		_, err = eng.Submit(ctx, toolcall.Request{Name: "overflow", Backend: "github"})
		Expect(failure.KindOf(err)).To(Equal(failure.CapacityExceeded))
		Expect(eng.Stats().QueuedByPriority).To(HaveKeyWithValue("normal", 8))

		close(gate)
		eng.Stop()
	})

	It("should resolve abandoned submissions as canceled", func() {
		eng.Start(ctx)

		_, err := eng.Submit(ctx, toolcall.Request{Name: "blocker", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		Eventually(entered).Should(BeClosed())

		reqCtx, reqCancel := context.WithCancel(ctx)
		abandoned, err := eng.Submit(reqCtx, toolcall.Request{Name: "abandoned", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		reqCancel()

		close(gate)

		var res toolcall.Result
		Eventually(abandoned).Should(Receive(&res))
		Expect(res.Kind).To(Equal(failure.Canceled))

		eng.Stop()
	})

	It("should cancel whatever is still queued on Stop", func() {
		eng.Start(ctx)

		_, err := eng.Submit(ctx, toolcall.Request{Name: "blocker", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		Eventually(entered).Should(BeClosed())

		never, err := eng.Submit(ctx, toolcall.Request{Name: "never", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			eng.Stop()
		}()

		Eventually(never).Should(Receive(HaveField("Kind", failure.Canceled)))
		close(gate)
		Eventually(stopped).Should(BeClosed())
	})

	It("should refuse submissions while the loop is not running", func() {
		_, err := eng.Submit(ctx, toolcall.Request{Name: "early", Backend: "github"})
		Expect(err).To(MatchError(engine.ErrNotRunning))

		eng.Start(ctx)
		eng.Stop()

		_, err = eng.Submit(ctx, toolcall.Request{Name: "late", Backend: "github"})
		Expect(err).To(MatchError(engine.ErrNotRunning))
		Expect(eng.Stats().Queued).To(BeZero())
	})

	It("should stop accepting work when the parent context ends", func() {
		eng.Start(ctx)
		cancel()

		Eventually(func() error {
			_, err := eng.Submit(context.Background(), toolcall.Request{Name: "late", Backend: "github"})
			return err
		}).Should(MatchError(engine.ErrNotRunning))

		eng.Stop()
	})

	Describe("batches", func() {
		It("should order a batch by priority behind running work", func() {
			eng.Start(ctx)
			defer eng.Stop()

			_, err := eng.Submit(ctx, toolcall.Request{Name: "blocker", Backend: "github"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(entered).Should(BeClosed())

			type batchOutcome struct {
				results []toolcall.Result
				err     error
			}
			done := make(chan batchOutcome, 1)
			go func() {
				results, err := eng.ExecuteParallel(ctx, []toolcall.Request{
					{Name: "low-1", Backend: "github", Priority: toolcall.PriorityLow},
					{Name: "low-2", Backend: "github", Priority: toolcall.PriorityLow},
					{Name: "low-3", Backend: "github", Priority: toolcall.PriorityLow},
					{Name: "critical", Backend: "github", Priority: toolcall.PriorityCritical},
					{Name: "low-4", Backend: "github", Priority: toolcall.PriorityLow},
				})
				done <- batchOutcome{results: results, err: err}
			}()

			Eventually(func() int { return eng.Stats().Queued }).Should(Equal(5))
			close(gate)

			var outcome batchOutcome
			Eventually(done).Should(Receive(&outcome))
			Expect(outcome.err).NotTo(HaveOccurred())
			Expect(outcome.results).To(HaveLen(5))
			Expect(outcome.results[3].Name).To(Equal("critical"))
			Expect(outcome.results).To(HaveEach(HaveField("Success", true)))

			mutex.Lock()
			defer mutex.Unlock()
			Expect(order).To(Equal([]string{"critical", "low-1", "low-2", "low-3", "low-4"}))
		})

		It("should withdraw queued batch requests when the batch is canceled", func() {
			eng.Start(ctx)

			_, err := eng.Submit(ctx, toolcall.Request{Name: "blocker", Backend: "github"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(entered).Should(BeClosed())

			batchCtx, batchCancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer batchCancel()

			results, err := eng.ExecuteParallel(batchCtx, []toolcall.Request{
				{Name: "a", Backend: "github"},
				{Name: "b", Backend: "github", Priority: toolcall.PriorityHigh},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveEach(HaveField("Kind", failure.Canceled)))
			Expect(eng.Stats().Queued).To(BeZero())

			close(gate)
			eng.Stop()
		})
	})

	It("should not leak the dispatcher goroutine", func() {
		defer goleak.VerifyNone(GinkgoT(), goleak.IgnoreCurrent())

		eng.Start(ctx)
		eng.Start(ctx)

		ch, err := eng.Submit(ctx, toolcall.Request{Name: "quick", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		Eventually(ch, time.Second).Should(Receive(HaveField("Success", true)))

		eng.Stop()
		eng.Stop()
	})
})
