package retry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
	"github.com/angeloszaimis/tool-dispatcher/internal/retry"
)

var _ = Describe("Policy", func() {
	var policy retry.Policy

	BeforeEach(func() {
		policy = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    10 * time.Millisecond,
		}
	})

	Describe("Execute", func() {
		It("should stop after the first success", func() {
			calls := 0
			attempts, err := policy.Execute(context.Background(), func(context.Context, int) error {
				calls++
				return nil
			}, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(Equal(1))
			Expect(calls).To(Equal(1))
		})

		It("should invoke a permanently failing retryable operation exactly max attempts times", func() {
			calls := 0
			var last error
			attempts, err := policy.Execute(context.Background(), func(_ context.Context, attempt int) error {
				calls++
				last = failure.Wrap(failure.Connection, "github", fmt.Errorf("refused on attempt %d", attempt))
				return last
			}, nil)

			Expect(calls).To(Equal(3))
			Expect(attempts).To(Equal(3))
			Expect(err).To(BeIdenticalTo(last))
			Expect(err.Error()).To(ContainSubstring("attempt 3"))
		})

		It("should return non-retryable errors immediately", func() {
			calls := 0
			boom := errors.New("bad arguments")
			attempts, err := policy.Execute(context.Background(), func(context.Context, int) error {
				calls++
				return boom
			}, nil)

			Expect(calls).To(Equal(1))
			Expect(attempts).To(Equal(1))
			Expect(err).To(MatchError(boom))
		})

		It("should succeed after transient failures", func() {
			attempts, err := policy.Execute(context.Background(), func(_ context.Context, attempt int) error {
				if attempt < 3 {
					return failure.New(failure.Timeout, "jira", "slow")
				}
				return nil
			}, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(Equal(3))
		})

		It("should honor a custom predicate", func() {
			calls := 0
			_, err := policy.Execute(context.Background(), func(context.Context, int) error {
				calls++
				return errors.New("anything")
			}, func(error) bool { return true })

			Expect(err).To(HaveOccurred())
			Expect(calls).To(Equal(3))
		})

		It("should report each retry to OnRetry", func() {
			var seen []int
			policy.OnRetry = func(attempt int, delay time.Duration, err error) {
				seen = append(seen, attempt)
				Expect(delay).To(BeNumerically("<=", policy.MaxDelay))
				Expect(err).To(HaveOccurred())
			}

			_, _ = policy.Execute(context.Background(), func(context.Context, int) error {
				return failure.New(failure.Connection, "github", "reset")
			}, nil)

			Expect(seen).To(Equal([]int{1, 2}))
		})

		It("should sleep the policy delay between attempts", func() {
			policy.BaseDelay = 20 * time.Millisecond
			policy.MaxDelay = time.Second

			var stamps []time.Time
			_, _ = policy.Execute(context.Background(), func(context.Context, int) error {
				stamps = append(stamps, time.Now())
				return failure.New(failure.Connection, "github", "reset")
			}, nil)

			Expect(stamps).To(HaveLen(3))
			Expect(stamps[1].Sub(stamps[0])).To(BeNumerically(">=", 20*time.Millisecond))
			Expect(stamps[2].Sub(stamps[1])).To(BeNumerically(">=", 40*time.Millisecond))
		})

		It("should abort the backoff sleep when the context ends", func() {
			policy.BaseDelay = time.Hour
			policy.MaxDelay = time.Hour
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			start := time.Now()
			calls := 0
			attempts, err := policy.Execute(ctx, func(context.Context, int) error {
				calls++
				return failure.New(failure.Connection, "github", "reset")
			}, nil)

			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(calls).To(Equal(1))
			Expect(attempts).To(Equal(1))
			Expect(failure.KindOf(err)).To(Equal(failure.Connection))
		})
	})

	Describe("Delay", func() {
		DescribeTable("exponential backoff without jitter",
			func(attempt int, expected time.Duration) {
				p := retry.Policy{BaseDelay: time.Second, MaxDelay: 60 * time.Second}
				Expect(p.Delay(attempt)).To(Equal(expected))
			},
			Entry("first retry", 0, time.Second),
			Entry("second retry", 1, 2*time.Second),
			Entry("third retry", 2, 4*time.Second),
			Entry("capped at max delay", 10, 60*time.Second),
		)

		It("should add jitter within the configured bound", func() {
			p := retry.DefaultPolicy()
			for i := 0; i < 50; i++ {
				d := p.Delay(1)
				Expect(d).To(BeNumerically(">=", 2*time.Second))
				Expect(d).To(BeNumerically("<", 3*time.Second))
			}
		})

		It("should never exceed max delay with jitter", func() {
			p := retry.Policy{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Jitter: time.Second}
			for i := 0; i < 50; i++ {
				Expect(p.Delay(1)).To(Equal(2 * time.Second))
			}
		})
	})
})
