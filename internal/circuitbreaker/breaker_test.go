package circuitbreaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tool-dispatcher/internal/circuitbreaker"
)

var _ = Describe("CircuitBreaker", func() {
	var cb *circuitbreaker.CircuitBreaker

	trip := func() {
		cb.RecordFailure()
		cb.RecordFailure()
		cb.RecordFailure()
	}

	Describe("NewCircuitBreaker", func() {
		It("should create a circuit breaker in closed state", func() {
			cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should fill in defaults for zero thresholds", func() {
			cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
			for i := 0; i < 4; i++ {
				cb.RecordFailure()
			}
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Describe("State transitions", func() {
		BeforeEach(func() {
			cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
				FailureThreshold: 3,
				RecoveryTimeout:  100 * time.Millisecond,
				SuccessThreshold: 3,
			})
		})

		Context("when in CLOSED state", func() {
			It("should allow requests", func() {
				Expect(cb.Allow()).To(BeTrue())
			})

			It("should remain closed after failures below threshold", func() {
				cb.RecordFailure()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				Expect(cb.Allow()).To(BeTrue())
			})

			It("should transition to OPEN after three consecutive failures", func() {
				trip()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
				Expect(cb.Allow()).To(BeFalse())
			})

			It("should reset the failure count on success", func() {
				cb.RecordFailure()
				cb.RecordFailure()
				cb.RecordSuccess()
				cb.RecordFailure()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			})
		})

		Context("when in OPEN state", func() {
			BeforeEach(func() {
				trip()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should block requests", func() {
				Expect(cb.Allow()).To(BeFalse())
			})

			It("should transition to HALF_OPEN after the recovery timeout", func() {
				time.Sleep(150 * time.Millisecond)
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should remain OPEN before the recovery timeout expires", func() {
				time.Sleep(50 * time.Millisecond)
				Expect(cb.Allow()).To(BeFalse())
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should measure the recovery timeout from the last failure", func() {
				time.Sleep(80 * time.Millisecond)
				cb.RecordFailure()
				time.Sleep(50 * time.Millisecond)
				Expect(cb.Allow()).To(BeFalse())
			})
		})

		Context("when in HALF_OPEN state", func() {
			BeforeEach(func() {
				trip()
				time.Sleep(150 * time.Millisecond)
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should keep admitting probe requests", func() {
				Expect(cb.Allow()).To(BeTrue())
				Expect(cb.Allow()).To(BeTrue())
			})

			It("should stay HALF_OPEN until the success threshold is met", func() {
				cb.RecordSuccess()
				cb.RecordSuccess()
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should transition to CLOSED after three consecutive successes", func() {
				cb.RecordSuccess()
				cb.RecordSuccess()
				cb.RecordSuccess()
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			})

			It("should transition back to OPEN on a single failure", func() {
				cb.RecordSuccess()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
				Expect(cb.Allow()).To(BeFalse())
			})
		})
	})

	Describe("Snapshot", func() {
		It("should expose consecutive counters", func() {
			cb = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 5})
			cb.RecordFailure()
			cb.RecordFailure()

			snap := cb.Snapshot()
			Expect(snap.State).To(Equal(circuitbreaker.StateClosed))
			Expect(snap.ConsecutiveFailures).To(Equal(2))
			Expect(snap.LastFailure).NotTo(BeZero())
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF_OPEN"))
			Expect(circuitbreaker.State(42).String()).To(Equal("UNKNOWN"))
		})
	})
})
