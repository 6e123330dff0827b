package backend_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tool-dispatcher/internal/backend"
)

var _ = Describe("Backend", func() {
	var b *backend.Backend

	BeforeEach(func() {
		b = backend.New("github", 2)
	})

	It("should start healthy with no samples", func() {
		Expect(b.Name()).To(Equal("github"))
		Expect(b.Weight()).To(Equal(2))
		Expect(b.IsHealthy()).To(BeTrue())
		rate, samples := b.SuccessRate()
		Expect(rate).To(Equal(1.0))
		Expect(samples).To(BeZero())
		Expect(b.EWMATime()).To(BeZero())
	})

	It("should raise non-positive weights to one", func() {
		Expect(backend.New("jira", 0).Weight()).To(Equal(1))
	})

	It("should report health changes only once", func() {
		Expect(b.SetHealthy(false)).To(BeTrue())
		Expect(b.SetHealthy(false)).To(BeFalse())
		Expect(b.IsHealthy()).To(BeFalse())
	})

	It("should never drop in-flight below zero", func() {
		b.IncrementInFlight()
		b.DecrementInFlight()
		b.DecrementInFlight()
		Expect(b.InFlight()).To(BeZero())
	})

	It("should track outcomes and latency", func() {
		b.RecordOutcome(true, 100*time.Millisecond)
		b.RecordOutcome(false, 300*time.Millisecond)

		stats := b.Stats()
		Expect(stats.Total).To(Equal(int64(2)))
		Expect(stats.Successes).To(Equal(int64(1)))
		Expect(stats.SuccessRate).To(Equal(0.5))
		Expect(stats.AvgLatency).To(Equal(200 * time.Millisecond))
		Expect(b.EWMATime()).To(Equal(140 * time.Millisecond))
	})
})
