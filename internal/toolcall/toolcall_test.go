package toolcall_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

var _ = Describe("Toolcall", func() {
	DescribeTable("ParsePriority",
		func(name string, expected toolcall.Priority) {
			p, err := toolcall.ParsePriority(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(Equal(expected))
			Expect(p.Valid()).To(BeTrue())
		},
		Entry("empty defaults to normal", "", toolcall.PriorityNormal),
		Entry("low", "low", toolcall.PriorityLow),
		Entry("normal", "normal", toolcall.PriorityNormal),
		Entry("high", "HIGH", toolcall.PriorityHigh),
		Entry("critical with spaces", " critical ", toolcall.PriorityCritical),
	)

	It("should reject unknown priority names", func() {
		_, err := toolcall.ParsePriority("urgent")
		Expect(err).To(MatchError(`unknown priority "urgent"`))
	})

	It("should order Priorities from highest to lowest", func() {
		Expect(toolcall.Priorities).To(Equal([]toolcall.Priority{
			toolcall.PriorityCritical, toolcall.PriorityHigh, toolcall.PriorityNormal, toolcall.PriorityLow,
		}))
		Expect(toolcall.Priority(9).Valid()).To(BeFalse())
		Expect(toolcall.Priority(9).String()).To(Equal("unknown"))
	})

	It("should encode priorities by name in JSON", func() {
		type envelope struct {
			Priority toolcall.Priority `json:"priority"`
		}

		data, err := json.Marshal(envelope{Priority: toolcall.PriorityHigh})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"priority":"high"}`))

		var decoded envelope
		Expect(json.Unmarshal([]byte(`{"priority":"critical"}`), &decoded)).To(Succeed())
		Expect(decoded.Priority).To(Equal(toolcall.PriorityCritical))
		Expect(json.Unmarshal([]byte(`{"priority":"someday"}`), &decoded)).NotTo(Succeed())
	})

	It("should adapt a function into an Executor", func() {
		var executor toolcall.Executor = toolcall.ExecutorFunc(func(ctx context.Context, req toolcall.Request) (any, error) {
			return req.Name + "@" + req.Backend, nil
		})

		data, err := executor.Execute(context.Background(), toolcall.Request{Name: "search", Backend: "github"})
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal("search@github"))
	})

	It("should route by key and fall back to the tool name", func() {
		Expect(toolcall.Request{Name: "search", Key: "repo-42"}.RoutingKey()).To(Equal("repo-42"))
		Expect(toolcall.Request{Name: "search"}.RoutingKey()).To(Equal("search"))
	})
})
