package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Collector", func() {
	var (
		mockCtrl  *gomock.Controller
		tracer    *MockTracer
		collector *Collector
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)
		collector = NewCollector("Bus")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic without a location", func() {
		Expect(func() { NewCollector("") }).To(Panic())
	})

	It("should skip everything if no tracer is attached", func() {
		Expect(collector.NumTracers()).To(Equal(0))

		collector.StartTask("", "", "", "", nil)
		collector.StepTask("id", "grant")
		collector.EndTask("id")
	})

	Context("when a tracer is attached", func() {
		BeforeEach(func() {
			CollectTrace(domainWith(collector), tracer)
		})

		It("should panic if ID is not given", func() {
			Expect(func() {
				collector.StartTask("", "", "kind", "what", nil)
			}).Should(Panic())
		})

		It("should panic if kind is empty", func() {
			Expect(func() {
				collector.StartTask("id", "", "", "what", nil)
			}).Should(Panic())
		})

		It("should panic if what is empty", func() {
			Expect(func() {
				collector.StartTask("id", "", "kind", "", nil)
			}).Should(Panic())
		})

		It("should panic when the same tracer is attached twice", func() {
			Expect(func() {
				CollectTrace(domainWith(collector), tracer)
			}).To(Panic())
		})

		It("should hand the task lifecycle to the tracer in order", func() {
			gomock.InOrder(
				tracer.EXPECT().StartTask(gomock.Any()).Do(func(task Task) {
					Expect(task.ID).To(Equal("Bus.Txn1"))
					Expect(task.Kind).To(Equal("bus_transaction"))
					Expect(task.What).To(Equal("SingleRead"))
					Expect(task.Location).To(Equal("Bus"))
					Expect(task.Detail).To(Equal(42))
				}),
				tracer.EXPECT().StepTask(gomock.Any()).Do(func(task Task) {
					Expect(task.ID).To(Equal("Bus.Txn1"))
					Expect(task.Steps).To(HaveLen(1))
					Expect(task.Steps[0].What).To(Equal("grant"))
				}),
				tracer.EXPECT().EndTask(gomock.Any()).Do(func(task Task) {
					Expect(task.ID).To(Equal("Bus.Txn1"))
				}),
			)

			collector.StartTask("Bus.Txn1", "",
				"bus_transaction", "SingleRead", 42)
			collector.StepTask("Bus.Txn1", "grant")
			collector.EndTask("Bus.Txn1")
		})

		It("should hand every task to every tracer", func() {
			other := NewMockTracer(mockCtrl)
			collector.Attach(other)

			tracer.EXPECT().EndTask(Task{ID: "Bus.Txn1"})
			other.EXPECT().EndTask(Task{ID: "Bus.Txn1"})

			collector.EndTask("Bus.Txn1")
		})
	})
})

type traceableDomain struct {
	collector *Collector
}

func (d traceableDomain) TraceCollector() *Collector {
	return d.collector
}

func domainWith(c *Collector) Traceable {
	return traceableDomain{collector: c}
}
