package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/arbus/sim"
	"go.uber.org/mock/gomock"
)

var _ = Describe("BusyTimeTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		t          *BusyTimeTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		t = NewBusyTimeTracer(timeTeller, nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	at := func(now sim.VTimeInSec) {
		timeTeller.EXPECT().CurrentTime().Return(now)
	}

	It("should count a single task", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(3)
		t.EndTask(Task{ID: "1"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(2)))
	})

	It("should count overlapping tasks once", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(2)
		t.StartTask(Task{ID: "2"})
		at(3)
		t.EndTask(Task{ID: "1"})
		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(0)))

		at(5)
		t.EndTask(Task{ID: "2"})
		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(4)))
	})

	It("should sum disjoint tasks", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(2)
		t.EndTask(Task{ID: "1"})
		at(4)
		t.StartTask(Task{ID: "2"})
		at(7)
		t.EndTask(Task{ID: "2"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(4)))
	})

	It("should ignore filtered tasks", func() {
		t = NewBusyTimeTracer(timeTeller, KindIs("bus_transaction"))

		at(1)
		t.StartTask(Task{ID: "1", Kind: "other"})
		at(3)
		t.EndTask(Task{ID: "1"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(0)))
	})

	It("should close unfinished tasks on termination", func() {
		at(1)
		t.StartTask(Task{ID: "1"})

		t.TerminateAllTasks(4)

		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(3)))
	})

	It("should report utilization", func() {
		at(0)
		t.StartTask(Task{ID: "1"})
		at(2)
		t.EndTask(Task{ID: "1"})
		at(8)

		Expect(t.Utilization()).To(BeNumerically("~", 0.25, 1e-9))
	})
})
