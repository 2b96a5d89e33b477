package bus

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func newPending(masterID int, id string) *pending {
	return &pending{
		Transaction: Transaction{ID: id, MasterID: masterID},
	}
}

var _ = Describe("Ledger", func() {
	var l *ledger

	BeforeEach(func() {
		l = newLedger("Bus", 0)
		l.register("Cpu")
		l.register("Dma")
	})

	It("should name its queues after the bus", func() {
		Expect(l.queue(1).Name()).To(Equal("Bus.Queue[1]"))
		Expect(l.numMasters()).To(Equal(2))
	})

	It("should reject unknown masters", func() {
		err := l.enqueue(2, newPending(2, "T1"), 0)
		Expect(errors.Is(err, ErrUnknownMaster)).To(BeTrue())

		err = l.enqueue(-1, newPending(-1, "T1"), 0)
		Expect(errors.Is(err, ErrUnknownMaster)).To(BeTrue())
	})

	It("should keep each master's requests in order", func() {
		Expect(l.enqueue(0, newPending(0, "T1"), 0)).To(Succeed())
		Expect(l.enqueue(1, newPending(1, "T2"), 0)).To(Succeed())
		Expect(l.enqueue(0, newPending(0, "T3"), 0)).To(Succeed())

		Expect(l.depths()).To(Equal([]int{2, 1}))
		Expect(l.popHead(0, 1).ID).To(Equal("T1"))
		Expect(l.popHead(0, 2).ID).To(Equal("T3"))
		Expect(l.popHead(0, 3)).To(BeNil())
		Expect(l.empty(0)).To(BeTrue())
		Expect(l.empty(1)).To(BeFalse())
	})

	It("should reject requests beyond the capacity", func() {
		l = newLedger("Bus", 2)
		l.register("Cpu")

		Expect(l.enqueue(0, newPending(0, "T1"), 0)).To(Succeed())
		Expect(l.enqueue(0, newPending(0, "T2"), 0)).To(Succeed())

		err := l.enqueue(0, newPending(0, "T3"), 0)
		Expect(errors.Is(err, ErrQueueFull)).To(BeTrue())
	})

	It("should track since when a queue has been waiting", func() {
		Expect(l.enqueue(0, newPending(0, "T1"), 3)).To(Succeed())
		Expect(l.enqueue(0, newPending(0, "T2"), 5)).To(Succeed())
		Expect(l.waitingSince[0]).To(Equal(uint64(3)))

		l.popHead(0, 6)
		Expect(l.waitingSince[0]).To(Equal(uint64(6)))

		l.popHead(0, 7)
		Expect(l.waitingSince[0]).To(Equal(uint64(6)))
	})
})
