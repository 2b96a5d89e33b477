package bus

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Arbiter", func() {
	var (
		l *ledger
		a *arbiter
	)

	attach := func(n int) {
		for i := 0; i < n; i++ {
			l.register("Master")
			a.addMaster()
		}
	}

	enqueue := func(masterID int, id string) *pending {
		p := newPending(masterID, id)
		Expect(l.enqueue(masterID, p, a.grantSeq)).To(Succeed())

		return p
	}

	BeforeEach(func() {
		l = newLedger("Bus", 0)
		a = &arbiter{rotationCheck: true}
	})

	It("should stay idle without masters", func() {
		Expect(a.grantNext(l)).To(BeNil())
		Expect(a.state).To(Equal(StateIdle))
	})

	It("should grant master 0 then master 1 when both wait", func() {
		attach(2)
		p0 := enqueue(0, "T0")
		p1 := enqueue(1, "T1")

		Expect(a.grantNext(l)).To(BeIdenticalTo(p0))
		Expect(a.state).To(Equal(StateServing))
		Expect(a.cursor).To(Equal(1))
		Expect(p0.granted).To(BeTrue())
		Expect(p0.seq).To(Equal(uint64(1)))

		a.release()

		Expect(a.grantNext(l)).To(BeIdenticalTo(p1))
		Expect(a.cursor).To(Equal(0))
		Expect(p1.seq).To(Equal(uint64(2)))
	})

	It("should not grant while serving", func() {
		attach(2)
		enqueue(0, "T0")
		enqueue(1, "T1")

		a.grantNext(l)

		Expect(a.grantNext(l)).To(BeNil())
		Expect(l.depths()).To(Equal([]int{0, 1}))
	})

	It("should advance the cursor by one on an empty scan", func() {
		attach(3)

		Expect(a.grantNext(l)).To(BeNil())
		Expect(a.cursor).To(Equal(1))
		Expect(a.grantNext(l)).To(BeNil())
		Expect(a.cursor).To(Equal(2))
		Expect(a.grantNext(l)).To(BeNil())
		Expect(a.cursor).To(Equal(0))
	})

	It("should wrap around from the cursor", func() {
		attach(3)
		a.cursor = 2
		p0 := enqueue(0, "T0")
		p2 := enqueue(2, "T2")

		Expect(a.grantNext(l)).To(BeIdenticalTo(p2))
		a.release()
		Expect(a.grantNext(l)).To(BeIdenticalTo(p0))
	})

	It("should skip empty queues", func() {
		attach(3)
		p2 := enqueue(2, "T2")

		Expect(a.grantNext(l)).To(BeIdenticalTo(p2))
		Expect(a.cursor).To(Equal(0))
	})

	It("should rotate among busy masters", func() {
		attach(3)
		for round := 0; round < 3; round++ {
			for m := 0; m < 3; m++ {
				enqueue(m, "T")
			}
		}

		order := []int{}
		for {
			p := a.grantNext(l)
			if p == nil {
				break
			}

			order = append(order, p.MasterID)
			a.release()
		}

		Expect(order).To(Equal([]int{0, 1, 2, 0, 1, 2, 0, 1, 2}))
	})

	It("should let a newcomer in before a repeated grant", func() {
		attach(3)
		enqueue(0, "T0a")
		enqueue(0, "T0b")

		Expect(a.grantNext(l).ID).To(Equal("T0a"))
		enqueue(2, "T2")
		a.release()

		Expect(a.grantNext(l).ID).To(Equal("T2"))
		a.release()
		Expect(a.grantNext(l).ID).To(Equal("T0b"))
	})

	It("should panic if the rotation is broken", func() {
		attach(2)
		enqueue(0, "T0a")
		enqueue(1, "T1")

		a.grantNext(l)
		a.release()
		enqueue(0, "T0b")

		// Pretend the cursor did not move past master 0.
		a.cursor = 0

		Expect(func() { a.grantNext(l) }).To(Panic())
	})
})
