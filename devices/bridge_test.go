package devices_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/devices"
	"github.com/sarchlab/arbus/sim"
)

var _ = Describe("Bridge", func() {
	var (
		near, far *bus.Bus
		dram      *devices.Memory
		bridge    *devices.Bridge
		master    *bus.MasterPort
		stop      func()
		ctx       context.Context
	)

	BeforeEach(func() {
		near = bus.MakeBuilder().
			WithName("Internal").
			WithAckTimeout(time.Second).
			Build()
		far = bus.MakeBuilder().
			WithName("External").
			WithFreq(100 * sim.MHz).
			WithCosts(bus.Costs{
				Request:     1,
				Arbitrate:   1,
				Acknowledge: 1,
				ReadWord:    2,
				WriteWord:   1,
			}).
			WithAckTimeout(20 * time.Millisecond).
			Build()

		dram = devices.MakeMemoryBuilder().
			WithBase(0x1000).
			WithSize(64).
			Build("Dram", far)
		bridge = devices.MakeBridgeBuilder().
			WithWindow(bus.AddressRange{Base: 0x400, Size: 64}).
			WithRemoteBase(0x1000).
			Build("Bridge", near, far)
		master = near.AttachMaster("Cpu")
		ctx = context.Background()

		stop = startAll(dram, bridge)
	})

	AfterEach(func() {
		stop()
	})

	It("should translate near addresses", func() {
		Expect(bridge.Range()).
			To(Equal(bus.AddressRange{Base: 0x400, Size: 64}))
		Expect(bridge.RemoteAddr(0x405)).To(Equal(bus.Addr(0x1005)))
		Expect(bridge.Master().ID()).To(Equal(0))
	})

	It("should carry a burst across and read it back", func() {
		words := []bus.Word{3, 1, 4, 1}

		Expect(master.WriteBurst(ctx, 0x408, words)).To(Succeed())
		Eventually(func() bus.Word { return dram.Peek(0x100b) }).
			Should(Equal(bus.Word(1)))
		Expect(dram.Peek(0x1008)).To(Equal(bus.Word(3)))

		read, err := master.ReadBurst(ctx, 0x408, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(read).To(Equal(words))

		Expect(bridge.Forwarded()).To(Equal(uint64(8)))
		Expect(bridge.LastError()).NotTo(HaveOccurred())
		Expect(near.Stats().Retired).To(Equal(uint64(2)))
		Expect(far.Stats().Retired).To(Equal(uint64(8)))
		Expect(far.State().Cycle).To(Equal(uint64(4*4 + 4*5)))
		Expect(far.CurrentTime()).
			To(BeNumerically("~", sim.VTimeInSec(36e-8), 1e-12))
	})

	It("should keep the near bus going when the far side faults", func() {
		lost := devices.MakeBridgeBuilder().
			WithWindow(bus.AddressRange{Base: 0x800, Size: 4}).
			WithRemoteBase(0x9000).
			Build("Lost", near, far)
		stopLost := startAll(lost)
		defer stopLost()

		w, err := master.Read(ctx, 0x801)
		Expect(err).NotTo(HaveOccurred())
		Expect(w).To(BeZero())
		Expect(errors.Is(lost.LastError(), bus.ErrUnroutedAddress)).To(BeTrue())

		Expect(master.Write(ctx, 0x400, 6)).To(Succeed())
		Eventually(func() bus.Word { return dram.Peek(0x1000) }).
			Should(Equal(bus.Word(6)))
		Expect(near.State().Arbiter).To(Equal(bus.StateIdle))
	})

	It("should not accept device opcodes", func() {
		Expect(bridge.Accepts(bus.Transaction{Op: bus.OpCustom(1)})).
			To(BeFalse())
		Expect(bridge.Accepts(bus.Transaction{Op: bus.OpBurstRead})).
			To(BeTrue())
	})

	It("should panic without a window or on a single bus", func() {
		Expect(func() {
			devices.MakeBridgeBuilder().Build("Bad", near, far)
		}).To(Panic())
		Expect(func() {
			devices.MakeBridgeBuilder().
				WithWindow(bus.AddressRange{Base: 0, Size: 1}).
				Build("Bad", near, near)
		}).To(Panic())
	})
})
