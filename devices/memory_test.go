package devices_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/devices"
)

var _ = Describe("Memory", func() {
	var (
		b      *bus.Bus
		memory *devices.Memory
		master *bus.MasterPort
		stop   func()
		ctx    context.Context
	)

	BeforeEach(func() {
		b = bus.MakeBuilder().
			WithAckTimeout(200 * time.Millisecond).
			Build()
		memory = devices.MakeMemoryBuilder().
			WithBase(0x100).
			WithSize(16).
			Build("Memory", b)
		master = b.AttachMaster("Agent")
		ctx = context.Background()

		stop = startAll(memory)
	})

	AfterEach(func() {
		stop()
	})

	It("should own its range", func() {
		Expect(memory.Range()).To(Equal(bus.AddressRange{Base: 0x100, Size: 16}))
		Expect(memory.Port().Owns(0x10f)).To(BeTrue())
		Expect(memory.Port().Owns(0x110)).To(BeFalse())
	})

	It("should serve preloaded words", func() {
		memory.Preload(0x104, []bus.Word{7, 8, 9})

		words, err := master.ReadBurst(ctx, 0x104, 3)

		Expect(err).NotTo(HaveOccurred())
		Expect(words).To(Equal([]bus.Word{7, 8, 9}))
	})

	It("should store written words", func() {
		Expect(master.Write(ctx, 0x101, 42)).To(Succeed())
		Expect(master.WriteBurst(ctx, 0x108, []bus.Word{1, 2, 3, 4})).
			To(Succeed())

		Eventually(func() bus.Word { return memory.Peek(0x10b) }).
			Should(Equal(bus.Word(4)))
		Expect(memory.Peek(0x101)).To(Equal(bus.Word(42)))
	})

	It("should read back what was written", func() {
		data := []bus.Word{0xdead, 0xbeef, 0xcafe, 0xf00d, 0x1234}

		Expect(master.WriteBurst(ctx, 0x100, data)).To(Succeed())
		words, err := master.ReadBurst(ctx, 0x100, uint32(len(data)))

		Expect(err).NotTo(HaveOccurred())
		Expect(words).To(Equal(data))
	})

	It("should read zeros past its end", func() {
		memory.Preload(0x10f, []bus.Word{5})

		words, err := master.ReadBurst(ctx, 0x10f, 3)

		Expect(err).NotTo(HaveOccurred())
		Expect(words).To(Equal([]bus.Word{5, 0, 0}))
	})

	It("should not acknowledge device opcodes", func() {
		_, err := master.ReadOp(ctx, 0x100, bus.OpCustom(3), 1)

		Expect(errors.Is(err, bus.ErrUnroutedAddress)).To(BeTrue())
	})

	It("should panic on preloading outside its range", func() {
		Expect(func() { memory.Preload(0x0ff, []bus.Word{1}) }).To(Panic())
	})
})
