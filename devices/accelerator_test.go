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

var _ = Describe("Accelerator", func() {
	const (
		memBase   = bus.Addr(0x0)
		accelBase = bus.Addr(0x1000)
		matSize   = 3
	)

	var (
		b      *bus.Bus
		memory *devices.Memory
		accel  *devices.Accelerator
		ctx    context.Context
	)

	BeforeEach(func() {
		b = bus.MakeBuilder().
			WithAckTimeout(time.Second).
			Build()
		memory = devices.MakeMemoryBuilder().
			WithBase(memBase).
			WithSize(64).
			Build("Memory", b)
		ctx = context.Background()

		// A is at 0, B is at 16, both row-major 3x3.
		memory.Preload(0, []bus.Word{
			1, 2, 3,
			4, 5, 6,
			7, 8, 9,
		})
		memory.Preload(16, []bus.Word{
			9, 8, 7,
			6, 5, 4,
			3, 2, 1,
		})
	})

	run := func(script ...devices.Access) *devices.Agent {
		agent := devices.MakeAgentBuilder().
			WithScript(script...).
			Build("Cpu", b)

		stop := startAll(memory, accel)
		defer stop()

		Expect(agent.Run(ctx)).To(Succeed())

		return agent
	}

	Context("with the dot product", func() {
		BeforeEach(func() {
			accel = devices.MakeAcceleratorBuilder().
				WithBase(accelBase).
				Build("Accelerator", b)
		})

		It("should compute a row times a column", func() {
			// Row 1 of A times column 2 of B: 4*7 + 5*4 + 6*1.
			agent := run(
				devices.BurstWriteAccess(accelBase, 3, 16+2, matSize, matSize),
				devices.SignalAccess(accelBase, devices.OpStartCompute),
				devices.PollAccess(accelBase, devices.OpReadStatus,
					devices.StatusDone),
				devices.ReadAccess(accel.ResultAddr()),
			)

			results := agent.Results()
			Expect(results[len(results)-1].Words).
				To(Equal([]bus.Word{4*7 + 5*4 + 6*1}))
			Expect(accel.Status()).To(Equal(devices.StatusIdle))
		})

		It("should serve its registers", func() {
			agent := run(
				devices.WriteAccess(accelBase+1, 11),
				devices.BurstReadAccess(accelBase, 2),
			)

			results := agent.Results()
			Expect(results[1].Words).To(Equal([]bus.Word{0, 11}))
		})
	})

	Context("with a failing computation", func() {
		BeforeEach(func() {
			accel = devices.MakeAcceleratorBuilder().
				WithBase(accelBase).
				WithoutMaster().
				WithCompute(devices.DotProduct).
				Build("Accelerator", b)
		})

		It("should report an error status", func() {
			run(
				devices.SignalAccess(accelBase, devices.OpStartCompute),
				devices.PollAccess(accelBase, devices.OpReadStatus,
					devices.StatusError),
			)

			Expect(accel.LastError()).To(HaveOccurred())
		})
	})

	Context("with a custom computation", func() {
		var release chan struct{}

		BeforeEach(func() {
			release = make(chan struct{})
			accel = devices.MakeAcceleratorBuilder().
				WithBase(accelBase).
				WithNumRegisters(4).
				WithResultOffset(2).
				WithoutMaster().
				WithCompute(func(
					ctx context.Context,
					_ *bus.MasterPort,
					args []bus.Word,
				) ([]bus.Word, error) {
					<-release
					return []bus.Word{args[0] + args[1], args[0] * args[1]}, nil
				}).
				Build("Accelerator", b)
		})

		It("should report busy until the computation ends", func() {
			agent := devices.MakeAgentBuilder().
				WithScript(
					devices.BurstWriteAccess(accelBase, 3, 5),
					devices.SignalAccess(accelBase, devices.OpStartCompute),
					devices.PollAccess(accelBase, devices.OpReadStatus,
						devices.StatusBusy),
				).
				Build("Cpu", b)

			stop := startAll(accel)
			defer stop()

			Expect(agent.Run(ctx)).To(Succeed())
			close(release)
			accel.Wait()

			words, err := agent.Port().ReadBurst(ctx, accel.ResultAddr(), 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(words).To(Equal([]bus.Word{8, 15}))
			Expect(accel.Status()).To(Equal(devices.StatusDone))
		})
	})

	It("should not accept a start signal that carries data", func() {
		b = bus.MakeBuilder().
			WithAckTimeout(100 * time.Millisecond).
			Build()
		accel = devices.MakeAcceleratorBuilder().
			WithBase(accelBase).
			Build("Accelerator", b)
		master := b.AttachMaster("Cpu")

		stop := startAll(accel)
		defer stop()

		_, err := master.ReadOp(ctx, accelBase, devices.OpStartCompute, 1)
		Expect(errors.Is(err, bus.ErrUnroutedAddress)).To(BeTrue())
	})
})
