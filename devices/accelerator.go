package devices

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
)

// Device opcodes understood by the accelerator.
var (
	// OpReadStatus reads the status word. Reading StatusDone resets the
	// status to StatusIdle.
	OpReadStatus = bus.OpCustom(0)

	// OpStartCompute is a zero-length signal that starts a computation over
	// the current register values.
	OpStartCompute = bus.OpCustom(1)
)

// Status words reported by OpReadStatus.
const (
	StatusIdle bus.Word = iota
	StatusBusy
	StatusDone
	StatusError
)

// A ComputeFunc is the black-box computation of an accelerator. It receives
// a copy of the argument registers and may issue its own bus transactions
// through master, which is nil if the accelerator has no master port. The
// results are written into the result registers.
type ComputeFunc func(
	ctx context.Context,
	master *bus.MasterPort,
	args []bus.Word,
) ([]bus.Word, error)

// Accelerator is a control-register minion. The first registers hold the
// arguments of the computation and the registers from the result offset on
// hold its results.
type Accelerator struct {
	name         string
	base         bus.Addr
	resultOffset int
	compute      ComputeFunc
	port         *bus.MinionPort
	master       *bus.MasterPort

	lock    sync.Mutex
	regs    []bus.Word
	status  bus.Word
	lastErr error
	runs    sync.WaitGroup
}

// Name returns the name of the accelerator.
func (a *Accelerator) Name() string {
	return a.name
}

// Port returns the minion port of the accelerator.
func (a *Accelerator) Port() *bus.MinionPort {
	return a.port
}

// Master returns the master port of the accelerator, or nil.
func (a *Accelerator) Master() *bus.MasterPort {
	return a.master
}

// Range returns the register window.
func (a *Accelerator) Range() bus.AddressRange {
	return bus.AddressRange{Base: a.base, Size: uint64(len(a.regs))}
}

// ResultAddr returns the address of the first result register.
func (a *Accelerator) ResultAddr() bus.Addr {
	return a.base + bus.Addr(a.resultOffset)
}

// Status returns the current status word.
func (a *Accelerator) Status() bus.Word {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.status
}

// LastError returns the error of the last failed computation.
func (a *Accelerator) LastError() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.lastErr
}

// Wait blocks until no computation is running.
func (a *Accelerator) Wait() {
	a.runs.Wait()
}

// Run serves the bus until ctx is done. Computations still running when ctx
// is done see the cancellation through their context.
func (a *Accelerator) Run(ctx context.Context) error {
	err := Serve(ctx, a)
	a.runs.Wait()

	return err
}

// Accepts returns true for the canonical operations and the accelerator
// opcodes. OpStartCompute must carry no data.
func (a *Accelerator) Accepts(txn bus.Transaction) bool {
	switch txn.Op {
	case OpReadStatus:
		return true
	case OpStartCompute:
		return txn.Remaining == 0
	default:
		return !txn.Op.IsCustom()
	}
}

// Handle serves register accesses and the accelerator opcodes.
func (a *Accelerator) Handle(ctx context.Context, txn bus.Transaction) error {
	switch txn.Op {
	case OpStartCompute:
		a.start(ctx)
		return nil
	case OpReadStatus:
		return a.sendStatus(ctx, txn.Remaining)
	}

	offset := int(txn.Address - a.base)
	for i := 0; i < int(txn.Remaining); i++ {
		var err error
		if txn.Op.CanRead() {
			err = a.port.SendReadData(ctx, a.register(offset+i))
		} else {
			err = a.receive(ctx, offset+i)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (a *Accelerator) register(i int) bus.Word {
	a.lock.Lock()
	defer a.lock.Unlock()

	if i >= len(a.regs) {
		return 0
	}

	return a.regs[i]
}

func (a *Accelerator) receive(ctx context.Context, i int) error {
	w, err := a.port.ReceiveWriteData(ctx)
	if err != nil {
		return err
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	if i < len(a.regs) {
		a.regs[i] = w
	}

	return nil
}

func (a *Accelerator) sendStatus(ctx context.Context, n uint32) error {
	for i := uint32(0); i < n; i++ {
		a.lock.Lock()
		status := a.status
		if status == StatusDone {
			a.status = StatusIdle
		}
		a.lock.Unlock()

		if err := a.port.SendReadData(ctx, status); err != nil {
			return err
		}
	}

	return nil
}

func (a *Accelerator) start(ctx context.Context) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.status == StatusBusy {
		log.Printf("%s: start ignored, still computing", a.name)
		return
	}

	args := append([]bus.Word(nil), a.regs[:a.resultOffset]...)
	a.status = StatusBusy
	a.lastErr = nil

	a.runs.Add(1)
	go a.run(ctx, args)
}

func (a *Accelerator) run(ctx context.Context, args []bus.Word) {
	defer a.runs.Done()

	results, err := a.compute(ctx, a.master, args)

	a.lock.Lock()
	defer a.lock.Unlock()

	if err != nil {
		a.lastErr = errors.Wrapf(err, "%s compute", a.name)
		a.status = StatusError

		return
	}

	copy(a.regs[a.resultOffset:], results)
	a.status = StatusDone
}

// DotProduct computes the dot product of a row of n consecutive words at
// args[0] and a column of n words starting at args[1] with a stride of
// args[3] words. args[2] is n. The row is fetched with one burst and the
// column with single reads.
func DotProduct(
	ctx context.Context,
	master *bus.MasterPort,
	args []bus.Word,
) ([]bus.Word, error) {
	if master == nil {
		return nil, errors.New("dot product needs a master port")
	}

	if len(args) < 4 {
		return nil, errors.Errorf("dot product needs 4 arguments, got %d",
			len(args))
	}

	rowAddr, colAddr := bus.Addr(args[0]), bus.Addr(args[1])
	n, stride := uint32(args[2]), bus.Addr(args[3])

	row, err := master.ReadBurst(ctx, rowAddr, n)
	if err != nil {
		return nil, err
	}

	var sum bus.Word
	for i := uint32(0); i < n; i++ {
		w, err := master.Read(ctx, colAddr+bus.Addr(i)*stride)
		if err != nil {
			return nil, err
		}

		sum += row[i] * w
	}

	return []bus.Word{sum}, nil
}

// AcceleratorBuilder can build accelerators.
type AcceleratorBuilder struct {
	base         bus.Addr
	numRegs      int
	resultOffset int
	compute      ComputeFunc
	withMaster   bool
}

// MakeAcceleratorBuilder creates a builder for an 8-register dot-product
// accelerator with a master port. Registers 0 to 3 are arguments and
// register 4 receives the result.
func MakeAcceleratorBuilder() AcceleratorBuilder {
	return AcceleratorBuilder{
		numRegs:      8,
		resultOffset: 4,
		compute:      DotProduct,
		withMaster:   true,
	}
}

// WithBase sets the address of register 0.
func (b AcceleratorBuilder) WithBase(base bus.Addr) AcceleratorBuilder {
	b.base = base
	return b
}

// WithNumRegisters sets the size of the register window.
func (b AcceleratorBuilder) WithNumRegisters(n int) AcceleratorBuilder {
	b.numRegs = n
	return b
}

// WithResultOffset sets the index of the first result register.
func (b AcceleratorBuilder) WithResultOffset(offset int) AcceleratorBuilder {
	b.resultOffset = offset
	return b
}

// WithCompute sets the computation started by OpStartCompute.
func (b AcceleratorBuilder) WithCompute(f ComputeFunc) AcceleratorBuilder {
	b.compute = f
	return b
}

// WithoutMaster builds the accelerator without a master port. The compute
// function then receives a nil master.
func (b AcceleratorBuilder) WithoutMaster() AcceleratorBuilder {
	b.withMaster = false
	return b
}

func (b AcceleratorBuilder) parametersMustBeValid() {
	if b.numRegs <= 0 {
		panic("accelerator must have registers")
	}

	if b.resultOffset < 0 || b.resultOffset > b.numRegs {
		panic("result offset must be within the register window")
	}

	if b.compute == nil {
		panic("accelerator needs a compute function")
	}
}

// Build creates an accelerator on the given bus.
func (b AcceleratorBuilder) Build(name string, onBus *bus.Bus) *Accelerator {
	b.parametersMustBeValid()

	a := &Accelerator{
		name:         name,
		base:         b.base,
		resultOffset: b.resultOffset,
		compute:      b.compute,
		regs:         make([]bus.Word, b.numRegs),
	}

	a.port = onBus.NewMinionPort(name+".Port", a.Range())

	if b.withMaster {
		a.master = onBus.AttachMaster(name + ".Master")
	}

	return a
}
