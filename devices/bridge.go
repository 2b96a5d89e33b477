package devices

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
)

// Bridge connects two buses. It is a minion on the near bus, where it owns a
// window, and a master on the far bus. Every word of a near transaction is
// forwarded as a single read or write on the far bus, so the far bus keeps
// its own clock and costs.
type Bridge struct {
	name       string
	window     bus.AddressRange
	remoteBase bus.Addr
	port       *bus.MinionPort
	master     *bus.MasterPort

	lock      sync.Mutex
	forwarded uint64
	lastErr   error
}

// Name returns the name of the bridge.
func (b *Bridge) Name() string {
	return b.name
}

// Port returns the minion port on the near bus.
func (b *Bridge) Port() *bus.MinionPort {
	return b.port
}

// Master returns the master port on the far bus.
func (b *Bridge) Master() *bus.MasterPort {
	return b.master
}

// Range returns the window owned on the near bus.
func (b *Bridge) Range() bus.AddressRange {
	return b.window
}

// Forwarded returns the number of words carried across so far.
func (b *Bridge) Forwarded() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.forwarded
}

// LastError returns the last error reported by the far bus.
func (b *Bridge) LastError() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.lastErr
}

// RemoteAddr translates a near address into the far address space.
func (b *Bridge) RemoteAddr(addr bus.Addr) bus.Addr {
	return addr - b.window.Base + b.remoteBase
}

// Run serves the near bus until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	return Serve(ctx, b)
}

// Accepts returns true for the canonical read and write operations. Device
// opcodes have no meaning on the far side.
func (b *Bridge) Accepts(txn bus.Transaction) bool {
	return !txn.Op.IsCustom()
}

// Handle forwards the words of one near transaction. A far fault does not
// stall the near bus: the read word is zero and the written word is dropped.
func (b *Bridge) Handle(ctx context.Context, txn bus.Transaction) error {
	for i := uint32(0); i < txn.Remaining; i++ {
		addr := txn.Address + bus.Addr(i)

		var err error
		if txn.Op.CanRead() {
			err = b.forwardRead(ctx, addr)
		} else {
			err = b.forwardWrite(ctx, addr)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (b *Bridge) forwardRead(ctx context.Context, addr bus.Addr) error {
	w, err := b.master.Read(ctx, b.RemoteAddr(addr))
	if err != nil {
		if ctx.Err() != nil {
			return err
		}

		b.farFailed(err)
		w = 0
	} else {
		b.count()
	}

	return b.port.SendReadData(ctx, w)
}

func (b *Bridge) forwardWrite(ctx context.Context, addr bus.Addr) error {
	w, err := b.port.ReceiveWriteData(ctx)
	if err != nil {
		return err
	}

	err = b.master.Write(ctx, b.RemoteAddr(addr), w)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}

		b.farFailed(err)

		return nil
	}

	b.count()

	return nil
}

func (b *Bridge) count() {
	b.lock.Lock()
	b.forwarded++
	b.lock.Unlock()
}

func (b *Bridge) farFailed(err error) {
	err = errors.Wrapf(err, "%s far side", b.name)
	log.Print(err)

	b.lock.Lock()
	b.lastErr = err
	b.lock.Unlock()
}

// BridgeBuilder can build bridges.
type BridgeBuilder struct {
	window     bus.AddressRange
	remoteBase bus.Addr
	remoteSet  bool
}

// MakeBridgeBuilder creates a builder for a bridge without a window. The far
// addresses equal the near addresses unless WithRemoteBase is given.
func MakeBridgeBuilder() BridgeBuilder {
	return BridgeBuilder{}
}

// WithWindow sets the range the bridge owns on the near bus.
func (b BridgeBuilder) WithWindow(window bus.AddressRange) BridgeBuilder {
	b.window = window
	return b
}

// WithRemoteBase maps the first address of the window to base on the far
// bus.
func (b BridgeBuilder) WithRemoteBase(base bus.Addr) BridgeBuilder {
	b.remoteBase = base
	b.remoteSet = true

	return b
}

// Build creates a bridge that serves near and forwards to far.
func (b BridgeBuilder) Build(name string, near, far *bus.Bus) *Bridge {
	if b.window.Size == 0 {
		panic("bridge window must not be empty")
	}

	if near == far {
		panic("bridge must connect two different buses")
	}

	br := &Bridge{
		name:       name,
		window:     b.window,
		remoteBase: b.window.Base,
	}

	if b.remoteSet {
		br.remoteBase = b.remoteBase
	}

	br.port = near.NewMinionPort(name+".Port", b.window)
	br.master = far.AttachMaster(name + ".Master")

	return br
}
