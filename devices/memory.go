package devices

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/arbus/bus"
)

// Memory is a word-addressed storage minion. Every address in its range holds
// one Word.
type Memory struct {
	name    string
	base    bus.Addr
	port    *bus.MinionPort
	lock    sync.Mutex
	storage []bus.Word
}

// Name returns the name of the memory.
func (m *Memory) Name() string {
	return m.name
}

// Port returns the minion port of the memory.
func (m *Memory) Port() *bus.MinionPort {
	return m.port
}

// Range returns the address range that the memory owns.
func (m *Memory) Range() bus.AddressRange {
	return bus.AddressRange{Base: m.base, Size: uint64(len(m.storage))}
}

// Preload stores words starting at addr without going through the bus.
func (m *Memory) Preload(addr bus.Addr, words []bus.Word) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i, w := range words {
		m.mustStore(addr+bus.Addr(i), w)
	}
}

// Peek returns the word at addr without going through the bus.
func (m *Memory) Peek(addr bus.Addr) bus.Word {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.storage[m.mustOffset(addr)]
}

func (m *Memory) mustOffset(addr bus.Addr) uint64 {
	if !m.Range().Contains(addr) {
		panic(fmt.Sprintf("address 0x%x is outside memory %s %s",
			uint64(addr), m.name, m.Range()))
	}

	return uint64(addr - m.base)
}

func (m *Memory) mustStore(addr bus.Addr, w bus.Word) {
	m.storage[m.mustOffset(addr)] = w
}

// Run serves the bus until ctx is done.
func (m *Memory) Run(ctx context.Context) error {
	return Serve(ctx, m)
}

// Accepts returns true for the canonical read and write operations.
func (m *Memory) Accepts(txn bus.Transaction) bool {
	return !txn.Op.IsCustom()
}

// Handle transfers the words of a read or a write. Words of a burst that run
// past the end of the memory read as zero and are dropped on write.
func (m *Memory) Handle(ctx context.Context, txn bus.Transaction) error {
	for i := uint32(0); i < txn.Remaining; i++ {
		addr := txn.Address + bus.Addr(i)

		var err error
		if txn.Op.CanRead() {
			err = m.port.SendReadData(ctx, m.load(addr))
		} else {
			err = m.receive(ctx, addr)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (m *Memory) load(addr bus.Addr) bus.Word {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.Range().Contains(addr) {
		log.Printf("%s: read at 0x%x is out of range", m.name, uint64(addr))
		return 0
	}

	return m.storage[addr-m.base]
}

func (m *Memory) receive(ctx context.Context, addr bus.Addr) error {
	w, err := m.port.ReceiveWriteData(ctx)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.Range().Contains(addr) {
		log.Printf("%s: write at 0x%x is out of range", m.name, uint64(addr))
		return nil
	}

	m.storage[addr-m.base] = w

	return nil
}

// MemoryBuilder can build memories.
type MemoryBuilder struct {
	base bus.Addr
	size uint64
}

// MakeMemoryBuilder creates a builder for a 4096-word memory at address 0.
func MakeMemoryBuilder() MemoryBuilder {
	return MemoryBuilder{
		size: 4096,
	}
}

// WithBase sets the first address of the memory.
func (b MemoryBuilder) WithBase(base bus.Addr) MemoryBuilder {
	b.base = base
	return b
}

// WithSize sets the number of words of the memory.
func (b MemoryBuilder) WithSize(size uint64) MemoryBuilder {
	b.size = size
	return b
}

// Build creates a memory and its port on the given bus.
func (b MemoryBuilder) Build(name string, onBus *bus.Bus) *Memory {
	if b.size == 0 {
		panic("memory size must be positive")
	}

	m := &Memory{
		name:    name,
		base:    b.base,
		storage: make([]bus.Word, b.size),
	}

	m.port = onBus.NewMinionPort(name+".Port", m.Range())

	return m
}
