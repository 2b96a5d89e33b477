package bus

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/sim"
)

// MinionPort is the handle a minion uses to observe and serve transactions.
// Minions need no registration; a port only remembers which address ranges
// its owner decodes and which grant it has seen last.
type MinionPort struct {
	bus    *Bus
	name   string
	ranges []AddressRange

	// lastSeen is the grant sequence number last returned by Listen.
	// Guarded by the bus lock.
	lastSeen uint64
}

// NewMinionPort creates a port for a minion that owns the given ranges.
func (b *Bus) NewMinionPort(name string, ranges ...AddressRange) *MinionPort {
	sim.NameMustBeValid(name)

	if len(ranges) == 0 {
		panic(fmt.Sprintf("minion %s must own at least one address range",
			name))
	}

	return &MinionPort{
		bus:    b,
		name:   name,
		ranges: append([]AddressRange(nil), ranges...),
	}
}

// Name returns the name of the port.
func (m *MinionPort) Name() string {
	return m.name
}

// Ranges returns the address ranges owned by the port.
func (m *MinionPort) Ranges() []AddressRange {
	return append([]AddressRange(nil), m.ranges...)
}

// Owns tells if addr falls in one of the port's ranges.
func (m *MinionPort) Owns(addr Addr) bool {
	for _, r := range m.ranges {
		if r.Contains(addr) {
			return true
		}
	}

	return false
}

// Listen blocks until the bus has an active transaction that this port has
// not been shown yet and returns a copy of it. A minion that does not own
// the address simply calls Listen again.
func (m *MinionPort) Listen(ctx context.Context) (Transaction, error) {
	b := m.bus

	b.core.lock()
	defer b.core.unlock()

	err := b.core.await(ctx, func() bool {
		p := b.arbiter.active
		return p != nil && p.seq > m.lastSeen
	})
	if err != nil {
		return Transaction{}, errors.Wrapf(err, "minion %s listening", m.name)
	}

	p := b.arbiter.active
	m.lastSeen = p.seq

	return p.Transaction, nil
}

// Acknowledge accepts the transaction last returned by Listen. It may be
// called once per transaction and only by a port that owns the address. A
// zero-length transaction retires here.
func (m *MinionPort) Acknowledge() error {
	b := m.bus

	b.core.lock()

	p := b.arbiter.active
	switch {
	case p == nil || p.seq != m.lastSeen:
		b.core.unlock()
		return violation("minion %s acknowledges a transaction it is not "+
			"listening to", m.name)
	case p.acknowledged:
		b.core.unlock()
		return violation("minion %s acknowledges %s twice", m.name, p.ID)
	case !m.Owns(p.Address):
		b.core.unlock()
		return violation("minion %s acknowledges %s at 0x%x outside its "+
			"ranges", m.name, p.ID, uint64(p.Address))
	}

	p.acknowledged = true
	p.owner = m
	b.stopAckTimer(p)
	b.arbiter.acknowledged = true
	delay := b.clock.advance(b.costs.Acknowledge)

	b.traceStep(p, TaskStepAcknowledge)
	b.emit(HookPosAcknowledge, p, m.name)

	if p.Remaining == 0 {
		b.retire(p)
	}

	b.core.notify()
	b.core.unlock()

	stall(delay)

	return nil
}

// dataPhaseOf returns the active transaction if this port acknowledged it
// and may transfer data in the given direction. Must be called with the lock
// held.
func (m *MinionPort) dataPhaseOf(
	call string,
	allowed func(Op) bool,
	producer bool,
) (*pending, error) {
	b := m.bus
	p := b.arbiter.active

	switch {
	case p == nil || p.owner != m:
		return nil, violation("%s by minion %s which has not acknowledged "+
			"the active transaction", call, m.name)
	case !allowed(p.Op):
		return nil, violation("%s by minion %s during %s", call, m.name, p.Op)
	case producer && b.wordsUnclaimed(p) == 0:
		return nil, violation("%s by minion %s beyond the length of %s",
			call, m.name, p.ID)
	}

	return p, nil
}

// SendReadData hands one word to the master of the active transaction. It
// blocks until the master is waiting in ReadData and the previous word has
// been consumed.
func (m *MinionPort) SendReadData(ctx context.Context, w Word) error {
	b := m.bus

	b.core.lock()
	defer b.core.unlock()

	p, err := m.dataPhaseOf("SendReadData", Op.CanRead, true)
	if err != nil {
		return err
	}

	err = b.core.await(ctx, func() bool {
		return b.arbiter.active != p || (b.reg.masterReady && !b.reg.valid)
	})
	if err != nil {
		return errors.Wrapf(err, "minion %s sending %s", m.name, p.ID)
	}

	if b.arbiter.active != p {
		return violation("SendReadData by minion %s after %s retired",
			m.name, p.ID)
	}

	b.reg.deposit(w, false)
	b.core.notify()

	return nil
}

// ReceiveWriteData takes one word written by the master of the active
// transaction. It blocks until the master calls WriteData.
func (m *MinionPort) ReceiveWriteData(ctx context.Context) (Word, error) {
	b := m.bus

	b.core.lock()

	p, err := m.dataPhaseOf("ReceiveWriteData", Op.CanWrite, false)
	if err != nil {
		b.core.unlock()
		return 0, err
	}

	b.reg.minionReady = true
	b.core.notify()

	err = b.core.await(ctx, func() bool {
		return b.reg.valid && b.reg.fromMaster
	})
	if err != nil {
		b.reg.minionReady = false
		b.core.unlock()

		return 0, errors.Wrapf(err, "minion %s receiving %s", m.name, p.ID)
	}

	w := b.reg.take()
	delay := b.consumeWord(p, w, b.costs.WriteWord)
	b.core.notify()
	b.core.unlock()

	stall(delay)

	return w, nil
}
