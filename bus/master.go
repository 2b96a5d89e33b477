package bus

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// AttachMaster registers a new master and returns its port. Ids are handed
// out monotonically starting from 0.
func (b *Bus) AttachMaster(name string) *MasterPort {
	b.core.lock()
	defer b.core.unlock()

	id := b.ledger.register(name)
	b.masterNames = append(b.masterNames, name)
	b.outstanding = append(b.outstanding, nil)
	b.arbiter.addMaster()
	b.stats.GrantsPerMaster = append(b.stats.GrantsPerMaster, 0)

	return &MasterPort{bus: b, id: id, name: name}
}

func initialRemaining(op Op, length uint32) uint32 {
	if op.IsSingle() {
		return 1
	}

	return length
}

// Request enqueues a new transaction for masterID. It does not wait for the
// transaction to be granted.
func (b *Bus) Request(
	masterID int,
	addr Addr,
	op Op,
	length uint32,
) (Transaction, error) {
	stall(time.Duration(b.costs.Request) * b.clock.cycleDelay)

	b.core.lock()
	defer b.core.unlock()

	p := &pending{
		Transaction: Transaction{
			ID:        b.idGen.Generate(),
			MasterID:  masterID,
			Address:   addr,
			Op:        op,
			Length:    length,
			Remaining: initialRemaining(op, length),
		},
	}

	err := b.ledger.enqueue(masterID, p, b.arbiter.grantSeq)
	if err != nil {
		return Transaction{}, err
	}

	b.outstanding[masterID] = append(b.outstanding[masterID], p)
	b.stats.Requests++
	b.clock.advance(b.costs.Request)

	b.traceStart(p)
	b.emit(HookPosRequest, p, nil)

	b.schedule()
	b.core.notify()

	return p.Transaction, nil
}

// WaitForAcknowledge blocks until the oldest outstanding transaction of
// masterID has been granted and acknowledged by a minion. On a nil return
// the master owns the data phase until the transaction retires.
//
// If the transaction is granted but not acknowledged within the acknowledge
// timeout, the bus retires it and WaitForAcknowledge returns an error
// wrapping ErrUnroutedAddress. The fault is kept for the master even if it
// was not waiting when the timeout fired.
func (b *Bus) WaitForAcknowledge(ctx context.Context, masterID int) error {
	b.core.lock()
	defer b.core.unlock()

	if !b.ledger.registered(masterID) {
		return errors.Wrapf(ErrUnknownMaster, "master %d", masterID)
	}

	if len(b.outstanding[masterID]) == 0 {
		return violation(
			"master %d waits for acknowledge without a request", masterID)
	}

	p := b.outstanding[masterID][0]

	err := b.core.await(ctx, func() bool {
		return p.acknowledged || p.retired
	})
	if err != nil {
		return errors.Wrapf(err,
			"master %d waiting for acknowledge of %s", masterID, p.ID)
	}

	b.outstanding[masterID] = b.outstanding[masterID][1:]

	return p.fault
}

func (b *Bus) faultUnrouted(p *pending) {
	p.fault = errors.Wrapf(ErrUnroutedAddress,
		"transaction %s to address 0x%x not acknowledged within %s",
		p.ID, uint64(p.Address), b.ackTimeout)
	b.stats.Faults++

	b.emit(HookPosFault, p, p.fault)
	b.retire(p)
	b.core.notify()
}

// dataPhaseOf returns the active transaction if masterID may transfer data
// in the given direction. Must be called with the lock held.
func (b *Bus) dataPhaseOf(
	masterID int,
	call string,
	allowed func(Op) bool,
	producer bool,
) (*pending, error) {
	p := b.arbiter.active

	switch {
	case p == nil || p.MasterID != masterID:
		return nil, violation("%s by master %d which is not granted",
			call, masterID)
	case !p.acknowledged:
		return nil, violation("%s by master %d before acknowledge of %s",
			call, masterID, p.ID)
	case b.isOutstanding(p):
		return nil, violation("%s by master %d before WaitForAcknowledge",
			call, masterID)
	case !allowed(p.Op):
		return nil, violation("%s during %s", call, p.Op)
	case producer && b.wordsUnclaimed(p) == 0:
		return nil, violation("%s beyond the length of %s", call, p.ID)
	}

	return p, nil
}

func (b *Bus) isOutstanding(p *pending) bool {
	for _, o := range b.outstanding[p.MasterID] {
		if o == p {
			return true
		}
	}

	return false
}

// ReadData receives one word from the minion serving the active transaction
// of masterID. It blocks until the minion sends the word.
func (b *Bus) ReadData(ctx context.Context, masterID int) (Word, error) {
	b.core.lock()

	p, err := b.dataPhaseOf(masterID, "ReadData", Op.CanRead, false)
	if err != nil {
		b.core.unlock()
		return 0, err
	}

	b.reg.masterReady = true
	b.core.notify()

	err = b.core.await(ctx, func() bool {
		return b.reg.valid && !b.reg.fromMaster
	})
	if err != nil {
		b.reg.masterReady = false
		b.core.unlock()

		return 0, errors.Wrapf(err, "master %d reading %s", masterID, p.ID)
	}

	w := b.reg.take()
	delay := b.consumeWord(p, w, b.costs.ReadWord)
	b.core.notify()
	b.core.unlock()

	stall(delay)

	return w, nil
}

// WriteData sends one word to the minion serving the active transaction of
// masterID. It blocks until the minion is ready to accept the word.
func (b *Bus) WriteData(ctx context.Context, masterID int, w Word) error {
	b.core.lock()
	defer b.core.unlock()

	p, err := b.dataPhaseOf(masterID, "WriteData", Op.CanWrite, true)
	if err != nil {
		return err
	}

	err = b.core.await(ctx, func() bool {
		return b.arbiter.active != p || (b.reg.minionReady && !b.reg.valid)
	})
	if err != nil {
		return errors.Wrapf(err, "master %d writing %s", masterID, p.ID)
	}

	if b.arbiter.active != p {
		return violation("WriteData by master %d after %s retired",
			masterID, p.ID)
	}

	b.reg.deposit(w, true)
	b.core.notify()

	return nil
}

// MasterPort is the handle a master uses to talk to the bus.
type MasterPort struct {
	bus  *Bus
	id   int
	name string
}

// ID returns the id assigned at attach time.
func (p *MasterPort) ID() int {
	return p.id
}

// Name returns the name given at attach time.
func (p *MasterPort) Name() string {
	return p.name
}

// Bus returns the bus the port is attached to.
func (p *MasterPort) Bus() *Bus {
	return p.bus
}

// Request enqueues a transaction.
func (p *MasterPort) Request(addr Addr, op Op, length uint32) (Transaction, error) {
	return p.bus.Request(p.id, addr, op, length)
}

// WaitForAcknowledge waits for the oldest outstanding transaction to be
// acknowledged.
func (p *MasterPort) WaitForAcknowledge(ctx context.Context) error {
	return p.bus.WaitForAcknowledge(ctx, p.id)
}

// ReadData receives one word.
func (p *MasterPort) ReadData(ctx context.Context) (Word, error) {
	return p.bus.ReadData(ctx, p.id)
}

// WriteData sends one word.
func (p *MasterPort) WriteData(ctx context.Context, w Word) error {
	return p.bus.WriteData(ctx, p.id, w)
}

// Read performs a single-read transaction.
func (p *MasterPort) Read(ctx context.Context, addr Addr) (Word, error) {
	words, err := p.ReadOp(ctx, addr, OpSingleRead, 1)
	if err != nil {
		return 0, err
	}

	return words[0], nil
}

// Write performs a single-write transaction.
func (p *MasterPort) Write(ctx context.Context, addr Addr, w Word) error {
	return p.WriteOp(ctx, addr, OpSingleWrite, []Word{w})
}

// ReadBurst reads n consecutive words starting at addr.
func (p *MasterPort) ReadBurst(
	ctx context.Context,
	addr Addr,
	n uint32,
) ([]Word, error) {
	return p.ReadOp(ctx, addr, OpBurstRead, n)
}

// WriteBurst writes the words to consecutive addresses starting at addr.
func (p *MasterPort) WriteBurst(
	ctx context.Context,
	addr Addr,
	words []Word,
) error {
	return p.WriteOp(ctx, addr, OpBurstWrite, words)
}

// Signal performs a zero-length transaction, which completes as soon as the
// addressed minion acknowledges it.
func (p *MasterPort) Signal(ctx context.Context, addr Addr, op Op) error {
	if op.IsSingle() {
		return violation("signal with %s, which always moves a word", op)
	}

	if _, err := p.Request(addr, op, 0); err != nil {
		return err
	}

	return p.WaitForAcknowledge(ctx)
}

// ReadOp runs a full transaction of the given op and length, receiving every
// word.
func (p *MasterPort) ReadOp(
	ctx context.Context,
	addr Addr,
	op Op,
	n uint32,
) ([]Word, error) {
	txn, err := p.Request(addr, op, n)
	if err != nil {
		return nil, err
	}

	if err := p.WaitForAcknowledge(ctx); err != nil {
		return nil, err
	}

	words := make([]Word, 0, txn.Remaining)
	for i := uint32(0); i < txn.Remaining; i++ {
		w, err := p.ReadData(ctx)
		if err != nil {
			return words, err
		}

		words = append(words, w)
	}

	return words, nil
}

// WriteOp runs a full transaction of the given op, sending every word.
func (p *MasterPort) WriteOp(
	ctx context.Context,
	addr Addr,
	op Op,
	words []Word,
) error {
	txn, err := p.Request(addr, op, uint32(len(words)))
	if err != nil {
		return err
	}

	if err := p.WaitForAcknowledge(ctx); err != nil {
		return err
	}

	for _, w := range words[:txn.Remaining] {
		if err := p.WriteData(ctx, w); err != nil {
			return err
		}
	}

	return nil
}
