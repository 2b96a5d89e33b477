package bus

import (
	"time"

	"github.com/sarchlab/arbus/sim"
	"github.com/sarchlab/arbus/tracing"
)

// wordRegister is the single in-flight word shared by master and minion.
type wordRegister struct {
	word  Word
	valid bool

	// fromMaster tells which side deposited the word. A consumer only takes
	// words deposited by the other side.
	fromMaster bool

	// masterReady is raised by a master waiting in ReadData.
	masterReady bool

	// minionReady is raised by a minion waiting in ReceiveWriteData.
	minionReady bool
}

func (r *wordRegister) deposit(w Word, fromMaster bool) {
	r.word = w
	r.valid = true
	r.fromMaster = fromMaster
	r.masterReady = false
	r.minionReady = false
}

func (r *wordRegister) take() Word {
	r.valid = false
	return r.word
}

// Stats counts what happened on the bus since it was built.
type Stats struct {
	Requests        uint64
	Grants          uint64
	Retired         uint64
	Words           uint64
	Faults          uint64
	GrantsPerMaster []uint64
}

// State is a snapshot of the bus for monitoring.
type State struct {
	Now          sim.VTimeInSec
	Cycle        uint64
	Arbiter      ArbiterState
	Cursor       int
	Active       *Transaction
	Acknowledged bool
	Masters      []string
	QueueDepths  []int
}

// Bus is the arbitrated channel. Build it with a Builder.
type Bus struct {
	sim.HookableBase

	name       string
	costs      Costs
	ackTimeout time.Duration
	idGen      sim.IDGenerator

	clock   clock
	core    syncCore
	tracers *tracing.Collector

	ledger      *ledger
	arbiter     arbiter
	reg         wordRegister
	masterNames []string

	// outstanding lists, per master, the requests whose acknowledge has not
	// been collected by WaitForAcknowledge yet, oldest first.
	outstanding [][]*pending

	stats Stats
}

// Name returns the name of the bus.
func (b *Bus) Name() string {
	return b.name
}

// TraceCollector returns the collector that hands transactions to tracers.
// Tracers see one task per transaction; hooks see only bus events.
func (b *Bus) TraceCollector() *tracing.Collector {
	return b.tracers
}

// CurrentTime returns the logical time of the bus. It does not take the bus
// lock and is safe to call from hooks.
func (b *Bus) CurrentTime() sim.VTimeInSec {
	return b.clock.now()
}

// AckTimeout returns how long a granted transaction may wait for an
// acknowledgment. Zero means forever.
func (b *Bus) AckTimeout() time.Duration {
	return b.ackTimeout
}

// Stats returns a copy of the bus counters.
func (b *Bus) Stats() Stats {
	b.core.lock()
	defer b.core.unlock()

	s := b.stats
	s.GrantsPerMaster = append([]uint64(nil), b.stats.GrantsPerMaster...)

	return s
}

// State returns a snapshot of the arbiter, the active slot and the ledger.
func (b *Bus) State() State {
	b.core.lock()
	defer b.core.unlock()

	s := State{
		Now:          b.clock.now(),
		Cycle:        b.clock.cycle(),
		Arbiter:      b.arbiter.state,
		Cursor:       b.arbiter.cursor,
		Acknowledged: b.arbiter.acknowledged,
		Masters:      append([]string(nil), b.masterNames...),
		QueueDepths:  b.ledger.depths(),
	}

	if b.arbiter.active != nil {
		txn := b.arbiter.active.Transaction
		s.Active = &txn
	}

	return s
}

// schedule lets the arbiter make a decision. Must be called with the lock
// held.
func (b *Bus) schedule() {
	p := b.arbiter.grantNext(b.ledger)
	if p == nil {
		return
	}

	b.stats.Grants++
	b.stats.GrantsPerMaster[p.MasterID]++
	b.clock.advance(b.costs.Arbitrate)

	b.traceStep(p, TaskStepGrant)
	b.emit(HookPosGrant, p, nil)

	b.armAckTimer(p)
}

// armAckTimer retires p with ErrUnroutedAddress if no minion acknowledges it
// within the acknowledge timeout. The timer belongs to the bus, so it fires
// whether or not the master is waiting. Must be called with the lock held.
func (b *Bus) armAckTimer(p *pending) {
	if b.ackTimeout <= 0 {
		return
	}

	p.ackTimer = time.AfterFunc(b.ackTimeout, func() {
		b.core.lock()
		defer b.core.unlock()

		if b.arbiter.active != p || p.acknowledged || p.retired {
			return
		}

		b.faultUnrouted(p)
	})
}

// stopAckTimer disarms the acknowledge timeout of p. Must be called with the
// lock held.
func (b *Bus) stopAckTimer(p *pending) {
	if p.ackTimer != nil {
		p.ackTimer.Stop()
		p.ackTimer = nil
	}
}

// retire removes p from the active slot and lets the arbiter pick the next
// transaction. Must be called with the lock held.
func (b *Bus) retire(p *pending) {
	p.retired = true
	b.stopAckTimer(p)
	b.arbiter.release()
	b.reg = wordRegister{}
	b.stats.Retired++

	b.traceEnd(p)
	b.emit(HookPosRetire, p, p.fault)

	b.schedule()
}

// consumeWord accounts for one completed handshake. Single operations end
// after one word; everything else counts down. Must be called with the lock
// held.
func (b *Bus) consumeWord(p *pending, w Word, cost uint64) time.Duration {
	if p.Op.IsSingle() {
		p.Remaining = 0
	} else {
		p.Remaining--
	}

	b.stats.Words++
	delay := b.clock.advance(cost)

	b.traceStep(p, TaskStepWord)
	b.emit(HookPosWord, p, w)

	if p.Remaining == 0 {
		b.retire(p)
	}

	return delay
}

// wordsUnclaimed tells how many more words may be deposited for p.
func (b *Bus) wordsUnclaimed(p *pending) uint32 {
	if b.reg.valid {
		return p.Remaining - 1
	}

	return p.Remaining
}

// QueueLevel is a snapshot of one request queue.
type QueueLevel struct {
	Name     string
	Size     int
	Capacity int
}

// QueueLevels returns the level of every request queue, in master id order.
// A capacity of 0 means the queue is unbounded.
func (b *Bus) QueueLevels() []QueueLevel {
	b.core.lock()
	defer b.core.unlock()

	levels := make([]QueueLevel, b.ledger.numMasters())
	for i := range levels {
		q := b.ledger.queue(i)
		levels[i] = QueueLevel{
			Name:     q.Name(),
			Size:     q.Size(),
			Capacity: q.Capacity(),
		}
	}

	return levels
}
