package bus

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/sim"
)

// The ledger keeps one FIFO of pending transactions per attached master.
// Only the arbiter dequeues.
type ledger struct {
	busName  string
	capacity int
	queues   []sim.Buffer
	names    []string

	// waitingSince records, per master, the grant sequence number at which
	// the queue last became (or stayed) non-empty. The rotation check uses it.
	waitingSince []uint64
}

func newLedger(busName string, capacity int) *ledger {
	return &ledger{
		busName:  busName,
		capacity: capacity,
	}
}

func (l *ledger) register(name string) int {
	id := len(l.queues)
	queueName := sim.BuildNameWithIndex(l.busName, "Queue", id)

	l.queues = append(l.queues, sim.NewBuffer(queueName, l.capacity))
	l.names = append(l.names, name)
	l.waitingSince = append(l.waitingSince, 0)

	return id
}

func (l *ledger) numMasters() int {
	return len(l.queues)
}

func (l *ledger) registered(masterID int) bool {
	return masterID >= 0 && masterID < len(l.queues)
}

func (l *ledger) enqueue(masterID int, p *pending, grantSeq uint64) error {
	if !l.registered(masterID) {
		return errors.Wrapf(ErrUnknownMaster, "master %d", masterID)
	}

	q := l.queues[masterID]
	if !q.CanPush() {
		return errors.Wrapf(ErrQueueFull,
			"master %d has %d transactions queued", masterID, q.Size())
	}

	if q.Size() == 0 {
		l.waitingSince[masterID] = grantSeq
	}

	q.Push(p)

	return nil
}

func (l *ledger) empty(masterID int) bool {
	return l.queues[masterID].Size() == 0
}

func (l *ledger) popHead(masterID int, grantSeq uint64) *pending {
	item := l.queues[masterID].Pop()
	if item == nil {
		return nil
	}

	if !l.empty(masterID) {
		l.waitingSince[masterID] = grantSeq
	}

	return item.(*pending)
}

func (l *ledger) depths() []int {
	depths := make([]int, len(l.queues))
	for i, q := range l.queues {
		depths[i] = q.Size()
	}

	return depths
}

// queue exposes the underlying buffer so that monitors can hook on it.
func (l *ledger) queue(masterID int) sim.Buffer {
	return l.queues[masterID]
}
