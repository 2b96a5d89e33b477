package bus

import "fmt"

// ArbiterState is the state of the round-robin arbiter.
type ArbiterState int

// The arbiter is either idle or serving exactly one transaction.
const (
	StateIdle ArbiterState = iota
	StateServing
)

func (s ArbiterState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateServing:
		return "Serving"
	default:
		return fmt.Sprintf("ArbiterState(%d)", int(s))
	}
}

type arbiter struct {
	state        ArbiterState
	cursor       int
	active       *pending
	acknowledged bool

	grantSeq  uint64
	lastGrant []uint64

	rotationCheck bool
}

func (a *arbiter) addMaster() {
	a.lastGrant = append(a.lastGrant, 0)
}

// grantNext performs one scheduling decision. When idle, it scans the queues
// starting at the cursor, wrapping around, and grants the head of the first
// non-empty queue. The cursor moves past the granted queue, or by one
// position if the scan found nothing.
func (a *arbiter) grantNext(l *ledger) *pending {
	if a.state != StateIdle {
		return nil
	}

	n := l.numMasters()
	if n == 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		masterID := (a.cursor + i) % n
		if l.empty(masterID) {
			continue
		}

		a.grantSeq++
		p := l.popHead(masterID, a.grantSeq)

		if a.rotationCheck {
			a.rotationMustHold(l, masterID)
		}

		a.lastGrant[masterID] = a.grantSeq
		a.cursor = (masterID + 1) % n

		p.seq = a.grantSeq
		p.granted = true
		a.active = p
		a.acknowledged = false
		a.state = StateServing

		return p
	}

	a.cursor = (a.cursor + 1) % n

	return nil
}

// rotationMustHold panics if granting masterID skips a master that has been
// waiting since before masterID's previous grant.
func (a *arbiter) rotationMustHold(l *ledger, masterID int) {
	prev := a.lastGrant[masterID]
	if prev == 0 {
		return
	}

	for other := 0; other < l.numMasters(); other++ {
		if other == masterID || l.empty(other) {
			continue
		}

		if l.waitingSince[other] < prev {
			panic(fmt.Sprintf(
				"round-robin rotation violated: master %d granted again "+
					"while master %d has been waiting since grant %d",
				masterID, other, l.waitingSince[other]))
		}
	}
}

func (a *arbiter) release() {
	a.active = nil
	a.acknowledged = false
	a.state = StateIdle
}
