package bus

import (
	"sync/atomic"
	"time"

	"github.com/sarchlab/arbus/sim"
)

// Costs is the number of bus cycles charged to each phase of a transaction.
type Costs struct {
	Request     uint64
	Arbitrate   uint64
	Acknowledge uint64
	ReadWord    uint64
	WriteWord   uint64
}

// DefaultCosts charges a data word more than a request and a read more than
// a write, as a read needs the minion to drive the data lines back.
var DefaultCosts = Costs{
	Request:     2,
	Arbitrate:   1,
	Acknowledge: 1,
	ReadWord:    3,
	WriteWord:   2,
}

// clock is the logical clock shared by every participant of the bus. It can
// be read without holding the bus lock so that hooks may ask for the time.
type clock struct {
	cycles     atomic.Uint64
	freq       sim.Freq
	cycleDelay time.Duration
}

// advance charges n cycles and returns how long the caller should stall in
// real time, outside the critical section.
func (c *clock) advance(n uint64) time.Duration {
	c.cycles.Add(n)
	return time.Duration(n) * c.cycleDelay
}

func (c *clock) cycle() uint64 {
	return c.cycles.Load()
}

func (c *clock) now() sim.VTimeInSec {
	return c.freq.CyclesToTime(c.cycles.Load())
}

func stall(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
