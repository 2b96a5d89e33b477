package bus

import (
	"time"

	"github.com/sarchlab/arbus/sim"
	"github.com/sarchlab/arbus/tracing"
)

// Builder can build buses.
type Builder struct {
	name          string
	freq          sim.Freq
	costs         Costs
	cycleDelay    time.Duration
	ackTimeout    time.Duration
	queueCapacity int
	rotationCheck bool
	parallelIDs   bool
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		name:       "Bus",
		freq:       1 * sim.GHz,
		costs:      DefaultCosts,
		ackTimeout: 5 * time.Second,
	}
}

// WithName sets the name of the bus.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithFreq sets the frequency used to turn bus cycles into time.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithCosts sets the cycles charged to each phase.
func (b Builder) WithCosts(costs Costs) Builder {
	b.costs = costs
	return b
}

// WithCycleDelay makes every charged cycle also stall the caller for d in
// real time.
func (b Builder) WithCycleDelay(d time.Duration) Builder {
	b.cycleDelay = d
	return b
}

// WithAckTimeout sets how long a granted transaction may wait for an
// acknowledgment before it is reported as unrouted.
func (b Builder) WithAckTimeout(d time.Duration) Builder {
	b.ackTimeout = d
	return b
}

// WithoutAckTimeout lets granted transactions wait for an acknowledgment
// forever.
func (b Builder) WithoutAckTimeout() Builder {
	b.ackTimeout = 0
	return b
}

// WithQueueCapacity bounds the number of queued requests per master. Zero
// means unbounded.
func (b Builder) WithQueueCapacity(n int) Builder {
	b.queueCapacity = n
	return b
}

// WithRotationCheck makes the arbiter panic if a grant ever breaks the
// round-robin order. Meant for tests and debugging.
func (b Builder) WithRotationCheck() Builder {
	b.rotationCheck = true
	return b
}

// WithParallelIDs uses globally unique transaction ids instead of sequential
// ones.
func (b Builder) WithParallelIDs() Builder {
	b.parallelIDs = true
	return b
}

func (b Builder) parametersMustBeValid() {
	sim.NameMustBeValid(b.name)

	if b.freq <= 0 {
		panic("bus frequency must be positive")
	}

	if b.cycleDelay < 0 {
		panic("cycle delay must not be negative")
	}

	if b.ackTimeout < 0 {
		panic("acknowledge timeout must not be negative")
	}

	if b.queueCapacity < 0 {
		panic("queue capacity must not be negative")
	}
}

// Build creates a new bus.
func (b Builder) Build() *Bus {
	b.parametersMustBeValid()

	bus := &Bus{
		name:       b.name,
		costs:      b.costs,
		ackTimeout: b.ackTimeout,
		core:       newSyncCore(),
		ledger:     newLedger(b.name, b.queueCapacity),
		arbiter:    arbiter{rotationCheck: b.rotationCheck},
		tracers:    tracing.NewCollector(b.name),
	}

	bus.clock.freq = b.freq
	bus.clock.cycleDelay = b.cycleDelay

	bus.idGen = sim.NewSequentialIDGenerator(b.name + ".Txn")
	if b.parallelIDs {
		bus.idGen = sim.NewParallelIDGenerator()
	}

	return bus
}
