package devices

import (
	"context"
	"log"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
)

// AccessKind tells what an Access does.
type AccessKind int

// Kinds of accesses.
const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessSignal
	AccessPoll
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessSignal:
		return "Signal"
	case AccessPoll:
		return "Poll"
	default:
		return "Unknown"
	}
}

// An Access is one step of an agent script. Each access is one bus
// transaction, except polls, which repeat a one-word read until it returns
// Data[0].
type Access struct {
	Kind   AccessKind
	Addr   bus.Addr
	Op     bus.Op
	Length uint32
	Data   []bus.Word
}

// ReadAccess reads one word.
func ReadAccess(addr bus.Addr) Access {
	return Access{Kind: AccessRead, Addr: addr, Op: bus.OpSingleRead, Length: 1}
}

// BurstReadAccess reads n consecutive words.
func BurstReadAccess(addr bus.Addr, n uint32) Access {
	return Access{Kind: AccessRead, Addr: addr, Op: bus.OpBurstRead, Length: n}
}

// WriteAccess writes one word.
func WriteAccess(addr bus.Addr, w bus.Word) Access {
	return Access{
		Kind: AccessWrite,
		Addr: addr,
		Op:   bus.OpSingleWrite,
		Data: []bus.Word{w},
	}
}

// BurstWriteAccess writes the words to consecutive addresses.
func BurstWriteAccess(addr bus.Addr, words ...bus.Word) Access {
	return Access{
		Kind: AccessWrite,
		Addr: addr,
		Op:   bus.OpBurstWrite,
		Data: words,
	}
}

// SignalAccess issues a zero-length transaction.
func SignalAccess(addr bus.Addr, op bus.Op) Access {
	return Access{Kind: AccessSignal, Addr: addr, Op: op}
}

// PollAccess reads one word with op until it equals want.
func PollAccess(addr bus.Addr, op bus.Op, want bus.Word) Access {
	return Access{
		Kind:   AccessPoll,
		Addr:   addr,
		Op:     op,
		Length: 1,
		Data:   []bus.Word{want},
	}
}

// Result is the outcome of an access.
type Result struct {
	Access Access
	Words  []bus.Word
	Err    error
}

// Progress receives the progress of an agent. monitoring.ProgressBar
// satisfies it.
type Progress interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// Agent is a master that runs a script of accesses followed by random
// traffic. Random reads only target addresses that the agent wrote before,
// and the words read back are checked against what was written.
type Agent struct {
	name     string
	port     *bus.MasterPort
	script   []Access
	progress Progress

	rng        *rand.Rand
	targets    []bus.AddressRange
	maxBurst   uint32
	readLeft   int
	writeLeft  int
	known      map[bus.Addr]bus.Word
	knownAddrs []bus.Addr

	lock       sync.Mutex
	results    []Result
	mismatches int
}

// Name returns the name of the agent.
func (a *Agent) Name() string {
	return a.name
}

// Port returns the master port of the agent.
func (a *Agent) Port() *bus.MasterPort {
	return a.port
}

// SetProgress sets where the agent reports its progress.
func (a *Agent) SetProgress(p Progress) {
	a.progress = p
}

// NumAccesses returns how many accesses a full run issues.
func (a *Agent) NumAccesses() int {
	return len(a.script) + a.readLeft + a.writeLeft
}

// Results returns the results of the accesses issued so far.
func (a *Agent) Results() []Result {
	a.lock.Lock()
	defer a.lock.Unlock()

	return append([]Result(nil), a.results...)
}

// Mismatches returns the number of words read back that differ from what
// the agent wrote.
func (a *Agent) Mismatches() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.mismatches
}

// Run issues every access and returns the first error.
func (a *Agent) Run(ctx context.Context) error {
	for _, acc := range a.script {
		if err := a.issue(ctx, acc); err != nil {
			return err
		}
	}

	for a.readLeft > 0 || a.writeLeft > 0 {
		var acc Access
		if a.shouldRead() {
			acc = a.randomRead()
			a.readLeft--
		} else {
			acc = a.randomWrite()
			a.writeLeft--
		}

		if err := a.issue(ctx, acc); err != nil {
			return err
		}
	}

	return nil
}

func (a *Agent) issue(ctx context.Context, acc Access) error {
	if a.progress != nil {
		a.progress.IncrementInProgress(1)
	}

	words, err := a.do(ctx, acc)

	if a.progress != nil {
		a.progress.MoveInProgressToFinished(1)
	}

	a.lock.Lock()
	a.results = append(a.results, Result{Access: acc, Words: words, Err: err})
	a.lock.Unlock()

	if err != nil {
		return errors.Wrapf(err, "%s %s at 0x%x",
			a.name, acc.Kind, uint64(acc.Addr))
	}

	a.remember(acc, words)

	return nil
}

func (a *Agent) do(ctx context.Context, acc Access) ([]bus.Word, error) {
	switch acc.Kind {
	case AccessRead:
		return a.port.ReadOp(ctx, acc.Addr, acc.Op, acc.Length)
	case AccessWrite:
		return nil, a.port.WriteOp(ctx, acc.Addr, acc.Op, acc.Data)
	case AccessSignal:
		return nil, a.port.Signal(ctx, acc.Addr, acc.Op)
	case AccessPoll:
		return a.poll(ctx, acc)
	default:
		return nil, errors.Errorf("unknown access kind %d", acc.Kind)
	}
}

func (a *Agent) poll(ctx context.Context, acc Access) ([]bus.Word, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		words, err := a.port.ReadOp(ctx, acc.Addr, acc.Op, 1)
		if err != nil {
			return nil, err
		}

		if words[0] == acc.Data[0] {
			return words, nil
		}
	}
}

func (a *Agent) remember(acc Access, words []bus.Word) {
	if acc.Op.IsCustom() {
		return
	}

	switch acc.Kind {
	case AccessWrite:
		data := acc.Data
		if acc.Op.IsSingle() && len(data) > 1 {
			data = data[:1]
		}

		for i, w := range data {
			addr := acc.Addr + bus.Addr(i)
			if _, ok := a.known[addr]; !ok {
				a.knownAddrs = append(a.knownAddrs, addr)
			}

			a.known[addr] = w
		}
	case AccessRead:
		a.check(acc, words)
	}
}

func (a *Agent) check(acc Access, words []bus.Word) {
	for i, w := range words {
		addr := acc.Addr + bus.Addr(i)

		want, ok := a.known[addr]
		if !ok || want == w {
			continue
		}

		log.Printf("%s: read 0x%x at 0x%x, expected 0x%x",
			a.name, uint32(w), uint64(addr), uint32(want))

		a.lock.Lock()
		a.mismatches++
		a.lock.Unlock()
	}
}

func (a *Agent) shouldRead() bool {
	if a.readLeft == 0 {
		return false
	}

	if a.writeLeft == 0 {
		return true
	}

	if len(a.knownAddrs) == 0 {
		return false
	}

	return a.rng.Float64() > 0.5
}

func (a *Agent) randomLength(target bus.AddressRange, addr bus.Addr) uint32 {
	n := uint32(a.rng.Intn(int(a.maxBurst))) + 1

	left := target.Size - uint64(addr-target.Base)
	if uint64(n) > left {
		n = uint32(left)
	}

	return n
}

func (a *Agent) randomRead() Access {
	var (
		target bus.AddressRange
		addr   bus.Addr
	)

	if len(a.knownAddrs) > 0 {
		addr = a.knownAddrs[a.rng.Intn(len(a.knownAddrs))]
		target = a.targetOf(addr)
	} else {
		target = a.targets[a.rng.Intn(len(a.targets))]
		addr = target.Base + bus.Addr(a.rng.Int63n(int64(target.Size)))
	}

	n := a.randomLength(target, addr)
	if n == 1 {
		return ReadAccess(addr)
	}

	return BurstReadAccess(addr, n)
}

func (a *Agent) randomWrite() Access {
	target := a.targets[a.rng.Intn(len(a.targets))]
	addr := target.Base + bus.Addr(a.rng.Int63n(int64(target.Size)))
	n := a.randomLength(target, addr)

	words := make([]bus.Word, n)
	for i := range words {
		words[i] = bus.Word(a.rng.Uint32())
	}

	if n == 1 {
		return WriteAccess(addr, words[0])
	}

	return BurstWriteAccess(addr, words...)
}

func (a *Agent) targetOf(addr bus.Addr) bus.AddressRange {
	for _, t := range a.targets {
		if t.Contains(addr) {
			return t
		}
	}

	panic("address not in any target range")
}

// AgentBuilder can build agents.
type AgentBuilder struct {
	script   []Access
	reads    int
	writes   int
	targets  []bus.AddressRange
	seed     int64
	maxBurst uint32
}

// MakeAgentBuilder creates a builder for an agent with an empty script.
func MakeAgentBuilder() AgentBuilder {
	return AgentBuilder{
		seed:     1,
		maxBurst: 4,
	}
}

// WithScript appends accesses to the script.
func (b AgentBuilder) WithScript(accesses ...Access) AgentBuilder {
	b.script = append(append([]Access(nil), b.script...), accesses...)
	return b
}

// WithRandomTraffic adds random reads and writes to the targets after the
// script.
func (b AgentBuilder) WithRandomTraffic(
	reads, writes int,
	targets ...bus.AddressRange,
) AgentBuilder {
	b.reads = reads
	b.writes = writes
	b.targets = targets

	return b
}

// WithSeed sets the seed of the random traffic.
func (b AgentBuilder) WithSeed(seed int64) AgentBuilder {
	b.seed = seed
	return b
}

// WithMaxBurst sets the longest random burst.
func (b AgentBuilder) WithMaxBurst(n uint32) AgentBuilder {
	b.maxBurst = n
	return b
}

func (b AgentBuilder) parametersMustBeValid() {
	if b.reads < 0 || b.writes < 0 {
		panic("number of random accesses must not be negative")
	}

	if b.reads+b.writes > 0 && len(b.targets) == 0 {
		panic("random traffic needs at least one target range")
	}

	for _, t := range b.targets {
		if t.Size == 0 {
			panic("target ranges must not be empty")
		}
	}

	if b.maxBurst == 0 {
		panic("max burst must be positive")
	}
}

// Build creates an agent and attaches it to the bus as a master.
func (b AgentBuilder) Build(name string, onBus *bus.Bus) *Agent {
	b.parametersMustBeValid()

	return &Agent{
		name:      name,
		port:      onBus.AttachMaster(name),
		script:    append([]Access(nil), b.script...),
		rng:       rand.New(rand.NewSource(b.seed)),
		targets:   append([]bus.AddressRange(nil), b.targets...),
		maxBurst:  b.maxBurst,
		readLeft:  b.reads,
		writeLeft: b.writes,
		known:     make(map[bus.Addr]bus.Word),
	}
}
