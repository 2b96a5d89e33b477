package bus

import (
	"github.com/sarchlab/arbus/sim"
)

// Hook positions triggered by the bus. The hook item is a copy of the
// Transaction involved. Hooks run inside the bus critical section; they may
// read the time through CurrentTime but must not call any other bus method.
var (
	// HookPosRequest triggers when a transaction enters the ledger.
	HookPosRequest = &sim.HookPos{Name: "Bus Request"}

	// HookPosGrant triggers when the arbiter makes a transaction active.
	HookPosGrant = &sim.HookPos{Name: "Bus Grant"}

	// HookPosAcknowledge triggers when a minion acknowledges. The detail is
	// the name of the minion port.
	HookPosAcknowledge = &sim.HookPos{Name: "Bus Acknowledge"}

	// HookPosWord triggers when a word is consumed. The detail is the Word.
	HookPosWord = &sim.HookPos{Name: "Bus Word"}

	// HookPosRetire triggers when a transaction leaves the active slot. The
	// detail is the fault that retired it, or nil.
	HookPosRetire = &sim.HookPos{Name: "Bus Retire"}

	// HookPosFault triggers when the bus detects an unrouted transaction.
	// The detail is the error.
	HookPosFault = &sim.HookPos{Name: "Bus Fault"}
)

// Task kinds and steps reported to tracers.
const (
	TaskKindTransaction = "bus_transaction"

	TaskStepGrant       = "grant"
	TaskStepAcknowledge = "acknowledge"
	TaskStepWord        = "word"
)

func (b *Bus) emit(pos *sim.HookPos, p *pending, detail interface{}) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Now:    b.clock.now(),
		Pos:    pos,
		Item:   p.Transaction,
		Detail: detail,
	})
}

func (b *Bus) traceStart(p *pending) {
	b.tracers.StartTask(
		p.ID,
		"",
		TaskKindTransaction,
		p.Op.String(),
		p.Transaction,
	)
}

func (b *Bus) traceStep(p *pending, step string) {
	b.tracers.StepTask(p.ID, step)
}

func (b *Bus) traceEnd(p *pending) {
	b.tracers.EndTask(p.ID)
}
