package bus

import (
	"fmt"
	"log"
	"strconv"

	"github.com/sarchlab/arbus/sim"
)

// TransactionLogger is a hook that writes one CSV-like line per bus event:
// time, bus, event, transaction id, master, address, op, remaining, detail.
type TransactionLogger struct {
	sim.LogHookBase
}

// NewTransactionLogger returns a TransactionLogger that writes into logger.
func NewTransactionLogger(logger *log.Logger) *TransactionLogger {
	return &TransactionLogger{LogHookBase: sim.MakeLogHookBase(logger)}
}

// Func writes the event into the logger.
func (h *TransactionLogger) Func(ctx sim.HookCtx) {
	txn, ok := ctx.Item.(Transaction)
	if !ok {
		return
	}

	bus, ok := ctx.Domain.(sim.Named)
	if !ok {
		return
	}

	detail := ""
	if ctx.Detail != nil {
		detail = fmtDetail(ctx.Detail)
	}

	h.Logger.Printf("%.10f,%s,%s,%s,%d,0x%x,%s,%d,%s\n",
		ctx.Now, bus.Name(), ctx.Pos.Name, txn.ID, txn.MasterID,
		uint64(txn.Address), txn.Op, txn.Remaining, detail)
}

func fmtDetail(detail interface{}) string {
	switch d := detail.(type) {
	case Word:
		return "0x" + strconv.FormatUint(uint64(d), 16)
	case error:
		return d.Error()
	case string:
		return d
	default:
		return fmt.Sprint(d)
	}
}
