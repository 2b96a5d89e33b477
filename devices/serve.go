package devices

import (
	"context"
	"log"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
)

// A Minion is a device that serves transactions through a minion port.
type Minion interface {
	// Port returns the port the minion listens on.
	Port() *bus.MinionPort

	// Accepts tells if the minion can serve the transaction. It is only
	// asked about transactions whose address the port owns. A transaction
	// that is not accepted is never acknowledged.
	Accepts(txn bus.Transaction) bool

	// Handle runs the data phase of an acknowledged transaction.
	Handle(ctx context.Context, txn bus.Transaction) error
}

// Serve runs the listen-acknowledge-handle loop of a minion until ctx is
// done. It returns nil on cancellation and the first handler error
// otherwise.
func Serve(ctx context.Context, m Minion) error {
	port := m.Port()

	for {
		txn, err := port.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if !port.Owns(txn.Address) || !m.Accepts(txn) {
			continue
		}

		err = port.Acknowledge()
		if errors.Is(err, bus.ErrProtocolViolation) {
			// The transaction may have timed out between Listen and
			// Acknowledge.
			log.Printf("%s: %v", port.Name(), err)
			continue
		} else if err != nil {
			return err
		}

		err = m.Handle(ctx, txn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errors.Wrapf(err, "%s serving %s", port.Name(), txn.ID)
		}
	}
}
