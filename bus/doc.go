// Package bus models a shared, arbitrated channel that connects several
// masters (CPUs, DMA engines) to several minions (memories, accelerators,
// control registers).
//
// A transaction goes through three phases.
//
//  1. Request. A master calls Request and the transaction is appended to the
//     master's own queue in the ledger.
//  2. Grant and acknowledge. Whenever the channel is idle, the round-robin
//     arbiter pops the head of the next non-empty queue and makes it the
//     active transaction. Every minion blocked in Listen sees it; the minion
//     whose address range contains the address calls Acknowledge, which
//     releases the master blocked in WaitForAcknowledge.
//  3. Data. Master and minion exchange one word per ReadData/SendReadData or
//     WriteData/ReceiveWriteData pair. When the remaining length reaches
//     zero the transaction retires and the arbiter grants the next one.
//
// All bus state lives behind one mutex. Waiting is done on a broadcast
// signal together with a context, so callers can bound how long they are
// willing to block. A transaction that is granted but never acknowledged is
// retired with ErrUnroutedAddress once the acknowledge timeout expires.
//
// A minimal master and minion look like this:
//
//	b := bus.MakeBuilder().Build()
//	cpu := b.AttachMaster("CPU")
//	mem := b.NewMinionPort("Mem", bus.AddressRange{Base: 0x400, Size: 0x100})
//
//	go func() {
//		for {
//			txn, err := mem.Listen(ctx)
//			if err != nil {
//				return
//			}
//			if !mem.Owns(txn.Address) {
//				continue
//			}
//			_ = mem.Acknowledge()
//			_ = mem.SendReadData(ctx, 42)
//		}
//	}()
//
//	w, err := cpu.Read(ctx, 0x400)
package bus
