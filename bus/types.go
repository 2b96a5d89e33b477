package bus

import (
	"fmt"
	"time"
)

// Addr is an address in the flat bus address space.
type Addr uint64

// Word is the unit transferred by one data handshake.
type Word uint32

// Op is the operation tag carried by a transaction. The four canonical
// operations are interpreted by the bus. Any other value is an opaque device
// opcode that is passed through to the minion untouched.
type Op uint32

// Canonical operations.
const (
	OpSingleRead Op = iota
	OpSingleWrite
	OpBurstRead
	OpBurstWrite

	numCanonicalOps
)

// OpCustom returns the n-th device-specific opcode. Device opcodes never
// collide with the canonical operations.
func OpCustom(n uint32) Op {
	return numCanonicalOps + Op(n)
}

// IsCustom tells if the op is a device-specific opcode.
func (o Op) IsCustom() bool {
	return o >= numCanonicalOps
}

// IsSingle tells if the op transfers at most one word regardless of the
// length field.
func (o Op) IsSingle() bool {
	return o == OpSingleRead || o == OpSingleWrite
}

// CanRead tells if the master may receive words during this op.
func (o Op) CanRead() bool {
	return o == OpSingleRead || o == OpBurstRead || o.IsCustom()
}

// CanWrite tells if the master may send words during this op.
func (o Op) CanWrite() bool {
	return o == OpSingleWrite || o == OpBurstWrite || o.IsCustom()
}

func (o Op) String() string {
	switch o {
	case OpSingleRead:
		return "SingleRead"
	case OpSingleWrite:
		return "SingleWrite"
	case OpBurstRead:
		return "BurstRead"
	case OpBurstWrite:
		return "BurstWrite"
	default:
		return fmt.Sprintf("Custom%d", uint32(o-numCanonicalOps))
	}
}

// AddressRange is the half-open range [Base, Base+Size).
type AddressRange struct {
	Base Addr
	Size uint64
}

// Contains tells if addr falls into the range.
func (r AddressRange) Contains(addr Addr) bool {
	return addr >= r.Base && uint64(addr-r.Base) < r.Size
}

// Overlaps tells if the two ranges share at least one address.
func (r AddressRange) Overlaps(other AddressRange) bool {
	if r.Size == 0 || other.Size == 0 {
		return false
	}

	return r.Contains(other.Base) || other.Contains(r.Base)
}

func (r AddressRange) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", uint64(r.Base), uint64(r.Base)+r.Size)
}

// Transaction is one channel-mediated operation transferring up to Length
// words.
type Transaction struct {
	ID       string
	MasterID int
	Address  Addr
	Op       Op

	// Length is the length requested by the master.
	Length uint32

	// Remaining is the number of words still to be transferred. Single
	// operations always start with 1, whatever Length says.
	Remaining uint32
}

func (t Transaction) String() string {
	return fmt.Sprintf("%s(master=%d, addr=0x%x, %s, remaining=%d)",
		t.ID, t.MasterID, uint64(t.Address), t.Op, t.Remaining)
}

// pending is the bus-owned record behind a Transaction.
type pending struct {
	Transaction

	seq          uint64
	granted      bool
	ackTimer     *time.Timer
	acknowledged bool
	retired      bool
	fault        error
	owner        *MinionPort
}
