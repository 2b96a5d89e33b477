package bus

import "github.com/pkg/errors"

// Errors reported by the bus. Returned errors wrap one of these sentinels
// with the master and transaction involved; use errors.Is to classify them.
var (
	// ErrUnroutedAddress reports a granted transaction that no minion
	// acknowledged before the acknowledge timeout.
	ErrUnroutedAddress = errors.New("unrouted address")

	// ErrProtocolViolation reports a call made out of phase, such as a
	// double acknowledge or a data transfer by a party that does not own the
	// active transaction. It is a contract violation and is never retried.
	ErrProtocolViolation = errors.New("bus protocol violation")

	// ErrUnknownMaster reports a master id that was never attached.
	ErrUnknownMaster = errors.New("unknown master")

	// ErrQueueFull reports that a master's request queue is at capacity.
	ErrQueueFull = errors.New("request queue full")
)

func violation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocolViolation, format, args...)
}
