package bus

import (
	"context"
	"sync"
)

// A signal is a broadcast condition. A waiter grabs the current generation
// channel while holding the lock and blocks on it after releasing the lock.
// Broadcasting closes the channel and starts a new generation, so a waiter
// can never miss a broadcast that happens between unlock and select.
type signal struct {
	ch chan struct{}
}

func newSignal() signal {
	return signal{ch: make(chan struct{})}
}

func (s *signal) generation() <-chan struct{} {
	return s.ch
}

func (s *signal) broadcast() {
	close(s.ch)
	s.ch = make(chan struct{})
}

// syncCore is the single critical section of the bus. Every mutation of the
// ledger, the active slot, and the word register happens with mu held, and
// every mutation is followed by a broadcast.
type syncCore struct {
	mu      sync.Mutex
	changed signal
}

func newSyncCore() syncCore {
	return syncCore{changed: newSignal()}
}

func (c *syncCore) lock() {
	c.mu.Lock()
}

func (c *syncCore) unlock() {
	c.mu.Unlock()
}

// notify wakes every waiter. Must be called with the lock held.
func (c *syncCore) notify() {
	c.changed.broadcast()
}

// waitChange releases the lock until the next notify or the cancellation of
// ctx. It must be called with the lock held and returns with the lock held.
func (c *syncCore) waitChange(ctx context.Context) error {
	gen := c.changed.generation()

	c.mu.Unlock()
	defer c.mu.Lock()

	select {
	case <-gen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await blocks until cond holds. It must be called with the lock held and
// returns with the lock held. cond is always evaluated under the lock.
func (c *syncCore) await(ctx context.Context, cond func() bool) error {
	for !cond() {
		if err := c.waitChange(ctx); err != nil {
			return err
		}
	}

	return nil
}
