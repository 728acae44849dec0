package core

import (
	"context"
	"fmt"
	"sync"
)

// Gate is a counting semaphore bounding how many requests run the
// resolve/script/apply pipeline at once. Close unblocks every waiter with
// ErrShuttingDown. It is safe for concurrent use.
type Gate struct {
	// sem is pre-filled with size tokens. Acquire takes one, the returned
	// release func puts it back.
	sem chan struct{}

	// closeCh is closed by Close to unblock waiters.
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewGate returns a Gate admitting size concurrent holders.
// Panics if size <= 0.
func NewGate(size int) *Gate {
	if size <= 0 {
		panic(fmt.Sprintf("labrunner: gate size must be greater than 0, got %d", size))
	}
	g := &Gate{
		sem:     make(chan struct{}, size),
		closeCh: make(chan struct{}),
	}
	for range size {
		g.sem <- struct{}{}
	}
	return g
}

// Acquire blocks until a slot is free, the gate is closed or ctx is done.
// On success the returned func releases the slot; calling it more than
// once is a no-op.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	// A closed gate must win over a free slot.
	select {
	case <-g.closeCh:
		return nil, ErrShuttingDown
	default:
	}

	select {
	case <-g.sem:
	case <-g.closeCh:
		return nil, ErrShuttingDown
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for admission: %w", ctx.Err())
	}

	var once sync.Once
	return func() { once.Do(g.returnSlot) }, nil
}

// InUse reports how many slots are currently held.
func (g *Gate) InUse() int {
	return cap(g.sem) - len(g.sem)
}

// Close rejects new and waiting acquisitions. Holders keep their slots
// until they release them. Safe to call multiple times.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.closeCh) })
}

// returnSlot puts a token back. A full semaphore means more releases than
// acquisitions, which the once guard in Acquire rules out.
func (g *Gate) returnSlot() {
	select {
	case g.sem <- struct{}{}:
	default:
		panic(fmt.Sprintf("labrunner: gate released more slots than acquired (size=%d)", cap(g.sem)))
	}
}
