// Package ticket provides a small fair spin lock built on a ticket queue. It is meant for
// critical sections that are only a handful of instructions long and that must be entered
// from contexts which are not allowed to park on a blocking mutex, such as a worker that
// plays the role of an interrupt handler.
//
// Lock acquisition is FIFO: every caller draws a ticket and spins until the served
// counter reaches it. Waiters never sleep; they yield the processor between probes so a
// preempted holder can run.
//
// Example usage:
//
//	var cs ticket.Lock
//
//	cs.Lock()
//	old := status.Or(mask)
//	cs.Unlock()
//
//	// or, equivalently
//	cs.Do(func() { old = status.Or(mask) })
//
// The zero value is an unlocked lock.
package ticket

import (
	"runtime"
	"sync/atomic"
)

// Lock is a FIFO ticket spin lock.
//
// The lock is free when next == serving. Both counters wrap around, which is harmless
// because only their difference is ever compared.
type Lock struct {
	next    atomic.Uint32 // Next ticket to be issued
	serving atomic.Uint32 // Ticket currently allowed in
}

// spinsBeforeYield is how many probes a waiter next in line makes before yielding.
const spinsBeforeYield = 16

// Lock acquires the lock, spinning until it is this caller's turn.
func (t *Lock) Lock() {
	my := t.next.Add(1) - 1
	if t.serving.Load() == my {
		return
	}

	for spins := 0; ; spins++ {
		cur := t.serving.Load()
		if cur == my {
			return
		}
		// Callers further back in the queue yield straight away; the one next in
		// line probes a few times first since its wait is usually a few instructions.
		if my-cur > 1 || spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock acquires the lock only if it is free and nobody is queued. It reports
// whether the lock was acquired.
func (t *Lock) TryLock() bool {
	cur := t.serving.Load()
	return t.next.CompareAndSwap(cur, cur+1)
}

// Unlock releases the lock to the next ticket holder.
func (t *Lock) Unlock() { t.serving.Add(1) }

// Do runs fn with the lock held.
func (t *Lock) Do(fn func()) {
	t.Lock()
	fn()
	t.Unlock()
}

// isFree reports whether no ticket is outstanding.
func (t *Lock) isFree() bool { return t.next.Load() == t.serving.Load() }

// waiting returns the number of tickets issued but not yet served, including the holder.
func (t *Lock) waiting() uint32 { return t.next.Load() - t.serving.Load() }
