package buslock

// decision is the scheduler's verdict on who runs next.
type decision struct {
	// next is the device to wake (yield) or to serve in the background (!yield).
	next *Device
	// yield is true when the worker should give the bus back: either to next's task,
	// or, when next is nil, to nobody.
	yield bool
	// stale is true when another context became the acquirer while the decision was
	// being made; the caller must not act on it.
	stale bool
}

// schedule picks the next acquiring processor from status. from is the acquirer the
// caller expects to replace: the releasing device's id, or noDevice when called by the
// worker with no acquirer.
//
//   - LOCK bits set: the lowest such device becomes the acquirer. If it still has
//     background work the worker keeps serving it, otherwise its task is woken.
//   - only BG bits set: no acquirer; the worker serves the lowest device with work.
//   - nothing set: no acquirer and nothing to wake.
func (l *Lock) schedule(status uint32, from int32) decision {
	if locks := lockBits(status); locks != 0 {
		id := lowestID(locks)
		d := l.deviceAt(int32(id))
		invariant(d != nil, "LOCK bit set for an empty slot")

		l.acquiring.Store(int32(id))
		yield := bgBits(status)&(1<<id) == 0
		l.acqDevBgActive.Store(!yield)
		return decision{next: d, yield: yield}
	}

	// Clearing the acquirer must not erase a device that acquired the bus without
	// contention after status was read.
	if !l.acquiring.CompareAndSwap(from, noDevice) {
		return decision{yield: true, stale: true}
	}
	l.acqDevBgActive.Store(false)

	if pending := bgBits(status); pending != 0 {
		d := l.deviceAt(int32(lowestID(pending)))
		invariant(d != nil, "BG bit set for an empty slot")
		return decision{next: d}
	}
	return decision{yield: true}
}
