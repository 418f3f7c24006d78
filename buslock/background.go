package buslock

import "fmt"

// BackgroundRequest tells the worker the device has queued new background work. It
// never blocks and never makes the caller the bus owner. Queue the work before calling
// it.
// A device that is no longer registered is rejected before any bit is set.
func (d *Device) BackgroundRequest() error {
	if d == nil {
		return fmt.Errorf("background request: %w", ErrInvalidArgument)
	}
	l := d.parent
	if l.slots[d.id].Load() != d {
		return fmt.Errorf("background request device %d: not registered: %w", d.id, ErrInvalidState)
	}
	l.stats.bgRequests.Add(1)

	var invoke bool
	if l.acquiring.Load() == int32(d.id) {
		// Mark the worker busy for us before REQ becomes visible to the drain path.
		l.acqDevBgActive.Store(true)
		status := l.status.fetchOr(d.reqBit)
		// If our BG range was already set the worker is on it.
		invoke = status&d.bgMask == 0
	} else {
		status := l.status.fetchOr(d.reqBit)
		// Any set bit means the worker is running or will be started by whoever
		// releases the bus.
		invoke = status == 0
	}
	if invoke {
		l.bgEnable()
	}
	return nil
}

// BackgroundEntry starts a worker pass. It disables the background trigger so a task
// cannot re-enable it mid-pass, and reports whether the worker already had hardware
// work in flight from the previous pass.
func (l *Lock) BackgroundEntry() (alreadyBusy bool) {
	l.bgDisable()
	l.stats.bgPasses.Add(1)
	return !l.inISR.CompareAndSwap(false, true)
}

// BackgroundExit ends one iteration of a worker pass and reports whether the worker is
// done being the bus owner.
//
// With wip set, hardware work was just started: the trigger is re-enabled so its
// completion starts another pass, and the result is always false. Otherwise the worker
// is done if the acquiring device has no background work left (its task is woken), or,
// with no acquirer, if no device has background work or is waiting for the bus. A false
// result means the caller must iterate again.
func (l *Lock) BackgroundExit(wip bool) (done bool) {
	if wip {
		l.bgEnable()
		return false
	}

	status := l.status.load()
	if acq := l.deviceAt(l.acquiring.Load()); acq != nil {
		if status&acq.bgMask != 0 {
			return false
		}
		l.stats.handoffsTask.Add(1)
		acq.sem.GiveFromISR()
		done = true
	} else {
		// A LOCK bit here belongs to a task that blocked behind the work just
		// drained; iterating again lets CheckIdleAcquirer promote and wake it.
		done = status&(bgMask|lockMask) == 0
	}
	if done {
		l.inISR.Store(false)
	}
	return done
}

// CheckIdleAcquirer returns the device the worker should serve next, or nil when the
// worker should yield.
//
// With an acquiring device, that device is returned while it has background work.
// Without one, the scheduler runs: a device waiting in AcquireStart becomes the
// acquirer (served first if it still has background work, otherwise the worker yields
// so BackgroundExit can wake it), else the lowest device with background work is
// returned without becoming the acquirer.
func (l *Lock) CheckIdleAcquirer() *Device {
	status := l.status.load()
	if acq := l.deviceAt(l.acquiring.Load()); acq != nil {
		if status&acq.bgMask != 0 {
			return acq
		}
		return nil
	}

	dec := l.schedule(status, noDevice)
	if dec.stale || dec.yield {
		return nil
	}
	return dec.next
}

// CheckRequest reports whether the device has background work for the worker.
//
// When the device's REQ bit is set, the REQ bits of every device are moved to their
// PEND bits in one batch, so one worker pass acknowledges all requests at once.
func (d *Device) CheckRequest() bool {
	if d == nil {
		return false
	}
	l := d.parent
	status := l.status.load()
	if status&d.reqBit != 0 {
		l.promoteRequests(status)
		return true
	}
	return status&d.pendBit != 0
}

// promoteRequests moves the REQ bits present in status to PEND. PEND is set before
// REQ is cleared, so outstanding work is never left with neither bit.
func (l *Lock) promoteRequests(status uint32) {
	req := status & reqMask
	l.status.fetchOr(req << (pendShift - reqShift))
	l.status.fetchAndClear(req)
	l.stats.promotions.Add(1)
}

// ClearServiced clears the device's PEND bit once its queue is found empty, and
// reports whether the worker is finished. For the acquiring device that means no new
// request arrived meanwhile; for any other device it means the whole status word is
// clear. A nil device is never finished.
func (d *Device) ClearServiced() bool {
	if d == nil {
		return false
	}
	l := d.parent
	invariant(l.status.load()&d.pendBit != 0, "clearing a PEND bit that is not set")
	l.stats.serviced.Add(1)

	status := l.status.clear(d.pendBit)
	if l.acquiring.Load() == int32(d.id) {
		finished := status&d.reqBit == 0
		if finished {
			l.acqDevBgActive.Store(false)
		}
		return finished
	}
	return status == 0
}
