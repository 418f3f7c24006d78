package buslock

import (
	"fmt"
	"time"
)

// AcquireStart makes the device the bus owner, blocking until it is. wait must be
// WaitForever.
//
// When it returns nil, every background request the device queued earlier has been
// fully serviced.
func (d *Device) AcquireStart(wait time.Duration) error {
	if d == nil {
		return fmt.Errorf("acquire: %w", ErrInvalidArgument)
	}
	if wait != WaitForever {
		return fmt.Errorf("acquire device %d: only WaitForever is supported: %w", d.id, ErrInvalidArgument)
	}
	l := d.parent
	if l.slots[d.id].Load() != d {
		return fmt.Errorf("acquire device %d: not registered: %w", d.id, ErrInvalidState)
	}

	// Drop any wakeup left over from an earlier round before publishing the LOCK bit.
	d.sem.Clear()
	if l.acquireCore(d) {
		l.stats.acquiresImmediate.Add(1)
	} else {
		l.stats.acquiresBlocked.Add(1)
		// The worker is preemptible, so a wakeup it computed for an earlier round
		// can land late. Only a hand-off that left us the acquirer with no
		// background work counts; neither condition can be undone while we block.
		for {
			d.sem.Take()
			if l.acquiring.Load() == int32(d.id) && l.status.load()&d.bgMask == 0 {
				break
			}
		}
	}

	invariant(l.acquiring.Load() == int32(d.id), "woken device is not the acquirer")
	invariant(l.status.load()&d.bgMask == 0, "acquired with background work outstanding")
	l.log.Debug("bus acquired", "dev", d.id)
	return nil
}

// acquireCore publishes the device's LOCK bit and takes the bus if nothing else is
// locked or pending. It reports whether the bus was taken.
func (l *Lock) acquireCore(d *Device) bool {
	l.cs.Lock()
	status := l.status.fetchOr(d.lockBit)
	l.cs.Unlock()

	if status&(bgMask|lockMask) != 0 {
		return false
	}
	l.acquiring.Store(int32(d.id))
	if status&weakBgFlag != 0 {
		// A real owner preempts the weak background request.
		l.bgDisable()
	}
	return true
}

// AcquireEnd releases the bus and hands it to the next owner: a waiting device's task,
// the background worker, or nobody.
func (d *Device) AcquireEnd() error {
	if d == nil {
		return fmt.Errorf("release: %w", ErrInvalidArgument)
	}
	l := d.parent
	if l.acquiring.Load() != int32(d.id) {
		return fmt.Errorf("release device %d: bus not held: %w", d.id, ErrInvalidState)
	}

	l.cs.Lock()
	status := l.status.clear(d.lockBit)
	l.cs.Unlock()
	l.stats.releases.Add(1)

	dec := l.schedule(status, int32(d.id))
	switch {
	case dec.stale:
	case !dec.yield:
		l.stats.handoffsBackground.Add(1)
		l.bgEnable()
	case dec.next != nil:
		l.stats.handoffsTask.Add(1)
		dec.next.sem.Give()
	case status&weakBgFlag != 0:
		l.bgEnable()
	}
	l.log.Debug("bus released", "dev", d.id)
	return nil
}

// WaitBackgroundDone blocks until every background request the device has queued is
// serviced. The device must hold the bus, and wait must be WaitForever.
func (d *Device) WaitBackgroundDone(wait time.Duration) error {
	if d == nil {
		return fmt.Errorf("wait background: %w", ErrInvalidArgument)
	}
	l := d.parent
	if l.acquiring.Load() != int32(d.id) {
		return fmt.Errorf("wait background device %d: bus not held: %w", d.id, ErrInvalidState)
	}
	if wait != WaitForever {
		return fmt.Errorf("wait background device %d: only WaitForever is supported: %w", d.id, ErrInvalidArgument)
	}

	// The device cannot queue more work while it waits here, so a clear BG range
	// stays clear.
	if l.status.load()&d.bgMask != 0 {
		d.sem.Clear()
		for l.status.load()&d.bgMask != 0 {
			d.sem.Take()
		}
	}

	invariant(l.status.load()&d.bgMask == 0, "background work outstanding after wait")
	return nil
}
