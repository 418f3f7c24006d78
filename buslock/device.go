package buslock

import "fmt"

// Device is one registered participant of a Lock. Its id fixes its REQ, PEND and LOCK
// bit positions for its whole lifetime.
type Device struct {
	id     int
	parent *Lock
	sem    Semaphore

	reqBit  uint32
	pendBit uint32
	lockBit uint32
	bgMask  uint32 // reqBit | pendBit
}

// reservedSlot occupies a slot between claiming it and publishing the device.
var reservedSlot = &Device{id: -1}

func newDevice(l *Lock, id int, sem Semaphore) *Device {
	bit := uint32(1) << id
	d := &Device{
		id:      id,
		parent:  l,
		sem:     sem,
		reqBit:  bit << reqShift,
		pendBit: bit << pendShift,
		lockBit: bit << lockShift,
	}
	d.bgMask = d.reqBit | d.pendBit
	return d
}

// Register claims a free slot and creates a device in it.
//
// With requireDedicated set, only the dedicated slots [0, DedicatedSlots) are
// considered, lowest id first. Otherwise every slot is considered, highest id first,
// which keeps the dedicated ids free for devices that need them.
func (l *Lock) Register(requireDedicated bool) (*Device, error) {
	if l == nil {
		return nil, fmt.Errorf("register device: %w", ErrInvalidArgument)
	}

	id := l.claimSlot(requireDedicated)
	if id < 0 {
		l.log.Debug("no free slot", "dedicated", requireDedicated)
		return nil, fmt.Errorf("register device (dedicated=%t): %w", requireDedicated, ErrCapacityExhausted)
	}

	sem, err := l.newSemaphore()
	if err != nil || sem == nil {
		l.slots[id].Store(nil)
		if err != nil {
			return nil, fmt.Errorf("register device %d: %w: %w", id, ErrAllocationFailure, err)
		}
		return nil, fmt.Errorf("register device %d: %w", id, ErrAllocationFailure)
	}

	d := newDevice(l, id, sem)
	l.slots[id].Store(d)
	l.log.Debug("device registered", "dev", id, "dedicated", requireDedicated)
	return d, nil
}

// claimSlot reserves a free slot and returns its id, or -1.
func (l *Lock) claimSlot(requireDedicated bool) int {
	if requireDedicated {
		for id := 0; id < l.dedicated; id++ {
			if l.slots[id].CompareAndSwap(nil, reservedSlot) {
				return id
			}
		}
		return -1
	}
	for id := MaxDevices - 1; id >= 0; id-- {
		if l.slots[id].CompareAndSwap(nil, reservedSlot) {
			return id
		}
	}
	return -1
}

// Unregister frees the device's slot and its semaphore. The device must not hold the
// bus and must have no request, pending or lock bit set.
func (d *Device) Unregister() error {
	if d == nil {
		return fmt.Errorf("unregister device: %w", ErrInvalidArgument)
	}
	l := d.parent
	if l.slots[d.id].Load() != d {
		return fmt.Errorf("unregister device %d: not registered: %w", d.id, ErrInvalidState)
	}
	if l.acquiring.Load() == int32(d.id) || l.status.load()&(d.bgMask|d.lockBit) != 0 {
		return fmt.Errorf("unregister device %d: still arbitrating: %w", d.id, ErrInvalidState)
	}

	l.lastTouched.CompareAndSwap(int32(d.id), noDevice)
	if err := d.sem.Close(); err != nil {
		l.log.Debug("semaphore close failed", "dev", d.id, "error", err)
	}
	l.slots[d.id].Store(nil)
	l.log.Debug("device unregistered", "dev", d.id)
	return nil
}

// ID returns the device's slot id.
func (d *Device) ID() int { return d.id }

// Lock returns the lock the device is registered with.
func (d *Device) Lock() *Lock { return d.parent }

// Touch records this device as the last one to use the bus and reports whether that
// changed, so callers can invalidate per-device bus configuration caches.
func (d *Device) Touch() bool {
	prev := d.parent.lastTouched.Swap(int32(d.id))
	return prev != int32(d.id)
}
