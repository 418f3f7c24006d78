// Package buslock arbitrates a single shared peripheral bus between several client
// devices, each driven by its own goroutine, and one background worker that plays the
// role of the bus interrupt handler.
//
// At any instant exactly one "acquiring processor" owns the bus: either a device's task
// (foreground) or the background worker serving queued per-device work. Ownership is
// encoded in one packed 32-bit status word:
//
//   - REQ[i]  device i has queued new background work
//   - PEND[i] the worker has acknowledged device i's work but not finished it
//   - LOCK[i] device i wants, or holds, the bus in the foreground
//   - WEAK_BG a device-less request to keep the background mechanism enabled
//
// Every transition is a single atomic read-modify-write on that word, except for one
// short spin critical section pairing "set or clear my LOCK bit" with "read the result".
// The background path never parks on a mutex; it only signals per-device semaphores.
//
// A device never becomes the foreground owner while its own background work is
// outstanding, so queued work always completes before the same device's direct access.
//
// Example usage:
//
//	lock, _ := buslock.New(buslock.Options{DedicatedSlots: 3})
//	lock.SetBackgroundCallbacks(enableIRQ, disableIRQ, hw)
//
//	dev, _ := lock.Register(true)
//
//	// Foreground: exclusive access from the device's goroutine.
//	_ = dev.AcquireStart(buslock.WaitForever)
//	// ... drive the bus ...
//	_ = dev.AcquireEnd()
//
//	// Background: queue work for the worker and return at once.
//	queue.Push(work)
//	_ = dev.BackgroundRequest()
//
// The worker, once triggered by the enable callback, runs passes of the form
//
//	busy := lock.BackgroundEntry()
//	for {
//	    dev := lock.CheckIdleAcquirer()
//	    found := false
//	    if dev != nil && dev.CheckRequest() {
//	        if found = startNext(dev); !found {
//	            dev.ClearServiced()
//	        }
//	    }
//	    if found {
//	        lock.BackgroundExit(true)
//	        break
//	    }
//	    if lock.BackgroundExit(false) {
//	        break
//	    }
//	}
package buslock

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-buslock/binsem"
	"github.com/ahrav/go-buslock/ticket"
)

// WaitForever is the only wait value AcquireStart and WaitBackgroundDone accept.
const WaitForever time.Duration = math.MaxInt64

// noDevice marks the absence of a device id in the lock's id fields.
const noDevice int32 = -1

// Semaphore is the binary semaphore a device blocks on. Give and GiveFromISR must
// never block; Take waits until a token is available.
type Semaphore interface {
	Clear()
	Take()
	Give() bool
	GiveFromISR() bool
	Close() error
}

// Options configures a Lock.
type Options struct {
	// DedicatedSlots is the number of low device ids backed by a physical select line.
	// Must be in [0, MaxDevices].
	DedicatedSlots int

	// NewSemaphore creates a device's semaphore at registration. Defaults to binsem.New.
	NewSemaphore func() (Semaphore, error)

	// Logger receives debug records for task-side transitions. Defaults to discarding.
	Logger *slog.Logger
}

// bgControl holds the caller-supplied switches for the background mechanism.
type bgControl struct {
	enable  func(ctx any)
	disable func(ctx any)
	ctx     any
}

// Lock is the arbitration state for one bus. It must be created with New.
type Lock struct {
	status statusWord
	cs     ticket.Lock // guards LOCK bit set/clear paired with reading the result

	// acquiring is the id of the device holding the bus, or noDevice. It is a
	// non-owning reference into slots and is only stable when read by that device.
	acquiring atomic.Int32
	// acqDevBgActive is set while the worker serves the acquiring device's own work.
	acqDevBgActive atomic.Bool
	// inISR is set while the worker has hardware work in flight.
	inISR atomic.Bool
	// lastTouched is the id of the device that last called Touch, or noDevice.
	lastTouched atomic.Int32

	slots     [MaxDevices]atomic.Pointer[Device]
	dedicated int

	bg           atomic.Pointer[bgControl]
	newSemaphore func() (Semaphore, error)
	log          *slog.Logger

	stats counters
}

// New creates a Lock with every slot free and no background callbacks.
func New(opts Options) (*Lock, error) {
	if opts.DedicatedSlots < 0 || opts.DedicatedSlots > MaxDevices {
		return nil, fmt.Errorf("dedicated slots %d out of range [0, %d]: %w",
			opts.DedicatedSlots, MaxDevices, ErrInvalidArgument)
	}

	l := &Lock{
		dedicated:    opts.DedicatedSlots,
		newSemaphore: opts.NewSemaphore,
		log:          opts.Logger,
	}
	if l.newSemaphore == nil {
		l.newSemaphore = func() (Semaphore, error) { return binsem.New(), nil }
	}
	if l.log == nil {
		l.log = slog.New(slog.DiscardHandler)
	}
	l.log = l.log.With("component", "buslock")
	l.acquiring.Store(noDevice)
	l.lastTouched.Store(noDevice)
	return l, nil
}

// Close tears the lock down. Every device must have been unregistered first.
func (l *Lock) Close() error {
	if l == nil {
		return fmt.Errorf("close lock: %w", ErrInvalidArgument)
	}
	for id := range l.slots {
		if l.slots[id].Load() != nil {
			return fmt.Errorf("close lock: device %d still registered: %w", id, ErrInvalidState)
		}
	}
	l.log.Debug("lock closed")
	return nil
}

// SetBackgroundCallbacks installs the functions that switch the background mechanism
// on and off. Both are called from task goroutines and from the worker, possibly
// concurrently, and must return quickly without blocking. Either may be nil.
func (l *Lock) SetBackgroundCallbacks(enable, disable func(ctx any), ctx any) {
	l.bg.Store(&bgControl{enable: enable, disable: disable, ctx: ctx})
}

func (l *Lock) bgEnable() {
	l.stats.bgEnables.Add(1)
	if c := l.bg.Load(); c != nil && c.enable != nil {
		c.enable(c.ctx)
	}
}

func (l *Lock) bgDisable() {
	l.stats.bgDisables.Add(1)
	if c := l.bg.Load(); c != nil && c.disable != nil {
		c.disable(c.ctx)
	}
}

// SetWeakBackground sets or clears the weak background request. While set, the
// background mechanism is re-enabled every time the bus goes idle, and disabled again
// whenever a device acquires the bus without contention. The flag survives any number
// of acquire/release cycles until cleared.
func (l *Lock) SetWeakBackground(on bool) {
	if !on {
		l.status.fetchAndClear(weakBgFlag)
		return
	}
	if l.status.fetchOr(weakBgFlag) == 0 {
		l.bgEnable()
	}
}

// WeakBackground reports whether the weak background request is set.
func (l *Lock) WeakBackground() bool { return l.status.load()&weakBgFlag != 0 }

// CurrentAcquirer returns the device holding the bus, or nil when the bus is idle or
// owned by the worker on behalf of a non-acquiring device.
func (l *Lock) CurrentAcquirer() *Device { return l.deviceAt(l.acquiring.Load()) }

// AnyBackgroundOutstanding reports whether any device has REQ or PEND set.
func (l *Lock) AnyBackgroundOutstanding() bool { return l.status.load()&bgMask != 0 }

// DeviceByID returns the device registered in slot id, or nil.
func (l *Lock) DeviceByID(id int) *Device {
	if id < 0 || id >= MaxDevices {
		return nil
	}
	return l.deviceAt(int32(id))
}

// deviceAt resolves a slot id, hiding slots that are reserved mid-registration.
func (l *Lock) deviceAt(id int32) *Device {
	if id == noDevice {
		return nil
	}
	d := l.slots[id].Load()
	if d == reservedSlot {
		return nil
	}
	return d
}

// DeviceState is the decoded status of one device slot.
type DeviceState struct {
	ID      int
	Request bool
	Pending bool
	Locked  bool
}

// Status is a snapshot of the lock's status word.
type Status struct {
	Raw            uint32
	WeakBackground bool
	Acquirer       int // device id, or -1
	AcqDevBgActive bool
	Devices        []DeviceState // registered slots only, ordered by id
}

// Status decodes the status word and the acquirer fields. The fields are read one at a
// time, so the snapshot is only coherent while the lock is quiescent.
func (l *Lock) Status() Status {
	raw := l.status.load()
	s := Status{
		Raw:            raw,
		WeakBackground: raw&weakBgFlag != 0,
		Acquirer:       int(l.acquiring.Load()),
		AcqDevBgActive: l.acqDevBgActive.Load(),
	}
	for id := range MaxDevices {
		if l.deviceAt(int32(id)) == nil {
			continue
		}
		bit := uint32(1) << id
		s.Devices = append(s.Devices, DeviceState{
			ID:      id,
			Request: raw&(bit<<reqShift) != 0,
			Pending: raw&(bit<<pendShift) != 0,
			Locked:  raw&(bit<<lockShift) != 0,
		})
	}
	return s
}
