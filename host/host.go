// Package host is a queued bus master built on buslock.
//
// Each device can queue transactions that a background worker runs whenever the bus is
// free, or run polling transactions from its own goroutine while holding the bus. The
// worker is driven exactly like an interrupt handler: the lock enables and disables
// its trigger, and each pass follows the entry, check, start and exit protocol.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-buslock/buslock"
)

var (
	// ErrQueueFull is returned when a device's queue stays full until the context ends.
	ErrQueueFull = errors.New("transaction queue full")
	// ErrClosed is returned by operations on a closed host.
	ErrClosed = errors.New("host closed")
	// ErrUnknownDevice is returned for device names the host does not know.
	ErrUnknownDevice = errors.New("unknown device")
)

// Host owns one bus: its lock, its driver and the background worker.
type Host struct {
	lock   *buslock.Lock
	driver Driver
	cfg    Config
	log    *slog.Logger

	kick    chan struct{}
	enabled atomic.Bool
	devices [buslock.MaxDevices]atomic.Pointer[Device]

	// Owned by the worker goroutine.
	inflight    *Transaction
	inflightDev *Device

	mu     sync.Mutex
	byName map[string]*Device
	closed atomic.Bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New starts a host on driver and attaches the devices listed in cfg.
func New(driver Driver, cfg Config, logger *slog.Logger) (*Host, error) {
	if driver == nil {
		return nil, fmt.Errorf("new host: nil driver: %w", buslock.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new host: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	lock, err := buslock.New(buslock.Options{DedicatedSlots: cfg.DedicatedSlots, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("new host: %w", err)
	}

	h := &Host{
		lock:   lock,
		driver: driver,
		cfg:    cfg,
		log:    logger.With("component", "host"),
		kick:   make(chan struct{}, 1),
		byName: make(map[string]*Device),
	}
	lock.SetBackgroundCallbacks(enableTrigger, disableTrigger, h)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.group, ctx = errgroup.WithContext(ctx)
	h.group.Go(func() error {
		h.serve(ctx)
		return nil
	})

	for _, dc := range cfg.Devices {
		if _, err := h.AddDevice(dc); err != nil {
			return nil, errors.Join(err, h.Close())
		}
	}
	lock.SetWeakBackground(cfg.WeakBackground)

	h.log.Info("host started",
		"dedicated_slots", cfg.DedicatedSlots,
		"devices", len(cfg.Devices),
		"weak_background", cfg.WeakBackground)
	return h, nil
}

func enableTrigger(ctx any) {
	h := ctx.(*Host)
	h.enabled.Store(true)
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func disableTrigger(ctx any) { ctx.(*Host).enabled.Store(false) }

// Lock returns the bus lock, for metrics and introspection.
func (h *Host) Lock() *buslock.Lock { return h.lock }

// Device returns the attached device called name.
func (h *Host) Device(name string) (*Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.byName[name]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, ErrUnknownDevice)
	}
	return d, nil
}

// Devices returns the attached devices in id order.
func (h *Host) Devices() []*Device {
	var out []*Device
	for i := range h.devices {
		if d := h.devices[i].Load(); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// AddDevice registers a device with the lock and gives it a transaction queue.
func (h *Host) AddDevice(dc DeviceConfig) (*Device, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if dc.Name == "" {
		return nil, fmt.Errorf("add device: empty name: %w", buslock.ErrInvalidArgument)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.byName[dc.Name]; dup {
		return nil, fmt.Errorf("add device %q: name in use: %w", dc.Name, buslock.ErrInvalidArgument)
	}

	ld, err := h.lock.Register(dc.Dedicated)
	if err != nil {
		return nil, fmt.Errorf("add device %q: %w", dc.Name, err)
	}
	size := h.cfg.queueSize(dc)
	d := &Device{
		host:    h,
		lock:    ld,
		name:    dc.Name,
		credits: make(chan struct{}, size),
		queue:   make(chan *Transaction, size),
		done:    make(chan *Transaction, size),
	}
	h.devices[ld.ID()].Store(d)
	h.byName[dc.Name] = d

	h.log.Debug("device added", "device", dc.Name, "id", ld.ID(), "dedicated", dc.Dedicated, "queue_size", size)
	return d, nil
}

// RemoveDevice detaches d. It fails while d holds the bus or has transactions that
// are queued or whose results were not collected.
func (h *Host) RemoveDevice(d *Device) error {
	if d == nil || d.host != h {
		return fmt.Errorf("remove device: %w", ErrUnknownDevice)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byName[d.name] != d {
		return fmt.Errorf("remove device %q: %w", d.name, ErrUnknownDevice)
	}
	if n := len(d.credits); n > 0 {
		return fmt.Errorf("remove device %q: %d transactions outstanding: %w", d.name, n, buslock.ErrInvalidState)
	}
	if err := d.lock.Unregister(); err != nil {
		return fmt.Errorf("remove device %q: %w", d.name, err)
	}
	d.removed.Store(true)
	h.devices[d.lock.ID()].Store(nil)
	delete(h.byName, d.name)

	h.log.Debug("device removed", "device", d.name)
	return nil
}

// Close removes every device, stops the worker and releases the lock. Devices with
// outstanding work are reported and left attached; the host is unusable afterwards.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	for _, d := range h.Devices() {
		if err := h.RemoveDevice(d); err != nil {
			errs = append(errs, err)
		}
	}

	h.cancel()
	if err := h.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		if err := h.lock.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	h.log.Info("host stopped", "errors", len(errs))
	return errors.Join(errs...)
}

// serve is the interrupt stand-in: every kick runs one pass while the trigger is enabled.
func (h *Host) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.kick:
		}
		if h.enabled.Load() {
			h.pass()
		}
	}
}

// pass finishes the in-flight transaction, then starts the next queued one for
// whichever device the lock says may use the bus.
func (h *Host) pass() {
	if h.lock.BackgroundEntry() && h.inflight != nil {
		h.finish()
	}

	for {
		started := false
		if ld := h.lock.CheckIdleAcquirer(); ld != nil && ld.CheckRequest() {
			d := h.devices[ld.ID()].Load()
			if d != nil {
				select {
				case tx := <-d.queue:
					h.start(d, tx)
					started = true
				default:
				}
			}
			if !started {
				ld.ClearServiced()
			}
		}
		if started {
			h.lock.BackgroundExit(true)
			return
		}
		if h.lock.BackgroundExit(false) {
			return
		}
	}
}

func (h *Host) start(d *Device, tx *Transaction) {
	tx.Err = h.transfer(d, tx)
	h.inflight, h.inflightDev = tx, d
}

func (h *Host) finish() {
	// Never blocks: every queued transaction holds a credit sized to done.
	h.inflightDev.done <- h.inflight
	h.inflight, h.inflightDev = nil, nil
}

// transfer runs tx on the wire. The caller must own the bus.
func (h *Host) transfer(d *Device, tx *Transaction) error {
	id := d.lock.ID()
	if d.lock.Touch() {
		if err := h.driver.Select(id); err != nil {
			return fmt.Errorf("select device %q: %w", d.name, err)
		}
	}
	if err := h.driver.Transfer(id, tx); err != nil {
		return fmt.Errorf("transfer on device %q: %w", d.name, err)
	}
	return nil
}
