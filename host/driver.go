package host

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-buslock/buslock"
)

// Transaction is one transfer on the bus.
type Transaction struct {
	Tx   []byte
	Rx   []byte
	User any // caller data, returned untouched

	// Err is the driver's result, set once the transaction completes.
	Err error
}

// Driver runs transfers on the physical bus. The host only calls it from the current
// bus owner, so calls never overlap, but they may come from different goroutines,
// including the background worker; implementations must not block on locks shared
// with device goroutines.
type Driver interface {
	// Select reconfigures the bus for dev. It is called only when dev differs from the
	// device of the previous transfer.
	Select(dev int) error
	// Transfer clocks tx out for dev and fills tx.Rx.
	Transfer(dev int, tx *Transaction) error
}

// ErrBusOverlap is reported by MemDriver when two transfers run at once.
var ErrBusOverlap = errors.New("overlapping bus transfers")

// MemDriver is a loopback Driver: each transfer copies Tx into Rx. It counts work per
// device and detects overlapping transfers, which would mean the bus lock failed.
type MemDriver struct {
	// Delay is slept inside every transfer to widen races in tests and simulations.
	Delay time.Duration

	busy      atomic.Bool
	selected  atomic.Int32
	selects   atomic.Int64
	overlaps  atomic.Int64
	transfers [buslock.MaxDevices]atomic.Int64
}

// NewMemDriver returns a loopback driver with no device selected.
func NewMemDriver(delay time.Duration) *MemDriver {
	m := &MemDriver{Delay: delay}
	m.selected.Store(-1)
	return m
}

// Select implements Driver.
func (m *MemDriver) Select(dev int) error {
	m.selects.Add(1)
	m.selected.Store(int32(dev))
	return nil
}

// Transfer implements Driver.
func (m *MemDriver) Transfer(dev int, tx *Transaction) error {
	if !m.busy.CompareAndSwap(false, true) {
		m.overlaps.Add(1)
		return ErrBusOverlap
	}
	defer m.busy.Store(false)

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if int(m.selected.Load()) != dev {
		return errors.New("transfer to a device that is not selected")
	}
	n := copy(tx.Rx, tx.Tx)
	tx.Rx = tx.Rx[:n]
	m.transfers[dev].Add(1)
	return nil
}

// Transfers returns how many transfers dev completed.
func (m *MemDriver) Transfers(dev int) int64 { return m.transfers[dev].Load() }

// Selects returns how many times the selected device changed.
func (m *MemDriver) Selects() int64 { return m.selects.Load() }

// Overlaps returns how many transfers were rejected for running concurrently.
func (m *MemDriver) Overlaps() int64 { return m.overlaps.Load() }
