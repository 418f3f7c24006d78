package host

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ahrav/go-buslock/buslock"
)

// Device is one device attached to a Host.
//
// Queue and Result may be called from different goroutines. AcquireBus, ReleaseBus
// and Polling must come from a single goroutine at a time, like any buslock.Device.
type Device struct {
	host *Host
	lock *buslock.Device
	name string

	// credits bounds queued plus uncollected transactions, so the worker's send on
	// done can never block.
	credits chan struct{}
	queue   chan *Transaction
	done    chan *Transaction

	removed atomic.Bool
}

// Name returns the configured device name.
func (d *Device) Name() string { return d.name }

// ID returns the device's slot id on the bus.
func (d *Device) ID() int { return d.lock.ID() }

// usable rejects devices of a closed host and devices already removed from it.
func (d *Device) usable() error {
	if d.host.closed.Load() {
		return ErrClosed
	}
	if d.removed.Load() {
		return fmt.Errorf("device %q removed: %w", d.name, ErrUnknownDevice)
	}
	return nil
}

// Queue hands tx to the background worker. It blocks while the device already has a
// full queue of unfinished or uncollected transactions.
func (d *Device) Queue(ctx context.Context, tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("queue on %q: nil transaction: %w", d.name, buslock.ErrInvalidArgument)
	}
	if err := d.usable(); err != nil {
		return err
	}

	select {
	case d.credits <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("queue on %q: %w: %w", d.name, ErrQueueFull, ctx.Err())
	}
	d.queue <- tx
	if err := d.lock.BackgroundRequest(); err != nil {
		// Removed after the check above; the worker no longer looks at this queue.
		select {
		case <-d.queue:
			<-d.credits
		default:
		}
		return fmt.Errorf("queue on %q: %w: %w", d.name, ErrUnknownDevice, err)
	}
	return nil
}

// Result returns the next finished transaction, in queue order. The returned error is
// the transaction's own transfer error, or the context's if none finished in time.
func (d *Device) Result(ctx context.Context) (*Transaction, error) {
	select {
	case tx := <-d.done:
		<-d.credits
		return tx, tx.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquireBus makes the device the bus owner until ReleaseBus. Queued transactions of
// this device still run while it holds the bus; other devices' do not.
func (d *Device) AcquireBus() error {
	if err := d.usable(); err != nil {
		return err
	}
	return d.lock.AcquireStart(buslock.WaitForever)
}

// ReleaseBus gives the bus to the next waiter or to the background worker.
func (d *Device) ReleaseBus() error { return d.lock.AcquireEnd() }

// Polling runs tx from the calling goroutine. If the device does not hold the bus it
// acquires it for the one transfer. Either way, the device's queued transactions
// finish first.
func (d *Device) Polling(tx *Transaction) error {
	if tx == nil {
		return fmt.Errorf("polling on %q: nil transaction: %w", d.name, buslock.ErrInvalidArgument)
	}
	if err := d.usable(); err != nil {
		return err
	}

	if d.host.lock.CurrentAcquirer() != d.lock {
		if err := d.AcquireBus(); err != nil {
			return err
		}
		defer func() { _ = d.ReleaseBus() }()
	} else if err := d.lock.WaitBackgroundDone(buslock.WaitForever); err != nil {
		return err
	}

	tx.Err = d.host.transfer(d, tx)
	return tx.Err
}
