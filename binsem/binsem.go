// Package binsem implements a binary semaphore with the small contract an interrupt-driven
// handoff needs: a destructive clear, a blocking take, and non-blocking gives that may be
// issued from task code or from a worker standing in for an interrupt handler.
//
// The semaphore holds at most one token. Giving to a full semaphore is a no-op, so a
// wakeup is never counted twice, and a stale wakeup can be discarded with Clear before
// the owner re-checks its condition and blocks.
//
// Example usage:
//
//	sem := binsem.New()
//	defer sem.Close()
//
//	sem.Clear()
//	if !ready() {
//	    sem.Take() // woken by sem.Give() or sem.GiveFromISR()
//	}
package binsem

import "sync/atomic"

// Semaphore is a binary semaphore. The zero value is not usable; call New.
type Semaphore struct {
	token  chan struct{}
	closed atomic.Bool
}

// New creates an empty semaphore.
func New() *Semaphore { return &Semaphore{token: make(chan struct{}, 1)} }

// Clear discards a pending token, if any.
func (s *Semaphore) Clear() {
	select {
	case <-s.token:
	default:
	}
}

// Take blocks until a token is available and consumes it.
func (s *Semaphore) Take() { <-s.token }

// TryTake consumes a token if one is available, without blocking.
func (s *Semaphore) TryTake() bool {
	select {
	case <-s.token:
		return true
	default:
		return false
	}
}

// Give makes a token available. It never blocks; a semaphore that already holds a
// token is left unchanged. It reports whether a token was added.
func (s *Semaphore) Give() bool {
	select {
	case s.token <- struct{}{}:
		return true
	default:
		return false
	}
}

// GiveFromISR is Give for callers running in the background worker context. Channel
// sends with a default case never park, so it shares Give's implementation.
func (s *Semaphore) GiveFromISR() bool { return s.Give() }

// Close marks the semaphore closed. A channel needs no explicit release, so Close
// only records the state reported by Closed; it does not wake or fail later calls.
// It is idempotent.
func (s *Semaphore) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (s *Semaphore) Closed() bool { return s.closed.Load() }
