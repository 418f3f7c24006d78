package buslock

import "sync/atomic"

// counters are bumped on both the task and the worker paths, so they are plain atomic
// adds and nothing else.
type counters struct {
	acquiresImmediate  atomic.Uint64
	acquiresBlocked    atomic.Uint64
	releases           atomic.Uint64
	handoffsTask       atomic.Uint64
	handoffsBackground atomic.Uint64
	bgRequests         atomic.Uint64
	bgEnables          atomic.Uint64
	bgDisables         atomic.Uint64
	bgPasses           atomic.Uint64
	promotions         atomic.Uint64
	serviced           atomic.Uint64
}

// Stats is a snapshot of a lock's activity counters.
type Stats struct {
	AcquiresImmediate  uint64 // AcquireStart calls that took the bus without blocking
	AcquiresBlocked    uint64 // AcquireStart calls that had to wait for a hand-off
	Releases           uint64
	HandoffsTask       uint64 // wakeups of a device task, from release or the worker
	HandoffsBackground uint64 // releases that passed the bus to the worker
	BgRequests         uint64
	BgEnables          uint64
	BgDisables         uint64
	BgPasses           uint64 // BackgroundEntry calls
	Promotions         uint64 // batched REQ to PEND moves
	Serviced           uint64 // ClearServiced calls
}

// Stats returns the current counter values. Counters are read one by one and may be
// mutually inconsistent while the lock is busy.
func (l *Lock) Stats() Stats {
	c := &l.stats
	return Stats{
		AcquiresImmediate:  c.acquiresImmediate.Load(),
		AcquiresBlocked:    c.acquiresBlocked.Load(),
		Releases:           c.releases.Load(),
		HandoffsTask:       c.handoffsTask.Load(),
		HandoffsBackground: c.handoffsBackground.Load(),
		BgRequests:         c.bgRequests.Load(),
		BgEnables:          c.bgEnables.Load(),
		BgDisables:         c.bgDisables.Load(),
		BgPasses:           c.bgPasses.Load(),
		Promotions:         c.promotions.Load(),
		Serviced:           c.serviced.Load(),
	}
}
