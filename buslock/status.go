package buslock

import (
	"math/bits"
	"sync/atomic"
)

// MaxDevices is the number of device slots a Lock can hand out.
const MaxDevices = 10

// Layout of the status word. Each range holds one bit per device id, so a device's
// REQ, PEND and LOCK bits are its id shifted by a constant.
//
//	bit 30      WEAK_BG
//	bits 29..20 LOCK[9..0]
//	bits 19..10 PEND[9..0]
//	bits  9..0  REQ[9..0]
const (
	reqShift  = 0
	pendShift = MaxDevices
	lockShift = 2 * MaxDevices

	deviceBits uint32 = 1<<MaxDevices - 1

	reqMask  = deviceBits << reqShift
	pendMask = deviceBits << pendShift
	lockMask = deviceBits << lockShift
	bgMask   = reqMask | pendMask

	// weakBgFlag asks for the background mechanism to stay enabled while no device
	// needs the bus, for passive consumers that cannot request it themselves.
	weakBgFlag uint32 = 1 << (3 * MaxDevices)
)

// statusWord is the packed REQ/PEND/LOCK/WEAK_BG bitset. Every mutation is a single
// atomic read-modify-write.
type statusWord struct {
	v atomic.Uint32
}

func (s *statusWord) load() uint32 { return s.v.Load() }

// fetchOr sets mask and returns the value before the set.
func (s *statusWord) fetchOr(mask uint32) uint32 { return s.v.Or(mask) }

// fetchAndClear clears mask and returns the value before the clear.
func (s *statusWord) fetchAndClear(mask uint32) uint32 { return s.v.And(^mask) }

// clear clears mask and returns the value after the clear. Callers use the result to
// tell whether they were the last to clear, which a second load could not tell them.
func (s *statusWord) clear(mask uint32) uint32 { return s.fetchAndClear(mask) &^ mask }

// lockBits returns the LOCK range of status, one bit per device id.
func lockBits(status uint32) uint32 { return (status & lockMask) >> lockShift }

// bgBits returns, one bit per device id, the devices whose REQ or PEND bit is set.
func bgBits(status uint32) uint32 {
	return ((status >> reqShift) | (status >> pendShift)) & deviceBits
}

// lowestID returns the smallest device id present in a non-zero per-device bitset.
func lowestID(set uint32) int { return bits.TrailingZeros32(set) }
