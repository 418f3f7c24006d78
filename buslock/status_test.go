package buslock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusLayoutIsDisjoint(t *testing.T) {
	assert.Zero(t, reqMask&pendMask)
	assert.Zero(t, reqMask&lockMask)
	assert.Zero(t, pendMask&lockMask)
	assert.Zero(t, (bgMask|lockMask)&weakBgFlag)
	assert.Equal(t, uint32(0x7fffffff), reqMask|pendMask|lockMask|weakBgFlag)
}

func TestStatusWordOps(t *testing.T) {
	var s statusWord

	assert.Equal(t, uint32(0), s.fetchOr(reqOf(1)))
	assert.Equal(t, reqOf(1), s.fetchOr(lockOf(2)))
	assert.Equal(t, reqOf(1)|lockOf(2), s.load())

	assert.Equal(t, reqOf(1)|lockOf(2), s.fetchAndClear(reqOf(1)))
	assert.Equal(t, lockOf(2), s.load())

	// clear returns the remainder, which tells the last clearer it was last.
	s.fetchOr(pendOf(3))
	assert.Equal(t, pendOf(3), s.clear(lockOf(2)))
	assert.Equal(t, uint32(0), s.clear(pendOf(3)))
	assert.Equal(t, uint32(0), s.clear(pendOf(3)), "clearing an already clear bit is harmless")
}

func TestBitRangeHelpers(t *testing.T) {
	status := reqOf(4) | pendOf(2) | pendOf(4) | lockOf(7) | lockOf(3) | weakBgFlag

	assert.Equal(t, uint32(1<<7|1<<3), lockBits(status))
	assert.Equal(t, uint32(1<<4|1<<2), bgBits(status))
	assert.Equal(t, 3, lowestID(lockBits(status)))
	assert.Equal(t, 2, lowestID(bgBits(status)))

	assert.Zero(t, bgBits(weakBgFlag|lockMask))
	assert.Zero(t, lockBits(bgMask|weakBgFlag))
}
