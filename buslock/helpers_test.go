package buslock

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func reqOf(id int) uint32  { return 1 << (id + reqShift) }
func pendOf(id int) uint32 { return 1 << (id + pendShift) }
func lockOf(id int) uint32 { return 1 << (id + lockShift) }

// bgRecorder counts background enable/disable callback invocations.
type bgRecorder struct {
	enables  atomic.Int32
	disables atomic.Int32
}

func (r *bgRecorder) install(l *Lock) {
	l.SetBackgroundCallbacks(
		func(any) { r.enables.Add(1) },
		func(any) { r.disables.Add(1) },
		nil,
	)
}

func newTestLock(t *testing.T, dedicated int) (*Lock, *bgRecorder) {
	t.Helper()
	l, err := New(Options{DedicatedSlots: dedicated})
	require.NoError(t, err)
	rec := &bgRecorder{}
	rec.install(l)
	return l, rec
}

// registerDedicated registers n dedicated devices, which land on ids 0..n-1.
func registerDedicated(t *testing.T, l *Lock, n int) []*Device {
	t.Helper()
	devs := make([]*Device, n)
	for i := range devs {
		d, err := l.Register(true)
		require.NoError(t, err)
		require.Equal(t, i, d.ID())
		devs[i] = d
	}
	return devs
}
