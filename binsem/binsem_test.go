package binsem

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGiveSaturates(t *testing.T) {
	sem := New()

	assert.True(t, sem.Give())
	assert.False(t, sem.Give(), "second give must not add a token")
	assert.False(t, sem.GiveFromISR())

	assert.True(t, sem.TryTake())
	assert.False(t, sem.TryTake(), "only one token is ever held")
}

func TestClearDiscardsStaleToken(t *testing.T) {
	sem := New()
	sem.Give()
	sem.Clear()
	assert.False(t, sem.TryTake())

	// Clearing an empty semaphore is a no-op.
	sem.Clear()
	assert.False(t, sem.TryTake())
}

func TestTakeBlocksUntilGive(t *testing.T) {
	sem := New()
	taken := make(chan struct{})

	go func() {
		sem.Take()
		close(taken)
	}()

	select {
	case <-taken:
		t.Fatal("Take returned without a token")
	case <-time.After(20 * time.Millisecond):
	}

	sem.GiveFromISR()
	select {
	case <-taken:
	case <-time.After(time.Second):
		t.Fatal("Take was not woken by GiveFromISR")
	}
}

func TestConcurrentGivesWakeOnce(t *testing.T) {
	sem := New()
	const givers = 16
	var wg sync.WaitGroup

	wg.Add(givers)
	for i := range givers {
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				sem.Give()
			} else {
				sem.GiveFromISR()
			}
		}()
	}
	wg.Wait()

	sem.Take()
	assert.False(t, sem.TryTake())
}

func TestClose(t *testing.T) {
	sem := New()
	require.False(t, sem.Closed())
	require.NoError(t, sem.Close())
	require.NoError(t, sem.Close())
	assert.True(t, sem.Closed())

	// Close is bookkeeping only; the token still moves.
	assert.True(t, sem.Give())
	assert.True(t, sem.TryTake())
}

func BenchmarkGiveTake(b *testing.B) {
	sem := New()
	for i := 0; i < b.N; i++ {
		sem.Give()
		sem.Take()
	}
}
