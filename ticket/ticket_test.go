package ticket

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockConcurrentAccess(t *testing.T) {
	var lock Lock
	const numGoroutines = 64
	const iterations = 500
	counter := 0
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	expected := numGoroutines * iterations
	assert.Equal(t, expected, counter, "Expected counter to be %d, got %d", expected, counter)
	assert.True(t, lock.isFree())
}

func TestLockFairness(t *testing.T) {
	var lock Lock
	const numGoroutines = 32

	// Every holder records the serving counter it observed; FIFO order means the
	// recorded values are strictly sequential.
	var served []uint32
	var wg sync.WaitGroup
	var ready sync.WaitGroup
	ready.Add(1)

	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			ready.Wait()

			lock.Lock()
			served = append(served, lock.serving.Load())
			lock.Unlock()
		}()
	}

	ready.Done()
	wg.Wait()

	assert.Len(t, served, numGoroutines)
	for i := 1; i < len(served); i++ {
		assert.Equal(t, served[i-1]+1, served[i], "serving values should be sequential: %v", served)
	}
}

func TestTryLock(t *testing.T) {
	var lock Lock

	assert.True(t, lock.TryLock(), "free lock should be acquired")
	assert.False(t, lock.TryLock(), "held lock should not be acquired")
	assert.Equal(t, uint32(1), lock.waiting())

	lock.Unlock()
	assert.True(t, lock.isFree())
	assert.True(t, lock.TryLock())
	lock.Unlock()
}

func TestTryLockFailsWhileQueued(t *testing.T) {
	var lock Lock
	lock.Lock()

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		lock.Lock()
		acquired.Store(true)
		lock.Unlock()
	}()

	for lock.waiting() < 2 {
		// Wait for the goroutine to draw its ticket.
	}
	assert.False(t, lock.TryLock(), "queued waiter must not be overtaken")
	assert.False(t, acquired.Load())

	lock.Unlock()
	<-done
	assert.True(t, acquired.Load())
	assert.True(t, lock.isFree())
}

func TestLockWraparound(t *testing.T) {
	var lock Lock
	lock.next.Store(math.MaxUint32)
	lock.serving.Store(math.MaxUint32)

	for range 4 {
		lock.Lock()
		lock.Unlock()
	}
	assert.True(t, lock.isFree())
	assert.Equal(t, uint32(3), lock.serving.Load())
}

func TestDo(t *testing.T) {
	var lock Lock
	ran := false
	lock.Do(func() {
		ran = true
		assert.False(t, lock.isFree())
	})
	assert.True(t, ran)
	assert.True(t, lock.isFree())
}

// BenchmarkMutexUncontended tests mutex performance with no contention
func BenchmarkMutexUncontended(b *testing.B) {
	var mu sync.Mutex
	for i := 0; i < b.N; i++ {
		mu.Lock()
		mu.Unlock()
	}
}

// BenchmarkTicketLockUncontended tests ticket lock performance with no contention
func BenchmarkTicketLockUncontended(b *testing.B) {
	var lock Lock
	for i := 0; i < b.N; i++ {
		lock.Lock()
		lock.Unlock()
	}
}

// BenchmarkTicketLockShortSection mirrors the bus lock's use: one atomic RMW inside.
func BenchmarkTicketLockShortSection(b *testing.B) {
	var lock Lock
	var word atomic.Uint32
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			lock.Lock()
			word.Or(1)
			word.And(^uint32(1))
			lock.Unlock()
		}
	})
}

// BenchmarkMutexShortSection is the sync.Mutex baseline for BenchmarkTicketLockShortSection.
func BenchmarkMutexShortSection(b *testing.B) {
	var mu sync.Mutex
	var word atomic.Uint32
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			mu.Lock()
			word.Or(1)
			word.And(^uint32(1))
			mu.Unlock()
		}
	})
}

// BenchmarkTicketLockTryLock tests performance of try-lock pattern
func BenchmarkTicketLockTryLock(b *testing.B) {
	var lock Lock
	shared := 0
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if lock.TryLock() {
				shared++
				lock.Unlock()
			}
		}
	})
}
