package srwlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCondPingPong is a ping-pong workload: 4 consumers wait on one CV, a
// producer notifies one at a time carrying a timestamp, and each
// consumer echoes it back through a second CV. No timestamp may be lost
// or reordered end to end.
func TestCondPingPong(t *testing.T) {
	const consumers = 4

	var lock Mutex
	var produced Cond
	var consumed Cond

	queue := make([]int64, 0, consumers)
	echoes := make([]int64, 0, consumers)
	sent := make([]int64, 0, consumers)
	var done, waiting int

	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			lock.Lock()
			waiting++
			for len(queue) == 0 {
				produced.WaitExclusive(&lock, InfiniteWait)
			}
			ts := queue[0]
			queue = queue[1:]
			echoes = append(echoes, ts)
			done++
			consumed.NotifyOne()
			lock.Unlock()
		}()
	}

	// Wait for every consumer to have reached its release-and-enqueue
	// point at least once before the first notify, so the very first
	// NotifyOne below isn't issued to an empty queue and lost.
	for {
		lock.Lock()
		w := waiting
		lock.Unlock()
		if w == consumers {
			break
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < consumers; i++ {
		lock.Lock()
		ts := time.Now().UnixNano()
		queue = append(queue, ts)
		sent = append(sent, ts)
		produced.NotifyOne()
		for done <= i {
			consumed.WaitExclusive(&lock, InfiniteWait)
		}
		lock.Unlock()
	}

	wg.Wait()

	require.Len(t, echoes, consumers)
	for _, ts := range echoes {
		assert.NotZero(t, ts)
	}
	assert.Equal(t, sent, echoes)
}

// TestCondTimeout checks that a wait with no notifier returns
// timedOut=true after at least the requested duration.
func TestCondTimeout(t *testing.T) {
	var lock Mutex
	var cv Cond

	lock.Lock()
	start := time.Now()
	timedOut := cv.WaitExclusive(&lock, 500000)
	elapsed := time.Since(start)
	lock.Unlock()

	assert.True(t, timedOut)
	assert.GreaterOrEqual(t, elapsed.Microseconds(), int64(400000))
}

// TestCondThunderingHerd checks that a producer pushing 4 timestamps
// then calling NotifyAll once wakes all 4 consumers, with no timestamp
// lost or duplicated.
func TestCondThunderingHerd(t *testing.T) {
	const consumers = 4

	var lock Mutex
	var cv Cond

	queue := make([]int64, 0, consumers)
	seen := make(map[int64]int)
	var seenMu sync.Mutex
	var waiting int

	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			lock.Lock()
			waiting++
			for len(queue) == 0 {
				cv.WaitExclusive(&lock, InfiniteWait)
			}
			ts := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			lock.Unlock()

			seenMu.Lock()
			seen[ts]++
			seenMu.Unlock()
		}()
	}

	for {
		lock.Lock()
		w := waiting
		lock.Unlock()
		if w == consumers {
			break
		}
		time.Sleep(time.Millisecond)
	}

	lock.Lock()
	for i := 0; i < consumers; i++ {
		queue = append(queue, time.Now().UnixNano()+int64(i))
	}
	cv.NotifyAll()
	lock.Unlock()

	wg.Wait()

	assert.Len(t, seen, consumers)
	for ts, n := range seen {
		assert.Equal(t, 1, n, "timestamp %d delivered %d times", ts, n)
	}
}

// TestCondNoLostWake covers the §8 "No lost wake" property directly: a
// notify_one issued strictly after the waiter has reached its
// release-and-enqueue point must be observed by that waiter.
func TestCondNoLostWake(t *testing.T) {
	var lock Mutex
	var cv Cond
	ready := make(chan struct{})
	woke := make(chan struct{})

	go func() {
		lock.Lock()
		close(ready)
		cv.WaitExclusive(&lock, InfiniteWait)
		lock.Unlock()
		close(woke)
	}()

	<-ready
	// Give the waiter a chance to actually reach WaitExclusive's
	// release-and-enqueue point before notifying.
	time.Sleep(50 * time.Millisecond)
	lock.Lock()
	lock.Unlock()

	time.Sleep(50 * time.Millisecond)
	cv.NotifyOne()

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("notify_one lost a wake")
	}
}

// TestCondNotifyAllIdempotent is the §8 "Idempotence of notify_all"
// property: calling it twice with no new waiters in between must not
// wake anyone a second time (there is no one left to wake).
func TestCondNotifyAllIdempotent(t *testing.T) {
	var lock Mutex
	var cv Cond
	woke := make(chan struct{}, 1)

	lock.Lock()
	go func() {
		lock.Lock()
		cv.WaitExclusive(&lock, InfiniteWait)
		lock.Unlock()
		woke <- struct{}{}
	}()
	time.Sleep(50 * time.Millisecond)
	lock.Unlock()
	time.Sleep(50 * time.Millisecond)

	cv.NotifyAll()
	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("notify_all failed to wake the waiter")
	}

	cv.NotifyAll()
	select {
	case <-woke:
		t.Fatal("second notify_all produced a spurious wake")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestCondWaitPredicateNoSpuriousReturn is the §8 "No spurious return"
// property: WaitPredicate must not return while its predicate is false.
func TestCondWaitPredicateNoSpuriousReturn(t *testing.T) {
	var lock Mutex
	var cv Cond
	ready := false

	done := make(chan struct{})
	go func() {
		lock.Lock()
		cv.WaitPredicate(&lock, func() bool { return ready })
		gotReady := ready
		lock.Unlock()
		assert.True(t, gotReady)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	lock.Lock()
	cv.NotifyAll() // spurious: predicate still false
	lock.Unlock()

	time.Sleep(20 * time.Millisecond)
	lock.Lock()
	ready = true
	cv.NotifyAll()
	lock.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitPredicate never returned")
	}
}
