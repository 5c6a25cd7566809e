package srwlock

import "golang.org/x/sys/cpu"

// Mutex is a slim reader-writer lock occupying a single pointer-sized
// word of state (see doc.go for the bit layout). The zero value is an
// unlocked Mutex ready to use.
//
// _ cpu.CacheLinePad reserves the rest of the line the status word lives
// on: a Mutex sitting next to unrelated hot fields in a struct or array
// would otherwise have every CAS against state invalidate its
// neighbors' cache lines too.
type Mutex struct {
	state uintptr
	_     cpu.CacheLinePad
}

// native returns the address of the lock's status word, the Go rendering
// of the original's native_handle(): it exists only so that Cond in this
// same package can interleave its own queue with this lock's queue.
func (m *Mutex) native() *uintptr { return &m.state }

// TryLock attempts to take the lock for exclusive access without
// blocking.
func (m *Mutex) TryLock() bool {
	return !fetchBitSet(&m.state, bitLocked)
}

// Lock blocks until the caller holds the lock exclusively.
func (m *Mutex) Lock() {
	if m.TryLock() {
		return
	}

	var bo backoff
	var node *waiterNode
	last := loadStatus(&m.state)

	for {
		if last.locked() {
			if node == nil {
				node = newWaiterNode()
			}
			if tryWaiting(&m.state, node, last, true) {
				last = loadStatus(&m.state)
				continue
			}
		} else if m.TryLock() {
			return
		}

		bo.pause()
		last = loadStatus(&m.state)
	}
}

// Unlock releases a lock held exclusively. It is an InvariantError to
// call Unlock on a Mutex not currently held exclusively.
func (m *Mutex) Unlock() {
	if cur, ok := compareExchange(&m.state, status(flagLocked), status(0)); ok {
		_ = cur
		return
	}

	last := loadStatus(&m.state)
	for {
		assertInvariant(last.locked(), "Unlock called while not locked")

		next := last &^ status(flagLocked)
		isWake := false
		if last.spinning() && !last.waking() {
			next |= status(flagWaking)
			isWake = true
		}

		cur, ok := compareExchange(&m.state, last, next)
		if ok {
			if isWake {
				wakeUpLock(&m.state, next, false)
			}
			return
		}
		last = cur
	}
}

// tryLockSharedCAS attempts the single CAS that grants shared access given
// an already-observed status, matching TryLockShared in the original.
func tryLockSharedCAS(word *uintptr, last status) (status, bool) {
	next := last | status(flagLocked)
	if !last.spinning() {
		next += status(flagShared)
	}
	return compareExchange(word, last, next)
}

// TryRLock attempts to take the lock for shared access without blocking.
func (m *Mutex) TryRLock() bool {
	if cur, ok := compareExchange(&m.state, status(0), status(flagShared|flagLocked)); ok {
		_ = cur
		return true
	}

	var bo backoff
	last := loadStatus(&m.state)
	for {
		if last.locked() && (last.spinning() || last.sharedCount() == 0) {
			return false
		}
		if cur, ok := tryLockSharedCAS(&m.state, last); ok {
			return true
		} else {
			last = cur
		}
		bo.pause()
		last = loadStatus(&m.state)
	}
}

// RLock blocks until the caller holds the lock for shared access.
func (m *Mutex) RLock() {
	if cur, ok := compareExchange(&m.state, status(0), status(flagShared|flagLocked)); ok {
		_ = cur
		return
	}

	var bo backoff
	var node *waiterNode
	last := loadStatus(&m.state)

	for {
		if last.locked() && (last.spinning() || last.sharedCount() == 0) {
			if node == nil {
				node = newWaiterNode()
			}
			if tryWaiting(&m.state, node, last, false) {
				last = loadStatus(&m.state)
				continue
			}
		} else if cur, ok := tryLockSharedCAS(&m.state, last); ok {
			return
		} else {
			last = cur
		}

		bo.pause()
		last = loadStatus(&m.state)
	}
}

// RUnlock releases one shared holder's hold on the lock.
func (m *Mutex) RUnlock() {
	if cur, ok := compareExchange(&m.state, status(flagShared|flagLocked), status(0)); ok {
		_ = cur
		return
	}

	last := loadStatus(&m.state)
	assertInvariant(last.locked(), "RUnlock called while not locked")

	for !last.spinning() {
		var next status
		if last.sharedCount() > 1 {
			next = last - status(flagShared)
		} else {
			next = status(0)
		}
		cur, ok := compareExchange(&m.state, last, next)
		if ok {
			return
		}
		last = cur
	}

	if last.multiShared() {
		curr := last.waitNode()
		var notify *waiterNode
		for {
			notify = curr.loadNotify()
			if notify != nil {
				break
			}
			curr = curr.loadBack()
		}
		assertInvariant(notify.loadShared() != 0, "RUnlock found a migrated-count node with zero count")
		assertInvariant(notify.loadFlags()&nodeFlagLocked != 0, "RUnlock found a migrated-count node that isn't an exclusive waiter")

		if notify.decrementShared() > 0 {
			return
		}
	}

	for {
		next := last.withoutMultiSharedLocked()
		isWake := false
		if last.spinning() && !last.waking() {
			next |= status(flagWaking)
			isWake = true
		}

		cur, ok := compareExchange(&m.state, last, next)
		if ok {
			if isWake {
				wakeUpLock(&m.state, next, false)
			}
			return
		}
		last = cur
	}
}

// fetchBitSet sets the given bit of word and reports whether it was
// already set — the pointer-width twin of waiterNode.fetchBitSetFlag.
func fetchBitSet(word *uintptr, bit uint) bool {
	mask := uintptr(1) << bit
	for {
		old := loadStatus(word)
		if uintptr(old)&mask != 0 {
			return true
		}
		if cur, ok := compareExchange(word, old, old|status(mask)); ok {
			_ = cur
			return false
		}
	}
}

// tryWaiting enqueues node as a waiter (exclusive or shared) and, on
// success, spins then parks it, returning once the node has woken. It
// returns false if the enqueue CAS lost the race, in which case the
// caller reloads the current status and retries its own fast path first.
func tryWaiting(word *uintptr, node *waiterNode, last status, exclusive bool) bool {
	if exclusive {
		node.storeFlags(nodeFlagSpinning | nodeFlagLocked)
	} else {
		node.storeFlags(nodeFlagSpinning)
	}

	if _, ok := queueStackNode(word, node, last, exclusive); !ok {
		return false
	}

	spinWait(node)

	if node.fetchBitClearFlag(nodeFlagSpinning) {
		for node.loadFlags()&nodeFlagWaking == 0 {
			node.park.wait()
		}
	}
	return true
}

// queueStackNode is §4.E.2's QueueStackNode<Exclusive>: publish node as
// the new tail of word's wait queue, inheriting or seeding the shared
// count as appropriate, and run the optimize pass if nobody else already
// owns one.
func queueStackNode(word *uintptr, n *waiterNode, last status, exclusive bool) (status, bool) {
	n.storeNext(nil)

	var newSt status
	optimize := false

	if last.spinning() {
		n.storeShared(sentinelNotOwner)
		n.storeNotify(nil)
		n.storeBack(last.waitNode())

		newSt = statusWithNode(n, uintptr(last&status(flagMultiShared))|flagWaking|flagSpinning|flagLocked)
		optimize = !last.waking()
	} else {
		n.storeNotify(n)
		newSt = statusWithNode(n, flagSpinning|flagLocked)

		if exclusive {
			n.storeShared(uint32(last.sharedCount()))
			switch {
			case n.loadShared() > 1:
				newSt |= status(flagMultiShared)
			case n.loadShared() == 0:
				n.storeShared(sentinelNoShared)
			}
		} else {
			n.storeShared(sentinelNoShared)
		}
	}

	assertInvariant(newSt.spinning(), "queueStackNode produced a non-spinning status")
	assertInvariant(newSt.locked(), "queueStackNode produced an unlocked status")
	assertInvariant(last.locked(), "queueStackNode called against an unlocked word")

	cur, ok := compareExchange(word, last, newSt)
	if !ok {
		return cur, false
	}
	if optimize {
		optimizeLockList(word, newSt)
	}
	return newSt, true
}

// tryClearWaking is §4.E.3's helper inside WakeUpLock/OptimizeLockList:
// while the lock is still held, try to give up the wake pass by clearing
// WAKING alone.
func tryClearWaking(word *uintptr, last status) (status, bool) {
	next := last &^ status(flagWaking)
	assertInvariant(!next.waking(), "tryClearWaking failed to clear WAKING")
	assertInvariant(next.locked(), "tryClearWaking observed an unlocked word")
	return compareExchange(word, last, next)
}

// optimizeLockList is §4.E.3's OptimizeLockList: repair the forward chain
// while the lock remains held, relinquishing the wake pass the moment
// another release already owes one; if the lock drops to unlocked mid-walk,
// fall through into a real wake.
func optimizeLockList(word *uintptr, last status) {
	for last.locked() {
		updateNotifyNode(last.waitNode())
		if cur, ok := tryClearWaking(word, last); ok {
			return
		} else {
			last = cur
		}
	}
	wakeUpLock(word, last, false)
}

// wakeUpLock chooses the notify set and transfers ownership of the lock
// (or, when force is true, unconditionally hands the whole tail off as new
// shared holders of an otherwise-empty lock). No caller in this package
// passes force=true: Unlock, RUnlock and optimizeLockList all pass false,
// and Cond's re-queue path reaches this function only through
// queueStackNode's optimizeLockList call.
func wakeUpLock(word *uintptr, last status, force bool) {
	var notify *waiterNode

	for {
		assertInvariant(!last.multiShared(), "wakeUpLock entered with MULTI_SHARED set")
		assertInvariant(!last.waking() || last.spinning(), "wakeUpLock observed WAKING without SPINNING")

		if !force {
			for last.locked() {
				if cur, ok := tryClearWaking(word, last); ok {
					return
				} else {
					last = cur
				}
			}
		}

		waitNode := last.waitNode()
		notify = updateNotifyNode(waitNode)

		if notify.loadFlags()&nodeFlagLocked != 0 {
			if force {
				fetchAndClearBit(word, flagWaking)
				return
			}

			if next := notify.loadNext(); next != nil {
				waitNode.storeNotify(next)
				notify.storeNext(nil)

				assertInvariant(waitNode != notify, "wakeUpLock promoted a node onto itself")
				assertInvariant(loadStatus(word).spinning(), "wakeUpLock observed a non-spinning word mid-promotion")

				fetchAndClearBit(word, flagWaking)
				break
			}
		}

		var next status
		if force {
			next = status(flagShared | flagLocked)
		} else {
			next = status(0)
		}
		if cur, ok := compareExchange(word, last, next); ok {
			break
		} else {
			last = cur
		}
	}

	for n := notify; n != nil; {
		next := n.loadNext()
		n.fetchBitSetFlag(nodeFlagWaking)
		if !n.fetchBitClearFlag(nodeFlagSpinning) {
			n.park.wakeUp()
		}
		n = next
	}
}

// fetchAndClearBit unconditionally clears bit from word via a CAS loop.
func fetchAndClearBit(word *uintptr, bit uintptr) {
	for {
		old := loadStatus(word)
		if _, ok := compareExchange(word, old, old&^status(bit)); ok {
			return
		}
	}
}
