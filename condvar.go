package srwlock

import "golang.org/x/sys/cpu"

// Cond is a condition variable whose wait queue is interleaved with a
// Mutex's own queue (§4.F). Its state word reuses the exact bit layout
// described in doc.go, reinterpreting the low three bits as a 0..7
// pending-notification counter and bit 3 as "a notifier currently holds
// the right to mutate the head of the list" rather than "more than one
// shared holder". The zero value is a ready-to-use Cond, the same as a
// zero-value Mutex.
type Cond struct {
	state uintptr
	_     cpu.CacheLinePad
}

// NewCond returns a ready-to-use Cond. A zero-value Cond works identically;
// this exists for callers who prefer an explicit constructor.
func NewCond() *Cond { return &Cond{} }

// WaitTimeout atomically releases lock — held exclusively, or for shared
// access when shared is true — blocks until notified or timeoutUs
// microseconds elapse (InfiniteWait blocks forever), then reacquires lock
// in the same mode before returning. It reports whether the wait timed
// out. Go has no overloading, so the exclusive-guard/shared-guard split
// becomes this explicit parameter instead of two wait_for overloads.
func (c *Cond) WaitTimeout(lock *Mutex, timeoutUs uint64, shared bool) (timedOut bool) {
	return c.wait(lock, timeoutUs, shared)
}

// Wait is WaitTimeout's infinite-timeout form.
func (c *Cond) Wait(lock *Mutex, shared bool) {
	c.wait(lock, InfiniteWait, shared)
}

// WaitExclusive and WaitShared are fixed-mode wrappers over WaitTimeout
// for callers that already know which guard they're holding.
func (c *Cond) WaitExclusive(lock *Mutex, timeoutUs uint64) (timedOut bool) {
	return c.WaitTimeout(lock, timeoutUs, false)
}

func (c *Cond) WaitShared(lock *Mutex, timeoutUs uint64) (timedOut bool) {
	return c.WaitTimeout(lock, timeoutUs, true)
}

// WaitPredicate loops an exclusive-guard Wait until pred reports true,
// guarding against both spurious wakeups and the lost-wakeup races a
// single un-looped wait is vulnerable to.
func (c *Cond) WaitPredicate(lock *Mutex, pred func() bool) {
	for !pred() {
		c.Wait(lock, false)
	}
}

// NotifyOne unblocks one queued waiter. If a notifier or a wait's
// list-optimization pass currently owns the queue (bit 3 set), it instead
// records a pending wake credit in the counter bits for that pass to
// consume. With no waiter queued it does nothing.
func (c *Cond) NotifyOne() {
	word := &c.state
	last := loadStatus(word)

	for last != 0 {
		if last.multiShared() {
			if last.isCounterFull() {
				return
			}
			if cur, ok := compareExchange(word, last, last+1); ok {
				_ = cur
				return
			} else {
				last = cur
			}
			continue
		}

		newSt := last | status(flagMultiShared)
		if cur, ok := compareExchange(word, last, newSt); ok {
			_ = cur
			doWakeCondVariable(word, newSt, 1)
			return
		} else {
			last = cur
		}
	}
}

// NotifyAll unblocks every waiter currently queued. A wait that begins
// after this call returns is not guaranteed to be among those woken.
func (c *Cond) NotifyAll() {
	word := &c.state
	last := loadStatus(word)

	for last != 0 && !last.isCounterFull() {
		if last.multiShared() {
			if cur, ok := compareExchange(word, last, last.withFullCounter()); ok {
				_ = cur
				return
			} else {
				last = cur
			}
			continue
		}

		cur, ok := compareExchange(word, last, status(0))
		if !ok {
			last = cur
			continue
		}

		waitNode := last.waitNode()
		for waitNode != nil {
			back := waitNode.loadBack()
			waitNode.fetchBitSetFlag(nodeFlagWaking)
			if !waitNode.fetchBitClearFlag(nodeFlagSpinning) {
				waitNode.park.wakeUp()
			}
			waitNode = back
		}
		return
	}
}

// wait is §4.F.2's algorithm shared by WaitExclusive and WaitShared.
func (c *Cond) wait(lock *Mutex, timeoutUs uint64, shared bool) bool {
	node := newWaiterNode()
	node.lastLock = lock.native()
	if shared {
		node.storeFlags(nodeFlagSpinning)
	} else {
		node.storeFlags(nodeFlagSpinning | nodeFlagLocked)
	}

	word := &c.state
	last := loadStatus(word)
	var newSt status

	for {
		newSt = statusWithNode(node, uintptr(last)&flagAll)
		back := last.waitNode()
		node.storeBack(back)
		if back != nil {
			node.storeNotify(nil)
			newSt |= status(flagMultiShared)
		} else {
			node.storeNotify(node)
		}

		if cur, ok := compareExchange(word, last, newSt); ok {
			break
		} else {
			last = cur
		}
	}

	if shared {
		lock.RUnlock()
	} else {
		lock.Unlock()
	}

	if last.multiShared() != newSt.multiShared() {
		optimizeWaitList(word, newSt)
	}

	spinWait(node)

	timedOut := false
	if node.fetchBitClearFlag(nodeFlagSpinning) {
		timedOut = node.park.waitMicrosec(timeoutUs)
	} else {
		node.fetchBitSetFlag(nodeFlagWaking)
	}

	if timedOut || node.loadFlags()&nodeFlagWaking == 0 {
		if !wakeSingle(word, node) {
			for node.loadFlags()&nodeFlagWaking == 0 {
				node.park.wait()
			}
			timedOut = false
		}
	}

	if shared {
		lock.RLock()
	} else {
		lock.Lock()
	}

	return timedOut
}

// queueStackNodeToSRWLock is the CV-side twin of queueStackNode: it only
// chains n directly onto lockWord's wait queue when the lock is actually
// contended; otherwise it reports false so the caller falls back to an
// ordinary park wake, since the woken waiter can then just re-race for
// the lock itself. It always takes the exclusive-enqueue branch even for
// a shared-guard waiter — safe because the loop guard below only calls
// queueStackNode when n genuinely wants exclusive, a queue already exists,
// or the lock's shared count is zero, and in the last two cases the
// exclusive and shared enqueue branches compute the identical result.
func queueStackNodeToSRWLock(n *waiterNode, lockWord *uintptr) bool {
	last := loadStatus(lockWord)
	var bo backoff

	for last.locked() && (n.loadFlags()&nodeFlagLocked != 0 || last.spinning() || last.sharedCount() == 0) {
		if _, ok := queueStackNode(lockWord, n, last, true); ok {
			return true
		}
		bo.pause()
		last = loadStatus(lockWord)
	}
	return false
}

// doWakeCondVariable is §4.F.3's DoWakeCondVariable: harvest up to
// addCounter+lastStatus.Counter() victims (or, if the counter was already
// saturated, the entire remaining queue) and either hand each directly
// back onto its own lock's wait queue, or park-wake it.
func doWakeCondVariable(word *uintptr, last status, addCounter uint32) {
	var currNotify *waiterNode
	var chainTail *waiterNode

	link := func(v *waiterNode) {
		if chainTail == nil {
			currNotify = v
		} else {
			chainTail.storeBack(v)
		}
		chainTail = v
	}

	counter := uint32(0)

	for {
		waitNode := last.waitNode()

		if last.isCounterFull() {
			old := exchangeStatus(word, status(0))
			link(old.waitNode())
			break
		}

		total := addCounter + uint32(last.counter())
		notify := findNotifyNode(waitNode)

		for total > counter {
			next := notify.loadNext()
			if next == nil {
				break
			}
			counter++
			link(notify)
			notify.storeBack(nil)
			waitNode.storeNotify(next)
			notify = next
			next.storeBack(nil)
		}

		if total <= counter {
			if cur, ok := compareExchange(word, last, statusWithNode(waitNode, 0)); ok {
				_ = cur
				break
			} else {
				last = cur
			}
			continue
		}

		if cur, ok := compareExchange(word, last, status(0)); ok {
			_ = cur
			link(notify)
			notify.storeBack(nil)
			break
		} else {
			last = cur
		}
	}

	for n := currNotify; n != nil; {
		back := n.loadBack()
		if !n.fetchBitClearFlag(nodeFlagSpinning) {
			if n.lastLock == nil || !queueStackNodeToSRWLock(n, n.lastLock) {
				n.fetchBitSetFlag(nodeFlagWaking)
				n.park.wakeUp()
			}
		}
		n = back
	}
}

// optimizeWaitList is the Cond-side twin of optimizeLockList: repair the
// forward chain, then hand off to doWakeCondVariable immediately if a
// notifier raced us and left a pending counter.
func optimizeWaitList(word *uintptr, last status) {
	for {
		waitNode := last.waitNode()
		updateNotifyNode(waitNode)

		cur, ok := compareExchange(word, last, statusWithNode(waitNode, 0))
		if ok {
			return
		}
		last = cur
		if last.counter() != 0 {
			doWakeCondVariable(word, last, 0)
			return
		}
	}
}

// wakeSingle is §4.F.2's ghost-waiter excision helper: it tries to pull
// waitNode specifically out of the queue (wherever it sits), reporting
// whether it was found and excised. If some other notifier already took
// it, it falls through to draining any other pending notifications and
// lets the caller keep waiting for WAKING to be set by whoever did.
func wakeSingle(word *uintptr, waitNode *waiterNode) bool {
	last := loadStatus(word)
	var newSt status

	for {
		if last == 0 || last.isCounterFull() {
			return false
		}
		if last.multiShared() {
			if cur, ok := compareExchange(word, last, last.withFullCounter()); ok {
				_ = cur
				return false
			} else {
				last = cur
			}
			continue
		}

		newSt = last | status(flagMultiShared)
		if cur, ok := compareExchange(word, last, newSt); ok {
			break
		} else {
			last = cur
		}
	}
	last = newSt

	curr := newSt.waitNode()
	lastWait := curr
	var prev *waiterNode
	result := false

	if curr != nil {
		for curr != nil {
			back := curr.loadBack()

			if curr != waitNode {
				curr.storeNext(prev)
				prev = curr
				curr = back
				continue
			}

			if prev != nil {
				curr.fetchBitSetFlag(nodeFlagWaking)
				result = true
				prev.storeBack(back)
				if back != nil {
					back.storeNext(prev)
				}
				curr = back
				continue
			}

			var candidate status
			if back != nil {
				candidate = statusWithNode(back, 0).replaceFlagPart(last)
			}
			cur2, ok := compareExchange(word, last, candidate)
			if ok {
				curr.fetchBitSetFlag(nodeFlagWaking)
				result = true
				last = candidate
				if back == nil {
					return true
				}
			} else {
				candidate = cur2
				last = cur2
			}
			newSt = candidate
			curr = last.waitNode()
			lastWait = curr
			prev = nil
		}

		if lastWait != nil {
			lastWait.storeNotify(prev)
		}

		if !result {
			waitNode.fetchBitSetFlag(nodeFlagSpinning)
		}
	} else {
		waitNode.fetchBitSetFlag(nodeFlagSpinning)
	}

	doWakeCondVariable(word, newSt, 0)

	if !result {
		result = !waitNode.fetchBitClearFlag(nodeFlagSpinning)
	}

	return result
}
