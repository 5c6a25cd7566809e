package srwlock

import (
	"sync/atomic"
	"unsafe"
)

// Bit layout of a status word, shared verbatim by Mutex and Cond (see
// doc.go). Which of the two owns a given word changes what the low bits
// mean operationally, but never where they sit.
const (
	bitLocked      = 0
	bitSpinning    = 1
	bitWaking      = 2
	bitMultiShared = 3
	shiftShared    = 4

	flagLocked      uintptr = 1 << bitLocked
	flagSpinning    uintptr = 1 << bitSpinning
	flagWaking      uintptr = 1 << bitWaking
	flagMultiShared uintptr = 1 << bitMultiShared
	flagAll                 = flagLocked | flagSpinning | flagWaking | flagMultiShared

	// flagShared is one unit of shared-holder count, packed above the flag
	// nibble. "LOCKED|flagShared" is the fast-path encoding for "held by
	// exactly one shared holder, no queue".
	flagShared uintptr = 1 << shiftShared

	ptrMask = ^uintptr(flagAll)
)

// status is the decoded view of a lock or condvar word. It is a value
// type: decode once from an atomic load, operate on the copy, then either
// CAS it back or discard it.
type status uintptr

func loadStatus(word *uintptr) status {
	return status(atomic.LoadUintptr(word))
}

// compareExchange mimics the C/C++ compare_exchange_strong contract used
// throughout the original design, but split into an explicit success flag
// rather than relying on "returned value equals the old value" to signal
// success: that comparison is ABA-prone the moment the returned-on-failure
// value comes from a separate Load rather than the same indivisible
// instruction that decided success or failure. ok reports the ground
// truth; cur is the value now stored (new) on success or the freshly
// observed current value on failure, ready to feed into the next loop
// iteration.
func compareExchange(word *uintptr, old, new status) (cur status, ok bool) {
	if atomic.CompareAndSwapUintptr(word, uintptr(old), uintptr(new)) {
		return new, true
	}
	return status(atomic.LoadUintptr(word)), false
}

func exchangeStatus(word *uintptr, new status) status {
	return status(atomic.SwapUintptr(word, uintptr(new)))
}

func (s status) locked() bool      { return s&status(flagLocked) != 0 }
func (s status) spinning() bool    { return s&status(flagSpinning) != 0 }
func (s status) waking() bool      { return s&status(flagWaking) != 0 }
func (s status) multiShared() bool { return s&status(flagMultiShared) != 0 }

// sharedCount is meaningful only when spinning() is false: the high bits
// then hold a plain holder count rather than a queue-tail pointer.
func (s status) sharedCount() uintptr { return uintptr(s) >> shiftShared }

// waitNode decodes the high bits as a pointer. Valid only when spinning()
// is true.
func (s status) waitNode() *waiterNode {
	return (*waiterNode)(unsafe.Pointer(uintptr(s) & ptrMask))
}

func statusWithNode(n *waiterNode, flags uintptr) status {
	return status(uintptr(unsafe.Pointer(n)) | flags)
}

func (s status) withoutMultiSharedLocked() status {
	return s &^ status(flagMultiShared|flagLocked)
}

// counter reinterprets the LOCKED/SPINNING/WAKING bits as a 0..7 pending
// wake count — the Cond-side meaning of those bits.
func (s status) counter() uintptr {
	return uintptr(s) & (flagLocked | flagSpinning | flagWaking)
}

func (s status) isCounterFull() bool {
	return s.counter() == flagLocked|flagSpinning|flagWaking
}

func (s status) withFullCounter() status {
	return s | status(flagLocked|flagSpinning|flagWaking)
}

// replaceFlagPart keeps this status's pointer/count bits but overwrites
// its flag nibble with another status's flag nibble. Used when collapsing
// a notify chain back down onto a single remaining node.
func (s status) replaceFlagPart(flagPart status) status {
	return (s &^ status(flagAll)) | (flagPart & status(flagAll))
}
