package srwlock

import (
	"math/rand"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// TestStatusNodeRoundTrip packs a node pointer and a flag combination
// into a status word, then verifies every accessor reports back exactly
// what went in.
func TestStatusNodeRoundTrip(t *testing.T) {
	n := newWaiterNode()

	for _, flags := range []uintptr{0, flagWaking, flagWaking | flagMultiShared, flagAll} {
		s := statusWithNode(n, flags)
		assert.Equal(t, n, s.waitNode(), "waitNode() round-trip for flags=%x", flags)
		assert.Equal(t, flags&flagLocked != 0, s.locked())
		assert.Equal(t, flags&flagSpinning != 0, s.spinning())
		assert.Equal(t, flags&flagWaking != 0, s.waking())
		assert.Equal(t, flags&flagMultiShared != 0, s.multiShared())
	}
}

func TestStatusSharedCount(t *testing.T) {
	seed := time.Now().UTC().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < 100; i++ {
		count := uintptr(rng.Uint32() % 1000)
		s := status(count<<shiftShared) + status(flagShared) + status(flagLocked)
		assert.Equal(t, count+1, s.sharedCount(), "seed %d", seed)
		assert.False(t, s.spinning())
	}
}

func TestStatusCounterFull(t *testing.T) {
	var s status
	assert.False(t, s.isCounterFull())
	s = s.withFullCounter()
	assert.True(t, s.isCounterFull())
	assert.Equal(t, uintptr(flagLocked|flagSpinning|flagWaking), s.counter())
}

func TestStatusReplaceFlagPart(t *testing.T) {
	n := newWaiterNode()
	base := statusWithNode(n, flagSpinning|flagLocked)
	replaced := status(uintptr(unsafe.Pointer(n))).replaceFlagPart(base)
	assert.Equal(t, n, replaced.waitNode())
	assert.True(t, replaced.spinning())
	assert.True(t, replaced.locked())
}

// TestCompareExchangeReportsGroundTruth guards the ABA-safety fix this
// package's compareExchange makes over a naive "return old, compare at
// call site" translation: a failing CAS must never be mistaken for a
// success merely because the reloaded value happens to equal the
// expected one again.
func TestCompareExchangeReportsGroundTruth(t *testing.T) {
	var word uintptr = uintptr(flagLocked)

	cur, ok := compareExchange(&word, status(flagLocked), status(0))
	assert.True(t, ok)
	assert.Equal(t, status(0), cur)
	assert.Equal(t, uintptr(0), word)

	// word is now 0; a stale "expected=flagLocked" must fail cleanly.
	cur, ok = compareExchange(&word, status(flagLocked), status(flagWaking))
	assert.False(t, ok)
	assert.Equal(t, status(0), cur)
	assert.Equal(t, uintptr(0), word)
}

func TestWaiterNodeAlignment(t *testing.T) {
	for i := 0; i < 64; i++ {
		n := newWaiterNode()
		assert.Zero(t, uintptr(unsafe.Pointer(n))&0xF, "waiterNode must be 16-byte aligned")
	}
}
