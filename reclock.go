package srwlock

import "sync/atomic"

// RecursiveMutex wraps Mutex with re-entrant exclusive acquisition,
// tracked by an explicit caller-supplied owner token rather than an
// internally-detected thread id: a goroutine has no OS thread identity to
// read in the first place, and it can migrate between OS threads between
// any two statements, so any such identity would be unreliable by the
// time it was read. Callers that
// want recursive semantics supply their own comparable token — a
// goroutine-local counter, a request ID, a *struct{} sentinel — and must
// supply the same token on every Lock/TryLock/Unlock call that should be
// treated as the same logical owner.
//
// owner must be comparable. Tokens of different dynamic types may be
// mixed on one RecursiveMutex (they simply compare unequal); comparing two
// owner tokens of the same incomparable dynamic type (e.g. two slices)
// panics, exactly as comparing any two Go interface values holding that
// type would.
type RecursiveMutex struct {
	inner Mutex
	owner atomic.Value
	depth uint32
}

type ownerBox struct{ token any }

func (m *RecursiveMutex) currentOwner() any {
	v := m.owner.Load()
	if v == nil {
		return nil
	}
	return v.(ownerBox).token
}

// Lock acquires the lock exclusively on behalf of owner, or — if owner
// already holds it — simply increments the recursion depth.
func (m *RecursiveMutex) Lock(owner any) {
	if m.currentOwner() != owner {
		m.inner.Lock()
	}
	m.depth++
	if m.depth == 1 {
		m.owner.Store(ownerBox{owner})
	}
}

// TryLock is Lock's non-blocking form.
func (m *RecursiveMutex) TryLock(owner any) bool {
	acquired := true
	if m.currentOwner() != owner {
		acquired = m.inner.TryLock()
	}
	if acquired {
		m.depth++
		if m.depth == 1 {
			m.owner.Store(ownerBox{owner})
		}
	}
	return acquired
}

// Unlock decrements the recursion depth, releasing the underlying Mutex
// once it reaches zero. It is an InvariantError to call Unlock with a
// token that is not the current owner, or when the lock is not held at
// all.
func (m *RecursiveMutex) Unlock(owner any) {
	assertInvariant(m.depth >= 1 && m.currentOwner() == owner,
		"RecursiveMutex.Unlock called by a non-owner or with zero depth")

	m.depth--
	if m.depth == 0 {
		m.owner.Store(ownerBox{nil})
		m.inner.Unlock()
	}
}
