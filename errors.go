package srwlock

import "fmt"

// InvariantError is raised (fatal, via panic) when a caller violates one
// of this package's contracts: unlocking an unheld lock, a recursive
// unlock with depth 0, an observed WAKING=1 ∧ SPINNING=0 state, or
// releasing when LOCKED=0. There is no retryable error class in this
// package; everything else either completes or blocks.
type InvariantError struct {
	Code string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("srwlock: invariant violated: %s", e.Code)
}

// assertInvariant panics with *InvariantError when debugAssertions is
// compiled in (the default) and cond is false. Building with the
// srwlock_noassert tag (see assert_off.go) compiles this down to a no-op,
// the same release/debug split a debug-assertion header typically draws
// between Assert and AssertDebug.
func assertInvariant(cond bool, code string) {
	if debugAssertions && !cond {
		panic(&InvariantError{Code: code})
	}
}
