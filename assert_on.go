//go:build !srwlock_noassert

package srwlock

const debugAssertions = true
