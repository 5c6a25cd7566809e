// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package srwlock implements a slim reader-writer lock and a matching
// condition variable, each occupying a single machine word of state.
//
// Unlike a textbook reader-writer lock built from a mutex plus a pair of
// counters, a Mutex here never allocates a wait queue up front: the queue
// is an intrusive, LIFO-ordered linked list threaded through on-stack nodes
// contributed by the waiters themselves, and the entire lock fits in one
// atomically-compare-and-swapped word. The low four bits of that word are
// flags; the remaining bits are either a pointer to the tail of the wait
// queue, or - when no queue exists - a shared-holder count.
//
//	|  word (pointer width)   |
//	 \_______/\_/\_/\_/\_/
//	  tail ptr  |  |  |  |
//	     or     |  |  |  MULTI_SHARED: >1 shared holder, or count migrated
//	   shared    |  |  WAKING: a wake/optimize pass is in progress
//	   count     |  SPINNING: a wait queue exists
//	           LOCKED: held, exclusive or shared
//
// Contention pushes a waiter through spin, back-off, and finally park. The
// queue's backward links (towards the head) are always correct the instant
// a node is inserted; forward links (towards the tail) are repaired lazily
// by whichever goroutine first needs to walk the list forward to find who
// to wake next. Every mutation of shared state happens through a single
// compare-and-swap on the state word; node fields are touched by more than
// one goroutine over a node's lifetime, but ownership of each field always
// transfers through that same word, by the SPINNING/WAKING handshake
// described in waiter.go.
//
// Cond, the companion condition variable, reuses the identical bit layout
// for its own word (condvar.go), reinterpreting the low three
// bits as a small pending-notification counter instead of lock flags, and
// is able to re-queue a woken waiter directly onto a Mutex's wait queue
// without an intervening wakeup, avoiding the classic
// wake-then-contend-on-the-mutex round trip.
package srwlock
