// Package waitqueue implements a race-free sleep/wake primitive, per
// spec.md §4.6. A task that wants to block until some condition
// becomes true must be able to check the condition and register its
// intent to sleep as one atomic step; otherwise a wakeup delivered
// between the check and the sleep is lost forever. This package
// exposes that as an explicit Prepare/Commit/Cancel protocol instead
// of a bare condition variable, generalizing the single ad hoc
// Cond-based wait used for thread-kill notification
// (tinfo.Tnote_t.Killnaps) into a reusable primitive for the
// scheduler, pipes, and block I/O completion alike.
package waitqueue

import "sync"

// WaitQueue is a generation-counted wait/wake point. Zero value is
// ready to use.
type WaitQueue struct {
	mu  sync.Mutex
	cond *sync.Cond
	gen  uint64
}

func (wq *WaitQueue) init() {
	if wq.cond == nil {
		wq.cond = sync.NewCond(&wq.mu)
	}
}

// Ticket is the intent to sleep captured by Prepare, to be completed
// by Commit or abandoned by Cancel.
type Ticket struct {
	wq  *WaitQueue
	gen uint64
}

// Prepare records the current wakeup generation under the queue's
// lock. Callers must call Prepare, then re-check their condition
// (also under a lock that serializes with whoever calls Wake), and
// only call Commit if the condition is still false. This ordering is
// what makes a wakeup that races with the check impossible to miss:
// a concurrent Wake bumps the generation before Commit compares it.
func (wq *WaitQueue) Prepare() Ticket {
	wq.mu.Lock()
	wq.init()
	t := Ticket{wq: wq, gen: wq.gen}
	wq.mu.Unlock()
	return t
}

// Commit blocks until a Wake/WakeAll happens after the matching
// Prepare, i.e. until the generation counter advances past the
// ticket's snapshot. If a wakeup already happened between Prepare and
// Commit, Commit returns immediately.
func (t Ticket) Commit() {
	wq := t.wq
	wq.mu.Lock()
	for wq.gen == t.gen {
		wq.cond.Wait()
	}
	wq.mu.Unlock()
}

// Cancel abandons a prepared ticket without blocking. It exists for
// symmetry with Prepare/Commit at call sites that re-check their
// condition and find it already satisfied.
func (t Ticket) Cancel() {}

// Wake wakes one sleeper (if any are queued via Commit).
func (wq *WaitQueue) Wake() {
	wq.mu.Lock()
	wq.init()
	wq.gen++
	wq.mu.Unlock()
	wq.cond.Signal()
}

// WakeAll wakes every sleeper.
func (wq *WaitQueue) WakeAll() {
	wq.mu.Lock()
	wq.init()
	wq.gen++
	wq.mu.Unlock()
	wq.cond.Broadcast()
}
