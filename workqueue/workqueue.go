// Package workqueue implements a single worker goroutine draining a
// FIFO of deferred kernel work, grounded on the block-list idiom in
// blockdev.List (itself a container/list wrapper, after the
// blk.go's BlkList_t) and synchronized with waitqueue
// instead of an inlined condition variable. Used for
// work that must run outside of interrupt context, e.g. completing
// buffered I/O or reaping zombie tasks.
package workqueue

import (
	"container/list"
	"sync"

	"github.com/BouwerMan/helios-sub001/waitqueue"
)

// Job is one unit of deferred work.
type Job func()

// Queue is a FIFO of jobs drained by exactly one worker goroutine.
type Queue struct {
	mu   sync.Mutex
	jobs *list.List
	wq   waitqueue.WaitQueue
	done chan struct{}
}

// New creates an empty queue and starts its worker goroutine.
func New() *Queue {
	q := &Queue{jobs: list.New(), done: make(chan struct{})}
	go q.run()
	return q
}

// Submit enqueues a job for the worker to run.
func (q *Queue) Submit(j Job) {
	q.mu.Lock()
	q.jobs.PushBack(j)
	q.mu.Unlock()
	q.wq.Wake()
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.jobs.Front()
	if e == nil {
		return nil, false
	}
	q.jobs.Remove(e)
	return e.Value.(Job), true
}

func (q *Queue) run() {
	for {
		j, ok := q.pop()
		if !ok {
			t := q.wq.Prepare()
			if j2, ok2 := q.pop(); ok2 {
				t.Cancel()
				j2()
				continue
			}
			select {
			case <-q.done:
				return
			default:
			}
			t.Commit()
			select {
			case <-q.done:
				return
			default:
			}
			continue
		}
		j()
	}
}

// Stop signals the worker to exit after draining remaining jobs it
// has already popped; it does not wait for pending Submits.
func (q *Queue) Stop() {
	close(q.done)
	q.wq.WakeAll()
}

// Len reports the number of jobs not yet picked up by the worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}
