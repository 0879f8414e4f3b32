// Package sched implements the preemptive round-robin scheduler, per
// spec.md §4.6. HeliOS is explicitly single-CPU (spec.md §5), so the
// scheduler owns one run queue and one "current task" pointer rather
// than per-CPU run queues.
package sched

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/archglue"
	"github.com/BouwerMan/helios-sub001/task"
)

// DefaultQuantum is the number of timer ticks a task runs before
// involuntary preemption, per spec.md §4.6.
const DefaultQuantum = 10

// Scheduler owns the run queue and drives context switches in
// response to timer ticks delivered through archglue.IRQVector.
type Scheduler struct {
	mu      sync.Mutex
	runq    []*task.Task
	current *task.Task
	sleeping map[*task.Task]int // task -> ticks remaining
	irq     archglue.IRQVector
}

// New creates a scheduler that installs its tick handler on the given
// IRQ vector source.
func New(irq archglue.IRQVector, vector int) *Scheduler {
	s := &Scheduler{sleeping: make(map[*task.Task]int)}
	if irq != nil {
		irq.Install(vector, s.Tick)
	}
	return s
}

// Add enqueues a runnable task.
func (s *Scheduler) Add(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetState(task.Runnable)
	s.runq = append(s.runq, t)
}

// Current returns the task currently selected to run, or nil.
func (s *Scheduler) Current() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Sleep removes the current task from run eligibility for the given
// number of ticks, per spec.md §4.6's timed-sleep primitive.
func (s *Scheduler) Sleep(t *task.Task, ticks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetState(task.Sleeping)
	s.sleeping[t] = ticks
	for i, r := range s.runq {
		if r == t {
			s.runq = append(s.runq[:i], s.runq[i+1:]...)
			break
		}
	}
	if s.current == t {
		s.current = nil
	}
}

// Wake moves a sleeping task back onto the run queue immediately,
// independent of its remaining tick count.
func (s *Scheduler) Wake(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sleeping[t]; ok {
		delete(s.sleeping, t)
	}
	if t.State() != task.Zombie {
		t.SetState(task.Runnable)
		s.runq = append(s.runq, t)
	}
}

// Remove drops a task from the run queue entirely, for task exit.
func (s *Scheduler) Remove(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sleeping, t)
	for i, r := range s.runq {
		if r == t {
			s.runq = append(s.runq[:i], s.runq[i+1:]...)
			break
		}
	}
	if s.current == t {
		s.current = nil
	}
}

// Tick is the timer IRQ handler: it ages sleeping tasks, decrements
// the running task's quantum, and round-robins to the next runnable
// task once the quantum is exhausted or there is no current task, per
// spec.md §4.6's preemption algorithm.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, ticks := range s.sleeping {
		ticks--
		if ticks <= 0 {
			delete(s.sleeping, t)
			t.SetState(task.Runnable)
			s.runq = append(s.runq, t)
		} else {
			s.sleeping[t] = ticks
		}
	}

	if s.current != nil {
		if s.current.PreemptCount() != 0 {
			return
		}
		s.current.Quantum--
		if s.current.IsDoomed() {
			s.current = nil
		} else if s.current.Quantum > 0 {
			return
		} else {
			s.current.SetState(task.Runnable)
			s.runq = append(s.runq, s.current)
			s.current = nil
		}
	}

	if len(s.runq) == 0 {
		return
	}
	next := s.runq[0]
	s.runq = s.runq[1:]
	next.Quantum = DefaultQuantum
	next.SetState(task.Running)
	s.current = next
}

// Yield voluntarily relinquishes the CPU, per spec.md §4.6's
// cooperative-yield path (e.g. blocking syscalls).
func (s *Scheduler) Yield() {
	s.mu.Lock()
	if s.current != nil {
		s.current.SetState(task.Runnable)
		s.runq = append(s.runq, s.current)
		s.current = nil
	}
	s.mu.Unlock()
	s.Tick()
}

// Len reports the number of runnable tasks waiting, for tests
// asserting round-robin fairness.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runq)
}
