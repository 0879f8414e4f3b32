// Package task defines the schedulable unit of execution, per
// spec.md §3's Task model, and the "current task" pointer the
// scheduler installs before running it.
//
// One design stores the running thread's note in a field of a patched
// Go runtime's G struct (tinfo.Current/SetCurrent, via
// runtime.Gptr/Setgptr) so that any goroutine can find "its" kernel
// thread without an explicit parameter. That patched runtime isn't
// available here, and spec.md §5 explicitly excludes SMP, so the
// equivalent state collapses to one scheduler-owned pointer protected
// by a mutex (see sched.Current) rather than per-goroutine runtime
// state.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/BouwerMan/helios-sub001/accnt"
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/fd"
	"github.com/BouwerMan/helios-sub001/vm"
	"github.com/BouwerMan/helios-sub001/waitqueue"
)

// USER_CS, USER_DS, and DefaultRflags are the register-frame constants
// commit_exec installs for a freshly exec'd task, per spec.md §4.9's
// exec algorithm step 3.
const (
	USER_CS       = 0x1b
	USER_DS       = 0x23
	DefaultRflags = 0x202
)

// RegFrame is the subset of a task's initial user-mode register state
// that exec establishes: instruction pointer, stack pointer, segment
// selectors, and flags, per spec.md §4.9 step 3.
type RegFrame struct {
	Rip    uintptr
	Rsp    uintptr
	Cs     uintptr
	Ds     uintptr
	Ss     uintptr
	Rflags uintptr
}

// State enumerates a task's scheduling state, per spec.md §3.
type State int

const (
	Runnable State = iota
	Running
	Sleeping
	Zombie
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Task is one schedulable unit of execution: an address space, a file
// descriptor table, accounting, and scheduling metadata, per
// spec.md §3.
type Task struct {
	mu sync.Mutex

	Tid  defs.Tid_t
	Pid  defs.Pid_t
	Ppid defs.Pid_t

	Vm  *vm.Vm_t
	Fds *fd.Table
	Cwd *fd.Cwd_t

	Accnt accnt.Accnt_t

	state    State
	Killed   bool
	Doomed   bool
	ExitCode int
	Regs     RegFrame

	// Parent and Children support spec.md §4.9's waitpid: a parent
	// reaps terminated children by scanning Children and sleeping on
	// ParentWq (its own wait queue for child-termination notices)
	// between scans, per spec.md §4.6's reaping algorithm.
	Parent   *Task
	Children []*Task
	ParentWq waitqueue.WaitQueue

	// Quantum counts scheduler ticks remaining before involuntary
	// preemption, per spec.md §4.6.
	Quantum int

	// preemptCount implements spec.md §4.6's preemption-counting
	// discipline: DisablePreemption/EnablePreemption bracket sections
	// of kernel code that share state with the scheduler, and the
	// scheduler only preempts the current task while its count is zero.
	preemptCount int32

	// SlabSlot is the address of this task's slot in a slab.Cache, set
	// by proc.Table when the table was armed with one via UseSlab.
	// Zero when the table allocates task.Task values directly off the
	// Go heap.
	SlabSlot uintptr
}

// New constructs a task with fresh address space, descriptor table,
// and root cwd.
func New(tid defs.Tid_t, pid, ppid defs.Pid_t) (*Task, bool) {
	as, ok := vm.NewVm_t()
	if !ok {
		return nil, false
	}
	return &Task{
		Tid:   tid,
		Pid:   pid,
		Ppid:  ppid,
		Vm:    as,
		Fds:   fd.NewTable(),
		Cwd:   fd.MkRootCwd(nil),
		state: Runnable,
	}, true
}

// DisablePreemption increments the task's preemption count, per
// spec.md §4.6. Kernel code that shares state with the scheduler
// brackets itself with Disable/EnablePreemption, per spec.md §5.
func (t *Task) DisablePreemption() {
	atomic.AddInt32(&t.preemptCount, 1)
}

// EnablePreemption decrements the task's preemption count and panics
// on underflow, per spec.md §4.6.
func (t *Task) EnablePreemption() {
	if atomic.AddInt32(&t.preemptCount, -1) < 0 {
		panic("task: EnablePreemption without matching DisablePreemption")
	}
}

// PreemptCount reports the task's current preemption count. Scheduling
// may only reassign the CPU away from a task when this is zero, per
// spec.md §4.6 and the "preempt_count >= 0 for every task" invariant
// in spec.md §8.
func (t *Task) PreemptCount() int32 {
	return atomic.LoadInt32(&t.preemptCount)
}

// State returns the task's current scheduling state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions the task's scheduling state.
func (t *Task) SetState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// MarkDoomed flags the task for termination at its next safe point,
// per spec.md §4.9's kill semantics.
func (t *Task) MarkDoomed() {
	t.mu.Lock()
	t.Doomed = true
	t.Killed = true
	t.mu.Unlock()
}

// IsDoomed reports whether the task has been marked for termination.
func (t *Task) IsDoomed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Doomed
}

// Zombify transitions the task to Zombie with the given exit code and
// wakes every task sleeping in the parent's reaper loop, per
// spec.md §4.9 and §4.6's reaping algorithm.
func (t *Task) Zombify(code int) {
	t.mu.Lock()
	t.state = Zombie
	t.ExitCode = code
	parent := t.Parent
	t.mu.Unlock()
	if parent != nil {
		parent.ParentWq.WakeAll()
	}
}
