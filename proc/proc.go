// Package proc owns the process table and the fork/exec/wait
// lifecycle, per spec.md §4.9. This is built from scratch atop
// task.Task, vm.Vm_t, fd.Table, and
// elffmt, following the shape of thread lifecycle management visible
// in tinfo.Threadinfo_t (a mutex-guarded map keyed by id).
package proc

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/elffmt"
	"github.com/BouwerMan/helios-sub001/mem"
	"github.com/BouwerMan/helios-sub001/slab"
	"github.com/BouwerMan/helios-sub001/task"
	"github.com/BouwerMan/helios-sub001/util"
	"github.com/BouwerMan/helios-sub001/vfs"
	"github.com/BouwerMan/helios-sub001/vm"
)

// UserStackTop and DefaultStackSize place the initial stack for a
// freshly exec'd task, per spec.md §4.9.
const (
	UserStackTop     = uintptr(0x0000_7ffc_0000_0000)
	DefaultStackSize = 8 * uintptr(vm.PGSIZE)
)

// Table is the process table: every live task, keyed by pid, guarded
// by a single mutex in the same style as tinfo.Threadinfo_t.
type Table struct {
	mu      sync.Mutex
	procs   map[defs.Pid_t]*task.Task
	nextPid defs.Pid_t

	// taskCache, when armed via UseSlab, backs every task's control
	// block with a reservation from a slab.Cache, per spec.md §4.6's
	// "a slab cache produces task structs" data model. The task.Task
	// value itself still lives on the Go heap (it holds a mutex,
	// slices, and pointers a raw slab byte run can't represent), but
	// the slab allocation models and exercises the pool's lifetime:
	// one slot reserved at task creation, freed at reap.
	taskCache *slab.Cache
}

// NewTable creates an empty process table.
func NewTable() *Table {
	return &Table{procs: make(map[defs.Pid_t]*task.Task), nextPid: 1}
}

// UseSlab arms the table to reserve a slot from cache for every task
// it creates from this point on, per spec.md §4.6's task allocation
// model.
func (t *Table) UseSlab(cache *slab.Cache) {
	t.mu.Lock()
	t.taskCache = cache
	t.mu.Unlock()
}

// allocPid returns the next process id. The table's mutex must be
// held by the caller.
func (t *Table) allocPid() defs.Pid_t {
	p := t.nextPid
	t.nextPid++
	return p
}

// reserveSlot reserves a slab slot for a new task if the table has
// been armed with a cache via UseSlab, reporting the token to attach
// to the task (zero if no cache is in use).
func (t *Table) reserveSlot() (uintptr, defs.Err_t) {
	t.mu.Lock()
	cache := t.taskCache
	t.mu.Unlock()
	if cache == nil {
		return 0, 0
	}
	slot, ok := cache.Alloc()
	if !ok {
		return 0, defs.ENOMEM
	}
	return slot, 0
}

// releaseSlot frees a task's slab slot, if any.
func (t *Table) releaseSlot(slot uintptr) {
	t.mu.Lock()
	cache := t.taskCache
	t.mu.Unlock()
	if cache != nil && slot != 0 {
		cache.Free(slot)
	}
}

// Spawn creates the first task in a new process (no parent), used
// only to bootstrap the init process at boot.
func (t *Table) Spawn() (*task.Task, bool) {
	slot, serr := t.reserveSlot()
	if serr != 0 {
		return nil, false
	}
	t.mu.Lock()
	pid := t.allocPid()
	t.mu.Unlock()
	nt, ok := task.New(defs.Tid_t(pid), pid, 0)
	if !ok {
		t.releaseSlot(slot)
		return nil, false
	}
	nt.SlabSlot = slot
	t.mu.Lock()
	t.procs[pid] = nt
	t.mu.Unlock()
	return nt, true
}

// Get looks up a live task by pid.
func (t *Table) Get(pid defs.Pid_t) (*task.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt, ok := t.procs[pid]
	return nt, ok
}

// Remove drops a task from the table and releases its slab slot (if
// any), called once its parent has reaped it via Waitpid.
func (t *Table) Remove(pid defs.Pid_t) {
	t.mu.Lock()
	nt, ok := t.procs[pid]
	delete(t.procs, pid)
	t.mu.Unlock()
	if ok {
		t.releaseSlot(nt.SlabSlot)
	}
}

// Fork duplicates parent into a new task per spec.md §4.9's fork
// semantics: a copy-on-write address space (vm.Vm_t.Fork), a forked
// descriptor table, and a fresh pid registered as a child of parent.
func (t *Table) Fork(parent *task.Task) (*task.Task, defs.Err_t) {
	childVm, ok := parent.Vm.Fork()
	if !ok {
		return nil, defs.ENOMEM
	}
	childFds, err := parent.Fds.Fork()
	if err != 0 {
		return nil, err
	}
	slot, serr := t.reserveSlot()
	if serr != 0 {
		return nil, serr
	}

	t.mu.Lock()
	pid := t.allocPid()
	t.mu.Unlock()

	child := &task.Task{
		Tid:      defs.Tid_t(pid),
		Pid:      pid,
		Ppid:     parent.Pid,
		Vm:       childVm,
		Fds:      childFds,
		Cwd:      parent.Cwd,
		Parent:   parent,
		SlabSlot: slot,
	}
	child.SetState(task.Runnable)

	t.mu.Lock()
	t.procs[pid] = child
	t.mu.Unlock()

	parent.Children = append(parent.Children, child)
	return child, 0
}

// reapTerminated scans parent's children for one matching pid (pid<=0
// matches any), removing and returning it, or reports found=false.
// Caller must serialize this against concurrent Forks/Zombifies of
// parent's children via disabled preemption, per spec.md §4.6.
func reapTerminated(parent *task.Task, pid defs.Pid_t) (*task.Task, bool) {
	for i, c := range parent.Children {
		if (pid <= 0 || c.Pid == pid) && c.State() == task.Zombie {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return c, true
		}
	}
	return nil, false
}

func hasMatchingChild(parent *task.Task, pid defs.Pid_t) bool {
	for _, c := range parent.Children {
		if pid <= 0 || c.Pid == pid {
			return true
		}
	}
	return false
}

// Waitpid blocks until the given child (or, if pid <= 0, any child)
// of parent exits, per spec.md §4.6's reaping algorithm: scan
// children for one already terminated; if none, sleep on the parent's
// own wait queue and retry. The Prepare ticket is taken before the
// scan on every iteration so a Zombify that races with the scan can
// never be missed: Zombify's WakeAll always advances the generation
// counter the ticket is watching, even if it fires between the scan
// and the Commit.
func (t *Table) Waitpid(parent *task.Task, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	for {
		ticket := parent.ParentWq.Prepare()

		parent.DisablePreemption()
		if !hasMatchingChild(parent, pid) {
			parent.EnablePreemption()
			ticket.Cancel()
			return 0, 0, defs.ECHILD
		}
		target, found := reapTerminated(parent, pid)
		parent.EnablePreemption()
		if found {
			ticket.Cancel()
			t.Remove(target.Pid)
			return target.Pid, target.ExitCode, 0
		}

		ticket.Commit()
	}
}

// ExecImage bundles a parsed ELF image with its pre-staged initial
// user stack (argv/envp pointer table and string bytes), ready to be
// copied into a fresh address space by CommitExec, per spec.md §4.9
// steps 1 and 4.
type ExecImage struct {
	*elffmt.Image
	stack []byte
	sp    uintptr
}

// PrepareExec parses the ELF image at path and stages the initial
// user stack built from argv/envp, without touching the calling
// task's live state: exec can still fail after this point (bad ELF,
// file too large, argv/envp too big for the stack) without having
// torn down the caller, per spec.md §4.9's
// exec-must-not-partially-destroy-caller invariant.
func PrepareExec(cache *vfs.Cache, path string, argv, envp []string) (*ExecImage, defs.Err_t) {
	f, err := cache.Open(path, vfs.O_RDONLY, false)
	if err != 0 {
		return nil, err
	}
	defer f.Close()

	size := f.FileSize()
	buf := make([]byte, size)
	n, rerr := f.Read(buf, 0)
	if rerr != 0 {
		return nil, rerr
	}
	elfImg, perr := elffmt.Parse(buf[:n])
	if perr != nil {
		return nil, defs.ENOEXEC
	}

	stack, sp, serr := buildInitialStack(argv, envp)
	if serr != 0 {
		return nil, serr
	}
	return &ExecImage{Image: elfImg, stack: stack, sp: sp}, 0
}

// buildInitialStack lays out the argc/argv/envp block a freshly exec'd
// task's C runtime expects at the top of its stack, per spec.md §4.9
// step 4: argc, then the argv pointer array terminated by a NULL,
// then the envp pointer array terminated by a NULL, then the argument
// and environment strings themselves. It stages the block through a
// vm.Fakeubuf_t, the same Uioread/Uiowrite interface CommitExec will
// later present for the real user copy, so the write sequence here is
// exactly the sequence that would run against live user memory.
func buildInitialStack(argv, envp []string) ([]byte, uintptr, defs.Err_t) {
	var strs bytes.Buffer
	argvOff := make([]uintptr, len(argv))
	envpOff := make([]uintptr, len(envp))
	for i, s := range argv {
		argvOff[i] = uintptr(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
	}
	for i, s := range envp {
		envpOff[i] = uintptr(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
	}
	stringsLen := uintptr(strs.Len())
	stringsBase := UserStackTop - stringsLen

	ptrTableLen := uintptr(8 * (3 + len(argv) + len(envp)))
	ptrTableBase := util.Rounddown(stringsBase-ptrTableLen, uintptr(16))
	blockLen := UserStackTop - ptrTableBase
	if blockLen > DefaultStackSize {
		return nil, 0, defs.E2BIG
	}

	block := make([]byte, blockLen)
	fb := &vm.Fakeubuf_t{}
	fb.FakeInit(block)

	var werr defs.Err_t
	put64 := func(v uint64) {
		if werr != 0 {
			return
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		if _, err := fb.Uiowrite(b[:]); err != 0 {
			werr = err
		}
	}

	put64(uint64(len(argv)))
	for _, off := range argvOff {
		put64(uint64(stringsBase + off))
	}
	put64(0)
	for _, off := range envpOff {
		put64(uint64(stringsBase + off))
	}
	put64(0)
	if werr != 0 {
		return nil, 0, werr
	}

	written := blockLen - uintptr(fb.Remain())
	if gap := int(stringsBase-ptrTableBase) - int(written); gap > 0 {
		if _, err := fb.Uiowrite(make([]byte, gap)); err != 0 {
			return nil, 0, err
		}
	}
	if _, err := fb.Uiowrite(strs.Bytes()); err != 0 {
		return nil, 0, err
	}

	return block, ptrTableBase, 0
}

// CommitExec installs img into t's address space, replacing whatever
// was mapped before, per spec.md §4.9's exec algorithm: the old
// address space is torn down only once the new one is known-good, so
// a bad ELF caught by PrepareExec never leaves the caller half-dead.
// It records the ELF entry point and the staged argv/envp stack into
// a fresh register frame, per step 3's rip/rsp/cs/ds/rflags setup.
func CommitExec(t *task.Task, img *ExecImage) (task.RegFrame, defs.Err_t) {
	newVm, err := vmForImage(img.Image)
	if err != 0 {
		return task.RegFrame{}, err
	}
	if err := newVm.K2user(img.stack, img.sp); err != 0 {
		return task.RegFrame{}, err
	}

	oldVm := t.Vm
	t.Vm = newVm
	oldVm.Uvmfree()

	frame := task.RegFrame{
		Rip:    uintptr(img.Entry),
		Rsp:    img.sp,
		Cs:     task.USER_CS,
		Ds:     task.USER_DS,
		Ss:     task.USER_DS,
		Rflags: task.DefaultRflags,
	}
	t.Regs = frame
	return frame, 0
}

// vmForImage builds a fresh address space containing every PT_LOAD
// segment of img, page-aligned and copied in via K2user. Segment
// bytes beyond Filesz out to Memsz are left demand-zero (the .bss
// tail), matching the anonymous-page zero-fill semantics in
// vm.Vm_t.resolveFault.
func vmForImage(img *elffmt.Image) (*vm.Vm_t, defs.Err_t) {
	as, ok := vm.NewVm_t()
	if !ok {
		return nil, defs.ENOMEM
	}
	for _, seg := range img.Segments {
		start := uintptr(seg.Vaddr) &^ vm.PGOFFSET
		end := util.Roundup(uintptr(seg.Vaddr)+uintptr(seg.Memsz), uintptr(vm.PGSIZE))
		perms := uint(mem.PTE_U)
		if seg.Perms&elffmt.PermWrite != 0 {
			perms |= uint(mem.PTE_W)
		}
		// The region is writable while the segment bytes are copied in,
		// then takes the segment's own permissions.
		as.Vmadd_anon(start, end-start, perms|uint(mem.PTE_W))
		if len(seg.Data) > 0 {
			if err := as.K2user(seg.Data, uintptr(seg.Vaddr)); err != 0 {
				return nil, err
			}
		}
		if vmi, ok := as.Vmregion.Lookup(start); ok {
			vmi.Perms = perms
		}
	}
	stackStart := UserStackTop - DefaultStackSize
	as.Vmadd_anon(stackStart, DefaultStackSize, uint(mem.PTE_W))
	return as, 0
}
