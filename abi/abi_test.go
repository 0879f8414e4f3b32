package abi

import (
	"testing"

	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/mem"
	"github.com/BouwerMan/helios-sub001/proc"
	"github.com/BouwerMan/helios-sub001/ramfs"
	"github.com/BouwerMan/helios-sub001/task"
	"github.com/BouwerMan/helios-sub001/vfs"
)

func newMachine(t *testing.T) (*Machine, *proc.Table, *task.Task) {
	t.Helper()
	mem.Phys_init(4096)
	cache := vfs.NewCache()
	cache.Mount("/", ramfs.New("rootfs"))
	procs := proc.NewTable()
	tsk, ok := procs.Spawn()
	if !ok {
		t.Fatal("Spawn failed")
	}
	return &Machine{Procs: procs, VFS: cache}, procs, tsk
}

func TestDispatchGetpidAndGetppidReturnTaskIdentity(t *testing.T) {
	m, _, tsk := newMachine(t)
	tsk.Ppid = 7

	if got := m.Dispatch(tsk, SYS_GETPID, Regs{}); got != uintptr(tsk.Pid) {
		t.Fatalf("SYS_GETPID = %d, want %d", got, tsk.Pid)
	}
	if got := m.Dispatch(tsk, SYS_GETPPID, Regs{}); got != uintptr(tsk.Ppid) {
		t.Fatalf("SYS_GETPPID = %d, want %d", got, tsk.Ppid)
	}
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	m, _, tsk := newMachine(t)
	got := m.Dispatch(tsk, 9999, Regs{})
	if int64(got) != int64(defs.ENOSYS) {
		t.Fatalf("unknown syscall = %d, want ENOSYS (%d)", int64(got), defs.ENOSYS)
	}
}

func TestDispatchExitZombifiesCaller(t *testing.T) {
	m, _, tsk := newMachine(t)
	m.Dispatch(tsk, SYS_EXIT, Regs{Rdi: 5})
	if tsk.State() != task.Zombie {
		t.Fatalf("expected task zombie after SYS_EXIT, got %v", tsk.State())
	}
	if tsk.ExitCode != 5 {
		t.Fatalf("ExitCode = %d, want 5", tsk.ExitCode)
	}
}

func TestDispatchForkThenWait4RoundTrip(t *testing.T) {
	m, _, parent := newMachine(t)
	childPid := m.Dispatch(parent, SYS_FORK, Regs{})
	if int64(childPid) < 0 {
		t.Fatalf("SYS_FORK returned error %d", int64(childPid))
	}
	child, ok := m.Procs.Get(defs.Pid_t(childPid))
	if !ok {
		t.Fatal("forked child not found in process table")
	}

	done := make(chan struct{})
	go func() {
		child.Zombify(9)
		close(done)
	}()
	<-done

	gotPid := m.Dispatch(parent, SYS_WAIT4, Regs{Rdi: childPid})
	if gotPid != childPid {
		t.Fatalf("SYS_WAIT4 = %d, want %d", gotPid, childPid)
	}
}

func TestDispatchMmapReturnsUsableAnonymousRange(t *testing.T) {
	m, _, tsk := newMachine(t)
	va := m.Dispatch(tsk, SYS_MMAP, Regs{Rsi: 4096, Rdx: 0x2})
	if va == 0 {
		t.Fatal("expected a nonzero mapped address")
	}
}

func TestDispatchMmapOfZeroLengthFailsWithEINVAL(t *testing.T) {
	m, _, tsk := newMachine(t)
	got := m.Dispatch(tsk, SYS_MMAP, Regs{Rsi: 0})
	if int64(got) != int64(defs.EINVAL) {
		t.Fatalf("zero-length mmap = %d, want EINVAL", int64(got))
	}
}
