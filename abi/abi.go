// Package abi implements the Linux-style register syscall ABI named
// in spec.md §6: rax selects the syscall number, arguments arrive in
// rdi/rsi/rdx/r10/r8/r9, and the return value (or a negative errno)
// goes back in rax. The dispatch table here keeps the table-of-funcs
// shape visible in chentry.go's small command-dispatch style and
// wires directly into task.Task, vm.Vm_t, fd.Table, and proc.Table.
package abi

import (
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/fd"
	"github.com/BouwerMan/helios-sub001/proc"
	"github.com/BouwerMan/helios-sub001/task"
	"github.com/BouwerMan/helios-sub001/vfs"
	"github.com/BouwerMan/helios-sub001/vm"
)

// maxExecArgs bounds the argv/envp pointer arrays execve reads from
// user memory, guarding against a runaway scan of a missing NULL
// terminator.
const maxExecArgs = 64

// Syscall numbers, matching the x86_64 Linux ABI values spec.md §6
// names explicitly so user binaries built against a standard libc
// ABI need no translation layer.
const (
	SYS_WRITE   = 1
	SYS_MMAP    = 9
	SYS_EXIT    = 60
	SYS_WAIT4   = 61
	SYS_FORK    = 57
	SYS_GETPID  = 39
	SYS_GETPPID = 110
	SYS_EXECVE  = 59
	SYS_READ    = 0
	SYS_OPEN    = 2
	SYS_CLOSE   = 3
)

// Regs holds the six general-purpose syscall argument registers, per
// spec.md §6's ABI.
type Regs struct {
	Rdi, Rsi, Rdx, R10, R8, R9 uintptr
}

// Machine bundles the collaborators a syscall needs to act on behalf
// of the calling task.
type Machine struct {
	Procs *proc.Table
	VFS   *vfs.Cache
}

// errRet packs a defs.Err_t into the negative-return-value convention
// spec.md §6 describes.
func errRet(e defs.Err_t) uintptr { return uintptr(int64(e)) }

// Dispatch executes the syscall named by num on behalf of caller,
// returning the raw rax value (a byte count, pid, or negative errno).
func (m *Machine) Dispatch(caller *task.Task, num uintptr, r Regs) uintptr {
	switch num {
	case SYS_WRITE:
		return m.sysWrite(caller, r)
	case SYS_READ:
		return m.sysRead(caller, r)
	case SYS_OPEN:
		return m.sysOpen(caller, r)
	case SYS_CLOSE:
		return m.sysClose(caller, r)
	case SYS_MMAP:
		return m.sysMmap(caller, r)
	case SYS_EXIT:
		return m.sysExit(caller, r)
	case SYS_WAIT4:
		return m.sysWait4(caller, r)
	case SYS_FORK:
		return m.sysFork(caller)
	case SYS_GETPID:
		return uintptr(caller.Pid)
	case SYS_GETPPID:
		return uintptr(caller.Ppid)
	case SYS_EXECVE:
		return m.sysExecve(caller, r)
	default:
		return errRet(defs.ENOSYS)
	}
}

func (m *Machine) sysWrite(caller *task.Task, r Regs) uintptr {
	fdno := int(r.Rdi)
	n := int(r.Rdx)
	f, err := caller.Fds.Get(fdno)
	if err != 0 {
		return errRet(err)
	}
	data := make([]byte, n)
	if uerr := caller.Vm.User2k(data, r.Rsi); uerr != 0 {
		return errRet(uerr)
	}
	wrote, werr := f.Fops.Write(data, 0)
	if werr != 0 {
		return errRet(werr)
	}
	return uintptr(wrote)
}

func (m *Machine) sysRead(caller *task.Task, r Regs) uintptr {
	fdno := int(r.Rdi)
	n := int(r.Rdx)
	f, err := caller.Fds.Get(fdno)
	if err != 0 {
		return errRet(err)
	}
	buf := make([]byte, n)
	got, rerr := f.Fops.Read(buf, 0)
	if rerr != 0 {
		return errRet(rerr)
	}
	if werr := caller.Vm.K2user(buf[:got], r.Rsi); werr != 0 {
		return errRet(werr)
	}
	return uintptr(got)
}

func (m *Machine) sysOpen(caller *task.Task, r Regs) uintptr {
	path, err := caller.Vm.Userstr(r.Rdi, 4096)
	if err != 0 {
		return errRet(err)
	}
	flags := int(r.Rsi)
	f, oerr := m.VFS.Open(path, flags, false)
	if oerr != 0 {
		return errRet(oerr)
	}
	fdno := caller.Fds.Install(&fd.Fd_t{Fops: f, Perms: flags})
	return uintptr(fdno)
}

func (m *Machine) sysClose(caller *task.Task, r Regs) uintptr {
	f, err := caller.Fds.Remove(int(r.Rdi))
	if err != 0 {
		return errRet(err)
	}
	return errRet(f.Fops.Close())
}

// sysMmap implements the anonymous-mapping subset of mmap spec.md §6
// names: a length and protection flags, placed at the first unused
// range above the task's existing mappings. File-backed mmap is out
// of scope (spec.md's Non-goals exclude a general page cache).
func (m *Machine) sysMmap(caller *task.Task, r Regs) uintptr {
	length := uintptr(r.Rsi)
	if length == 0 {
		return errRet(defs.EINVAL)
	}
	va := caller.Vm.Unusedva(0x1000_0000, length)
	caller.Vm.Vmadd_anon(va, length, uint(r.Rdx))
	return va
}

func (m *Machine) sysExit(caller *task.Task, r Regs) uintptr {
	caller.Zombify(int(r.Rdi))
	return 0
}

func (m *Machine) sysWait4(caller *task.Task, r Regs) uintptr {
	pid, _, err := m.Procs.Waitpid(caller, defs.Pid_t(int(r.Rdi)))
	if err != 0 {
		return errRet(err)
	}
	return uintptr(pid)
}

func (m *Machine) sysFork(caller *task.Task) uintptr {
	child, err := m.Procs.Fork(caller)
	if err != 0 {
		return errRet(err)
	}
	return uintptr(child.Pid)
}

// readStringArray reads a NULL-terminated array of user pointers
// starting at uva, dereferencing each as a NUL-terminated string, for
// execve's argv/envp arguments (spec.md §4.9 step 1). A zero uva (no
// array passed) yields an empty slice rather than an error.
func readStringArray(as *vm.Vm_t, uva uintptr, maxEntries int) ([]string, defs.Err_t) {
	if uva == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; i < maxEntries; i++ {
		ptr, err := as.Userreadn(uva+uintptr(i)*8, 8)
		if err != 0 {
			return nil, err
		}
		if ptr == 0 {
			return out, 0
		}
		s, serr := as.Userstr(uintptr(ptr), 4096)
		if serr != 0 {
			return nil, serr
		}
		out = append(out, s)
	}
	return nil, defs.E2BIG
}

func (m *Machine) sysExecve(caller *task.Task, r Regs) uintptr {
	path, err := caller.Vm.Userstr(r.Rdi, 4096)
	if err != 0 {
		return errRet(err)
	}
	argv, aerr := readStringArray(caller.Vm, r.Rsi, maxExecArgs)
	if aerr != 0 {
		return errRet(aerr)
	}
	envp, eerr := readStringArray(caller.Vm, r.Rdx, maxExecArgs)
	if eerr != 0 {
		return errRet(eerr)
	}
	img, perr := proc.PrepareExec(m.VFS, path, argv, envp)
	if perr != 0 {
		return errRet(perr)
	}
	if _, cerr := proc.CommitExec(caller, img); cerr != 0 {
		return errRet(cerr)
	}
	return 0
}
