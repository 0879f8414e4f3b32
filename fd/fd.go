// Package fd implements the per-task file descriptor table and
// current-working-directory tracking, per spec.md §3/§4.5.
package fd

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/bpath"
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/ustr"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Ops is the set of operations every open file description must
// support, implemented by vfs.OpenFile (and any other fd-backed
// object, e.g. a future pipe).
type Ops interface {
	Read(dst []byte, offset int) (int, defs.Err_t)
	Write(src []byte, offset int) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
}

// Fd_t represents one open file descriptor.
type Fd_t struct {
	Fops  Ops
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening its
// underlying operations (bumping whatever refcount Fops.Reopen
// tracks), per spec.md §4.5's dup semantics.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// ClosePanic closes the descriptor and panics if Close fails, for
// call sites that have already proven the descriptor is valid (e.g.
// task teardown).
func ClosePanic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close must succeed")
	}
}

// Table is a task's file descriptor table: a simple slot array with a
// free-slot search, per spec.md §3.
type Table struct {
	mu   sync.Mutex
	fds  []*Fd_t
}

// NewTable returns an empty descriptor table.
func NewTable() *Table {
	return &Table{}
}

// Install inserts fd at the lowest free slot (POSIX fd-allocation
// semantics), returning that slot number.
func (t *Table) Install(fd *Fd_t) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, slot := range t.fds {
		if slot == nil {
			t.fds[i] = fd
			return i
		}
	}
	t.fds = append(t.fds, fd)
	return len(t.fds) - 1
}

// InstallAt installs fd at a specific slot, growing the table if
// needed, for dup2-style semantics.
func (t *Table) InstallAt(n int, fd *Fd_t) defs.Err_t {
	if n < 0 {
		return defs.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.fds) <= n {
		t.fds = append(t.fds, nil)
	}
	t.fds[n] = fd
	return 0
}

// Get returns the descriptor at slot n.
func (t *Table) Get(n int) (*Fd_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.fds) || t.fds[n] == nil {
		return nil, defs.EBADF
	}
	return t.fds[n], 0
}

// Remove clears slot n, returning the descriptor that was there.
func (t *Table) Remove(n int) (*Fd_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.fds) || t.fds[n] == nil {
		return nil, defs.EBADF
	}
	fd := t.fds[n]
	t.fds[n] = nil
	return fd, 0
}

// CloseOnExec closes every descriptor marked FD_CLOEXEC, per spec.md
// §4.7's exec path.
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	victims := make([]*Fd_t, 0)
	for i, fd := range t.fds {
		if fd != nil && fd.Perms&FD_CLOEXEC != 0 {
			victims = append(victims, fd)
			t.fds[i] = nil
		}
	}
	t.mu.Unlock()
	for _, fd := range victims {
		ClosePanic(fd)
	}
}

// Fork duplicates every live descriptor into a new table, for
// spec.md §4.7's fork operation.
func (t *Table) Fork() (*Table, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{fds: make([]*Fd_t, len(t.fds))}
	for i, fd := range t.fds {
		if fd == nil {
			continue
		}
		nfd, err := Copyfd(fd)
		if err != 0 {
			for _, done := range nt.fds[:i] {
				if done != nil {
					ClosePanic(done)
				}
			}
			return nil, err
		}
		nt.fds[i] = nfd
	}
	return nt, 0
}

// CloseAll closes every live descriptor, for task exit.
func (t *Table) CloseAll() {
	t.mu.Lock()
	fds := t.fds
	t.fds = nil
	t.mu.Unlock()
	for _, fd := range fds {
		if fd != nil {
			ClosePanic(fd)
		}
	}
}

// Cwd_t tracks a task's current working directory.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins the cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

// Canonicalpath resolves p (absolute or relative) against cwd into a
// canonical absolute path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: fd, Path: ustr.MkUstrRoot()}
}
