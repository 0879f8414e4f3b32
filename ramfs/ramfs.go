// Package ramfs implements an in-memory filesystem driver satisfying
// vfs.Filesystem/vfs.Inode, used as the HeliOS root filesystem and
// for /dev, per spec.md §4.8. It is a from-scratch implementation of
// the vfs.Inode contract, but follows ufs.go's
// operation names (Create/Unlink/Stat) and stat/Ustr usage for
// its public surface.
package ramfs

import (
	"sync"
	"sync/atomic"

	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/stat"
	"github.com/BouwerMan/helios-sub001/vfs"
)

var nextIno uint64

func allocIno() uint64 {
	return atomic.AddUint64(&nextIno, 1)
}

const (
	modeDir  = 0040000
	modeFile = 0100000
)

// node is a ramfs inode: either a flat byte buffer (file) or a name
// map (directory).
type node struct {
	mu    sync.RWMutex
	ino   uint64
	isDir bool
	data  []byte
	ents  map[string]*node
	nlink int
}

// Fs is an in-memory vfs.Filesystem.
type Fs struct {
	name string
	root *node
}

// New creates an empty ramfs with a single root directory.
func New(name string) *Fs {
	root := &node{ino: allocIno(), isDir: true, ents: make(map[string]*node), nlink: 2}
	return &Fs{name: name, root: root}
}

func (f *Fs) Root() vfs.Inode { return &inodeView{n: f.root} }
func (f *Fs) Name() string    { return f.name }

// inodeView adapts *node to vfs.Inode; node itself stays free of any
// vfs import so it can be unit tested standalone.
type inodeView struct {
	n *node
}

func (v *inodeView) Ino() uint64 { return v.n.ino }
func (v *inodeView) IsDir() bool { return v.n.isDir }

func (v *inodeView) Size() uint64 {
	v.n.mu.RLock()
	defer v.n.mu.RUnlock()
	return uint64(len(v.n.data))
}

func (v *inodeView) Nlink() int {
	v.n.mu.RLock()
	defer v.n.mu.RUnlock()
	return v.n.nlink
}

func (v *inodeView) Stat(st *stat.Stat_t) {
	v.n.mu.RLock()
	defer v.n.mu.RUnlock()
	st.Wino(v.n.ino)
	st.Wsize(uint64(len(v.n.data)))
	if v.n.isDir {
		st.Wmode(modeDir)
	} else {
		st.Wmode(modeFile)
	}
}

func (v *inodeView) ReadAt(dst []byte, off int64) (int, defs.Err_t) {
	if v.n.isDir {
		return 0, defs.EISDIR
	}
	v.n.mu.RLock()
	defer v.n.mu.RUnlock()
	if off < 0 || off >= int64(len(v.n.data)) {
		return 0, 0
	}
	n := copy(dst, v.n.data[off:])
	return n, 0
}

func (v *inodeView) WriteAt(src []byte, off int64) (int, defs.Err_t) {
	if v.n.isDir {
		return 0, defs.EISDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	end := off + int64(len(src))
	if end > int64(len(v.n.data)) {
		grown := make([]byte, end)
		copy(grown, v.n.data)
		v.n.data = grown
	}
	copy(v.n.data[off:end], src)
	return len(src), 0
}

func (v *inodeView) Truncate(size uint64) defs.Err_t {
	if v.n.isDir {
		return defs.EISDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if uint64(len(v.n.data)) == size {
		return 0
	}
	grown := make([]byte, size)
	copy(grown, v.n.data)
	v.n.data = grown
	return 0
}

func (v *inodeView) Lookup(name string) (vfs.Inode, defs.Err_t) {
	if !v.n.isDir {
		return nil, defs.ENOTDIR
	}
	v.n.mu.RLock()
	defer v.n.mu.RUnlock()
	child, ok := v.n.ents[name]
	if !ok {
		return nil, defs.ENOENT
	}
	return &inodeView{n: child}, 0
}

func (v *inodeView) Create(name string, dir bool) (vfs.Inode, defs.Err_t) {
	if !v.n.isDir {
		return nil, defs.ENOTDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if _, exists := v.n.ents[name]; exists {
		return nil, defs.EEXIST
	}
	child := &node{ino: allocIno(), isDir: dir, nlink: 1}
	if dir {
		child.ents = make(map[string]*node)
		child.nlink = 2
	}
	v.n.ents[name] = child
	return &inodeView{n: child}, 0
}

func (v *inodeView) Unlink(name string) defs.Err_t {
	if !v.n.isDir {
		return defs.ENOTDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	child, ok := v.n.ents[name]
	if !ok {
		return defs.ENOENT
	}
	if child.isDir {
		child.mu.RLock()
		empty := len(child.ents) == 0
		child.mu.RUnlock()
		if !empty {
			return defs.ENOTEMPTY
		}
	}
	delete(v.n.ents, name)
	child.mu.Lock()
	child.nlink--
	child.mu.Unlock()
	return 0
}

func (v *inodeView) Readdir() ([]string, defs.Err_t) {
	if !v.n.isDir {
		return nil, defs.ENOTDIR
	}
	v.n.mu.RLock()
	defer v.n.mu.RUnlock()
	names := make([]string, 0, len(v.n.ents))
	for name := range v.n.ents {
		names = append(names, name)
	}
	return names, 0
}
