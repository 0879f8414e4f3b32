package vfs

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/defs"
)

// Open flags, a minimal POSIX-compatible subset per spec.md §6.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_EXCL   = 0x80
	O_TRUNC  = 0x200
	O_APPEND = 0x400
)

// Seek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// OpenFile is one open file description: a cached inode plus a
// private seek offset. It implements fd.Ops so it can be installed
// directly into a task's descriptor table.
type OpenFile struct {
	mu     sync.Mutex
	cache  *Cache
	entry  *inodeEntry
	off    int64
	flags  int
	append bool
}

// Open resolves path (creating it if O_CREAT is set and it is
// missing) and returns a ready-to-use OpenFile, per spec.md §4.8's
// open algorithm.
func (c *Cache) Open(path string, flags int, dirMode bool) (*OpenFile, defs.Err_t) {
	e, err := c.walkEntry([]byte(path))
	if err == defs.ENOENT && flags&O_CREAT != 0 {
		return c.create(path, dirMode)
	}
	if err != 0 {
		return nil, err
	}
	if flags&O_CREAT != 0 && flags&O_EXCL != 0 {
		c.iput(e)
		return nil, defs.EEXIST
	}
	return c.wrap(e, flags), 0
}

func (c *Cache) wrap(e *inodeEntry, flags int) *OpenFile {
	off := int64(0)
	if flags&O_APPEND != 0 {
		off = int64(e.ino.Size())
	}
	return &OpenFile{cache: c, entry: e, off: off, flags: flags, append: flags&O_APPEND != 0}
}

func (c *Cache) create(path string, dir bool) (*OpenFile, defs.Err_t) {
	parentPath, name := splitLast(path)
	parentEntry, err := c.walkEntry([]byte(parentPath))
	if err != 0 {
		return nil, err
	}
	defer c.iput(parentEntry)
	childIno, err := parentEntry.ino.Create(name, dir)
	if err != 0 {
		return nil, err
	}
	c.Invalidate(parentEntry, name)
	childEntry := c.iget(parentEntry.key.fs, childIno)
	return c.wrap(childEntry, O_RDWR), 0
}

func splitLast(path string) (dir, name string) {
	i := len(path) - 1
	for i >= 0 && path[i] == '/' {
		i--
	}
	end := i + 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "/", path[:end]
	}
	if i == 0 {
		return "/", path[1:end]
	}
	return path[:i], path[i+1 : end]
}

// Read implements fd.Ops.
func (f *OpenFile) Read(dst []byte, offset int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.inode().ReadAt(dst, f.off)
	if err != 0 {
		return 0, err
	}
	f.off += int64(n)
	return n, 0
}

// Write implements fd.Ops.
func (f *OpenFile) Write(src []byte, offset int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.append {
		f.off = int64(f.inode().Size())
	}
	n, err := f.inode().WriteAt(src, f.off)
	if err != 0 {
		return 0, err
	}
	f.off += int64(n)
	return n, 0
}

// Lseek repositions the file offset, per spec.md §4.8.
func (f *OpenFile) Lseek(off int64, whence int) (int64, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case SEEK_SET:
		f.off = off
	case SEEK_CUR:
		f.off += off
	case SEEK_END:
		f.off = int64(f.inode().Size()) + off
	default:
		return 0, defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, defs.EINVAL
	}
	return f.off, 0
}

// Close implements fd.Ops.
func (f *OpenFile) Close() defs.Err_t {
	f.mu.Lock()
	e := f.entry
	f.entry = nil
	f.mu.Unlock()
	if e != nil {
		f.cache.iput(e)
	}
	return 0
}

// Reopen implements fd.Ops for dup-style descriptor duplication: it
// bumps the underlying inode cache refcount so both descriptors can
// be closed independently.
func (f *OpenFile) Reopen() defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entry != nil {
		f.entry.mu.Lock()
		f.entry.ref++
		f.entry.mu.Unlock()
	}
	return 0
}

func (f *OpenFile) inode() Inode {
	return f.entry.ino
}

// FileSize reports the current size of the underlying inode.
func (f *OpenFile) FileSize() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inode().Size()
}
