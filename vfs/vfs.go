// Package vfs implements the virtual filesystem layer: a cached
// dentry/inode tree over pluggable filesystem drivers, mount points,
// and path resolution, per spec.md §4.8. Concrete filesystems (ramfs,
// blockfs) implement the Inode interface; vfs supplies the shared
// caching, locking, and path-walk machinery a dedicated fs package
// would otherwise provide.
package vfs

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/bpath"
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/stat"
	"github.com/BouwerMan/helios-sub001/ustr"
)

// Inode is implemented by every filesystem driver's file/directory
// object. Reads/writes are byte-offset addressed; directory
// operations are name-addressed within the inode.
type Inode interface {
	Ino() uint64
	IsDir() bool
	Size() uint64
	Stat(st *stat.Stat_t)

	ReadAt(dst []byte, off int64) (int, defs.Err_t)
	WriteAt(src []byte, off int64) (int, defs.Err_t)
	Truncate(size uint64) defs.Err_t

	Lookup(name string) (Inode, defs.Err_t)
	Create(name string, dir bool) (Inode, defs.Err_t)
	Unlink(name string) defs.Err_t
	Readdir() ([]string, defs.Err_t)

	// Nlink reports the inode's current hard-link count, consulted by
	// the inode cache at Put time to decide eviction (spec.md §8's
	// open question on nlink==0 cache timing: this implementation
	// evicts as soon as both the link count and the cache refcount
	// reach zero, rather than deferring to last-close).
	Nlink() int
}

// Filesystem is implemented by each mountable driver (ramfs, blockfs).
type Filesystem interface {
	Root() Inode
	Name() string
}

// inodeKey identifies a cached inode within one mounted filesystem.
type inodeKey struct {
	fs  Filesystem
	ino uint64
}

type inodeEntry struct {
	mu  sync.Mutex
	ref int
	ino Inode
	key inodeKey
}

// dentryKey identifies a cached name lookup within a parent directory.
type dentryKey struct {
	parent *inodeEntry
	name   string
}

// Dentry is a cached directory-entry lookup: a (parent, name) pair
// resolved to a child inode.
type Dentry struct {
	mu    sync.Mutex
	ref   int
	child *inodeEntry
}

// Cache is the shared dentry+inode cache for all mounted filesystems,
// per spec.md §4.8's caching requirement.
type Cache struct {
	mu      sync.Mutex
	inodes  map[inodeKey]*inodeEntry
	dentries map[dentryKey]*Dentry

	mounts map[string]Filesystem
}

// NewCache creates an empty VFS cache with no mounts.
func NewCache() *Cache {
	return &Cache{
		inodes:   make(map[inodeKey]*inodeEntry),
		dentries: make(map[dentryKey]*Dentry),
		mounts:   make(map[string]Filesystem),
	}
}

// Mount attaches fs at the given absolute mount point. "/" is the
// root filesystem.
func (c *Cache) Mount(point string, fs Filesystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounts[point] = fs
}

// mountFor finds the most specific mount covering path, per spec.md
// §4.8's longest-prefix mount resolution.
func (c *Cache) mountFor(path string) (string, Filesystem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	best := ""
	var bestFs Filesystem
	for point, fs := range c.mounts {
		if len(point) > len(best) && (path == point || len(path) > len(point) && path[:len(point)] == point) {
			best = point
			bestFs = fs
		}
	}
	return best, bestFs
}

func (c *Cache) iget(fs Filesystem, ino Inode) *inodeEntry {
	key := inodeKey{fs: fs, ino: ino.Ino()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.inodes[key]; ok {
		e.mu.Lock()
		e.ref++
		e.mu.Unlock()
		return e
	}
	e := &inodeEntry{ref: 1, ino: ino, key: key}
	c.inodes[key] = e
	return e
}

// iput drops a reference to a cached inode, evicting it once the
// cache refcount and the inode's own hard-link count both reach zero.
func (c *Cache) iput(e *inodeEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.mu.Lock()
	e.ref--
	dead := e.ref == 0 && e.ino.Nlink() == 0
	e.mu.Unlock()
	if dead {
		delete(c.inodes, e.key)
	}
}

// Walk resolves an absolute, canonical path to its inode, per
// spec.md §4.8's path-walk algorithm: split into components, resolve
// each through the dentry cache (falling back to the driver's Lookup
// on a cache miss), crossing mount points as encountered.
func (c *Cache) Walk(path ustr.Ustr) (Inode, defs.Err_t) {
	e, err := c.walkEntry(path)
	if err != 0 {
		return nil, err
	}
	return e.ino, 0
}

// walkEntry is Walk's internal form, returning the cache entry itself
// (with its refcount already bumped) so callers like Open can retain
// it across the lifetime of an OpenFile.
func (c *Cache) walkEntry(path ustr.Ustr) (*inodeEntry, defs.Err_t) {
	canon := bpath.Canonicalize(path)
	point, fs := c.mountFor(canon.String())
	if fs == nil {
		return nil, defs.ENOENT
	}
	cur := c.iget(fs, fs.Root())

	rest := canon.String()[len(point):]
	for _, comp := range bpath.Split(ustr.Ustr(rest)) {
		name := comp.String()
		next, err := c.lookupCached(fs, cur, name)
		c.iput(cur)
		if err != 0 {
			return nil, err
		}
		cur = next
	}
	return cur, 0
}

func (c *Cache) lookupCached(fs Filesystem, parent *inodeEntry, name string) (*inodeEntry, defs.Err_t) {
	dk := dentryKey{parent: parent, name: name}
	c.mu.Lock()
	d, ok := c.dentries[dk]
	c.mu.Unlock()
	if ok {
		d.mu.Lock()
		child := d.child
		d.mu.Unlock()
		if child != nil {
			child.mu.Lock()
			child.ref++
			child.mu.Unlock()
			return child, 0
		}
	}
	childIno, err := parent.ino.Lookup(name)
	if err != 0 {
		return nil, err
	}
	child := c.iget(fs, childIno)
	c.mu.Lock()
	c.dentries[dk] = &Dentry{ref: 1, child: child}
	c.mu.Unlock()
	return child, 0
}

// Invalidate drops a cached dentry, for rename/unlink, so that a
// subsequent lookup is forced back to the driver.
func (c *Cache) Invalidate(parent *inodeEntry, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dentries, dentryKey{parent: parent, name: name})
}
