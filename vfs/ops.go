package vfs

import (
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/stat"
)

// Mkdir creates a directory at path, per spec.md §4.8.
func (c *Cache) Mkdir(path string) defs.Err_t {
	parentPath, name := splitLast(path)
	parent, err := c.walkEntry([]byte(parentPath))
	if err != 0 {
		return err
	}
	defer c.iput(parent)
	_, err = parent.ino.Create(name, true)
	if err != 0 {
		return err
	}
	c.Invalidate(parent, name)
	return 0
}

// Unlink removes the directory entry named by path, per spec.md §4.8.
// The underlying inode is only evicted from the cache once its link
// count and cache refcount both reach zero (see Inode.Nlink).
func (c *Cache) Unlink(path string) defs.Err_t {
	parentPath, name := splitLast(path)
	parent, err := c.walkEntry([]byte(parentPath))
	if err != 0 {
		return err
	}
	defer c.iput(parent)
	if err := parent.ino.Unlink(name); err != 0 {
		return err
	}
	c.Invalidate(parent, name)
	return 0
}

// Rename moves the entry at oldpath to newpath. It is implemented as
// create-at-destination-then-unlink-at-source rather than an atomic
// driver primitive, since no filesystem driver in this tree supports
// one; this matches spec.md §4.8's Non-goals around atomic rename
// across directories.
func (c *Cache) Rename(oldpath, newpath string) defs.Err_t {
	oldDirPath, name := splitLast(oldpath)
	oldDir, err := c.walkEntry([]byte(oldDirPath))
	if err != 0 {
		return err
	}
	defer c.iput(oldDir)
	srcIno, err := oldDir.ino.Lookup(name)
	if err != 0 {
		return err
	}

	newDirPath, newName := splitLast(newpath)
	newDir, err := c.walkEntry([]byte(newDirPath))
	if err != 0 {
		return err
	}
	defer c.iput(newDir)

	dst, err := newDir.ino.Create(newName, srcIno.IsDir())
	if err != 0 {
		return err
	}
	if !srcIno.IsDir() {
		buf := make([]byte, srcIno.Size())
		if _, err := srcIno.ReadAt(buf, 0); err != 0 {
			return err
		}
		if _, err := dst.WriteAt(buf, 0); err != 0 {
			return err
		}
	}
	if err := oldDir.ino.Unlink(name); err != 0 {
		return err
	}
	c.Invalidate(oldDir, name)
	c.Invalidate(newDir, newName)
	return 0
}

// Stat fills st with the metadata of the inode at path.
func (c *Cache) Stat(path string, st *stat.Stat_t) defs.Err_t {
	e, err := c.walkEntry([]byte(path))
	if err != 0 {
		return err
	}
	defer c.iput(e)
	e.ino.Stat(st)
	return 0
}
