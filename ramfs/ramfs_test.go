package ramfs

import (
	"bytes"
	"testing"

	"github.com/BouwerMan/helios-sub001/defs"
)

func TestNewRootStartsAsEmptyDirWithNlinkTwo(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	if !root.IsDir() {
		t.Fatal("expected root to be a directory")
	}
	if root.Nlink() != 2 {
		t.Fatalf("Nlink() = %d, want 2 (self + '.')", root.Nlink())
	}
	names, err := root.Readdir()
	if err != 0 || len(names) != 0 {
		t.Fatalf("fresh root Readdir = %v, %s; want empty", names, err)
	}
}

func TestCreateFileThenWriteReadTruncate(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	f, err := root.Create("a.txt", false)
	if err != 0 {
		t.Fatalf("Create failed: %s", err)
	}
	if f.Nlink() != 1 {
		t.Fatalf("fresh file Nlink() = %d, want 1", f.Nlink())
	}

	n, err := f.WriteAt([]byte("abcdef"), 0)
	if err != 0 || n != 6 {
		t.Fatalf("WriteAt = %d, %s; want 6, nil", n, err)
	}
	if f.Size() != 6 {
		t.Fatalf("Size() = %d, want 6", f.Size())
	}

	buf := make([]byte, 6)
	n, err = f.ReadAt(buf, 0)
	if err != 0 || n != 6 || !bytes.Equal(buf, []byte("abcdef")) {
		t.Fatalf("ReadAt = %q (%d, %s), want abcdef", buf, n, err)
	}

	if err := f.Truncate(3); err != 0 {
		t.Fatalf("Truncate failed: %s", err)
	}
	if f.Size() != 3 {
		t.Fatalf("Size() after Truncate(3) = %d, want 3", f.Size())
	}

	if err := f.Truncate(5); err != 0 {
		t.Fatalf("Truncate(grow) failed: %s", err)
	}
	grown := make([]byte, 5)
	f.ReadAt(grown, 0)
	if !bytes.Equal(grown, []byte{'a', 'b', 'c', 0, 0}) {
		t.Fatalf("grown content = %v, want [a b c 0 0]", grown)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	root.Create("x", false)
	if _, err := root.Create("x", false); err != defs.EEXIST {
		t.Fatalf("duplicate Create = %s, want EEXIST", err)
	}
}

func TestCreateDirStartsWithNlinkTwo(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	d, err := root.Create("sub", true)
	if err != 0 {
		t.Fatalf("Create(dir) failed: %s", err)
	}
	if d.Nlink() != 2 {
		t.Fatalf("fresh dir Nlink() = %d, want 2", d.Nlink())
	}
}

func TestUnlinkDecrementsNlinkAndRemovesEntry(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	child, _ := root.Create("gone", false)
	if err := root.Unlink("gone"); err != 0 {
		t.Fatalf("Unlink failed: %s", err)
	}
	if n := child.Nlink(); n != 0 {
		t.Fatalf("Nlink after Unlink = %d, want 0", n)
	}
	if _, err := root.Lookup("gone"); err != defs.ENOENT {
		t.Fatalf("Lookup after Unlink = %s, want ENOENT", err)
	}
}

func TestUnlinkNonEmptyDirFails(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	d, _ := root.Create("sub", true)
	d.Create("child", false)
	if err := root.Unlink("sub"); err != defs.ENOTEMPTY {
		t.Fatalf("Unlink non-empty dir = %s, want ENOTEMPTY", err)
	}
}

func TestLookupOnFileFailsWithENOTDIR(t *testing.T) {
	fs := New("rootfs")
	root := fs.Root()
	f, _ := root.Create("leaf", false)
	if _, err := f.Lookup("anything"); err != defs.ENOTDIR {
		t.Fatalf("Lookup on a file = %s, want ENOTDIR", err)
	}
}
