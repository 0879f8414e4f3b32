// Package blockfs implements a minimal read-only on-disk filesystem
// exercising blockdev.Disk_i, grounded on fs/super.go's field-accessor
// idiom over a raw block (fieldr/fieldw reading fixed uint64 slots out
// of a block's byte buffer) generalized here with encoding/binary. The
// on-disk layout is a flat inode table plus fixed-size directory
// entries, deliberately simple (no indirect blocks, no free-space
// bitmap) since spec.md scopes blockfs as a read-only image consumer
// built by cmd/mkramfs, not a general-purpose filesystem.
package blockfs

import (
	"encoding/binary"

	"github.com/BouwerMan/helios-sub001/blockdev"
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/stat"
	"github.com/BouwerMan/helios-sub001/vfs"
)

const (
	Magic        = 0x48656c694f53 // "HeliOS" truncated to 48 bits
	RecordSize   = 128
	DirentSize   = 128
	DirentNameSz = 120
	DirectBlocks = 12
)

// Superblock mirrors fs.Superblock_t's field-accessor pattern, using
// encoding/binary instead of unsafe pointer casts since there's no
// real memory-mapped device backing these bytes.
type Superblock struct {
	data []byte
}

// NewSuperblock wraps a raw block-sized buffer (typically a zeroed
// blockdev.BSIZE slice) for field-by-field population by an
// image-building tool.
func NewSuperblock(data []byte) *Superblock {
	return &Superblock{data: data}
}

func (sb *Superblock) field(i int) uint64   { return binary.LittleEndian.Uint64(sb.data[i*8:]) }
func (sb *Superblock) setField(i int, v uint64) { binary.LittleEndian.PutUint64(sb.data[i*8:], v) }

func (sb *Superblock) Magic() uint64        { return sb.field(0) }
func (sb *Superblock) NInodes() uint64      { return sb.field(1) }
func (sb *Superblock) InodeStart() uint64   { return sb.field(2) }
func (sb *Superblock) InodeBlocks() uint64  { return sb.field(3) }
func (sb *Superblock) DataStart() uint64    { return sb.field(4) }
func (sb *Superblock) RootIno() uint64      { return sb.field(5) }
func (sb *Superblock) LastBlock() uint64    { return sb.field(6) }

func (sb *Superblock) SetMagic(v uint64)       { sb.setField(0, v) }
func (sb *Superblock) SetNInodes(v uint64)     { sb.setField(1, v) }
func (sb *Superblock) SetInodeStart(v uint64)  { sb.setField(2, v) }
func (sb *Superblock) SetInodeBlocks(v uint64) { sb.setField(3, v) }
func (sb *Superblock) SetDataStart(v uint64)   { sb.setField(4, v) }
func (sb *Superblock) SetRootIno(v uint64)     { sb.setField(5, v) }
func (sb *Superblock) SetLastBlock(v uint64)   { sb.setField(6, v) }

// DiskInode is the on-disk inode record layout: mode(8) | size(8) |
// DirectBlocks*8 block pointers. It is exported so cmd/mkramfs can
// build blockfs images without duplicating the layout.
type DiskInode struct {
	Mode   uint64
	Size   uint64
	Blocks [DirectBlocks]uint64
}

func readInodeRecord(buf []byte) DiskInode {
	var di DiskInode
	di.Mode = binary.LittleEndian.Uint64(buf[0:8])
	di.Size = binary.LittleEndian.Uint64(buf[8:16])
	for i := 0; i < DirectBlocks; i++ {
		di.Blocks[i] = binary.LittleEndian.Uint64(buf[16+i*8:])
	}
	return di
}

// EncodeInodeRecord writes di into buf using the same layout readInodeRecord
// decodes, for use by image-building tools.
func EncodeInodeRecord(buf []byte, di DiskInode) {
	binary.LittleEndian.PutUint64(buf[0:8], di.Mode)
	binary.LittleEndian.PutUint64(buf[8:16], di.Size)
	for i := 0; i < DirectBlocks; i++ {
		binary.LittleEndian.PutUint64(buf[16+i*8:], di.Blocks[i])
	}
}

const (
	ModeDir  = 1
	ModeFile = 2
)

// Fs is a mounted, read-only blockfs image.
type Fs struct {
	disk blockdev.Disk_i
	sb   Superblock
	name string
}

func readBlock(disk blockdev.Disk_i, num int) []byte {
	b := blockdev.NewBlock(num, "blockfs", disk)
	b.ReadSync()
	return b.Data
}

// Mount reads the Superblock from block 0 and returns a ready
// Filesystem. Per spec.md §8's open question on a NULL-returning
// mount bug in the original, a successful Mount here always returns a
// populated, non-nil Fs: a bad magic number is reported as an error
// instead of silently yielding a zero-value Superblock.
func Mount(name string, disk blockdev.Disk_i) (*Fs, defs.Err_t) {
	sbBlock := readBlock(disk, 0)
	sb := Superblock{data: sbBlock}
	if sb.Magic() != Magic {
		return nil, defs.EINVAL
	}
	return &Fs{disk: disk, sb: sb, name: name}, 0
}

func (f *Fs) Name() string    { return f.name }
func (f *Fs) Root() vfs.Inode { return f.inode(f.sb.RootIno()) }

func (f *Fs) inodeBlockFor(ino uint64) (blockNum int, offInBlock int) {
	recordsPerBlock := blockdev.BSIZE / RecordSize
	idx := int(ino)
	blockNum = int(f.sb.InodeStart()) + idx/recordsPerBlock
	offInBlock = (idx % recordsPerBlock) * RecordSize
	return
}

func (f *Fs) inode(ino uint64) vfs.Inode {
	blockNum, off := f.inodeBlockFor(ino)
	buf := readBlock(f.disk, blockNum)
	di := readInodeRecord(buf[off : off+RecordSize])
	return &inodeView{fs: f, ino: ino, di: di}
}

type inodeView struct {
	fs  *Fs
	ino uint64
	di  DiskInode
}

func (v *inodeView) Ino() uint64  { return v.ino }
func (v *inodeView) IsDir() bool  { return v.di.Mode == ModeDir }
func (v *inodeView) Size() uint64 { return v.di.Size }
func (v *inodeView) Nlink() int   { return 1 } // blockfs has no hardlinks

func (v *inodeView) Stat(st *stat.Stat_t) {
	st.Wino(v.ino)
	st.Wsize(v.di.Size)
	if v.IsDir() {
		st.Wmode(0040000)
	} else {
		st.Wmode(0100000)
	}
}

func (v *inodeView) readBlockAt(pgn int) []byte {
	if pgn >= DirectBlocks || v.di.Blocks[pgn] == 0 {
		return make([]byte, blockdev.BSIZE)
	}
	return readBlock(v.fs.disk, int(v.fs.sb.DataStart())+int(v.di.Blocks[pgn]))
}

func (v *inodeView) ReadAt(dst []byte, off int64) (int, defs.Err_t) {
	if v.IsDir() {
		return 0, defs.EISDIR
	}
	if off < 0 || uint64(off) >= v.di.Size {
		return 0, 0
	}
	end := uint64(off) + uint64(len(dst))
	if end > v.di.Size {
		end = v.di.Size
		dst = dst[:end-uint64(off)]
	}
	n := 0
	for n < len(dst) {
		abs := uint64(off) + uint64(n)
		pgn := int(abs / blockdev.BSIZE)
		pgoff := int(abs % blockdev.BSIZE)
		blk := v.readBlockAt(pgn)
		c := copy(dst[n:], blk[pgoff:])
		n += c
	}
	return n, 0
}

func (v *inodeView) WriteAt(src []byte, off int64) (int, defs.Err_t) { return 0, defs.EROFS }
func (v *inodeView) Truncate(size uint64) defs.Err_t                 { return defs.EROFS }
func (v *inodeView) Create(name string, dir bool) (vfs.Inode, defs.Err_t) {
	return nil, defs.EROFS
}
func (v *inodeView) Unlink(name string) defs.Err_t { return defs.EROFS }

func (v *inodeView) Lookup(name string) (vfs.Inode, defs.Err_t) {
	if !v.IsDir() {
		return nil, defs.ENOTDIR
	}
	entriesPerBlock := blockdev.BSIZE / DirentSize
	nblocks := (int(v.di.Size) + blockdev.BSIZE - 1) / blockdev.BSIZE
	for pgn := 0; pgn < nblocks && pgn < DirectBlocks; pgn++ {
		blk := v.readBlockAt(pgn)
		for i := 0; i < entriesPerBlock; i++ {
			rec := blk[i*DirentSize : (i+1)*DirentSize]
			ino := binary.LittleEndian.Uint64(rec[0:8])
			if ino == 0 {
				continue
			}
			nameBuf := rec[8 : 8+DirentNameSz]
			n := nullTerminatedLen(nameBuf)
			if string(nameBuf[:n]) == name {
				return v.fs.inode(ino), 0
			}
		}
	}
	return nil, defs.ENOENT
}

func (v *inodeView) Readdir() ([]string, defs.Err_t) {
	if !v.IsDir() {
		return nil, defs.ENOTDIR
	}
	entriesPerBlock := blockdev.BSIZE / DirentSize
	nblocks := (int(v.di.Size) + blockdev.BSIZE - 1) / blockdev.BSIZE
	var names []string
	for pgn := 0; pgn < nblocks && pgn < DirectBlocks; pgn++ {
		blk := v.readBlockAt(pgn)
		for i := 0; i < entriesPerBlock; i++ {
			rec := blk[i*DirentSize : (i+1)*DirentSize]
			ino := binary.LittleEndian.Uint64(rec[0:8])
			if ino == 0 {
				continue
			}
			nameBuf := rec[8 : 8+DirentNameSz]
			n := nullTerminatedLen(nameBuf)
			names = append(names, string(nameBuf[:n]))
		}
	}
	return names, 0
}

func nullTerminatedLen(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}
