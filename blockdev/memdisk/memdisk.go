// Package memdisk is an in-memory blockdev.Disk_i implementation,
// used by cmd/mkramfs and by tests that need a disk without real
// hardware (spec.md §4.5's blockfs exercises this).
package memdisk

import (
	"fmt"
	"sync"

	"github.com/BouwerMan/helios-sub001/blockdev"
)

// Disk is a flat byte array addressed in blockdev.BSIZE-sized blocks.
type Disk struct {
	mu     sync.Mutex
	bytes  []byte
	nreads  int
	nwrites int
}

// New creates a disk of nblocks blocks, all zeroed.
func New(nblocks int) *Disk {
	return &Disk{bytes: make([]byte, nblocks*blockdev.BSIZE)}
}

// FromImage wraps an existing byte image (its length must be a
// multiple of blockdev.BSIZE), for loading a prebuilt ramfs/blockfs
// image produced by cmd/mkramfs.
func FromImage(img []byte) *Disk {
	if len(img)%blockdev.BSIZE != 0 {
		panic("memdisk: image size not a multiple of BSIZE")
	}
	return &Disk{bytes: img}
}

// Start implements blockdev.Disk_i. Requests complete synchronously
// before Start returns; Start always reports that the caller must
// still wait on AckCh, mirroring a real disk's async completion path.
func (d *Disk) Start(req *blockdev.Request) bool {
	d.mu.Lock()
	req.Blks.Apply(func(b *blockdev.Block) {
		off := b.Num * blockdev.BSIZE
		if off < 0 || off+blockdev.BSIZE > len(d.bytes) {
			panic(fmt.Sprintf("memdisk: block %d out of range", b.Num))
		}
		switch req.Cmd {
		case blockdev.Read:
			copy(b.Data, d.bytes[off:off+blockdev.BSIZE])
			d.nreads++
		case blockdev.Write:
			copy(d.bytes[off:off+blockdev.BSIZE], b.Data)
			d.nwrites++
		}
	})
	d.mu.Unlock()
	req.AckCh <- true
	return true
}

// Stats reports request counts, implementing blockdev.Disk_i.
func (d *Disk) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("memdisk: %d reads, %d writes", d.nreads, d.nwrites)
}

// Image exposes the raw backing bytes, for cmd/mkramfs to persist to
// a file after construction.
func (d *Disk) Image() []byte {
	return d.bytes
}
