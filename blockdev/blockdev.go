// Package blockdev implements the block-cache-facing disk interface
// and block descriptors used by the filesystem layer, per spec.md
// §4.5's "block device" collaborator.
package blockdev

import (
	"container/list"
	"fmt"
	"sync"
)

// BSIZE is the size of a disk block in bytes.
const BSIZE = 4096

// Disk_i is implemented by a physical (or simulated) block device.
type Disk_i interface {
	Start(*Request) bool
	Stats() string
}

// Cmd enumerates disk request types.
type Cmd uint

const (
	Write Cmd = 1
	Read  Cmd = 2
	Flush Cmd = 3
)

// Block represents one cached disk block.
type Block struct {
	sync.Mutex
	Num  int
	Data []byte
	Disk Disk_i
	Name string
}

// NewBlock allocates a block with zeroed backing storage.
func NewBlock(num int, name string, disk Disk_i) *Block {
	return &Block{Num: num, Name: name, Disk: disk, Data: make([]byte, BSIZE)}
}

// List is an ordered collection of blocks awaiting I/O, grounded on
// BlkList_t (itself a container/list wrapper).
type List struct {
	l *list.List
}

// NewList returns an empty block list.
func NewList() *List {
	return &List{l: list.New()}
}

func (bl *List) Len() int { return bl.l.Len() }

func (bl *List) PushBack(b *Block) { bl.l.PushBack(b) }

// Apply calls f for every block in the list, front to back.
func (bl *List) Apply(f func(*Block)) {
	for e := bl.l.Front(); e != nil; e = e.Next() {
		f(e.Value.(*Block))
	}
}

// Request describes one block device operation.
type Request struct {
	Cmd   Cmd
	Blks  *List
	AckCh chan bool
	Sync  bool
}

// NewRequest allocates a request over blks.
func NewRequest(blks *List, cmd Cmd, sync bool) *Request {
	return &Request{Blks: blks, Cmd: cmd, Sync: sync, AckCh: make(chan bool, 1)}
}

// WriteSync writes b to disk and waits for completion.
func (b *Block) WriteSync() {
	l := NewList()
	l.PushBack(b)
	req := NewRequest(l, Write, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// WriteAsync queues b for write without waiting.
func (b *Block) WriteAsync() {
	l := NewList()
	l.PushBack(b)
	b.Disk.Start(NewRequest(l, Write, false))
}

// ReadSync reads b from disk, blocking until complete.
func (b *Block) ReadSync() {
	l := NewList()
	l.PushBack(b)
	req := NewRequest(l, Read, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

func (b *Block) String() string {
	return fmt.Sprintf("block %d (%s)", b.Num, b.Name)
}
