// Package mem implements the physical page frame allocator (the PMM)
// and the four-level page-table manager described in spec.md §4.1 and
// §4.2. Physical memory is modeled as a frame-indexed byte arena rather
// than real DRAM, since this module is hosted rather than bare-metal;
// every other package reaches physical storage only through Dmap, so the
// rest of the kernel core is indifferent to the substitution.
package mem

import (
	"fmt"
	"sync"

	"github.com/BouwerMan/helios-sub001/archglue"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks the offset within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^PGOFFSET

// Pa_t represents a physical address.
type Pa_t uintptr

// Physpg_t tracks one physical frame: its reference count and its slot
// in the PMM's singly-linked free list.
type Physpg_t struct {
	Refcnt int32
	nexti  uint32 // index of next free frame, or freeEnd
}

const freeEnd = ^uint32(0)

// Physmem_t owns every physical frame in the system. There is one
// instance, Physmem, initialized once at boot. Unlike a design with
// Physmem_t there is no per-CPU free list: spec.md §5 is explicitly
// single-CPU, so one lock over one free list is sufficient and avoids
// inventing SMP machinery the spec excludes.
type Physmem_t struct {
	mu sync.Mutex

	arena  []byte     // backing storage for all frames, frame i at arena[i*PGSIZE:]
	Pgs    []Physpg_t // per-frame metadata
	freei  uint32     // index of first free frame, or freeEnd
	nfree  int
	dmapOn bool
}

// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// zeroPage is PGSIZE zero bytes, returned as a view for callers that need
// to seed a fresh page's contents.
var zeroPage = make([]byte, PGSIZE)

// Phys_init reserves nframes physical frames and initializes the global
// allocator, the standard boot-time PMM setup step.
func Phys_init(nframes int) *Physmem_t {
	if nframes <= 0 {
		panic("phys_init: bad frame count")
	}
	p := Physmem
	p.mu.Lock()
	defer p.mu.Unlock()

	p.arena = make([]byte, nframes*PGSIZE)
	p.Pgs = make([]Physpg_t, nframes)
	for i := 0; i < nframes; i++ {
		p.Pgs[i].Refcnt = 0
		if i == nframes-1 {
			p.Pgs[i].nexti = freeEnd
		} else {
			p.Pgs[i].nexti = uint32(i + 1)
		}
	}
	p.freei = 0
	p.nfree = nframes
	p.dmapOn = true
	fmt.Printf("mem: reserved %d frames (%d KiB)\n", nframes, nframes*PGSIZE/1024)
	return p
}

// ReserveBoot marks the frames overlapping the given boot memory map
// regions as permanently unavailable, per spec.md §4.1 ("Reserved
// regions are marked at init from the boot memory map and are never
// returned").
func (p *Physmem_t) ReserveBoot(regions []archglue.BootRegion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range regions {
		if r.Usable {
			continue
		}
		start := int(r.Base) / PGSIZE
		end := (int(r.Base+r.Length) + PGSIZE - 1) / PGSIZE
		for i := start; i < end && i < len(p.Pgs); i++ {
			if p.Pgs[i].Refcnt == 0 {
				p.removeFromFreelist(uint32(i))
				p.Pgs[i].Refcnt = -1 // reserved, never handed out
			}
		}
	}
}

// removeFromFreelist splices idx out of the singly-linked free list.
// Callers must hold p.mu.
func (p *Physmem_t) removeFromFreelist(idx uint32) {
	if p.freei == idx {
		p.freei = p.Pgs[idx].nexti
		p.nfree--
		return
	}
	for i := p.freei; i != freeEnd; i = p.Pgs[i].nexti {
		if p.Pgs[i].nexti == idx {
			p.Pgs[i].nexti = p.Pgs[idx].nexti
			p.nfree--
			return
		}
	}
}

// AllocPage returns one zeroed physical frame with refcount 1, or
// !ok on exhaustion (spec.md §4.1).
func (p *Physmem_t) AllocPage() (Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked(true)
}

// AllocPageNoZero is AllocPage without zeroing, for callers about to
// overwrite the whole page (the buddy allocator's page-at-a-time grow
// path, slab's backing-page grow path).
func (p *Physmem_t) AllocPageNoZero() (Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked(false)
}

func (p *Physmem_t) allocLocked(zero bool) (Pa_t, bool) {
	if !p.dmapOn {
		panic("mem: allocator used before Phys_init")
	}
	if p.freei == freeEnd {
		return 0, false
	}
	idx := p.freei
	p.freei = p.Pgs[idx].nexti
	p.nfree--
	if p.Pgs[idx].Refcnt != 0 {
		panic("mem: freed frame had nonzero refcount")
	}
	p.Pgs[idx].Refcnt = 1
	pa := Pa_t(idx) * Pa_t(PGSIZE)
	if zero {
		off := int(pa)
		copy(p.arena[off:off+PGSIZE], zeroPage)
	}
	return pa, true
}

// AllocContig returns n physically contiguous frames via a best-effort
// linear scan, per spec.md §4.1.
func (p *Physmem_t) AllocContig(n int) (Pa_t, bool) {
	if n <= 0 {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	run := 0
	start := -1
	for i := range p.Pgs {
		if p.Pgs[i].Refcnt == 0 {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				for j := start; j < start+n; j++ {
					p.removeFromFreelist(uint32(j))
					p.Pgs[j].Refcnt = 1
				}
				pa := Pa_t(start) * Pa_t(PGSIZE)
				off := int(pa)
				copy(p.arena[off:off+n*PGSIZE], make([]byte, n*PGSIZE))
				return pa, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (p *Physmem_t) frameOf(pa Pa_t) uint32 {
	idx := int(pa) / PGSIZE
	if idx < 0 || idx >= len(p.Pgs) {
		panic("mem: address not from the PMM")
	}
	if int(pa)%PGSIZE != 0 {
		panic("mem: unaligned frame address")
	}
	return uint32(idx)
}

// Refup increments a frame's reference count.
func (p *Physmem_t) Refup(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.frameOf(pa)
	if p.Pgs[idx].Refcnt <= 0 {
		panic("mem: refup on free frame")
	}
	p.Pgs[idx].Refcnt++
}

// Refcnt reports a frame's current reference count.
func (p *Physmem_t) Refcnt(pa Pa_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.Pgs[p.frameOf(pa)].Refcnt)
}

// Refdown decrements a frame's reference count, returning it to the
// free list when it reaches zero. Returns true when the frame was
// freed.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.frameOf(pa)
	if p.Pgs[idx].Refcnt <= 0 {
		panic("mem: refdown on free frame")
	}
	p.Pgs[idx].Refcnt--
	if p.Pgs[idx].Refcnt != 0 {
		return false
	}
	p.Pgs[idx].nexti = p.freei
	p.freei = idx
	p.nfree++
	return true
}

// FreePage returns a frame allocated with refcount 1 directly to the
// free list, the common case for a caller that never shared the page.
func (p *Physmem_t) FreePage(pa Pa_t) {
	p.Refdown(pa)
}

// Dmap returns a byte slice view of the PGSIZE page at pa, the
// equivalent of a higher-half direct map: every package
// reaches physical storage exclusively through this method.
func (p *Physmem_t) Dmap(pa Pa_t) []byte {
	idx := p.frameOf(pa)
	off := int(idx) * PGSIZE
	return p.arena[off : off+PGSIZE]
}

// Nfree reports the number of unallocated frames, used by tests and by
// /proc-style diagnostics.
func (p *Physmem_t) Nfree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nfree
}

// Ntotal reports the total number of managed frames.
func (p *Physmem_t) Ntotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Pgs)
}
