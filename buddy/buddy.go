// Package buddy implements the variable-order contiguous-page-run
// allocator that backs the kernel heap window, per spec.md §3/§4.3. It
// is seeded once over a fixed virtual range and layers directly on the
// PMM (mem) and page-table manager (mem.PageTable) to materialize pages
// as blocks are allocated.
package buddy

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/mem"
	"github.com/BouwerMan/helios-sub001/util"
)

type state uint8

const (
	invalid state = iota
	free
	split
	allocated
)

// Allocator manages a fixed window [Base, Base+2^MaxOrder) as a binary
// tree of power-of-two blocks, per spec.md §3 ("Buddy block").
type Allocator struct {
	mu sync.Mutex

	base     uintptr
	minOrder uint
	maxOrder uint

	// nodes[o] is indexed by the block's position within order o;
	// nodes[o][i] mirrors the "node at index i, order o" model of
	// spec.md §3.
	nodes     [][]state
	freeLists [][]int // freeLists[o] holds indices of free blocks at order o

	pt   *mem.PageTable // where allocated pages are mapped
	pmap func(va uintptr, pa mem.Pa_t) // injection point for tests
}

// New creates a buddy allocator over [base, base+2^maxOrder), seeded
// into free-lists of the largest aligned power-of-two blocks per
// spec.md §4.3's init step. pt is the page table the allocator maps
// pages into as blocks are allocated.
func New(base uintptr, minOrder, maxOrder uint, pt *mem.PageTable) *Allocator {
	if maxOrder < minOrder {
		panic("buddy: maxOrder < minOrder")
	}
	a := &Allocator{
		base:     base,
		minOrder: minOrder,
		maxOrder: maxOrder,
		pt:       pt,
	}
	a.nodes = make([][]state, maxOrder+1)
	a.freeLists = make([][]int, maxOrder+1)
	for o := minOrder; o <= maxOrder; o++ {
		count := 1 << (maxOrder - o)
		a.nodes[o] = make([]state, count)
	}
	// seed: the whole window is a single free block at maxOrder.
	a.nodes[maxOrder][0] = free
	a.freeLists[maxOrder] = append(a.freeLists[maxOrder], 0)
	return a
}

// addrOf implements spec.md §3's addressing law:
// base + ((i - ((1<<(max_order-o))-1)) << o).
//
// Unlike a textbook implicit binary-heap buddy tree, each order here
// has its own dense index space starting at 0 (nodes[o][i]), which is
// simpler to store in Go slices; the law specializes to
// base + (i << o) accordingly. Both describe the same partition of the
// window, so the public addressing contract in spec.md §3 still holds:
// block i at order o starts at base + i*2^o.
func (a *Allocator) addrOf(order uint, idx int) uintptr {
	return a.base + (uintptr(idx) << order)
}

func (a *Allocator) sizeOf(order uint) uintptr {
	return uintptr(1) << order
}

// orderFor rounds bytes up to a power of two and clamps to minOrder,
// per spec.md §4.3 step 1.
func (a *Allocator) orderFor(n int) (uint, bool) {
	if n <= 0 {
		return 0, false
	}
	p2 := util.NextPow2(uint(n))
	o := util.Log2(p2)
	if o < a.minOrder {
		o = a.minOrder
	}
	if o > a.maxOrder {
		return 0, false
	}
	return o, true
}

// Alloc implements spec.md §4.3's alloc algorithm.
func (a *Allocator) Alloc(nbytes int) (uintptr, bool) {
	order, ok := a.orderFor(nbytes)
	if !ok {
		return 0, false
	}
	a.mu.Lock()
	idx, at, ok := a.findFree(order)
	if !ok {
		a.mu.Unlock()
		return 0, false
	}
	idx = a.splitDown(at, idx, order)
	a.nodes[order][idx] = allocated
	a.mu.Unlock()

	addr := a.addrOf(order, idx)
	if !a.materialize(addr, order) {
		a.mu.Lock()
		a.nodes[order][idx] = free
		a.freeLists[order] = append(a.freeLists[order], idx)
		a.coalesce(order, idx)
		a.mu.Unlock()
		return 0, false
	}
	return addr, true
}

// findFree scans orders order..maxOrder for a free block and removes
// it from its free-list, returning the block's own order (at) and
// index, per spec.md §4.3 step 2.
func (a *Allocator) findFree(order uint) (idx int, at uint, ok bool) {
	for o := order; o <= a.maxOrder; o++ {
		fl := a.freeLists[o]
		if len(fl) == 0 {
			continue
		}
		idx = fl[len(fl)-1]
		a.freeLists[o] = fl[:len(fl)-1]
		return idx, o, true
	}
	return 0, 0, false
}

// splitDown repeatedly splits the block at (at, idx) down to order,
// per spec.md §4.3 step 3: mark SPLIT, free the right child, recurse
// left. It returns the index of the left-most child at order.
func (a *Allocator) splitDown(at uint, idx int, order uint) int {
	for at > order {
		a.nodes[at][idx] = split
		at--
		left := idx * 2
		right := left + 1
		a.nodes[at][right] = free
		a.freeLists[at] = append(a.freeLists[at], right)
		a.nodes[at][left] = invalid
		idx = left
	}
	return idx
}

// materialize calls AllocPage+Map for every page covered by the block,
// per spec.md §4.3 step 4. On partial failure it unwinds the pages it
// already mapped.
func (a *Allocator) materialize(addr uintptr, order uint) bool {
	if a.pt == nil {
		return true // test allocators with no backing page table
	}
	npages := int(a.sizeOf(order)) / mem.PGSIZE
	if npages == 0 {
		npages = 1
	}
	mapped := 0
	for i := 0; i < npages; i++ {
		pa, ok := mem.Physmem.AllocPageNoZero()
		if !ok {
			a.unmaterialize(addr, mapped)
			return false
		}
		va := addr + uintptr(i*mem.PGSIZE)
		if !a.pt.Map(va, pa, mem.PTE_P|mem.PTE_W) {
			mem.Physmem.Refdown(pa)
			a.unmaterialize(addr, mapped)
			return false
		}
		mapped++
	}
	return true
}

func (a *Allocator) unmaterialize(addr uintptr, npages int) {
	for i := 0; i < npages; i++ {
		a.pt.Unmap(addr+uintptr(i*mem.PGSIZE), true)
	}
}

// Free implements spec.md §4.3's free algorithm: locate the allocated
// node by address, mark it free, coalesce with an equal-order free
// buddy as long as possible, and unmap each covered page.
func (a *Allocator) Free(addr uintptr) {
	a.mu.Lock()
	order, idx, ok := a.findAllocated(addr)
	if !ok {
		a.mu.Unlock()
		panic("buddy: free of address not allocated by this allocator")
	}
	a.nodes[order][idx] = free
	a.freeLists[order] = append(a.freeLists[order], idx)
	a.coalesce(order, idx)
	a.mu.Unlock()

	if a.pt != nil {
		npages := int(a.sizeOf(order)) / mem.PGSIZE
		if npages == 0 {
			npages = 1
		}
		for i := 0; i < npages; i++ {
			a.pt.Unmap(addr+uintptr(i*mem.PGSIZE), true)
		}
	}
}

func (a *Allocator) findAllocated(addr uintptr) (order uint, idx int, ok bool) {
	for o := a.minOrder; o <= a.maxOrder; o++ {
		i := int((addr - a.base) >> o)
		if i < 0 || i >= len(a.nodes[o]) {
			continue
		}
		if a.addrOf(o, i) != addr {
			continue
		}
		if a.nodes[o][i] == allocated {
			return o, i, true
		}
	}
	return 0, 0, false
}

// coalesce merges (order, idx) with its buddy while the buddy is free
// and of equal order, per spec.md §3's eager-coalescing invariant.
func (a *Allocator) coalesce(order uint, idx int) {
	for order < a.maxOrder {
		buddy := idx ^ 1
		if a.nodes[order][buddy] != free {
			return
		}
		a.removeFromFreelist(order, idx)
		a.removeFromFreelist(order, buddy)
		a.nodes[order][idx] = invalid
		a.nodes[order][buddy] = invalid
		parent := idx / 2
		order++
		a.nodes[order][parent] = free
		a.freeLists[order] = append(a.freeLists[order], parent)
		idx = parent
	}
}

func (a *Allocator) removeFromFreelist(order uint, idx int) {
	fl := a.freeLists[order]
	for i, v := range fl {
		if v == idx {
			fl[i] = fl[len(fl)-1]
			a.freeLists[order] = fl[:len(fl)-1]
			return
		}
	}
}

// FreeBytes returns the total bytes currently on free-lists, for the
// invariant in spec.md §8 ("allocated + free == window size").
func (a *Allocator) FreeBytes() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uintptr
	for o := a.minOrder; o <= a.maxOrder; o++ {
		total += uintptr(len(a.freeLists[o])) * a.sizeOf(o)
	}
	return total
}

// WindowSize returns the total managed window size in bytes.
func (a *Allocator) WindowSize() uintptr {
	return a.sizeOf(a.maxOrder)
}

// CheckInvariants walks every free-list and asserts spec.md §8's
// buddy invariants, panicking on violation. Intended for tests.
func (a *Allocator) CheckInvariants() {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := map[uintptr]bool{}
	for o := a.minOrder; o <= a.maxOrder; o++ {
		for _, idx := range a.freeLists[o] {
			if a.nodes[o][idx] != free {
				panic("buddy: free-list entry not marked free")
			}
			addr := a.addrOf(o, idx)
			if seen[addr] {
				panic("buddy: duplicate free address across orders")
			}
			seen[addr] = true
		}
	}
}
