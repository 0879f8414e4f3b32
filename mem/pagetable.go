package mem

import "encoding/binary"

// PTE flag bits, per spec.md §3 ("Virtual page mapping"). Two bits
// (PTE_AVAIL1/PTE_AVAIL2) are reserved for software use by higher
// layers — vm uses them to record copy-on-write state — mirroring how
// real x86_64 PTEs reserve bits 9-11 for the OS.
const (
	PTE_P       Pa_t = 1 << 0 // present
	PTE_W       Pa_t = 1 << 1 // writable
	PTE_U       Pa_t = 1 << 2 // user-accessible
	PTE_PWT     Pa_t = 1 << 3 // write-through
	PTE_PCD     Pa_t = 1 << 4 // cache-disable
	PTE_A       Pa_t = 1 << 5 // accessed
	PTE_D       Pa_t = 1 << 6 // dirty
	PTE_PS      Pa_t = 1 << 7 // huge page (not supported at leaf level here)
	PTE_G       Pa_t = 1 << 8 // global
	PTE_AVAIL1  Pa_t = 1 << 9
	PTE_AVAIL2  Pa_t = 1 << 10
	PTE_NX      Pa_t = 1 << 63 // no-execute
	PTE_ADDR    Pa_t = PGMASK
	entriesPerTable = 512
)

// PageTable is the root of a 4-level page-table tree (PML4). Map/Unmap
// operate relative to this root, per spec.md §4.2.
type PageTable struct {
	Root Pa_t // physical address of the PML4 table
}

// NewPageTable allocates and zeroes a fresh PML4 root.
func NewPageTable() (*PageTable, bool) {
	pa, ok := Physmem.AllocPage()
	if !ok {
		return nil, false
	}
	return &PageTable{Root: pa}, true
}

// vabits splits a 48-bit virtual address into its four 9-bit table
// indices and 12-bit page offset, the standard x86_64 4-level scheme.
func vabits(va uintptr) (l4, l3, l2, l1 int) {
	l4 = int((va >> 39) & 0x1ff)
	l3 = int((va >> 30) & 0x1ff)
	l2 = int((va >> 21) & 0x1ff)
	l1 = int((va >> 12) & 0x1ff)
	return
}

func readEntry(table []byte, idx int) Pa_t {
	return Pa_t(binary.LittleEndian.Uint64(table[idx*8 : idx*8+8]))
}

func writeEntry(table []byte, idx int, v Pa_t) {
	binary.LittleEndian.PutUint64(table[idx*8:idx*8+8], uint64(v))
}

// walk descends the page-table tree from root to the leaf PT entry for
// va, allocating intermediate tables on demand when alloc is true.
// Returns the PT table's bytes and the leaf index, or !ok if a table
// is missing and alloc is false.
func walk(root Pa_t, va uintptr, alloc bool) (pt []byte, idx int, ok bool) {
	l4, l3, l2, l1 := vabits(va)
	cur := root
	for _, lvl := range []int{l4, l3, l2} {
		table := Physmem.Dmap(cur)
		e := readEntry(table, lvl)
		if e&PTE_P == 0 {
			if !alloc {
				return nil, 0, false
			}
			child, ok := Physmem.AllocPage()
			if !ok {
				return nil, 0, false
			}
			e = child | PTE_P | PTE_W | PTE_U
			writeEntry(table, lvl, e)
		}
		cur = e & PTE_ADDR
	}
	return Physmem.Dmap(cur), l1, true
}

// Map installs a leaf mapping of vaddr to paddr with the given flags.
// Callers must supply PTE_P and must not set PTE_PS. Mapping over an
// existing entry replaces it (spec.md §4.2); the caller is responsible
// for TLB invalidation via archglue.TLB.
func (pt *PageTable) Map(vaddr uintptr, paddr Pa_t, flags Pa_t) bool {
	if flags&PTE_P == 0 {
		panic("mem: Map requires PTE_P")
	}
	if flags&PTE_PS != 0 {
		panic("mem: huge pages not supported at leaf level")
	}
	if paddr&PGOFFSET != 0 {
		panic("mem: unaligned physical address")
	}
	table, idx, ok := walk(pt.Root, vaddr, true)
	if !ok {
		return false
	}
	writeEntry(table, idx, paddr|flags)
	return true
}

// Unmap removes the leaf mapping for vaddr. It is a no-op (and reports
// failure) if no mapping exists along the chain, per spec.md §4.2.
// When freePhys is true the underlying frame is released via Refdown.
func (pt *PageTable) Unmap(vaddr uintptr, freePhys bool) bool {
	table, idx, ok := walk(pt.Root, vaddr, false)
	if !ok {
		return false
	}
	e := readEntry(table, idx)
	if e&PTE_P == 0 {
		return false
	}
	writeEntry(table, idx, 0)
	if freePhys {
		Physmem.Refdown(e & PTE_ADDR)
	}
	return true
}

// Translate returns the physical address mapped at vaddr, if any.
func (pt *PageTable) Translate(vaddr uintptr) (Pa_t, bool) {
	table, idx, ok := walk(pt.Root, vaddr, false)
	if !ok {
		return 0, false
	}
	e := readEntry(table, idx)
	if e&PTE_P == 0 {
		return 0, false
	}
	return (e & PTE_ADDR) | Pa_t(vaddr)&PGOFFSET, true
}

// LeafEntry returns a pointer-like accessor to the raw PTE for vaddr,
// allocating intermediate tables as needed. Used by vm for in-place
// flag updates (e.g. clearing PTE_W for copy-on-write) without a
// separate read-modify-write round trip through Map.
func (pt *PageTable) LeafEntry(vaddr uintptr, alloc bool) (get func() Pa_t, set func(Pa_t), ok bool) {
	table, idx, ok := walk(pt.Root, vaddr, alloc)
	if !ok {
		return nil, nil, false
	}
	get = func() Pa_t { return readEntry(table, idx) }
	set = func(v Pa_t) { writeEntry(table, idx, v) }
	return get, set, true
}

// freeTable recursively frees the intermediate tables (not leaves) of
// a subtree at the given level (4=PML4 down to 1=PT). Leaves must
// already have been unmapped by the caller (vm.Uvmfree).
func freeTable(root Pa_t, level int) {
	if level == 1 {
		return
	}
	table := Physmem.Dmap(root)
	for i := 0; i < entriesPerTable; i++ {
		e := readEntry(table, i)
		if e&PTE_P == 0 {
			continue
		}
		if e&PTE_U == 0 {
			continue // kernel-shared subtree, never owned by this address space
		}
		freeTable(e&PTE_ADDR, level-1)
		Physmem.Refdown(e & PTE_ADDR)
	}
}

// FreeIntermediate frees every intermediate (non-leaf) page-table page
// reachable from the root that is marked user-accessible, then frees
// the root itself. Leaf pages must already be unmapped.
func (pt *PageTable) FreeIntermediate() {
	freeTable(pt.Root, 4)
	Physmem.Refdown(pt.Root)
}
