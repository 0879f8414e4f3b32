package vm

import "sort"

// mtype_t distinguishes the kind of backing store for a Vminfo_t
// region, per spec.md §3's VMA "type" field.
type mtype_t int

const (
	VANON  mtype_t = iota // private anonymous memory
	VFILE                  // file-backed memory
	VSANON                 // shared anonymous memory
)

// FileBacking describes a file-backed region's paging source. Page
// resolves the physical page backing the given byte offset into the
// file.
type FileBacking interface {
	Page(fileOffset uintptr) (pa uintptr, err error)
}

// Vminfo_t describes one mapped region of an address space: a
// page-aligned range, its permissions, and (for file regions) the
// backing file, per spec.md §4.2's VMA model.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr // starting page number
	Pglen uintptr // length in pages
	Perms uint    // PTE_W|PTE_U style permission bits (PTE_U always implied)

	foff   uintptr
	file   FileBacking
	shared bool
}

func (v *Vminfo_t) start() uintptr { return v.Pgn << PGSHIFT }
func (v *Vminfo_t) end() uintptr   { return (v.Pgn + v.Pglen) << PGSHIFT }

// Vmregion_t is the sorted, non-overlapping list of VMAs that make up
// one address space, per spec.md §4.2.
type Vmregion_t struct {
	regions []*Vminfo_t
}

// Lookup returns the region covering va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].end() > va
	})
	if i < len(vr.regions) && vr.regions[i].start() <= va {
		return vr.regions[i], true
	}
	return nil, false
}

// insert adds a region to the list, keeping it sorted by start
// address. It panics if the new region overlaps an existing one.
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].start() >= vmi.start()
	})
	if i > 0 && vr.regions[i-1].end() > vmi.start() {
		panic("vm: overlapping region")
	}
	if i < len(vr.regions) && vmi.end() > vr.regions[i].start() {
		panic("vm: overlapping region")
	}
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
}

// Remove deletes the region starting at the given page number, if
// present.
func (vr *Vmregion_t) Remove(pgn uintptr) bool {
	for i, r := range vr.regions {
		if r.Pgn == pgn {
			vr.regions = append(vr.regions[:i], vr.regions[i+1:]...)
			return true
		}
	}
	return false
}

// Empty finds the first gap of at least length bytes at or after
// startva, per spec.md §4.2's "find unused range" operation used to
// place mmap regions and exec stacks.
func (vr *Vmregion_t) Empty(startva, length uintptr) (uintptr, uintptr) {
	cur := startva
	for _, r := range vr.regions {
		if r.start() >= cur+length {
			break
		}
		if r.end() > cur {
			cur = r.end()
		}
	}
	return cur, length
}

// Clear drops all regions, for address-space teardown.
func (vr *Vmregion_t) Clear() {
	vr.regions = nil
}

// Regions returns the live region list, for snapshotting (e.g.
// /proc/<pid>/maps equivalents or fork-time duplication).
func (vr *Vmregion_t) Regions() []*Vminfo_t {
	return append([]*Vminfo_t(nil), vr.regions...)
}
