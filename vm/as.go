// Package vm implements per-task address spaces: region bookkeeping,
// demand-paged page-fault resolution, and copy-on-write duplication,
// per spec.md §4.2.
package vm

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/mem"
	"github.com/BouwerMan/helios-sub001/util"
)

const PGSHIFT = mem.PGSHIFT
const PGSIZE = mem.PGSIZE
const PGOFFSET = uintptr(mem.PGOFFSET)

// PTE_COW and PTE_WASCOW reuse the two software-available PTE bits
// reserved in mem.PageTable for higher layers (mem/pagetable.go).
const (
	PTE_COW     = mem.PTE_AVAIL1
	PTE_WASCOW  = mem.PTE_AVAIL2
)

// Vm_t represents one task's address space: its region list and
// backing page table. The mutex serializes region edits and page
// faults, per spec.md §5's single-address-space-at-a-time rule.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t
	Pt       *mem.PageTable

	pgfltaken bool
}

// NewVm_t allocates a fresh, empty address space with its own PML4.
func NewVm_t() (*Vm_t, bool) {
	pt, ok := mem.NewPageTable()
	if !ok {
		return nil, false
	}
	return &Vm_t{Pt: pt}, true
}

func (as *Vm_t) lockPgfl() {
	as.Lock()
	as.pgfltaken = true
}

func (as *Vm_t) unlockPgfl() {
	as.pgfltaken = false
	as.Unlock()
}

func (as *Vm_t) assertPgfl() {
	if !as.pgfltaken {
		panic("vm: page-fault lock must be held")
	}
}

// Vmadd_anon adds a private anonymous mapping, per spec.md §4.2.
func (as *Vm_t) Vmadd_anon(start, length uintptr, perms uint) {
	as.Lock()
	defer as.Unlock()
	as.Vmregion.insert(as.mkvmi(VANON, start, length, perms, 0, nil))
}

// Vmadd_file adds a file-backed mapping at the given file offset.
func (as *Vm_t) Vmadd_file(start, length uintptr, perms uint, file FileBacking, foff uintptr) {
	as.Lock()
	defer as.Unlock()
	as.Vmregion.insert(as.mkvmi(VFILE, start, length, perms, foff, file))
}

func (as *Vm_t) mkvmi(mt mtype_t, start, length uintptr, perms uint, foff uintptr, file FileBacking) *Vminfo_t {
	if length == 0 {
		panic("vm: zero-length region")
	}
	if (start|length)&PGOFFSET != 0 {
		panic("vm: start and length must be page aligned")
	}
	return &Vminfo_t{
		Mtype: mt,
		Pgn:   start >> PGSHIFT,
		Pglen: util.Roundup(length, uintptr(PGSIZE)) >> PGSHIFT,
		Perms: perms,
		foff:  foff,
		file:  file,
	}
}

// Userdmap resolves the user virtual address va to a byte slice of the
// backing page, faulting the page in if necessary. k2u indicates the
// kernel is about to write through the returned slice into user
// memory (so a COW page must be resolved as writable).
func (as *Vm_t) Userdmap(va uintptr, k2u bool) ([]byte, defs.Err_t) {
	as.assertPgfl()
	voff := va & PGOFFSET
	vmi, ok := as.Vmregion.Lookup(va)
	if !ok {
		return nil, defs.EFAULT
	}
	get, set, ok := as.Pt.LeafEntry(va&^PGOFFSET, true)
	if !ok {
		return nil, defs.ENOMEM
	}
	pte := get()
	isPresent := pte&mem.PTE_P != 0
	needFault := true
	if k2u {
		isCow := pte&PTE_COW != 0
		if isPresent && !isCow {
			needFault = false
		}
	} else if isPresent {
		needFault = false
	}
	if needFault {
		ecode := mem.PTE_U
		if k2u {
			ecode |= mem.PTE_W
		}
		if err := as.resolveFault(vmi, va&^PGOFFSET, ecode, set, get); err != 0 {
			return nil, err
		}
		pte = get()
	}
	pg := mem.Physmem.Dmap(pte & mem.PTE_ADDR)
	return pg[voff:], 0
}

// userdmapLocked acquires the page-fault lock around Userdmap, for
// callers outside an existing lockPgfl/unlockPgfl pair.
func (as *Vm_t) userdmapLocked(va uintptr, k2u bool) ([]byte, defs.Err_t) {
	as.lockPgfl()
	defer as.unlockPgfl()
	return as.Userdmap(va, k2u)
}

// resolveFault implements spec.md §4.2's page-fault algorithm: guard
// pages and permission violations fault with EFAULT; anonymous pages
// are demand-zeroed; COW pages held by a single owner are reclaimed in
// place, otherwise copied; file pages are paged in from their backing
// file.
func (as *Vm_t) resolveFault(vmi *Vminfo_t, faultaddr uintptr, ecode mem.Pa_t, set func(mem.Pa_t), get func() mem.Pa_t) defs.Err_t {
	isGuard := vmi.Perms == 0
	isWrite := ecode&mem.PTE_W != 0
	writeOK := vmi.Perms&uint(mem.PTE_W) != 0
	if isGuard || (isWrite && !writeOK) {
		return defs.EFAULT
	}

	pte := get()
	if (isWrite && pte&PTE_WASCOW != 0) || (!isWrite && pte&mem.PTE_P != 0) {
		return 0 // raced with another fault on the same page; already resolved
	}

	var ppg mem.Pa_t
	perms := mem.PTE_U | mem.PTE_P

	switch {
	case isWrite:
		cow := pte&PTE_COW != 0
		if cow {
			phys := pte & mem.PTE_ADDR
			if mem.Physmem.Refcnt(phys) == 1 {
				set((pte &^ PTE_COW) | mem.PTE_W | PTE_WASCOW)
				return 0
			}
			src := mem.Physmem.Dmap(phys)
			np, ok := mem.Physmem.AllocPageNoZero()
			if !ok {
				return defs.ENOMEM
			}
			copy(mem.Physmem.Dmap(np), src)
			ppg = np
		} else {
			switch vmi.Mtype {
			case VANON:
				np, ok := mem.Physmem.AllocPage()
				if !ok {
					return defs.ENOMEM
				}
				ppg = np
			case VFILE:
				pa, err := vmi.filePage(faultaddr, vmi)
				if err != 0 {
					return err
				}
				ppg = pa
			}
		}
		perms |= mem.PTE_W | PTE_WASCOW
	default:
		switch vmi.Mtype {
		case VANON:
			np, ok := mem.Physmem.AllocPage()
			if !ok {
				return defs.ENOMEM
			}
			ppg = np
		case VFILE:
			pa, err := vmi.filePage(faultaddr, vmi)
			if err != 0 {
				return err
			}
			ppg = pa
		}
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= PTE_COW
		}
	}
	set(ppg | perms)
	return 0
}

// filePage resolves the physical page backing faultaddr within a
// file-mapped region.
func (vmi *Vminfo_t) filePage(faultaddr uintptr, self *Vminfo_t) (mem.Pa_t, defs.Err_t) {
	if vmi.file == nil {
		return 0, defs.EFAULT
	}
	pgoff := (faultaddr >> PGSHIFT) - vmi.Pgn
	pa, err := vmi.file.Page(vmi.foff + pgoff<<PGSHIFT)
	if err != nil {
		return 0, defs.EIO
	}
	return mem.Pa_t(pa), 0
}

// Pgfault is the external entry point invoked by the trap/scheduler
// layer when the CPU reports a page fault, per spec.md §4.2.
func (as *Vm_t) Pgfault(fa uintptr, ecode mem.Pa_t) defs.Err_t {
	as.lockPgfl()
	defer as.unlockPgfl()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		return defs.EFAULT
	}
	get, set, ok := as.Pt.LeafEntry(fa&^PGOFFSET, true)
	if !ok {
		return defs.ENOMEM
	}
	return as.resolveFault(vmi, fa&^PGOFFSET, ecode, set, get)
}

// Userreadn reads n (<=8) bytes from user memory at va as a little-
// endian integer.
func (as *Vm_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("vm: n too large")
	}
	as.lockPgfl()
	defer as.unlockPgfl()
	var ret int
	for i := 0; i < n; {
		src, err := as.Userdmap(va+uintptr(i), false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		var v int
		for j := 0; j < l; j++ {
			v |= int(src[j]) << (8 * uint(j))
		}
		ret |= v << (8 * uint(i))
		i += l
	}
	return ret, 0
}

// Userwriten writes the low n bytes of val to user memory at va.
func (as *Vm_t) Userwriten(va uintptr, n, val int) defs.Err_t {
	if n > 8 {
		panic("vm: n too large")
	}
	as.lockPgfl()
	defer as.unlockPgfl()
	for i := 0; i < n; {
		dst, err := as.Userdmap(va+uintptr(i), true)
		if err != 0 {
			return err
		}
		l := n - i
		if len(dst) < l {
			l = len(dst)
		}
		v := val >> (8 * uint(i))
		for j := 0; j < l; j++ {
			dst[j] = byte(v >> (8 * uint(j)))
		}
		i += l
	}
	return 0
}

// Userstr copies a NUL-terminated string from user memory, up to
// lenmax bytes.
func (as *Vm_t) Userstr(uva uintptr, lenmax int) (string, defs.Err_t) {
	if lenmax < 0 {
		return "", 0
	}
	as.lockPgfl()
	defer as.unlockPgfl()
	var s []byte
	i := uintptr(0)
	for {
		chunk, err := as.Userdmap(uva+i, false)
		if err != 0 {
			return "", err
		}
		for j, c := range chunk {
			if c == 0 {
				s = append(s, chunk[:j]...)
				if len(s) >= lenmax {
					return "", defs.ENAMETOOLONG
				}
				return string(s), 0
			}
		}
		s = append(s, chunk...)
		i += uintptr(len(chunk))
		if len(s) >= lenmax {
			return "", defs.ENAMETOOLONG
		}
	}
}

// K2user copies src into user memory starting at uva.
func (as *Vm_t) K2user(src []byte, uva uintptr) defs.Err_t {
	as.lockPgfl()
	defer as.unlockPgfl()
	cnt := uintptr(0)
	for int(cnt) != len(src) {
		dst, err := as.Userdmap(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		cnt += uintptr(n)
	}
	return 0
}

// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *Vm_t) User2k(dst []byte, uva uintptr) defs.Err_t {
	as.lockPgfl()
	defer as.unlockPgfl()
	cnt := 0
	for cnt != len(dst) {
		src, err := as.Userdmap(uva+uintptr(cnt), false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		cnt += n
	}
	return 0
}

// Unusedva finds an unused region of length bytes at or after startva,
// used to place exec's initial stack and mmap allocations.
func (as *Vm_t) Unusedva(startva, length uintptr) uintptr {
	as.Lock()
	defer as.Unlock()
	ret, _ := as.Vmregion.Empty(startva, length)
	return ret
}

// Fork duplicates this address space for spec.md §4.7's fork
// operation: every writable anonymous page becomes copy-on-write in
// both the parent and child, shared file mappings stay shared.
func (as *Vm_t) Fork() (*Vm_t, bool) {
	as.Lock()
	defer as.Unlock()

	child, ok := NewVm_t()
	if !ok {
		return nil, false
	}
	for _, r := range as.Vmregion.Regions() {
		nr := *r
		child.Vmregion.insert(&nr)
		if r.Mtype == VSANON || (r.Mtype == VFILE && r.shared) {
			continue // shared: lean on the parent's existing mappings, no copy
		}
		for pgn := r.Pgn; pgn < r.Pgn+r.Pglen; pgn++ {
			va := pgn << PGSHIFT
			get, set, ok := as.Pt.LeafEntry(va, false)
			if !ok {
				continue
			}
			pte := get()
			if pte&mem.PTE_P == 0 {
				continue
			}
			if pte&mem.PTE_W != 0 {
				pte = (pte &^ (mem.PTE_W | PTE_WASCOW)) | PTE_COW
				set(pte)
			}
			mem.Physmem.Refup(pte & mem.PTE_ADDR)
			cget, cset, ok := child.Pt.LeafEntry(va, true)
			_ = cget
			if !ok {
				mem.Physmem.Refdown(pte & mem.PTE_ADDR)
				continue
			}
			cset(pte)
		}
	}
	return child, true
}

// Uvmfree releases every user mapping and the page tables themselves,
// per spec.md §4.2's teardown path.
func (as *Vm_t) Uvmfree() {
	as.Lock()
	defer as.Unlock()
	for _, r := range as.Vmregion.Regions() {
		for pgn := r.Pgn; pgn < r.Pgn+r.Pglen; pgn++ {
			as.Pt.Unmap(pgn<<PGSHIFT, true)
		}
	}
	as.Pt.FreeIntermediate()
	as.Vmregion.Clear()
}
