package vm

import (
	"testing"

	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/mem"
)

func setupPhysmem(t *testing.T, nframes int) {
	t.Helper()
	mem.Phys_init(nframes)
}

func TestVmregionLookupFindsCoveringRegion(t *testing.T) {
	var vr Vmregion_t
	vr.insert(&Vminfo_t{Pgn: 0, Pglen: 2, Perms: uint(mem.PTE_W)})
	vr.insert(&Vminfo_t{Pgn: 10, Pglen: 1, Perms: uint(mem.PTE_W)})

	if _, ok := vr.Lookup(1 << PGSHIFT); !ok {
		t.Fatal("expected a hit within the first region")
	}
	if _, ok := vr.Lookup(5 << PGSHIFT); ok {
		t.Fatal("expected a miss in the gap between regions")
	}
	if _, ok := vr.Lookup(10 << PGSHIFT); !ok {
		t.Fatal("expected a hit at the start of the second region")
	}
}

func TestVmregionInsertPanicsOnOverlap(t *testing.T) {
	var vr Vmregion_t
	vr.insert(&Vminfo_t{Pgn: 0, Pglen: 4, Perms: uint(mem.PTE_W)})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overlapping insert")
		}
	}()
	vr.insert(&Vminfo_t{Pgn: 2, Pglen: 4, Perms: uint(mem.PTE_W)})
}

func TestVmregionRemoveDropsTheMatchingRegion(t *testing.T) {
	var vr Vmregion_t
	vr.insert(&Vminfo_t{Pgn: 0, Pglen: 1})
	if !vr.Remove(0) {
		t.Fatal("expected Remove to find the region at page 0")
	}
	if _, ok := vr.Lookup(0); ok {
		t.Fatal("expected no region after Remove")
	}
	if vr.Remove(0) {
		t.Fatal("expected a second Remove of the same page to fail")
	}
}

func TestVmregionEmptyFindsGapAfterExistingRegions(t *testing.T) {
	var vr Vmregion_t
	vr.insert(&Vminfo_t{Pgn: 0, Pglen: 2}) // occupies [0, 2*PGSIZE)
	start, length := vr.Empty(0, uintptr(PGSIZE))
	if start != 2*uintptr(PGSIZE) {
		t.Fatalf("Empty() start = %#x, want %#x", start, 2*uintptr(PGSIZE))
	}
	if length != uintptr(PGSIZE) {
		t.Fatalf("Empty() length = %#x, want %#x", length, PGSIZE)
	}
}

func TestVmaddAnonThenPgfaultDemandZeroesAPage(t *testing.T) {
	setupPhysmem(t, 8)
	as, ok := NewVm_t()
	if !ok {
		t.Fatal("NewVm_t failed")
	}
	const start = uintptr(0x4000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))

	if err := as.Pgfault(start, mem.PTE_U); err != 0 {
		t.Fatalf("Pgfault() = %d, want 0", err)
	}
	pa, ok := as.Pt.Translate(start)
	if !ok {
		t.Fatal("expected a mapping to exist after Pgfault")
	}
	page := mem.Physmem.Dmap(pa &^ mem.Pa_t(PGOFFSET))
	for _, b := range page {
		if b != 0 {
			t.Fatal("expected a freshly faulted anonymous page to be zeroed")
		}
	}
}

func TestPgfaultOnGuardRegionReturnsEFAULT(t *testing.T) {
	setupPhysmem(t, 4)
	as, _ := NewVm_t()
	const start = uintptr(0x5000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), 0) // Perms == 0 marks a guard page

	if err := as.Pgfault(start, mem.PTE_U); err != defs.EFAULT {
		t.Fatalf("Pgfault() = %d, want EFAULT", err)
	}
}

func TestPgfaultOutsideAnyRegionReturnsEFAULT(t *testing.T) {
	setupPhysmem(t, 4)
	as, _ := NewVm_t()
	if err := as.Pgfault(0x9000_0000, mem.PTE_U); err != defs.EFAULT {
		t.Fatalf("Pgfault() = %d, want EFAULT", err)
	}
}

func TestK2userThenUser2kRoundTripsBytes(t *testing.T) {
	setupPhysmem(t, 8)
	as, _ := NewVm_t()
	const start = uintptr(0x6000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))

	want := []byte("hello, user space")
	if err := as.K2user(want, start); err != 0 {
		t.Fatalf("K2user() = %d, want 0", err)
	}
	got := make([]byte, len(want))
	if err := as.User2k(got, start); err != 0 {
		t.Fatalf("User2k() = %d, want 0", err)
	}
	if string(got) != string(want) {
		t.Fatalf("User2k() = %q, want %q", got, want)
	}
}

func TestUserstrStopsAtNulByte(t *testing.T) {
	setupPhysmem(t, 8)
	as, _ := NewVm_t()
	const start = uintptr(0x6000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))

	payload := append([]byte("hi\x00garbage"), 0)
	if err := as.K2user(payload, start); err != 0 {
		t.Fatalf("K2user() = %d, want 0", err)
	}
	s, err := as.Userstr(start, 64)
	if err != 0 {
		t.Fatalf("Userstr() err = %d, want 0", err)
	}
	if s != "hi" {
		t.Fatalf("Userstr() = %q, want %q", s, "hi")
	}
}

func TestUserstrTooLongReportsENAMETOOLONG(t *testing.T) {
	setupPhysmem(t, 8)
	as, _ := NewVm_t()
	const start = uintptr(0x6000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))
	if err := as.K2user([]byte("toolong\x00"), start); err != 0 {
		t.Fatalf("K2user() = %d, want 0", err)
	}
	if _, err := as.Userstr(start, 2); err != defs.ENAMETOOLONG {
		t.Fatalf("Userstr() err = %d, want ENAMETOOLONG", err)
	}
}

func TestUserwritenThenUserreadnRoundTrip(t *testing.T) {
	setupPhysmem(t, 8)
	as, _ := NewVm_t()
	const start = uintptr(0x7000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))

	if err := as.Userwriten(start, 4, 0xdeadbeef); err != 0 {
		t.Fatalf("Userwriten() = %d, want 0", err)
	}
	got, err := as.Userreadn(start, 4)
	if err != 0 {
		t.Fatalf("Userreadn() err = %d, want 0", err)
	}
	if uint32(got) != 0xdeadbeef {
		t.Fatalf("Userreadn() = %#x, want 0xdeadbeef", uint32(got))
	}
}

func TestUnusedvaSkipsOverOccupiedRange(t *testing.T) {
	setupPhysmem(t, 8)
	as, _ := NewVm_t()
	as.Vmadd_anon(0x1000_0000, uintptr(PGSIZE), uint(mem.PTE_W))
	got := as.Unusedva(0x1000_0000, uintptr(PGSIZE))
	if got != 0x1000_0000+uintptr(PGSIZE) {
		t.Fatalf("Unusedva() = %#x, want %#x", got, 0x1000_0000+uintptr(PGSIZE))
	}
}

func TestForkMarksSharedPageCopyOnWriteInBothSpaces(t *testing.T) {
	setupPhysmem(t, 16)
	parent, _ := NewVm_t()
	const start = uintptr(0x4000_0000)
	parent.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))
	if err := parent.Pgfault(start, mem.PTE_U); err != 0 {
		t.Fatalf("Pgfault() = %d, want 0", err)
	}
	parentPa, _ := parent.Pt.Translate(start)
	parentFrame := parentPa &^ mem.Pa_t(PGOFFSET)
	if mem.Physmem.Refcnt(parentFrame) != 1 {
		t.Fatalf("Refcnt before fork = %d, want 1", mem.Physmem.Refcnt(parentFrame))
	}

	child, ok := parent.Fork()
	if !ok {
		t.Fatal("Fork failed")
	}
	if mem.Physmem.Refcnt(parentFrame) != 2 {
		t.Fatalf("Refcnt after fork = %d, want 2", mem.Physmem.Refcnt(parentFrame))
	}

	childPa, ok := child.Pt.Translate(start)
	if !ok {
		t.Fatal("expected child mapping to survive Fork")
	}
	if childPa&^mem.Pa_t(PGOFFSET) != parentFrame {
		t.Fatal("expected parent and child to share the same physical frame right after Fork")
	}

	get, _, _ := parent.Pt.LeafEntry(start, false)
	if get()&mem.PTE_W != 0 {
		t.Fatal("expected the parent's writable page to become read-only COW after Fork")
	}
}

func TestForkThenWriteInChildCopiesPageLeavingParentUntouched(t *testing.T) {
	setupPhysmem(t, 16)
	parent, _ := NewVm_t()
	const start = uintptr(0x4000_0000)
	parent.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))
	if err := parent.K2user([]byte("parent"), start); err != 0 {
		t.Fatalf("K2user() = %d, want 0", err)
	}

	child, ok := parent.Fork()
	if !ok {
		t.Fatal("Fork failed")
	}
	if err := child.K2user([]byte("CHILD!"), start); err != 0 {
		t.Fatalf("child K2user() = %d, want 0", err)
	}

	parentBuf := make([]byte, 6)
	if err := parent.User2k(parentBuf, start); err != 0 {
		t.Fatalf("parent User2k() = %d, want 0", err)
	}
	if string(parentBuf) != "parent" {
		t.Fatalf("parent content after child's COW write = %q, want %q", parentBuf, "parent")
	}

	childBuf := make([]byte, 6)
	if err := child.User2k(childBuf, start); err != 0 {
		t.Fatalf("child User2k() = %d, want 0", err)
	}
	if string(childBuf) != "CHILD!" {
		t.Fatalf("child content = %q, want %q", childBuf, "CHILD!")
	}
}

func TestUvmfreeUnmapsEveryRegionAndClearsTheList(t *testing.T) {
	setupPhysmem(t, 8)
	as, _ := NewVm_t()
	const start = uintptr(0x4000_0000)
	as.Vmadd_anon(start, uintptr(PGSIZE), uint(mem.PTE_W))
	if err := as.Pgfault(start, mem.PTE_U); err != 0 {
		t.Fatalf("Pgfault() = %d, want 0", err)
	}

	as.Uvmfree()

	if _, ok := as.Vmregion.Lookup(start); ok {
		t.Fatal("expected Vmregion to be empty after Uvmfree")
	}
}

func TestFakeubufWritesThenReadsSequentially(t *testing.T) {
	var fb Fakeubuf_t
	fb.FakeInit(make([]byte, 8))

	if n, err := fb.Uiowrite([]byte("ABCD")); n != 4 || err != 0 {
		t.Fatalf("Uiowrite() = (%d, %d), want (4, 0)", n, err)
	}
	if got := fb.Remain(); got != 4 {
		t.Fatalf("Remain() = %d, want 4", got)
	}
	if n, err := fb.Uiowrite([]byte("EFGH")); n != 4 || err != 0 {
		t.Fatalf("Uiowrite() = (%d, %d), want (4, 0)", n, err)
	}
	if got := fb.Remain(); got != 0 {
		t.Fatalf("Remain() = %d, want 0 once the buffer is full", got)
	}

	var fb2 Fakeubuf_t
	fb2.FakeInit([]byte("ABCDEFGH"))
	got := make([]byte, 8)
	if n, err := fb2.Uioread(got); n != 8 || err != 0 {
		t.Fatalf("Uioread() = (%d, %d), want (8, 0)", n, err)
	}
	if string(got) != "ABCDEFGH" {
		t.Fatalf("Uioread() = %q, want %q", got, "ABCDEFGH")
	}
}
