package mem

import (
	"testing"

	"github.com/BouwerMan/helios-sub001/archglue"
)

func TestAllocPageReturnsZeroedDistinctFramesUntilExhausted(t *testing.T) {
	p := Phys_init(4)

	seen := map[Pa_t]bool{}
	for i := 0; i < 4; i++ {
		pa, ok := p.AllocPage()
		if !ok {
			t.Fatalf("AllocPage() failed on iteration %d", i)
		}
		if seen[pa] {
			t.Fatalf("AllocPage() returned duplicate address %#x", pa)
		}
		seen[pa] = true
		for _, b := range p.Dmap(pa) {
			if b != 0 {
				t.Fatalf("AllocPage() returned a non-zeroed page at %#x", pa)
			}
		}
	}
	if _, ok := p.AllocPage(); ok {
		t.Fatal("expected AllocPage() to fail once all frames are handed out")
	}
	if p.Nfree() != 0 {
		t.Fatalf("Nfree() = %d, want 0", p.Nfree())
	}
}

func TestRefupRefdownFreesFrameOnLastDrop(t *testing.T) {
	p := Phys_init(2)
	pa, ok := p.AllocPage()
	if !ok {
		t.Fatal("AllocPage failed")
	}
	p.Refup(pa)
	if got := p.Refcnt(pa); got != 2 {
		t.Fatalf("Refcnt() = %d, want 2", got)
	}
	if freed := p.Refdown(pa); freed {
		t.Fatal("expected Refdown to report not-yet-freed at refcnt 2->1")
	}
	if freed := p.Refdown(pa); !freed {
		t.Fatal("expected Refdown to report freed at refcnt 1->0")
	}
	if p.Nfree() != 2 {
		t.Fatalf("Nfree() = %d, want 2 after the frame returns to the free list", p.Nfree())
	}
}

func TestFreePageReturnsSingleOwnedFrame(t *testing.T) {
	p := Phys_init(1)
	pa, _ := p.AllocPage()
	p.FreePage(pa)
	if p.Nfree() != 1 {
		t.Fatalf("Nfree() = %d, want 1", p.Nfree())
	}
}

func TestAllocContigReturnsRunOfPhysicallyAdjacentFrames(t *testing.T) {
	p := Phys_init(8)
	pa, ok := p.AllocContig(3)
	if !ok {
		t.Fatal("AllocContig(3) failed with 8 free frames")
	}
	for i := 0; i < 3; i++ {
		if p.Refcnt(pa+Pa_t(i*PGSIZE)) != 1 {
			t.Fatalf("frame %d of the contiguous run was not marked allocated", i)
		}
	}
	if p.Nfree() != 5 {
		t.Fatalf("Nfree() = %d, want 5", p.Nfree())
	}
}

func TestAllocContigFailsWhenNoRunIsLongEnough(t *testing.T) {
	p := Phys_init(4)
	// Allocate frame 0 so only 3 frames remain and no run of 4 exists.
	_, _ = p.AllocPage() // frame 0
	if _, ok := p.AllocContig(4); ok {
		t.Fatal("expected AllocContig(4) to fail with only 3 frames remaining")
	}
}

func TestReserveBootRemovesUnusableRegionsFromTheFreeList(t *testing.T) {
	p := Phys_init(4)
	p.ReserveBoot([]archglue.BootRegion{
		{Base: 0, Length: uintptr(PGSIZE), Usable: false},
	})
	if p.Nfree() != 3 {
		t.Fatalf("Nfree() = %d, want 3 after reserving one frame", p.Nfree())
	}
	// The reserved frame must never be handed out.
	for i := 0; i < 3; i++ {
		pa, ok := p.AllocPage()
		if !ok {
			t.Fatalf("AllocPage failed on iteration %d", i)
		}
		if pa == 0 {
			t.Fatal("AllocPage returned the reserved frame at address 0")
		}
	}
}

func TestAllocLockedPanicsBeforePhysInit(t *testing.T) {
	Physmem = &Physmem_t{}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when allocating before Phys_init")
		}
	}()
	Physmem.AllocPage()
}

func TestMapUnmapTranslateRoundTrip(t *testing.T) {
	Phys_init(8)
	pt, ok := NewPageTable()
	if !ok {
		t.Fatal("NewPageTable failed")
	}
	frame, ok := Physmem.AllocPage()
	if !ok {
		t.Fatal("AllocPage failed")
	}

	const va = uintptr(0x0000_4000_0000)
	if !pt.Map(va, frame, PTE_P|PTE_W|PTE_U) {
		t.Fatal("Map failed")
	}
	got, ok := pt.Translate(va)
	if !ok || got&PGMASK != frame {
		t.Fatalf("Translate(%#x) = (%#x, %v), want (%#x, true)", va, got, ok, frame)
	}

	if !pt.Unmap(va, true) {
		t.Fatal("Unmap failed")
	}
	if _, ok := pt.Translate(va); ok {
		t.Fatal("expected Translate to fail after Unmap")
	}
}

func TestUnmapOfNeverMappedAddressFails(t *testing.T) {
	Phys_init(4)
	pt, _ := NewPageTable()
	if pt.Unmap(0x1000, false) {
		t.Fatal("expected Unmap on an unmapped address to fail")
	}
}

func TestMapPanicsWithoutPresentFlag(t *testing.T) {
	Phys_init(4)
	pt, _ := NewPageTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when mapping without PTE_P")
		}
	}()
	pt.Map(0x1000, 0, PTE_W)
}

func TestLeafEntrySetThenGetReflectsTheWrite(t *testing.T) {
	Phys_init(8)
	pt, _ := NewPageTable()
	frame, _ := Physmem.AllocPage()

	const va = uintptr(0x8000_0000)
	get, set, ok := pt.LeafEntry(va, true)
	if !ok {
		t.Fatal("LeafEntry failed to allocate intermediate tables")
	}
	set(frame | PTE_P | PTE_W)
	if got := get(); got&PGMASK != frame {
		t.Fatalf("get() = %#x, want frame %#x", got, frame)
	}
}

func TestFreeIntermediateReleasesPageTablePages(t *testing.T) {
	Phys_init(16)
	pt, _ := NewPageTable()
	frame, _ := Physmem.AllocPage()
	const va = uintptr(0x1000_0000)
	pt.Map(va, frame, PTE_P|PTE_W|PTE_U)
	pt.Unmap(va, true)

	before := Physmem.Nfree()
	pt.FreeIntermediate()
	if Physmem.Nfree() <= before {
		t.Fatalf("Nfree() = %d, want more than %d after freeing intermediate tables", Physmem.Nfree(), before)
	}
}
