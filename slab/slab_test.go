package slab

import (
	"testing"
	"unsafe"

	"github.com/BouwerMan/helios-sub001/buddy"
)

func newTestBuddy(t *testing.T) *buddy.Allocator {
	t.Helper()
	return buddy.New(0, 12, 16, nil)
}

func TestAllocReturnsDistinctObjectsAndGrowsOnDemand(t *testing.T) {
	b := newTestBuddy(t)
	c := New("test_t", 64, 8, b, nil, nil)

	seen := make(map[uintptr]bool)
	for i := 0; i < c.ObjectsPerSlab()+1; i++ {
		obj, ok := c.Alloc()
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if seen[obj] {
			t.Fatalf("alloc returned duplicate object %x", obj)
		}
		seen[obj] = true
	}
	c.CheckInvariants()
	if empty, partial, full := c.Counts(); empty != 0 || partial != 1 || full != 1 {
		t.Fatalf("expected one full and one partial slab after overflowing one slab, got empty=%d partial=%d full=%d", empty, partial, full)
	}
}

func TestFreeMovesSlabBackToEmpty(t *testing.T) {
	b := newTestBuddy(t)
	c := New("test_t", 128, 8, b, nil, nil)

	obj, ok := c.Alloc()
	if !ok {
		t.Fatal("alloc failed")
	}
	if _, _, full := c.Counts(); full != 0 {
		t.Fatal("single alloc should not fill the slab")
	}
	c.Free(obj)
	c.CheckInvariants()
	if empty, _, _ := c.Counts(); empty != 1 {
		t.Fatalf("freeing the only live object should return the slab to empty, got %d empty slabs", empty)
	}
}

func TestCtorDtorCalledOnAllocAndFree(t *testing.T) {
	b := newTestBuddy(t)
	var ctorCalls, dtorCalls int
	c := New("test_t", 32, 8, b,
		func(obj unsafe.Pointer) { ctorCalls++ },
		func(obj unsafe.Pointer) { dtorCalls++ },
	)
	obj, ok := c.Alloc()
	if !ok {
		t.Fatal("alloc failed")
	}
	if ctorCalls != 1 {
		t.Fatalf("expected ctor called once, got %d", ctorCalls)
	}
	c.Free(obj)
	if dtorCalls != 1 {
		t.Fatalf("expected dtor called once, got %d", dtorCalls)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	b := newTestBuddy(t)
	c := New("test_t", 32, 8, b, nil, nil)
	obj, _ := c.Alloc()
	c.Free(obj)
	defer func() {
		if recover() == nil {
			t.Fatal("expected double free to panic")
		}
	}()
	c.Free(obj)
}

func TestDestroyFreesAllSlabsBackToBuddy(t *testing.T) {
	b := newTestBuddy(t)
	full := b.FreeBytes()
	c := New("test_t", 64, 8, b, nil, nil)
	for i := 0; i < c.ObjectsPerSlab()*3; i++ {
		if _, ok := c.Alloc(); !ok {
			t.Fatalf("alloc %d failed", i)
		}
	}
	if b.FreeBytes() == full {
		t.Fatal("expected buddy allocator to have handed out slabs")
	}
	c.Destroy()
	if got := b.FreeBytes(); got != full {
		t.Fatalf("destroy should return every slab to the buddy allocator, got %d want %d", got, full)
	}
}
