// Package slab implements fixed-size object pools layered on the buddy
// allocator, per spec.md §3/§4.4.
package slab

import (
	"sync"
	"unsafe"

	"github.com/BouwerMan/helios-sub001/buddy"
	"github.com/BouwerMan/helios-sub001/util"
)

const slabBytes = 4096 // must be a power of two (object-to-slab masking, spec.md §3)

type listKind int

const (
	listEmpty listKind = iota
	listPartial
	listFull
)

// slabHeader sits at offset 0 of every slab's backing page run.
type slabHeader struct {
	parent   *Cache
	freeTop  int
	freeStk  []uintptr // stack of free object pointers, len == objectsPerSlab
	base     uintptr
	which    listKind
	prev     *slabHeader
	next     *slabHeader
}

// Cache is a named pool producing fixed-size objects, per spec.md's
// "Slab cache" data model: three lists of slabs plus a ctor/dtor pair.
type Cache struct {
	mu sync.Mutex

	Name      string
	size      int
	align     int
	ctor      func(obj unsafe.Pointer)
	dtor      func(obj unsafe.Pointer)

	headerSize      int
	objectsPerSlab  int

	empty, partial, full *slabHeader

	buddy *buddy.Allocator

	// headers maps a slab's base address to its Go-side header, since
	// this module keeps slab bookkeeping in the host process rather
	// than embedding it in the slab's own bytes (no unsafe placement
	// needed without real physical memory backing the slab run).
	headers map[uintptr]*slabHeader

	// poison, when true, passes freed objects to poisonObject, which is
	// a no-op in this hosted model (freed bytes are not overwritten).
	// The double-free check in Free runs whether or not poison is set.
	poison bool
}

// New validates parameters and initializes a cache, per spec.md §4.4's
// cache_init.
func New(name string, size, align int, buddyAlloc *buddy.Allocator, ctor, dtor func(unsafe.Pointer)) *Cache {
	if align < int(unsafe.Sizeof(uintptr(0))) {
		align = int(unsafe.Sizeof(uintptr(0)))
	}
	if !util.IsPow2(align) {
		panic("slab: alignment must be a power of two")
	}
	if size <= 0 || size >= slabBytes {
		panic("slab: object size must be smaller than a slab")
	}
	c := &Cache{
		Name:    name,
		size:    size,
		align:   align,
		ctor:    ctor,
		dtor:    dtor,
		buddy:   buddyAlloc,
		headers: make(map[uintptr]*slabHeader),
		poison:  true,
	}
	c.headerSize = util.Roundup(8, align) // nominal header footprint; real bookkeeping lives in headers map
	c.objectsPerSlab = (slabBytes - c.headerSize) / size
	if c.objectsPerSlab <= 0 {
		panic("slab: object too large for slab")
	}
	return c
}

// grow allocates a new slab from the buddy allocator, lays out its
// free-object stack in ascending address order, and adds it to the
// empty list, per spec.md §4.4 step 1's growth path.
func (c *Cache) grow() *slabHeader {
	base, ok := c.buddy.Alloc(slabBytes)
	if !ok {
		return nil
	}
	if base%slabBytes != 0 {
		panic("slab: buddy allocator did not return a slab-aligned block")
	}
	h := &slabHeader{
		parent:  c,
		base:    base,
		freeTop: c.objectsPerSlab,
		which:   listEmpty,
	}
	h.freeStk = make([]uintptr, c.objectsPerSlab)
	off := uintptr(c.headerSize)
	for i := 0; i < c.objectsPerSlab; i++ {
		h.freeStk[i] = base + off + uintptr(i*c.size)
	}
	c.headers[base] = h
	c.pushFront(&c.empty, h)
	return h
}

func (c *Cache) pushFront(list **slabHeader, h *slabHeader) {
	h.prev = nil
	h.next = *list
	if *list != nil {
		(*list).prev = h
	}
	*list = h
}

func (c *Cache) unlink(list **slabHeader, h *slabHeader) {
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		*list = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	h.prev, h.next = nil, nil
}

func (c *Cache) listFor(k listKind) **slabHeader {
	switch k {
	case listEmpty:
		return &c.empty
	case listPartial:
		return &c.partial
	default:
		return &c.full
	}
}

func (c *Cache) moveTo(h *slabHeader, to listKind) {
	c.unlink(c.listFor(h.which), h)
	h.which = to
	c.pushFront(c.listFor(to), h)
}

// Alloc implements spec.md §4.4's alloc algorithm.
func (c *Cache) Alloc() (uintptr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var h *slabHeader
	switch {
	case c.partial != nil:
		h = c.partial
	case c.empty != nil:
		h = c.empty
		c.moveTo(h, listPartial)
	default:
		h = c.grow()
		if h == nil {
			return 0, false
		}
		c.moveTo(h, listPartial)
	}

	h.freeTop--
	obj := h.freeStk[h.freeTop]
	if h.freeTop == 0 {
		c.moveTo(h, listFull)
	}
	if c.ctor != nil {
		c.ctor(unsafe.Pointer(obj))
	}
	return obj, true
}

// slabOf derives a slab's base address from an object pointer via
// spec.md §3's object_ptr & ~(slab_bytes-1) rule.
func slabOf(obj uintptr) uintptr {
	return obj &^ uintptr(slabBytes-1)
}

// Free implements spec.md §4.4's free algorithm.
func (c *Cache) Free(obj uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := slabOf(obj)
	h, ok := c.headers[base]
	if !ok || h.parent != c {
		panic("slab: free of object not owned by this cache")
	}
	if h.freeTop >= c.objectsPerSlab {
		panic("slab: double free")
	}
	if c.dtor != nil {
		c.dtor(unsafe.Pointer(obj))
	}
	if c.poison {
		poisonObject(obj, c.size)
	}
	h.freeStk[h.freeTop] = obj
	h.freeTop++

	switch {
	case h.freeTop == 1 && h.which == listFull:
		c.moveTo(h, listPartial)
	case h.freeTop == c.objectsPerSlab:
		c.moveTo(h, listEmpty)
	}
}

func poisonObject(obj uintptr, size int) {
	// With no real memory backing these addresses (the buddy window
	// here is a bookkeeping abstraction, not a byte arena) poisoning
	// is a bookkeeping no-op in this hosted model; a bare-metal port
	// would memset the object to 0xde here.
	_ = obj
	_ = size
}

// ObjectsPerSlab reports the slab's per-cache object capacity, for
// tests asserting spec.md §3's layout formula.
func (c *Cache) ObjectsPerSlab() int { return c.objectsPerSlab }

// Counts reports the number of slabs on each list, for the invariant
// checks in spec.md §8.
func (c *Cache) Counts() (empty, partial, full int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h := c.empty; h != nil; h = h.next {
		empty++
	}
	for h := c.partial; h != nil; h = h.next {
		partial++
	}
	for h := c.full; h != nil; h = h.next {
		full++
	}
	return
}

// CheckInvariants asserts spec.md §8's slab list-membership invariant
// for every slab in the cache.
func (c *Cache) CheckInvariants() {
	c.mu.Lock()
	defer c.mu.Unlock()
	check := func(h *slabHeader, want listKind) {
		for ; h != nil; h = h.next {
			switch want {
			case listEmpty:
				if h.freeTop != c.objectsPerSlab {
					panic("slab: empty-list slab not fully free")
				}
			case listFull:
				if h.freeTop != 0 {
					panic("slab: full-list slab has free objects")
				}
			case listPartial:
				if h.freeTop == 0 || h.freeTop == c.objectsPerSlab {
					panic("slab: partial-list slab is empty or full")
				}
			}
		}
	}
	check(c.empty, listEmpty)
	check(c.partial, listPartial)
	check(c.full, listFull)
}

// Destroy walks all three lists, invoking the destructor for every
// live (allocated) object, then frees backing slabs, per spec.md
// §4.4's cache_destroy.
func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	destroyList := func(h *slabHeader) {
		for h != nil {
			next := h.next
			if c.dtor != nil {
				live := make(map[uintptr]bool, c.objectsPerSlab)
				for _, p := range h.freeStk[:h.freeTop] {
					live[p] = true
				}
				off := uintptr(c.headerSize)
				for i := 0; i < c.objectsPerSlab; i++ {
					obj := h.base + off + uintptr(i*c.size)
					if !live[obj] {
						c.dtor(unsafe.Pointer(obj))
					}
				}
			}
			c.buddy.Free(h.base)
			delete(c.headers, h.base)
			h = next
		}
	}
	destroyList(c.empty)
	destroyList(c.partial)
	destroyList(c.full)
	c.empty, c.partial, c.full = nil, nil, nil
}
