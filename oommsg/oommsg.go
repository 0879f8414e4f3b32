// Package oommsg provides the out-of-memory notification channel
// buddy/slab use to ask the rest of the kernel to free pages before
// giving up an allocation, per spec.md §7's PMM exhaustion path.
// Ported near-verbatim from oommsg.Oommsg_t.
package oommsg

// OomCh is sent an Oommsg_t whenever an allocator cannot satisfy a
// request and believes reclaiming memory elsewhere might help.
var OomCh = make(chan Oommsg_t)

// Oommsg_t describes an outstanding memory request: Need bytes are
// wanted, and the requester waits on Resume to learn whether enough
// was freed to retry.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
