// Package sim is an in-process stand-in for archglue, used by tests and
// by the hosted boot path (cmd/heliosd) that this module ships instead
// of real bare-metal glue. It keeps the kernel core's archglue calls
// exercisable without hardware.
package sim

import (
	"sync"
	"sync/atomic"
)

// Arch implements archglue.PortIO, archglue.TLB, archglue.IRQGuard,
// archglue.IRQVector, and archglue.Halt entirely in memory.
type Arch struct {
	mu       sync.Mutex
	ports    [1 << 16]uint32
	handlers map[int]func()
	irqDepth int64
	Invalidated []uintptr
	Halted      bool
}

// New returns a ready-to-use simulated architecture layer.
func New() *Arch {
	return &Arch{handlers: make(map[int]func())}
}

func (a *Arch) InB(port uint16) uint8   { return uint8(a.ports[port]) }
func (a *Arch) OutB(port uint16, v uint8) { a.ports[port] = uint32(v) }
func (a *Arch) InW(port uint16) uint16  { return uint16(a.ports[port]) }
func (a *Arch) OutW(port uint16, v uint16) { a.ports[port] = uint32(v) }
func (a *Arch) InL(port uint16) uint32  { return a.ports[port] }
func (a *Arch) OutL(port uint16, v uint32) { a.ports[port] = v }

// Invalidate records the invalidated address; a real port would issue
// invlpg here.
func (a *Arch) Invalidate(vaddr uintptr) {
	a.mu.Lock()
	a.Invalidated = append(a.Invalidated, vaddr)
	a.mu.Unlock()
}

// Save increments a depth counter standing in for the interrupt flag and
// returns the previous depth as the restore token.
func (a *Arch) Save() uint64 {
	return uint64(atomic.AddInt64(&a.irqDepth, 1) - 1)
}

// Restore decrements the depth counter back toward the saved token.
func (a *Arch) Restore(token uint64) {
	atomic.AddInt64(&a.irqDepth, -1)
}

// Disabled reports whether IRQs are currently considered disabled.
func (a *Arch) Disabled() bool {
	return atomic.LoadInt64(&a.irqDepth) > 0
}

// Install registers a handler for a simulated IRQ vector.
func (a *Arch) Install(vector int, handler func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[vector] = handler
}

// Fire invokes the handler installed for vector, if any. Tests use this
// to simulate a timer tick or a soft interrupt yield.
func (a *Arch) Fire(vector int) {
	a.mu.Lock()
	h := a.handlers[vector]
	a.mu.Unlock()
	if h != nil {
		h()
	}
}

// Halt marks the simulated CPU halted. In a hosted test this just
// records the call; it does not actually stop the goroutine.
func (a *Arch) Halt() {
	a.Halted = true
}
