// Package archglue names the narrow interfaces the kernel core calls
// through to reach hardware and bootloader collaborators that spec.md §1
// places out of scope: bootloader handoff, PIC/PIT programming, ATA
// register protocol, serial bit-banging, and terminal rendering. The
// kernel core never implements these itself; a real port provides
// concrete types, and the archglue/sim subpackage provides an in-process
// stand-in so the rest of the module is exercisable under "go test".
package archglue

// BootRegion describes one entry of the bootloader-provided memory map,
// as named in spec.md §6 ("Boot interface").
type BootRegion struct {
	Base   uintptr
	Length uintptr
	Usable bool
}

// BootInfo is everything the kernel core needs from the boot handoff:
// the memory map, the kernel's linked virtual base, and the higher-half
// direct map offset.
type BootInfo struct {
	MemMap    []BootRegion
	KernelVA  uintptr
	HHDMBase  uintptr
}

// PortIO abstracts port-mapped I/O (inb/outb/inw/outw/inl/outl).
type PortIO interface {
	InB(port uint16) uint8
	OutB(port uint16, v uint8)
	InW(port uint16) uint16
	OutW(port uint16, v uint16)
	InL(port uint16) uint32
	OutL(port uint16, v uint32)
}

// TLB abstracts the single TLB operation the page-table manager needs:
// invalidating one virtual address on the current CPU. A real port wires
// this to the invlpg instruction.
type TLB interface {
	Invalidate(vaddr uintptr)
}

// IRQGuard abstracts "raise/restore the interrupt flag"
// (spin_lock_irqsave/irqrestore in spec.md §5). Save returns an opaque
// token that Restore uses to return interrupts to their prior state,
// so guards nest correctly.
type IRQGuard interface {
	Save() (token uint64)
	Restore(token uint64)
}

// IRQVector lets a driver install a handler for a hardware vector, as
// named in spec.md §6 ("install IRQ handler by vector").
type IRQVector interface {
	Install(vector int, handler func())
}

// Halt stops the current CPU (the hlt instruction). Called only from the
// panic path and the idle task.
type Halt interface {
	Halt()
}
