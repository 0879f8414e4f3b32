// Package kpanic implements the kernel panic path, per spec.md §7:
// disable interrupts, flush deferred log sinks, print context (task
// name, pid, register frame, the faulting address), and halt. Kernel
// core invariant violations (CR3 misalignment, preempt-count
// underflow, scheduler-not-initialised) call into this package rather
// than Go's own panic/recover, since a real port cannot unwind a
// goroutine stack across a hardware exception boundary.
package kpanic

import (
	"fmt"
	"strings"

	"github.com/BouwerMan/helios-sub001/archglue"
	"github.com/BouwerMan/helios-sub001/caller"
	"github.com/BouwerMan/helios-sub001/klog"
)

// Context is everything a panic report names per spec.md §7: the
// faulting task's identity, its register frame (format left to the
// caller, since only archglue knows its shape), and (for page faults)
// the faulting address.
type Context struct {
	TaskName string
	Pid      int
	Regs     string
	Cr2      uintptr
	HaveCr2  bool
}

// Handler ties the panic path to one boot's IRQ guard, log sink, and
// halt primitive.
type Handler struct {
	IRQ  archglue.IRQGuard
	Log  *klog.Log
	Halt archglue.Halt
	Sink func(string)
}

// Panic disables interrupts, flushes the log, prints ctx and msg, and
// halts the CPU. It never returns.
func (h *Handler) Panic(msg string, ctx Context) {
	if h.IRQ != nil {
		h.IRQ.Save()
	}
	var report strings.Builder
	report.WriteString("kernel panic: ")
	report.WriteString(msg)
	report.WriteByte('\n')
	fmt.Fprintf(&report, "task=%s pid=%d\n", ctx.TaskName, ctx.Pid)
	if ctx.HaveCr2 {
		fmt.Fprintf(&report, "cr2=0x%x\n", ctx.Cr2)
	}
	if ctx.Regs != "" {
		report.WriteString(ctx.Regs)
		report.WriteByte('\n')
	}
	report.WriteString(caller.Dump(2))

	if h.Log != nil {
		h.Log.Printf("%s", report.String())
		h.Log.Flush(h.Sink)
	} else if h.Sink != nil {
		h.Sink(report.String())
	}

	if h.Halt != nil {
		h.Halt.Halt()
	}
	for {
	}
}
