// Command heliosd is the hosted boot entry point: it runs the same
// data-flow sketch spec.md §2 describes for the real bare-metal boot
// path (physical memory discovery, buddy/slab carve-out, scheduler
// and VFS setup, init process exec) against archglue/sim in place of
// a bootloader and real hardware, so the kernel core is exercisable
// as an ordinary Go program.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BouwerMan/helios-sub001/abi"
	"github.com/BouwerMan/helios-sub001/archglue/sim"
	"github.com/BouwerMan/helios-sub001/blockdev/memdisk"
	"github.com/BouwerMan/helios-sub001/blockfs"
	"github.com/BouwerMan/helios-sub001/buddy"
	"github.com/BouwerMan/helios-sub001/chrdev"
	"github.com/BouwerMan/helios-sub001/defs"
	"github.com/BouwerMan/helios-sub001/klog"
	"github.com/BouwerMan/helios-sub001/kpanic"
	"github.com/BouwerMan/helios-sub001/mem"
	"github.com/BouwerMan/helios-sub001/proc"
	"github.com/BouwerMan/helios-sub001/ramfs"
	"github.com/BouwerMan/helios-sub001/sched"
	"github.com/BouwerMan/helios-sub001/slab"
	"github.com/BouwerMan/helios-sub001/task"
	"github.com/BouwerMan/helios-sub001/vfs"
)

// timerVector is the simulated IRQ vector the scheduler's tick
// handler installs itself on, standing in for the real PIT vector.
const timerVector = 0

// nframes sizes the simulated physical memory pool; real hardware
// would derive this from the bootloader's memory map instead.
const nframes = 4096

func main() {
	diskImage := flag.String("disk", "", "optional blockfs image mounted at /data")
	initPath := flag.String("init", "/sbin/init", "path to the init executable inside the root filesystem")
	flag.Parse()

	arch := sim.New()
	log := klog.New(0)
	console := chrdev.NewConsole(func(s string) { fmt.Print(s) })
	devices := chrdev.NewRegistry()
	devices.Register(defs.D_CONSOLE, 0, console)
	devices.Register(defs.D_DEVNULL, 0, chrdev.Null{})

	panicker := &kpanic.Handler{IRQ: arch, Log: log, Halt: arch, Sink: func(s string) { fmt.Print(s) }}

	log.Printf("heliosd: booting, %d simulated frames", nframes)
	mem.Phys_init(nframes)
	mem.Physmem.ReserveBoot(nil)

	pt, ok := mem.NewPageTable()
	if !ok {
		panicker.Panic("failed to build root page table", kpanic.Context{TaskName: "boot"})
	}

	heap := buddy.New(0, 12, 20, pt)
	taskCache := slab.New("task_t", 512, 8, heap, nil, nil)
	log.Printf("heliosd: buddy heap and %s slab cache ready", "task_t")

	schedr := sched.New(arch, timerVector)

	cache := vfs.NewCache()
	root := ramfs.New("rootfs")
	cache.Mount("/", root)

	dev := ramfs.New("devfs")
	cache.Mount("/dev", dev)

	if *diskImage != "" {
		data, rerr := os.ReadFile(*diskImage)
		if rerr != nil {
			log.Printf("heliosd: could not read disk image %s: %v", *diskImage, rerr)
		} else {
			disk := memdisk.FromImage(data)
			bfs, merr := blockfs.Mount("data", disk)
			if merr != 0 {
				log.Printf("heliosd: blockfs mount failed: %s", merr)
			} else {
				cache.Mount("/data", bfs)
				log.Printf("heliosd: mounted %s at /data", *diskImage)
			}
		}
	}

	procs := proc.NewTable()
	procs.UseSlab(taskCache)
	initTask, ok := procs.Spawn()
	if !ok {
		panicker.Panic("failed to spawn init task", kpanic.Context{TaskName: "boot"})
	}
	schedr.Add(initTask)

	machine := &abi.Machine{Procs: procs, VFS: cache}

	initArgv := []string{*initPath}
	initEnvp := []string{"PATH=/sbin:/bin"}
	img, perr := proc.PrepareExec(cache, *initPath, initArgv, initEnvp)
	if perr != 0 {
		log.Printf("heliosd: could not load %s: %s (falling back to idle)", *initPath, perr)
	} else if _, cerr := proc.CommitExec(initTask, img); cerr != 0 {
		log.Printf("heliosd: exec of %s failed: %s", *initPath, cerr)
	} else {
		log.Printf("heliosd: init (pid %d) loaded from %s", initTask.Pid, *initPath)
		if pid := machine.Dispatch(initTask, abi.SYS_GETPID, abi.Regs{}); int64(pid) == int64(initTask.Pid) {
			log.Printf("heliosd: syscall dispatch ready (init getpid -> %d)", pid)
		}
	}

	log.Printf("heliosd: boot complete, entering scheduler loop")
	for schedr.Len() > 0 {
		arch.Fire(timerVector)
		if initTask.State() == task.Zombie {
			break
		}
	}
	log.Flush(func(s string) {})
}
