// Package chrdev is a registry of character device implementations
// keyed by the (major, minor) device numbers defined in defs/device.go,
// per spec.md §4.5's device-file dispatch.
package chrdev

import (
	"sync"

	"github.com/BouwerMan/helios-sub001/defs"
)

// Device is implemented by every registered character device (the
// console, /dev/null, the raw disk device).
type Device interface {
	Read(dst []byte, offset int) (int, defs.Err_t)
	Write(src []byte, offset int) (int, defs.Err_t)
}

// Registry maps device numbers to their implementation.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint]Device
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[uint]Device)}
}

// Register installs dev at the given (major, minor) pair.
func (r *Registry) Register(major, minor int, dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[defs.Mkdev(major, minor)] = dev
}

// Lookup finds the device registered at (major, minor).
func (r *Registry) Lookup(major, minor int) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[defs.Mkdev(major, minor)]
	return d, ok
}

// Console is the minimal D_CONSOLE device: writes go to the kernel
// log, reads report EOF.
type Console struct {
	mu  sync.Mutex
	out func(string)
}

// NewConsole wraps a sink function (typically klog.Printf) as a
// chrdev.Device.
func NewConsole(out func(string)) *Console {
	return &Console{out: out}
}

func (c *Console) Read(dst []byte, offset int) (int, defs.Err_t) {
	return 0, 0
}

func (c *Console) Write(src []byte, offset int) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out(string(src))
	return len(src), 0
}

// Null is the D_DEVNULL device: reads report EOF, writes discard.
type Null struct{}

func (Null) Read(dst []byte, offset int) (int, defs.Err_t)  { return 0, 0 }
func (Null) Write(src []byte, offset int) (int, defs.Err_t) { return len(src), 0 }
