// Package limits tracks system-wide resource limits referenced by the
// scheduler, VFS, and VM components, per spec.md §5's resource model.
package limits

import "sync/atomic"

// Lhits counts limit hits, for diagnostics.
var Lhits int64

// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t struct {
	v int64
}

func (s *Sysatomic_t) Load() int64 { return atomic.LoadInt64(&s.v) }

// Given increases the limit's remaining budget by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(&s.v, int64(n))
}

// Taken tries to decrement the budget by n, reporting success. On
// failure the budget is left unchanged.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(&s.v, -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(&s.v, int64(n))
	atomic.AddInt64(&Lhits, 1)
	return false
}

// Take decrements the budget by one and reports success.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the budget by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Syslimit_t tracks system-wide resource limits, per spec.md §5.
type Syslimit_t struct {
	Sysprocs int
	Vnodes   int
	Futexes  int
	Pipes    Sysatomic_t
	Mfspgs   Sysatomic_t
	Blocks   int
}

// Syslimit holds the configured system-wide limits.
var Syslimit = MkSysLimit()

// MkSysLimit returns a fresh set of default limits.
func MkSysLimit() *Syslimit_t {
	s := &Syslimit_t{
		Sysprocs: 1e4,
		Futexes:  1024,
		Vnodes:   20000,
		Blocks:   100000,
	}
	s.Pipes.Given(1e4)
	return s
}
