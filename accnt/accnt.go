// Package accnt accumulates per-task CPU accounting information, per
// spec.md §3's task accounting fields.
package accnt

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates per-task accounting information.
//
// Both Userns and Sysns store runtime in nanoseconds. The embedded
// mutex lets callers take a consistent snapshot when exporting usage.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Now returns the current time in nanoseconds since the epoch.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Io_time removes time spent waiting for I/O from system time.
func (a *Accnt_t) Io_time(since int) {
	a.Systadd(-(a.Now() - since))
}

// Sleep_time removes time spent sleeping from system time.
func (a *Accnt_t) Sleep_time(since int) {
	a.Systadd(-(a.Now() - since))
}

// Finish finalizes accounting by charging time since inttime to system
// time.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

// Add merges another accounting record into this one.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

// Fetch returns a consistent snapshot encoded as an rusage buffer.
func (a *Accnt_t) Fetch() []byte {
	a.Lock()
	ru := a.toRusage()
	a.Unlock()
	return ru
}

// toRusage renders the accounting data as a struct-rusage-shaped byte
// buffer (two timeval pairs: user, then system), per spec.md §6's
// Linux-ABI-compatible syscall surface.
func (a *Accnt_t) toRusage() []byte {
	ret := make([]byte, 4*8)
	totv := func(nano int64) (int64, int64) {
		return nano / 1e9, (nano % 1e9) / 1000
	}
	off := 0
	put := func(v int64) {
		binary.LittleEndian.PutUint64(ret[off:off+8], uint64(v))
		off += 8
	}
	s, us := totv(a.Userns)
	put(s)
	put(us)
	s, us = totv(a.Sysns)
	put(s)
	put(us)
	return ret
}
