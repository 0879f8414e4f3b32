// Package stats implements compile-time-gated performance counters
// used throughout the kernel, following a Counter_t/Cycles_t pattern:
// when the Stats/Timing consts are false the Inc/Add methods compile
// to no-ops, so instrumented call sites cost nothing in a
// non-instrumented build.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

const Stats = false
const Timing = false

// Counter_t is a simple event counter.
type Counter_t int64

// Cycles_t accumulates elapsed ticks, in whatever unit the caller's
// clock source reports (archglue has no rdtsc equivalent, so callers
// pass a monotonic counter of their choosing).
type Cycles_t int64

// Inc increments the counter when Stats is enabled.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add adds elapsed ticks since start to the counter when Timing is
// enabled.
func (c *Cycles_t) Add(start, now uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(now-start))
	}
}

// Stats2String renders every Counter_t/Cycles_t field of st as a
// human-readable line, for inclusion in a panic dump or debug
// command. Returns "" when Stats is disabled.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
