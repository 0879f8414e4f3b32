// Package caller renders Go call stacks for the kernel panic path,
// per spec.md §7's "print caller chain" requirement. Ported from
// caller.Callerdump, dropping Distinct_caller_t (a sampling/dedup
// helper for noisy repeated call sites in network drivers, which
// HeliOS has none of).
package caller

import (
	"fmt"
	"runtime"
)

// Dump renders the call stack starting at the given skip depth as a
// multi-line string, one frame per line, deepest call first.
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
