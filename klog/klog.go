// Package klog is the kernel's deferred log sink, per spec.md §7's
// "flush deferred log sinks" panic step: formatted lines accumulate
// in a circbuf ring so that a panic handler running with interrupts
// disabled can flush everything written so far without itself
// allocating or touching a device driver's own locks.
package klog

import (
	"fmt"
	"sync"

	"github.com/BouwerMan/helios-sub001/circbuf"
)

const defaultRingSize = 16 * 1024

// Log is a mutex-protected ring of formatted log lines.
type Log struct {
	mu   sync.Mutex
	ring *circbuf.Circbuf_t
}

// New creates a log with the given ring capacity in bytes.
func New(size int) *Log {
	if size <= 0 {
		size = defaultRingSize
	}
	return &Log{ring: circbuf.New(size)}
}

// Printf formats and appends one log line.
func (l *Log) Printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	l.mu.Lock()
	l.ring.Write([]byte(line))
	l.mu.Unlock()
}

// Flush writes every buffered line to sink (a console device, serial
// port, or in hosted tests a plain strings.Builder) and returns what
// was written. It does not clear the ring: a panic dump wants to see
// the whole tail of boot history, not just what's new since the last
// flush.
func (l *Log) Flush(sink func(string)) string {
	l.mu.Lock()
	data := l.ring.Snapshot()
	l.mu.Unlock()
	s := string(data)
	if sink != nil {
		sink(s)
	}
	return s
}
