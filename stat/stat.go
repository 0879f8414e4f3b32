// Package stat mirrors a file's stat(2) information in a form that
// can be copied directly into a user-space struct stat buffer, per
// spec.md §6's syscall ABI.
package stat

import "encoding/binary"

// Stat_t holds the subset of struct stat fields HeliOS tracks.
type Stat_t struct {
	dev    uint64
	ino    uint64
	mode   uint64
	size   uint64
	rdev   uint64
	blocks uint64
}

func (st *Stat_t) Wdev(v uint64)  { st.dev = v }
func (st *Stat_t) Wino(v uint64)  { st.ino = v }
func (st *Stat_t) Wmode(v uint64) { st.mode = v }
func (st *Stat_t) Wsize(v uint64) { st.size = v }
func (st *Stat_t) Wrdev(v uint64) { st.rdev = v }

func (st *Stat_t) Dev() uint64  { return st.dev }
func (st *Stat_t) Ino() uint64  { return st.ino }
func (st *Stat_t) Mode() uint64 { return st.mode }
func (st *Stat_t) Size() uint64 { return st.size }
func (st *Stat_t) Rdev() uint64 { return st.rdev }

// Bytes renders the structure as a little-endian byte buffer suitable
// for copying into user memory via vm.Vm_t.K2user.
func (st *Stat_t) Bytes() []byte {
	b := make([]byte, 6*8)
	binary.LittleEndian.PutUint64(b[0:8], st.dev)
	binary.LittleEndian.PutUint64(b[8:16], st.ino)
	binary.LittleEndian.PutUint64(b[16:24], st.mode)
	binary.LittleEndian.PutUint64(b[24:32], st.size)
	binary.LittleEndian.PutUint64(b[32:40], st.rdev)
	binary.LittleEndian.PutUint64(b[40:48], st.blocks)
	return b
}
