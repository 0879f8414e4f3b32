package vm

import "github.com/BouwerMan/helios-sub001/defs"

// Userbuf_t assists reading and writing user memory. Address lookups
// and accesses are atomic with respect to page faults, per spec.md
// §4.2's demand-paging guarantee.
type Userbuf_t struct {
	uva uintptr
	len int
	off int
	as  *Vm_t
}

// Mkuserbuf initializes a Userbuf_t referencing user memory.
func Mkuserbuf(as *Vm_t, uva uintptr, length int) *Userbuf_t {
	if length < 0 {
		panic("vm: negative length")
	}
	return &Userbuf_t{uva: uva, len: length, as: as}
}

// Remain reports the number of unread/unwritten bytes left.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the buffer's total size.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

func (ub *Userbuf_t) tx(buf []byte, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.uva + uintptr(ub.off)
		chunk, err := ub.as.Userdmap(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; len(chunk) > left {
			chunk = chunk[:left]
		}
		var c int
		if write {
			c = copy(chunk, buf)
		} else {
			c = copy(buf, chunk)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []byte) (int, defs.Err_t) {
	ub.as.lockPgfl()
	defer ub.as.unlockPgfl()
	return ub.tx(dst, false)
}

// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []byte) (int, defs.Err_t) {
	ub.as.lockPgfl()
	defer ub.as.unlockPgfl()
	return ub.tx(src, true)
}

type iove_t struct {
	uva uintptr
	sz  int
}

// Useriovec_t represents a sequence of user buffers described by an
// iovec array read from user memory, for readv/writev-style syscalls.
type Useriovec_t struct {
	iovs []iove_t
	tsz  int
	as   *Vm_t
}

// IovInit reads niovs {base,len} pairs from user memory starting at
// iovarn.
func (iov *Useriovec_t) IovInit(as *Vm_t, iovarn uintptr, niovs int) defs.Err_t {
	if niovs > 10 {
		return defs.EINVAL
	}
	iov.iovs = make([]iove_t, niovs)
	iov.as = as
	as.lockPgfl()
	defer as.unlockPgfl()
	for i := range iov.iovs {
		va := iovarn + uintptr(i)*16
		base, err := as.Userreadn(va, 8)
		if err != 0 {
			return err
		}
		sz, err := as.Userreadn(va+8, 8)
		if err != 0 {
			return err
		}
		iov.iovs[i] = iove_t{uva: uintptr(base), sz: sz}
		iov.tsz += sz
	}
	return 0
}

// Remain reports bytes remaining across all iovecs.
func (iov *Useriovec_t) Remain() int {
	n := 0
	for _, e := range iov.iovs {
		n += e.sz
	}
	return n
}

// Totalsz reports the iovec array's total described length.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []byte, toUser bool) (int, defs.Err_t) {
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		cur := &iov.iovs[0]
		ub := &Userbuf_t{uva: cur.uva, len: cur.sz, as: iov.as}
		c, err := ub.tx(buf, toUser)
		cur.uva += uintptr(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

// Uioread reads into dst from the set of user buffers.
func (iov *Useriovec_t) Uioread(dst []byte) (int, defs.Err_t) {
	iov.as.lockPgfl()
	defer iov.as.unlockPgfl()
	return iov.tx(dst, false)
}

// Uiowrite writes src to the set of user buffers.
func (iov *Useriovec_t) Uiowrite(src []byte) (int, defs.Err_t) {
	iov.as.lockPgfl()
	defer iov.as.unlockPgfl()
	return iov.tx(src, true)
}

// Fakeubuf_t implements the same interface as Userbuf_t but operates
// directly on a kernel-owned buffer. Used when the kernel needs to
// treat an internal buffer like it was user memory (e.g. the initial
// exec argv/envp staging area).
type Fakeubuf_t struct {
	buf []byte
	len int
}

// FakeInit sets up the fake buffer over buf.
func (fb *Fakeubuf_t) FakeInit(buf []byte) {
	fb.buf = buf
	fb.len = len(buf)
}

// Remain reports the bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.buf) }

// Totalsz reports the fake buffer's total length.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []byte, toFbuf bool) (int, defs.Err_t) {
	var c int
	if toFbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []byte) (int, defs.Err_t) { return fb.tx(dst, false) }

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []byte) (int, defs.Err_t) { return fb.tx(src, true) }
