// Package ustr implements an immutable byte-string type used for paths
// and other kernel-held strings, per spec.md §3.
package ustr

// Ustr represents an immutable path or string used by the kernel.
type Ustr []byte

// Isdot reports whether the string equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values for byte equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrDot returns a Ustr representing ".".
func MkUstrDot() Ustr { return Ustr(".") }

// MkUstrRoot returns a Ustr for the root directory "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr,
// truncating at the first NUL byte.
func MkUstrSlice(buf []byte) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Extend appends '/' and p to the string, returning a new Ustr.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us))
	copy(tmp, us)
	r := append(tmp, '/')
	return append(r, p...)
}

// ExtendStr appends '/' and p (as a string) to the string.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of b in the string, or -1.
func (us Ustr) IndexByte(b byte) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String renders the Ustr as a Go string.
func (us Ustr) String() string {
	return string(us)
}
