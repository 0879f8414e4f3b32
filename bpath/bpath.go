// Package bpath canonicalizes and splits filesystem paths, per
// spec.md §4.5's path-walk component, authored in the style of its
// sibling ustr package (byte-slice paths, no allocation beyond what's
// needed).
package bpath

import "github.com/BouwerMan/helios-sub001/ustr"

// Split breaks an absolute or relative path into its '/'-separated,
// non-empty components.
func Split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Canonicalize resolves "." and ".." components and collapses
// repeated slashes, returning an absolute path. Per spec.md §4.5, a
// ".." at the root is a no-op rather than an error.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	var out []ustr.Ustr
	for _, c := range parts {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.Ustr{'/'}
	for i, c := range out {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, c...)
	}
	return ret
}

// Dir returns all but the last component of a canonical path.
func Dir(p ustr.Ustr) ustr.Ustr {
	parts := Split(Canonicalize(p))
	if len(parts) <= 1 {
		return ustr.MkUstrRoot()
	}
	return Canonicalize(join(parts[:len(parts)-1]))
}

// Base returns the last component of a canonical path.
func Base(p ustr.Ustr) ustr.Ustr {
	parts := Split(Canonicalize(p))
	if len(parts) == 0 {
		return ustr.MkUstrRoot()
	}
	return parts[len(parts)-1]
}

func join(parts []ustr.Ustr) ustr.Ustr {
	ret := ustr.Ustr{'/'}
	for i, c := range parts {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, c...)
	}
	return ret
}
