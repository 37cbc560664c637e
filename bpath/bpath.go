// Package bpath canonicalizes filesystem paths (collapses "." and ".."
// components). biscuit's own bpath package was empty in the retrieved
// pack; path.Clean already does exactly this and no example repo ships a
// richer path-canonicalization library, so this is one of the few places
// this repo reaches for the standard library over a third-party one (see
// DESIGN.md).
package bpath

import (
	"path"

	"rvos/ustr"
)

/// Canonicalize collapses "." and ".." components and duplicate slashes
/// out of an absolute path.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	return ustr.Ustr(path.Clean(p.String()))
}
