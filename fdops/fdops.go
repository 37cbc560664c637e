// Package fdops defines the small set of interfaces shared by every kind
// of open file descriptor (regular files, pipes, mailboxes, std streams).
// biscuit's own fdops package was empty in the retrieved pack, so these
// are authored fresh from the call sites in fs/blk.go, ufs/driver.go, and
// fd/fd.go, which reference Fdops_i/Pollmsg_t/Userio_i/Ready_t without
// defining them locally.
package fdops

import "rvos/defs"

/// Ready_t is a bitmask of conditions a poller is interested in or that
/// became true.
type Ready_t uint

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
	R_HUP   Ready_t = 1 << 3
)

/// Pollmsg_t describes one waiter's interest in a pollable object.
type Pollmsg_t struct {
	Events Ready_t
	Notify chan Ready_t
}

/// Fdops_i is implemented by every concrete kind of open file description.
/// Unlike biscuit's Userio_i-mediated reads/writes (needed there to cross
/// a real user/kernel address-space boundary), Read/Write here take plain
/// []byte: the caller package already assembles user-memory slices into
/// []byte before invoking these methods, since the simulator hosts every
/// process's memory as ordinary Go-addressable bytes (SPEC_FULL.md §0).
type Fdops_i interface {
	Read(dst []byte) (int, defs.Err_t)
	Write(src []byte) (int, defs.Err_t)
	Lseek(off int, whence int) (int, defs.Err_t)
	Reopen() defs.Err_t
	Close() defs.Err_t
	Poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
}
