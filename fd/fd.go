// Package fd implements the per-process file descriptor table plus the
// concrete Fdops_i backends (regular files, pipes, mailboxes, std
// streams). Grounded on biscuit/src/fd/fd.go's Fd_t/Cwd_t shapes.
package fd

import (
	"sync"

	"rvos/bpath"
	"rvos/defs"
	"rvos/fdops"
	"rvos/ustr"
)

/// File descriptor permission bits.
const (
	FD_READ    = 0x1 // read permission
	FD_WRITE   = 0x2 // write permission
	FD_CLOEXEC = 0x4 // close-on-exec flag
)

/// Fd_t represents one open file descriptor.
type Fd_t struct {
	Fops  fdops.Fdops_i // descriptor operations
	Perms int           // permission bits
}

/// Copyfd duplicates an open file descriptor by reopening it (bumping
/// whatever refcount the underlying Fdops_i keeps).
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure; used where the
/// caller has already established the descriptor must close cleanly.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

/// Cwd_t tracks a process's current working directory.
type Cwd_t struct {
	sync.Mutex // serializes chdirs
	Fd         *Fd_t
	Path       ustr.Ustr
}

/// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

/// Canonicalpath resolves path components relative to cwd.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

/// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: fd, Path: ustr.MkUstrRoot()}
}

/// Table_t is a process's file descriptor table: a sparse vector of
/// *Fd_t indexed by fd number, guarded by its own mutex. fork gives the
/// child its own table via Clone, whose entries share the parent's open
/// files.
type Table_t struct {
	sync.Mutex
	fds  map[int]*Fd_t
	next int
}

func NewTable() *Table_t {
	return &Table_t{fds: make(map[int]*Fd_t)}
}

/// Install places fd into the first free slot (at or after 3, reserving
/// 0/1/2 for stdin/stdout/stderr the way POSIX shells expect) and returns
/// its number.
func (t *Table_t) Install(fd *Fd_t) int {
	t.Lock()
	defer t.Unlock()
	n := 3
	for {
		if _, taken := t.fds[n]; !taken {
			break
		}
		n++
	}
	t.fds[n] = fd
	return n
}

/// InstallAt places fd at a specific slot, replacing (and returning) any
/// descriptor that was already there; used for stdin/stdout/stderr setup
/// and for dup2.
func (t *Table_t) InstallAt(n int, fd *Fd_t) *Fd_t {
	t.Lock()
	defer t.Unlock()
	old := t.fds[n]
	t.fds[n] = fd
	return old
}

/// Get returns the descriptor at n, or nil if none is open there.
func (t *Table_t) Get(n int) *Fd_t {
	t.Lock()
	defer t.Unlock()
	return t.fds[n]
}

/// Remove detaches and returns the descriptor at n.
func (t *Table_t) Remove(n int) *Fd_t {
	t.Lock()
	defer t.Unlock()
	fd := t.fds[n]
	delete(t.fds, n)
	return fd
}

/// Clone returns a new table sharing every entry of t not marked
/// FD_CLOEXEC via Copyfd
/// (fork's fd-table duplication: same underlying file objects, new
/// per-descriptor handles), per SPEC_FULL.md's "copy fd table
/// shared-not-cloned" note.
func (t *Table_t) Clone() (*Table_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	nt := NewTable()
	nt.next = t.next
	for n, f := range t.fds {
		if f.Perms&FD_CLOEXEC != 0 {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			return nil, err
		}
		nt.fds[n] = nf
	}
	return nt, 0
}

/// CloseAll closes every descriptor in the table.
func (t *Table_t) CloseAll() {
	t.Lock()
	fds := make([]*Fd_t, 0, len(t.fds))
	for _, f := range t.fds {
		fds = append(fds, f)
	}
	t.fds = make(map[int]*Fd_t)
	t.Unlock()
	for _, f := range fds {
		f.Fops.Close()
	}
}
