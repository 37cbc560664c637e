package fd

import (
	"sync"

	"rvos/defs"
	"rvos/fdops"
	"rvos/fs"
)

/// RegularFile_t is a Fdops_i backed by an on-disk inode: a FileHandle_t
/// plus the byte offset this particular open instance is positioned at
/// (offsets are per-open-instance, not per-inode, matching POSIX).
type RegularFile_t struct {
	mu     sync.Mutex
	handle *fs.FileHandle_t
	off    int
	perms  int
}

/// OpenRegularFile wraps an already-resolved inode handle as an open file
/// descriptor positioned at offset 0. The inode is registered as held
/// open immediately, so a concurrent Unlink defers block reclamation
/// until this descriptor (and any it's dup'd into) is closed.
func OpenRegularFile(h *fs.FileHandle_t, perms int) *Fd_t {
	h.Acquire()
	return &Fd_t{Fops: &RegularFile_t{handle: h, perms: perms}, Perms: perms}
}

func (f *RegularFile_t) Read(dst []byte) (int, defs.Err_t) {
	if f.perms&FD_READ == 0 {
		return 0, defs.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.handle.ReadAt(f.off, dst)
	if err != nil {
		return 0, defs.EIO
	}
	f.off += n
	return n, 0
}

func (f *RegularFile_t) Write(src []byte) (int, defs.Err_t) {
	if f.perms&FD_WRITE == 0 {
		return 0, defs.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.handle.WriteAt(f.off, src)
	if err != nil {
		return 0, defs.EIO
	}
	f.off += n
	return n, 0
}

func (f *RegularFile_t) Lseek(off int, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
	case defs.SEEK_END:
		sz, err := f.handle.Size()
		if err != nil {
			return 0, defs.EIO
		}
		f.off = int(sz) + off
	default:
		return 0, defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, defs.EINVAL
	}
	return f.off, 0
}

/// Stat reports the underlying inode's size and whether it is a
/// directory, for the syscall layer's fstat handler.
func (f *RegularFile_t) Stat() (uint32, bool, error) {
	sz, err := f.handle.Size()
	if err != nil {
		return 0, false, err
	}
	dir, err := f.handle.IsDir()
	if err != nil {
		return 0, false, err
	}
	return sz, dir, nil
}

func (f *RegularFile_t) Reopen() defs.Err_t {
	f.handle.Acquire()
	return 0
}

func (f *RegularFile_t) Close() defs.Err_t {
	if err := f.handle.Release(); err != nil {
		return defs.EIO
	}
	return 0
}

func (f *RegularFile_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	var ready fdops.Ready_t
	if f.perms&FD_READ != 0 {
		ready |= fdops.R_READ
	}
	if f.perms&FD_WRITE != 0 {
		ready |= fdops.R_WRITE
	}
	return ready & pm.Events, 0
}

/// DirFile_t is the Fdops_i used for an fd opened on a directory: it
/// supports only Close/Poll (reads go through Ls via the syscall layer,
/// not the byte-stream Read method).
type DirFile_t struct {
	Handle *fs.FileHandle_t
}

func OpenDir(h *fs.FileHandle_t) *Fd_t {
	h.Acquire()
	return &Fd_t{Fops: &DirFile_t{Handle: h}, Perms: FD_READ}
}

func (d *DirFile_t) Read(dst []byte) (int, defs.Err_t)  { return 0, defs.EISDIR }
func (d *DirFile_t) Write(src []byte) (int, defs.Err_t) { return 0, defs.EISDIR }
func (d *DirFile_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, defs.EISDIR
}
func (d *DirFile_t) Reopen() defs.Err_t {
	d.Handle.Acquire()
	return 0
}

func (d *DirFile_t) Close() defs.Err_t {
	if err := d.Handle.Release(); err != nil {
		return defs.EIO
	}
	return 0
}
func (d *DirFile_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ & pm.Events, 0
}
