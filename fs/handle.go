package fs

import (
	"fmt"
	"sync"

	"rvos/ustr"
)

/// FileHandle_t is the inode façade: an in-memory handle identifying one
/// on-disk inode by its (block, offset) position. Multiple FileHandle_t
/// values may name the same inode (hard links, or simply being opened
/// twice); they all resolve to the same on-disk DiskInode. Grounded on
/// original_source/easy-fs/src/vfs.rs's Inode wrapper (kept outside the
/// _INDEX.md-listed files but its role is implied by efs.rs::root_inode;
/// the directory-entry and link bookkeeping below is authored against
/// layout.rs's DirEntry plus this repo's added hard-link counter in
/// Efs_t).
type FileHandle_t struct {
	mu sync.Mutex

	efs     *Efs_t
	InodeID uint32
	block   uint32
	offset  int
}

/// Root returns a handle on the filesystem's root directory (always
/// inode 0).
func Root(efs *Efs_t) *FileHandle_t {
	block, off := efs.GetDiskInodePos(RootInodeID)
	return &FileHandle_t{efs: efs, InodeID: RootInodeID, block: block, offset: off}
}

func handleFor(efs *Efs_t, inodeID uint32) *FileHandle_t {
	block, off := efs.GetDiskInodePos(inodeID)
	return &FileHandle_t{efs: efs, InodeID: inodeID, block: block, offset: off}
}

/// Acquire records that something now holds an open reference to this
/// inode (an fd backend's open/dup), so a concurrent Unlink knows to defer
/// block reclamation rather than pull the blocks out from under it.
func (fh *FileHandle_t) Acquire() { fh.efs.acquire(fh.InodeID) }

/// Release drops an open reference previously registered with Acquire. If
/// this was the last reference and the inode's hard-link count had
/// already reached zero, Release performs the deferred reclamation.
func (fh *FileHandle_t) Release() error { return fh.efs.release(fh.InodeID) }

func (fh *FileHandle_t) readDisk(f func(*DiskInode)) error {
	return fh.efs.Cache.Read(int(fh.block), func(data []byte) {
		var di DiskInode
		di.Unmarshal(data[fh.offset:])
		f(&di)
	})
}

func (fh *FileHandle_t) modifyDisk(f func(*DiskInode)) error {
	return fh.efs.Cache.Modify(int(fh.block), func(data []byte) {
		var di DiskInode
		di.Unmarshal(data[fh.offset:])
		f(&di)
		di.Marshal(data[fh.offset:])
	})
}

/// Size returns the inode's current byte length.
func (fh *FileHandle_t) Size() (uint32, error) {
	var sz uint32
	err := fh.readDisk(func(d *DiskInode) { sz = d.Size })
	return sz, err
}

/// IsDir reports whether the inode is a directory.
func (fh *FileHandle_t) IsDir() (bool, error) {
	var isdir bool
	err := fh.readDisk(func(d *DiskInode) { isdir = d.IsDir() })
	return isdir, err
}

func (fh *FileHandle_t) direntCount() (int, error) {
	sz, err := fh.Size()
	if err != nil {
		return 0, err
	}
	return int(sz) / DirentSize, nil
}

/// Ls lists the names present in this directory.
func (fh *FileHandle_t) Ls() ([]ustr.Ustr, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	n, err := fh.direntCount()
	if err != nil {
		return nil, err
	}
	var names []ustr.Ustr
	buf := make([]byte, DirentSize)
	for i := 0; i < n; i++ {
		if err := fh.readAtLocked(i*DirentSize, buf); err != nil {
			return nil, err
		}
		names = append(names, UnmarshalDirent(buf).Name)
	}
	return names, nil
}

// findLocked scans this directory's entries for name, returning the
// matching inode number or found=false. Caller must hold fh.mu.
func (fh *FileHandle_t) findLocked(name ustr.Ustr) (uint32, bool, error) {
	n, err := fh.direntCount()
	if err != nil {
		return 0, false, err
	}
	buf := make([]byte, DirentSize)
	for i := 0; i < n; i++ {
		if err := fh.readAtLocked(i*DirentSize, buf); err != nil {
			return 0, false, err
		}
		de := UnmarshalDirent(buf)
		if de.Name.Eq(name) {
			return de.Inode, true, nil
		}
	}
	return 0, false, nil
}

/// Find resolves name to a handle on the existing directory entry, or
/// ok=false if absent.
func (fh *FileHandle_t) Find(name ustr.Ustr) (child *FileHandle_t, ok bool, err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	id, found, err := fh.findLocked(name)
	if err != nil || !found {
		return nil, false, err
	}
	return handleFor(fh.efs, id), true, nil
}

func (fh *FileHandle_t) readAtLocked(off int, buf []byte) error {
	var n int
	var rerr error
	err := fh.readDisk(func(d *DiskInode) {
		n, rerr = d.ReadAt(fh.efs.Cache, off, buf)
	})
	if err != nil {
		return err
	}
	if rerr != nil {
		return rerr
	}
	if n != len(buf) {
		return fmt.Errorf("fs: short dirent read")
	}
	return nil
}

// growAndWriteLocked grows the inode to cover off+len(data) (allocating
// whatever blocks that needs) then writes data at offset off, matching easy-fs's
// increase_size-then-write_at pairing.
func (fh *FileHandle_t) growAndWriteLocked(off int, data []byte) error {
	var need uint32
	err := fh.readDisk(func(d *DiskInode) {
		endSize := uint32(off + len(data))
		if endSize > d.Size {
			need = d.BlocksNumNeeded(endSize)
		}
	})
	if err != nil {
		return err
	}
	if need > 0 {
		blocks := make([]uint32, need)
		for i := range blocks {
			b, err := fh.efs.AllocData()
			if err != nil {
				return err
			}
			blocks[i] = b
		}
		var growErr error
		if err := fh.modifyDisk(func(d *DiskInode) {
			endSize := uint32(off + len(data))
			growErr = d.IncreaseSize(fh.efs.Cache, endSize, blocks)
		}); err != nil {
			return err
		}
		if growErr != nil {
			return growErr
		}
	}
	return fh.modifyDisk(func(d *DiskInode) {
		d.WriteAt(fh.efs.Cache, off, data)
	})
}

/// CreateFile creates a new, empty regular-file inode named name inside
/// this directory and returns a handle on it.
func (fh *FileHandle_t) CreateFile(name ustr.Ustr) (*FileHandle_t, error) {
	return fh.create(name, TypeFile)
}

/// CreateDir creates a new, empty directory inode named name inside this
/// directory and returns a handle on it.
func (fh *FileHandle_t) CreateDir(name ustr.Ustr) (*FileHandle_t, error) {
	return fh.create(name, TypeDir)
}

func (fh *FileHandle_t) create(name ustr.Ustr, t InodeType) (*FileHandle_t, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if _, found, err := fh.findLocked(name); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("fs: %s already exists", name)
	}

	newID, err := fh.efs.AllocInode()
	if err != nil {
		return nil, err
	}
	child := handleFor(fh.efs, newID)
	if err := child.modifyDisk(func(d *DiskInode) { d.Init(t) }); err != nil {
		return nil, err
	}
	if err := fh.efs.setLinkCount(newID, 1); err != nil {
		return nil, err
	}
	if err := fh.appendDirentLocked(Dirent_t{Name: name, Inode: newID}); err != nil {
		return nil, err
	}
	return child, nil
}

func (fh *FileHandle_t) appendDirentLocked(de Dirent_t) error {
	buf := make([]byte, DirentSize)
	de.Marshal(buf)
	n, err := fh.direntCount()
	if err != nil {
		return err
	}
	return fh.growAndWriteLocked(n*DirentSize, buf)
}

/// Link adds a new directory entry name pointing at target's inode and
/// bumps its hard-link count. target must not be a directory (no
/// multiply-linked directories, matching ordinary POSIX semantics).
func (fh *FileHandle_t) Link(name ustr.Ustr, target *FileHandle_t) error {
	if isDir, err := target.IsDir(); err != nil {
		return err
	} else if isDir {
		return fmt.Errorf("fs: cannot hard-link a directory")
	}
	fh.mu.Lock()
	if _, found, err := fh.findLocked(name); err != nil {
		fh.mu.Unlock()
		return err
	} else if found {
		fh.mu.Unlock()
		return fmt.Errorf("fs: %s already exists", name)
	}
	err := fh.appendDirentLocked(Dirent_t{Name: name, Inode: target.InodeID})
	fh.mu.Unlock()
	if err != nil {
		return err
	}
	return fh.efs.IncLink(target.InodeID)
}

/// Unlink removes the directory entry name. If the entry's hard-link
/// count drops to zero, the inode's blocks are reclaimed immediately
/// unless something still holds it open (see Acquire/Release), in which
/// case reclamation is deferred until the last open reference drops —
/// already-open file descriptors keep working against an unlinked file
/// until they're closed.
func (fh *FileHandle_t) Unlink(name ustr.Ustr) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	n, err := fh.direntCount()
	if err != nil {
		return err
	}
	buf := make([]byte, DirentSize)
	var target uint32
	idx := -1
	for i := 0; i < n; i++ {
		if err := fh.readAtLocked(i*DirentSize, buf); err != nil {
			return err
		}
		de := UnmarshalDirent(buf)
		if de.Name.Eq(name) {
			target = de.Inode
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("fs: %s not found", name)
	}
	// Move the last entry into idx's slot and shrink by one entry,
	// avoiding a hole in the middle of the directory's data blocks.
	last := n - 1
	if idx != last {
		if err := fh.readAtLocked(last*DirentSize, buf); err != nil {
			return err
		}
		if err := fh.modifyDisk(func(d *DiskInode) {
			d.WriteAt(fh.efs.Cache, idx*DirentSize, buf)
		}); err != nil {
			return err
		}
	}
	if err := fh.modifyDisk(func(d *DiskInode) { d.Size -= DirentSize }); err != nil {
		return err
	}

	remaining, err := fh.efs.DecLink(target)
	if err != nil {
		return err
	}
	if remaining == 0 && !fh.efs.markUnlinkedLocked(target) {
		return handleFor(fh.efs, target).clear()
	}
	return nil
}

func (fh *FileHandle_t) clear() error {
	var blocks []uint32
	var cerr error
	err := fh.modifyDisk(func(d *DiskInode) {
		blocks, cerr = d.ClearSize(fh.efs.Cache)
	})
	if err != nil {
		return err
	}
	if cerr != nil {
		return cerr
	}
	for _, b := range blocks {
		if err := fh.efs.DeallocData(b); err != nil {
			return err
		}
	}
	return nil
}

/// ReadAt reads into buf starting at offset and returns the number of
/// bytes read.
func (fh *FileHandle_t) ReadAt(offset int, buf []byte) (int, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	var n int
	var rerr error
	err := fh.readDisk(func(d *DiskInode) { n, rerr = d.ReadAt(fh.efs.Cache, offset, buf) })
	if err != nil {
		return 0, err
	}
	return n, rerr
}

/// WriteAt writes buf at offset, growing the inode first if needed.
func (fh *FileHandle_t) WriteAt(offset int, buf []byte) (int, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	if err := fh.growAndWriteLocked(offset, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

/// Truncate clears the file to zero length, releasing its data blocks.
func (fh *FileHandle_t) Truncate() error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.clear()
}
