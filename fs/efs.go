package fs

import (
	"encoding/binary"
	"fmt"
	"sync"

	"rvos/blk"
	"rvos/limits"
)

/// Efs_t is the filesystem façade: it owns the block cache, the inode and
/// data allocator bitmaps, and the hard-link count area, and knows
/// how to translate inode/data block numbers into absolute disk block
/// numbers. Grounded on original_source/easy-fs/src/efs.rs's
/// EasyFileSystem.
type Efs_t struct {
	Cache *blk.Cache_t

	InodeBitmap *Bitmap_t
	DataBitmap  *Bitmap_t

	inodeAreaStart uint32
	dataAreaStart  uint32
	linkAreaStart  uint32
	linkAreaLen    uint32

	// openMu guards openCount/pendingClear, the bookkeeping that defers an
	// Unlinked-to-zero inode's block reclamation until its last open
	// handle is released: already-open file descriptors keep working
	// against an unlinked file until they're closed, matching ordinary
	// POSIX unlink-while-open semantics.
	openMu       sync.Mutex
	openCount    map[uint32]int
	pendingClear map[uint32]bool
}

const inodesPerBlock = blk.BSIZE / DiskInodeSize // 4
const linksPerBlock = blk.BSIZE / 2              // 256 uint16 entries

/// Create formats disk (zeroing totalBlocks blocks) with a fresh
/// filesystem with the given inode bitmap size, and creates the root
/// directory inode (always inode 0). Grounded on EasyFileSystem::create.
func Create(disk blk.Disk_i, totalBlocks uint32, inodeBitmapBlocks uint32) (*Efs_t, error) {
	cache := blk.NewCache(disk)

	inodeBitmap := NewBitmap(1, int(inodeBitmapBlocks))
	inodeNum := uint32(inodeBitmap.Maximum())
	inodeAreaBlocks := (inodeNum*DiskInodeSize + blk.BSIZE - 1) / blk.BSIZE
	linkAreaBlocks := (inodeNum*2 + blk.BSIZE - 1) / blk.BSIZE
	inodeTotalBlocks := inodeBitmapBlocks + inodeAreaBlocks + linkAreaBlocks
	if totalBlocks < 1+inodeTotalBlocks {
		return nil, fmt.Errorf("fs: disk too small for %d inodes", inodeNum)
	}
	dataTotalBlocks := totalBlocks - 1 - inodeTotalBlocks
	dataBitmapBlocks := (dataTotalBlocks + 4096) / 4097
	dataAreaBlocks := dataTotalBlocks - dataBitmapBlocks

	efs := &Efs_t{
		Cache:          cache,
		InodeBitmap:    inodeBitmap,
		DataBitmap:     NewBitmap(int(1+inodeBitmapBlocks+inodeAreaBlocks+linkAreaBlocks), int(dataBitmapBlocks)),
		inodeAreaStart: 1 + inodeBitmapBlocks,
		linkAreaStart:  1 + inodeBitmapBlocks + inodeAreaBlocks,
		linkAreaLen:    linkAreaBlocks,
		dataAreaStart:  1 + inodeTotalBlocks + dataBitmapBlocks,
		openCount:      make(map[uint32]int),
		pendingClear:   make(map[uint32]bool),
	}

	for i := uint32(0); i < totalBlocks; i++ {
		if err := cache.Modify(int(i), func(data []byte) {
			for j := range data {
				data[j] = 0
			}
		}); err != nil {
			return nil, err
		}
	}

	if err := cache.Modify(0, func(data []byte) {
		sb := &Superblock_t{Data: data}
		sb.Init(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks, linkAreaBlocks)
	}); err != nil {
		return nil, err
	}

	rootID, err := efs.AllocInode()
	if err != nil {
		return nil, err
	}
	if rootID != 0 {
		return nil, fmt.Errorf("fs: root inode must be id 0, got %d", rootID)
	}
	blockID, off := efs.GetDiskInodePos(rootID)
	if err := cache.Modify(int(blockID), func(data []byte) {
		var di DiskInode
		di.Init(TypeDir)
		di.Marshal(data[off:])
	}); err != nil {
		return nil, err
	}
	if err := efs.setLinkCount(rootID, 1); err != nil {
		return nil, err
	}
	return efs, cache.Sync()
}

/// Open reads and validates the superblock of an already-formatted disk
/// and reconstructs the allocator state from it.
func Open(disk blk.Disk_i) (*Efs_t, error) {
	cache := blk.NewCache(disk)
	var efs *Efs_t
	err := cache.Read(0, func(data []byte) {
		sb := &Superblock_t{Data: append([]byte(nil), data...)}
		if !sb.Valid() {
			return
		}
		inodeTotal := sb.InodeBitmapBlocks() + sb.InodeAreaBlocks() + sb.LinkAreaBlocks()
		efs = &Efs_t{
			Cache:          cache,
			InodeBitmap:    NewBitmap(1, int(sb.InodeBitmapBlocks())),
			DataBitmap:     NewBitmap(int(1+inodeTotal), int(sb.DataBitmapBlocks())),
			inodeAreaStart: 1 + sb.InodeBitmapBlocks(),
			linkAreaStart:  1 + sb.InodeBitmapBlocks() + sb.InodeAreaBlocks(),
			linkAreaLen:    sb.LinkAreaBlocks(),
			dataAreaStart:  1 + inodeTotal + sb.DataBitmapBlocks(),
			openCount:      make(map[uint32]int),
			pendingClear:   make(map[uint32]bool),
		}
	})
	if err != nil {
		return nil, err
	}
	if efs == nil {
		return nil, fmt.Errorf("fs: invalid superblock")
	}
	return efs, nil
}

/// RootInodeID is always 0: EasyFileSystem::create's first allocation.
const RootInodeID uint32 = 0

/// GetDiskInodePos returns the absolute block number and in-block byte
/// offset of the given inode.
func (efs *Efs_t) GetDiskInodePos(inodeID uint32) (uint32, int) {
	block := efs.inodeAreaStart + inodeID/inodesPerBlock
	off := int(inodeID%inodesPerBlock) * DiskInodeSize
	return block, off
}

/// GetDataBlockID translates a data-bitmap-relative block index into an
/// absolute disk block number.
func (efs *Efs_t) GetDataBlockID(dataBlockID uint32) uint32 {
	return efs.dataAreaStart + dataBlockID
}

/// AllocInode reserves the next free inode slot.
func (efs *Efs_t) AllocInode() (uint32, error) {
	bit, err := efs.InodeBitmap.Alloc(efs.Cache)
	if err != nil {
		return 0, err
	}
	if bit < 0 {
		return 0, fmt.Errorf("fs: no free inodes")
	}
	return uint32(bit), nil
}

/// AllocData reserves a free data block and returns its absolute block
/// number (already translated via GetDataBlockID), gated by
/// limits.Syslimit.Blocks the same way biscuit's bdev allocators check
/// Syslimit before touching the underlying bitmap.
func (efs *Efs_t) AllocData() (uint32, error) {
	if !limits.Syslimit.Blocks.Take() {
		return 0, fmt.Errorf("fs: system block limit reached")
	}
	bit, err := efs.DataBitmap.Alloc(efs.Cache)
	if err != nil {
		limits.Syslimit.Blocks.Give()
		return 0, err
	}
	if bit < 0 {
		limits.Syslimit.Blocks.Give()
		return 0, fmt.Errorf("fs: disk full")
	}
	return efs.GetDataBlockID(uint32(bit)), nil
}

/// DeallocData zeroes and frees an absolute data block number previously
/// returned by AllocData.
func (efs *Efs_t) DeallocData(blockID uint32) error {
	defer limits.Syslimit.Blocks.Give()
	if err := efs.Cache.Modify(int(blockID), func(data []byte) {
		for i := range data {
			data[i] = 0
		}
	}); err != nil {
		return err
	}
	return efs.DataBitmap.Dealloc(efs.Cache, int(blockID-efs.dataAreaStart))
}

func (efs *Efs_t) linkBlockOffset(inodeID uint32) (uint32, int) {
	block := efs.linkAreaStart + inodeID/uint32(linksPerBlock)
	off := int(inodeID%uint32(linksPerBlock)) * 2
	return block, off
}

func (efs *Efs_t) linkCount(inodeID uint32) (uint16, error) {
	block, off := efs.linkBlockOffset(inodeID)
	var n uint16
	err := efs.Cache.Read(int(block), func(data []byte) {
		n = binary.LittleEndian.Uint16(data[off:])
	})
	return n, err
}

func (efs *Efs_t) setLinkCount(inodeID uint32, n uint16) error {
	block, off := efs.linkBlockOffset(inodeID)
	return efs.Cache.Modify(int(block), func(data []byte) {
		binary.LittleEndian.PutUint16(data[off:], n)
	})
}

/// LinkCount returns the current hard-link count of inodeID.
func (efs *Efs_t) LinkCount(inodeID uint32) (uint16, error) { return efs.linkCount(inodeID) }

/// IncLink bumps inodeID's hard-link count by one.
func (efs *Efs_t) IncLink(inodeID uint32) error {
	n, err := efs.linkCount(inodeID)
	if err != nil {
		return err
	}
	return efs.setLinkCount(inodeID, n+1)
}

/// DecLink drops inodeID's hard-link count by one and reports the new
/// count, so the caller can decide whether to reclaim the inode's blocks.
func (efs *Efs_t) DecLink(inodeID uint32) (uint16, error) {
	n, err := efs.linkCount(inodeID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		panic("fs: decrement of zero link count")
	}
	n--
	return n, efs.setLinkCount(inodeID, n)
}

/// acquire records a new open instance on inodeID.
func (efs *Efs_t) acquire(inodeID uint32) {
	efs.openMu.Lock()
	efs.openCount[inodeID]++
	efs.openMu.Unlock()
}

/// release drops one open instance on inodeID. If Unlink already dropped
/// the inode's hard-link count to zero while this was the last open
/// instance, release is what actually reclaims its blocks.
func (efs *Efs_t) release(inodeID uint32) error {
	efs.openMu.Lock()
	efs.openCount[inodeID]--
	drained := efs.openCount[inodeID] <= 0
	if drained {
		delete(efs.openCount, inodeID)
	}
	reclaim := drained && efs.pendingClear[inodeID]
	if reclaim {
		delete(efs.pendingClear, inodeID)
	}
	efs.openMu.Unlock()
	if reclaim {
		return handleFor(efs, inodeID).clear()
	}
	return nil
}

/// markUnlinkedLocked is called by Unlink once an inode's hard-link count
/// reaches zero. It reports whether reclamation must wait for outstanding
/// opens to drain (true) or can happen immediately (false).
func (efs *Efs_t) markUnlinkedLocked(inodeID uint32) (deferred bool) {
	efs.openMu.Lock()
	defer efs.openMu.Unlock()
	if efs.openCount[inodeID] > 0 {
		efs.pendingClear[inodeID] = true
		return true
	}
	return false
}

/// Sync flushes every dirty cached block to the underlying disk.
func (efs *Efs_t) Sync() error { return efs.Cache.Sync() }
