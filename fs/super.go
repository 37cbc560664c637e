// Package fs implements the on-disk layout (superblock, bitmap, DiskInode)
// and the filesystem façade on top of the blk block cache. Grounded on
// biscuit/src/fs/super.go's Superblock_t accessor style and
// original_source/easy-fs/src/{bitmap.rs,layout.rs,efs.rs} for the exact
// on-disk algorithms.
package fs

import "encoding/binary"

/// EFS_MAGIC identifies a valid superblock.
const EFS_MAGIC uint32 = 0x3b800001

/// Superblock_t is the on-disk super block, one BSIZE block at block 0.
/// Data is that block's raw bytes; Superblock_t is a view over it.
type Superblock_t struct {
	Data []byte // BSIZE bytes
}

const (
	sbMagic       = 0
	sbTotalBlocks = 4
	sbInodeBitmap = 8
	sbInodeArea   = 12
	sbDataBitmap  = 16
	sbDataArea    = 20
	sbLinkArea    = 24
)

func fieldr(d []byte, off int) uint32 { return binary.LittleEndian.Uint32(d[off:]) }
func fieldw(d []byte, off int, v uint32) { binary.LittleEndian.PutUint32(d[off:], v) }

/// Magic returns the magic field.
func (sb *Superblock_t) Magic() uint32 { return fieldr(sb.Data, sbMagic) }

/// TotalBlocks returns the total block count of the filesystem.
func (sb *Superblock_t) TotalBlocks() uint32 { return fieldr(sb.Data, sbTotalBlocks) }

/// InodeBitmapBlocks returns the number of blocks holding the inode bitmap.
func (sb *Superblock_t) InodeBitmapBlocks() uint32 { return fieldr(sb.Data, sbInodeBitmap) }

/// InodeAreaBlocks returns the number of blocks holding inodes.
func (sb *Superblock_t) InodeAreaBlocks() uint32 { return fieldr(sb.Data, sbInodeArea) }

/// DataBitmapBlocks returns the number of blocks holding the data bitmap.
func (sb *Superblock_t) DataBitmapBlocks() uint32 { return fieldr(sb.Data, sbDataBitmap) }

/// DataAreaBlocks returns the number of blocks available for file data.
func (sb *Superblock_t) DataAreaBlocks() uint32 { return fieldr(sb.Data, sbDataArea) }

/// LinkAreaBlocks returns the number of blocks holding per-inode hard-link
/// counts (an extension over the distilled layout to support Link/Unlink).
func (sb *Superblock_t) LinkAreaBlocks() uint32 { return fieldr(sb.Data, sbLinkArea) }

/// Init writes a fresh superblock describing a filesystem with the given
/// block-area sizes.
func (sb *Superblock_t) Init(total, inodeBitmap, inodeArea, dataBitmap, dataArea, linkArea uint32) {
	fieldw(sb.Data, sbMagic, EFS_MAGIC)
	fieldw(sb.Data, sbTotalBlocks, total)
	fieldw(sb.Data, sbInodeBitmap, inodeBitmap)
	fieldw(sb.Data, sbInodeArea, inodeArea)
	fieldw(sb.Data, sbDataBitmap, dataBitmap)
	fieldw(sb.Data, sbDataArea, dataArea)
	fieldw(sb.Data, sbLinkArea, linkArea)
}

/// Valid reports whether the magic number matches.
func (sb *Superblock_t) Valid() bool { return sb.Magic() == EFS_MAGIC }
