package fs

import (
	"encoding/binary"

	"rvos/blk"
)

const (
	DirectCount    = 28
	Indirect1Count = blk.BSIZE / 4         // 128
	Indirect2Count = Indirect1Count * Indirect1Count // 16384
	directBound    = DirectCount
	indirect1Bound = directBound + Indirect1Count
)

/// InodeType distinguishes a regular file from a directory.
type InodeType uint32

const (
	TypeFile InodeType = iota
	TypeDir
)

/// DiskInode is the on-disk representation of a file or directory: 28
/// direct block pointers, one singly-indirect pointer (128 entries), and
/// one doubly-indirect pointer (128x128 entries), serialized to exactly
/// 128 bytes so four fit in one 512-byte block. Grounded on
/// original_source/easy-fs/src/layout.rs's DiskInode.
type DiskInode struct {
	Size      uint32
	Direct    [DirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      InodeType
}

/// DiskInodeSize is the serialized size of a DiskInode in bytes.
const DiskInodeSize = 4 + DirectCount*4 + 4 + 4 + 4 // 128

func (d *DiskInode) Marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], d.Size)
	for i, v := range d.Direct {
		binary.LittleEndian.PutUint32(buf[4+i*4:], v)
	}
	off := 4 + DirectCount*4
	binary.LittleEndian.PutUint32(buf[off:], d.Indirect1)
	binary.LittleEndian.PutUint32(buf[off+4:], d.Indirect2)
	binary.LittleEndian.PutUint32(buf[off+8:], uint32(d.Type))
}

func (d *DiskInode) Unmarshal(buf []byte) {
	d.Size = binary.LittleEndian.Uint32(buf[0:])
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[4+i*4:])
	}
	off := 4 + DirectCount*4
	d.Indirect1 = binary.LittleEndian.Uint32(buf[off:])
	d.Indirect2 = binary.LittleEndian.Uint32(buf[off+4:])
	d.Type = InodeType(binary.LittleEndian.Uint32(buf[off+8:]))
}

/// Init resets a DiskInode to an empty file/directory of the given type.
func (d *DiskInode) Init(t InodeType) {
	*d = DiskInode{Type: t}
}

func (d *DiskInode) IsDir() bool  { return d.Type == TypeDir }
func (d *DiskInode) IsFile() bool { return d.Type == TypeFile }

func dataBlocksFor(size uint32) uint32 {
	return (size + blk.BSIZE - 1) / blk.BSIZE
}

/// DataBlocks returns the number of data blocks needed to hold Size bytes.
func (d *DiskInode) DataBlocks() uint32 { return dataBlocksFor(d.Size) }

/// TotalBlocks returns the number of blocks needed to hold size bytes of
/// data, including the indirect1/indirect2 index blocks themselves.
func TotalBlocks(size uint32) uint32 {
	data := dataBlocksFor(size)
	total := data
	if data > DirectCount {
		total++
	}
	if data > uint32(indirect1Bound) {
		total++
		total += (data - uint32(indirect1Bound) + Indirect1Count - 1) / Indirect1Count
	}
	return total
}

/// BlocksNumNeeded returns how many additional blocks must be allocated to
/// grow this inode from its current size to newSize.
func (d *DiskInode) BlocksNumNeeded(newSize uint32) uint32 {
	if newSize < d.Size {
		panic("fs: shrink via BlocksNumNeeded")
	}
	return TotalBlocks(newSize) - TotalBlocks(d.Size)
}

func readIndirectEntry(cache *blk.Cache_t, block int, idx int) (uint32, error) {
	var v uint32
	err := cache.Read(block, func(data []byte) {
		v = binary.LittleEndian.Uint32(data[idx*4:])
	})
	return v, err
}

func writeIndirectEntry(cache *blk.Cache_t, block int, idx int, v uint32) error {
	return cache.Modify(block, func(data []byte) {
		binary.LittleEndian.PutUint32(data[idx*4:], v)
	})
}

/// GetBlockID resolves the innerID'th data block of this inode to an
/// absolute disk block number, walking indirect1/indirect2 as needed.
/// Every index block touched along the way is pinned for the duration of
/// the walk: CacheCapacity is small enough that a concurrent access to an
/// unrelated inode could otherwise evict an index block between reading
/// it and dereferencing the pointer it just yielded.
func (d *DiskInode) GetBlockID(cache *blk.Cache_t, innerID uint32) (uint32, error) {
	if innerID < DirectCount {
		return d.Direct[innerID], nil
	}
	if innerID < uint32(indirect1Bound) {
		if err := cache.Pin(int(d.Indirect1)); err != nil {
			return 0, err
		}
		defer cache.Unpin(int(d.Indirect1))
		return readIndirectEntry(cache, int(d.Indirect1), int(innerID-DirectCount))
	}
	last := innerID - uint32(indirect1Bound)
	if err := cache.Pin(int(d.Indirect2)); err != nil {
		return 0, err
	}
	defer cache.Unpin(int(d.Indirect2))
	indirect1, err := readIndirectEntry(cache, int(d.Indirect2), int(last/Indirect1Count))
	if err != nil {
		return 0, err
	}
	if err := cache.Pin(int(indirect1)); err != nil {
		return 0, err
	}
	defer cache.Unpin(int(indirect1))
	return readIndirectEntry(cache, int(indirect1), int(last%Indirect1Count))
}

/// IncreaseSize grows the inode to newSize, consuming blocks from
/// newBlocks (freshly allocated by the caller, direct order: any new
/// indirect1/indirect2 index blocks interleaved with data blocks exactly
/// as original_source's DiskInode::increase_size expects them).
func (d *DiskInode) IncreaseSize(cache *blk.Cache_t, newSize uint32, newBlocks []uint32) error {
	next := 0
	take := func() uint32 { v := newBlocks[next]; next++; return v }

	current := d.DataBlocks()
	d.Size = newSize
	total := d.DataBlocks()

	for current < min32(total, DirectCount) {
		d.Direct[current] = take()
		current++
	}
	if total <= DirectCount {
		return nil
	}
	if current == DirectCount {
		d.Indirect1 = take()
	}
	current -= DirectCount
	total -= DirectCount

	if err := cache.Modify(int(d.Indirect1), func(data []byte) {
		for current < min32(total, Indirect1Count) {
			binary.LittleEndian.PutUint32(data[current*4:], take())
			current++
		}
	}); err != nil {
		return err
	}
	if total <= Indirect1Count {
		return nil
	}
	if current == Indirect1Count {
		d.Indirect2 = take()
	}
	current -= Indirect1Count
	total -= Indirect1Count

	a0, b0 := current/Indirect1Count, current%Indirect1Count
	a1, b1 := total/Indirect1Count, total%Indirect1Count

	return cache.Modify(int(d.Indirect2), func(ind2 []byte) {
		for a0 < a1 || (a0 == a1 && b0 < b1) {
			if b0 == 0 {
				binary.LittleEndian.PutUint32(ind2[a0*4:], take())
			}
			row := binary.LittleEndian.Uint32(ind2[a0*4:])
			cache.Modify(int(row), func(ind1 []byte) {
				binary.LittleEndian.PutUint32(ind1[b0*4:], take())
			})
			b0++
			if b0 == Indirect1Count {
				b0 = 0
				a0++
			}
		}
	})
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

/// ClearSize truncates the inode to zero length and returns every block it
/// referenced (data blocks and indirect index blocks), in allocation order,
/// for the caller to hand back to the data bitmap. The blocks themselves
/// are not zeroed here; callers that need that do it via the bitmap's
/// reuse-on-alloc or an explicit zero pass.
func (d *DiskInode) ClearSize(cache *blk.Cache_t) ([]uint32, error) {
	var out []uint32
	data := int(d.DataBlocks())
	d.Size = 0
	current := 0

	for current < min(data, DirectCount) {
		out = append(out, d.Direct[current])
		d.Direct[current] = 0
		current++
	}
	if data <= DirectCount {
		return out, nil
	}
	out = append(out, d.Indirect1)
	data -= DirectCount
	current = 0

	if err := cache.Read(int(d.Indirect1), func(ind1 []byte) {
		for current < min(data, Indirect1Count) {
			out = append(out, binary.LittleEndian.Uint32(ind1[current*4:]))
			current++
		}
	}); err != nil {
		return nil, err
	}
	d.Indirect1 = 0
	if data <= Indirect1Count {
		return out, nil
	}
	out = append(out, d.Indirect2)
	data -= Indirect1Count

	a1, b1 := data/Indirect1Count, data%Indirect1Count
	err := cache.Read(int(d.Indirect2), func(ind2 []byte) {
		for i := 0; i < a1; i++ {
			row := binary.LittleEndian.Uint32(ind2[i*4:])
			out = append(out, row)
			cache.Read(int(row), func(ind1 []byte) {
				for j := 0; j < Indirect1Count; j++ {
					out = append(out, binary.LittleEndian.Uint32(ind1[j*4:]))
				}
			})
		}
		if b1 > 0 {
			row := binary.LittleEndian.Uint32(ind2[a1*4:])
			out = append(out, row)
			cache.Read(int(row), func(ind1 []byte) {
				for j := 0; j < b1; j++ {
					out = append(out, binary.LittleEndian.Uint32(ind1[j*4:]))
				}
			})
		}
	})
	d.Indirect2 = 0
	return out, err
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

/// ReadAt reads into buf starting at offset, clamped to the inode's Size,
/// and returns the number of bytes read.
func (d *DiskInode) ReadAt(cache *blk.Cache_t, offset int, buf []byte) (int, error) {
	start := offset
	end := min(offset+len(buf), int(d.Size))
	if start >= end {
		return 0, nil
	}
	startBlock := start / blk.BSIZE
	read := 0
	for {
		endCur := min((start/blk.BSIZE+1)*blk.BSIZE, end)
		n := endCur - start
		blockID, err := d.GetBlockID(cache, uint32(startBlock))
		if err != nil {
			return read, err
		}
		if err := cache.Read(int(blockID), func(data []byte) {
			copy(buf[read:read+n], data[start%blk.BSIZE:start%blk.BSIZE+n])
		}); err != nil {
			return read, err
		}
		read += n
		if endCur == end {
			break
		}
		startBlock++
		start = endCur
	}
	return read, nil
}

/// WriteAt writes buf starting at offset. Callers must IncreaseSize first
/// if the write extends past the current Size.
func (d *DiskInode) WriteAt(cache *blk.Cache_t, offset int, buf []byte) (int, error) {
	start := offset
	end := min(offset+len(buf), int(d.Size))
	startBlock := start / blk.BSIZE
	written := 0
	for start < end {
		endCur := min((start/blk.BSIZE+1)*blk.BSIZE, end)
		n := endCur - start
		blockID, err := d.GetBlockID(cache, uint32(startBlock))
		if err != nil {
			return written, err
		}
		if err := cache.Modify(int(blockID), func(data []byte) {
			copy(data[start%blk.BSIZE:start%blk.BSIZE+n], buf[written:written+n])
		}); err != nil {
			return written, err
		}
		written += n
		startBlock++
		start = endCur
	}
	return written, nil
}
