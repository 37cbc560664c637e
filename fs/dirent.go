package fs

import "rvos/ustr"

/// NameLengthLimit is the longest name storable in one directory entry.
const NameLengthLimit = 27

/// DirentSize is the serialized size of one directory entry: a
/// NameLengthLimit+1-byte name field plus a 4-byte inode number, matching
/// original_source/easy-fs/src/layout.rs's DirEntry (32 bytes total).
const DirentSize = NameLengthLimit + 1 + 4

/// Dirent_t is one directory entry.
type Dirent_t struct {
	Name  ustr.Ustr
	Inode uint32
}

func (d Dirent_t) Marshal(buf []byte) {
	for i := range buf[:NameLengthLimit+1] {
		buf[i] = 0
	}
	copy(buf[:NameLengthLimit], d.Name)
	buf[NameLengthLimit+1] = byte(d.Inode)
	buf[NameLengthLimit+2] = byte(d.Inode >> 8)
	buf[NameLengthLimit+3] = byte(d.Inode >> 16)
	buf[NameLengthLimit+4] = byte(d.Inode >> 24)
}

func UnmarshalDirent(buf []byte) Dirent_t {
	n := 0
	for n < NameLengthLimit+1 && buf[n] != 0 {
		n++
	}
	name := append(ustr.Ustr(nil), buf[:n]...)
	inode := uint32(buf[NameLengthLimit+1]) | uint32(buf[NameLengthLimit+2])<<8 |
		uint32(buf[NameLengthLimit+3])<<16 | uint32(buf[NameLengthLimit+4])<<24
	return Dirent_t{Name: name, Inode: inode}
}
