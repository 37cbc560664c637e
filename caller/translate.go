package caller

import (
	"rvos/defs"
	"rvos/mem"
	"rvos/vm"
)

/// Caller_t resolves one process's user-space pointers against the
/// physical memory arena, without owning any of that process's frames
/// (it is built from a token, the same as a read-only page-table walk).
/// Grounded on original_source/os/src/mm/page_table.rs's
/// translated_byte_buffer/translated_str, which do the same page-by-page
/// split against a PageTable::from_token.
type Caller_t struct {
	phys  *mem.Physmem_t
	table *vm.PageTable_t
}

/// From constructs a Caller_t for the address space identified by token
/// (as produced by Vm_t.Token).
func From(phys *mem.Physmem_t, token uint64) *Caller_t {
	return &Caller_t{phys: phys, table: vm.FromToken(phys, token)}
}

/// TranslatedBuffer splits the user range [ptr, ptr+length) into a list
/// of kernel-addressable slices, one per physical page the range spans,
/// in va order.
func (c *Caller_t) TranslatedBuffer(ptr uint64, length int) ([][]byte, defs.Err_t) {
	if length == 0 {
		return nil, 0
	}
	var out [][]byte
	start := ptr
	end := ptr + uint64(length)
	for start < end {
		vpn := vm.VpnOf(start)
		pte, ok := c.table.Translate(vpn)
		if !ok || !pte.IsValid() {
			return nil, defs.EFAULT
		}
		pageOff := start & (uint64(mem.PGSIZE) - 1)
		pageEnd := (uint64(vpn) + 1) << mem.PGSHIFT
		sliceEnd := pageEnd
		if end < sliceEnd {
			sliceEnd = end
		}
		base := c.phys.BytesAt(mem.Pa_t(uint64(pte.Ppn()) << mem.PGSHIFT))
		out = append(out, base[pageOff:pageOff+(sliceEnd-start)])
		start = sliceEnd
	}
	return out, 0
}

/// TranslatedBytes behaves like TranslatedBuffer but copies the result
/// into one contiguous kernel-owned []byte.
func (c *Caller_t) TranslatedBytes(ptr uint64, length int) ([]byte, defs.Err_t) {
	parts, err := c.TranslatedBuffer(ptr, length)
	if err != 0 {
		return nil, err
	}
	out := make([]byte, 0, length)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, 0
}

/// WriteTranslated copies src into the user range starting at ptr.
func (c *Caller_t) WriteTranslated(ptr uint64, src []byte) defs.Err_t {
	parts, err := c.TranslatedBuffer(ptr, len(src))
	if err != 0 {
		return err
	}
	off := 0
	for _, p := range parts {
		off += copy(p, src[off:])
	}
	return 0
}

/// TranslatedStr reads a NUL-terminated string starting at ptr, crossing
/// page boundaries as needed, matching translated_str's page-by-page
/// byte walk.
func (c *Caller_t) TranslatedStr(ptr uint64) (string, defs.Err_t) {
	var out []byte
	va := ptr
	for {
		vpn := vm.VpnOf(va)
		pte, ok := c.table.Translate(vpn)
		if !ok || !pte.IsValid() {
			return "", defs.EFAULT
		}
		base := c.phys.BytesAt(mem.Pa_t(uint64(pte.Ppn()) << mem.PGSHIFT))
		pageOff := va & (uint64(mem.PGSIZE) - 1)
		for pageOff < uint64(mem.PGSIZE) {
			b := base[pageOff]
			if b == 0 {
				return string(out), 0
			}
			out = append(out, b)
			pageOff++
			va++
		}
	}
}
