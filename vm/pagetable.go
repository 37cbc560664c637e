// Package vm implements the kernel's SV39-style three-level page table and
// per-process address space (Vm_t), adapted from biscuit/src/vm/as.go and
// grounded in original_source/os/src/mm/{page_table.rs,memory_set.rs} for
// exact walk and flag semantics.
package vm

import (
	"fmt"

	"rvos/mem"
)

/// PteFlags is the set of bits stored in a page table entry's low 10 bits.
type PteFlags uint64

const (
	PteV PteFlags = 1 << 0 // valid
	PteR PteFlags = 1 << 1 // readable
	PteW PteFlags = 1 << 2 // writable
	PteX PteFlags = 1 << 3 // executable
	PteU PteFlags = 1 << 4 // accessible in user mode
	PteG PteFlags = 1 << 5 // global
	PteA PteFlags = 1 << 6 // accessed
	PteD PteFlags = 1 << 7 // dirty
)

const (
	ppnBits   = 9
	ppnMask   = (1 << ppnBits) - 1
	pteFlagsW = 10 // low bits reserved for flags before the PPN field
)

/// Vpn_t is a virtual page number: a virtual address with the page offset
/// bits shifted out.
type Vpn_t uint64

/// Ppn_t is a physical frame number.
type Ppn_t uint64

/// VpnOf shifts a virtual address down to its page number.
func VpnOf(va uint64) Vpn_t { return Vpn_t(va >> 12) }

/// Indexes splits a VPN into its three 9-bit level indices, highest first.
func (vpn Vpn_t) Indexes() [3]int {
	v := uint64(vpn)
	var idx [3]int
	for i := 2; i >= 0; i-- {
		idx[i] = int(v & ppnMask)
		v >>= ppnBits
	}
	return idx
}

/// Pte_t is a single page table entry.
type Pte_t uint64

func mkpte(ppn Ppn_t, flags PteFlags) Pte_t {
	return Pte_t(uint64(ppn)<<pteFlagsW | uint64(flags))
}

func (p Pte_t) ppn() Ppn_t       { return Ppn_t(uint64(p) >> pteFlagsW) }
func (p Pte_t) flags() PteFlags  { return PteFlags(uint64(p) & ((1 << pteFlagsW) - 1)) }

/// IsValid reports whether the entry's Valid bit is set.
func (p Pte_t) IsValid() bool { return p.flags()&PteV != 0 }

/// IsLeaf reports whether the entry maps a page rather than a lower table
/// (any of R/W/X set marks a leaf, matching SV39 semantics).
func (p Pte_t) IsLeaf() bool { return p.flags()&(PteR|PteW|PteX) != 0 }

/// Flags returns the entry's flag bits.
func (p Pte_t) Flags() PteFlags { return p.flags() }

/// Ppn returns the entry's physical frame number.
func (p Pte_t) Ppn() Ppn_t { return p.ppn() }

/// PageTable_t is a 3-level SV39-style page table. A page table either owns
/// the frames it allocates for inner nodes (constructed via New) or is a
/// read-only view constructed from a token (FromToken), used by the caller
/// package to validate and translate syscall arguments without claiming any
/// frames of its own — directly grounded in
/// original_source/os/src/mm/page_table.rs's PageTable::from_token.
type PageTable_t struct {
	phys    *mem.Physmem_t
	rootPpn Ppn_t
	frames  []*mem.FrameTracker_t // inner-node frames owned by this table; nil if read-only
}

/// New allocates a fresh, empty page table rooted in a new frame.
func New(phys *mem.Physmem_t) (*PageTable_t, error) {
	root, err := phys.Alloc()
	if err != nil {
		return nil, err
	}
	return &PageTable_t{
		phys:    phys,
		rootPpn: Ppn_t(root.Ppn()),
		frames:  []*mem.FrameTracker_t{root},
	}, nil
}

/// FromToken builds a read-only walker over an already-existing page table
/// given its token, without taking ownership of any frames. Used to
/// validate/translate syscall argument pointers from another address space.
func FromToken(phys *mem.Physmem_t, token uint64) *PageTable_t {
	return &PageTable_t{phys: phys, rootPpn: Ppn_t(token & ((1 << 44) - 1))}
}

/// Token encodes this table's root frame the way satp does: mode bits in
/// the high nibble, root PPN in the low bits.
func (pt *PageTable_t) Token() uint64 {
	return 8<<60 | uint64(pt.rootPpn)
}

func (pt *PageTable_t) loadPte(ppn Ppn_t, idx int) Pte_t {
	raw := pt.phys.BytesAt(mem.Pa_t(uint64(ppn) << 12))
	var v uint64
	for b := 0; b < 8; b++ {
		v |= uint64(raw[idx*8+b]) << (8 * b)
	}
	return Pte_t(v)
}

func (pt *PageTable_t) storePte(ppn Ppn_t, idx int, pte Pte_t) {
	raw := pt.phys.BytesAt(mem.Pa_t(uint64(ppn) << 12))
	v := uint64(pte)
	for b := 0; b < 8; b++ {
		raw[idx*8+b] = byte(v >> (8 * b))
	}
}

// pteSlot locates the leaf-level slot for vpn, allocating intermediate
// tables along the way when create is true. ppn/idx identify the table
// page and index holding the leaf PTE; ok is false if the walk stopped
// early (only possible when create is false).
type pteSlot struct {
	ppn Ppn_t
	idx int
}

func (pt *PageTable_t) walk(vpn Vpn_t, create bool) (pteSlot, bool, error) {
	idxs := vpn.Indexes()
	ppn := pt.rootPpn
	for level := 0; level < 2; level++ {
		pte := pt.loadPte(ppn, idxs[level])
		if !pte.IsValid() {
			if !create {
				return pteSlot{}, false, nil
			}
			frame, err := pt.phys.Alloc()
			if err != nil {
				return pteSlot{}, false, err
			}
			pt.frames = append(pt.frames, frame)
			newPpn := Ppn_t(frame.Ppn())
			pt.storePte(ppn, idxs[level], mkpte(newPpn, PteV))
			ppn = newPpn
			continue
		}
		ppn = pte.ppn()
	}
	return pteSlot{ppn: ppn, idx: idxs[2]}, true, nil
}

/// Map installs a mapping from vpn to ppn with the given flags, allocating
/// any missing intermediate tables. PteV is added automatically. It
/// panics if vpn was already mapped, matching original_source's
/// PageTable::map assertion (the mirror image of Unmap's check below).
func (pt *PageTable_t) Map(vpn Vpn_t, ppn Ppn_t, flags PteFlags) error {
	slot, _, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}
	if pt.loadPte(slot.ppn, slot.idx).IsValid() {
		panic(fmt.Sprintf("vm: map of already-mapped vpn %#x", vpn))
	}
	pt.storePte(slot.ppn, slot.idx, mkpte(ppn, flags|PteV))
	return nil
}

/// Unmap clears the mapping for vpn. It panics if vpn was not mapped,
/// matching original_source's PageTable::unmap assertion.
func (pt *PageTable_t) Unmap(vpn Vpn_t) {
	slot, ok, err := pt.walk(vpn, false)
	if err != nil {
		panic(err)
	}
	if !ok || !pt.loadPte(slot.ppn, slot.idx).IsValid() {
		panic(fmt.Sprintf("vm: unmap of unmapped vpn %#x", vpn))
	}
	pt.storePte(slot.ppn, slot.idx, 0)
}

/// Translate returns the PTE for vpn, or ok=false if unmapped.
func (pt *PageTable_t) Translate(vpn Vpn_t) (pte Pte_t, ok bool) {
	slot, found, err := pt.walk(vpn, false)
	if err != nil || !found {
		return 0, false
	}
	pte = pt.loadPte(slot.ppn, slot.idx)
	if !pte.IsValid() {
		return 0, false
	}
	return pte, true
}

/// TranslateVa translates a full virtual address to a physical address,
/// preserving the low bits as the page offset.
func (pt *PageTable_t) TranslateVa(va uint64) (mem.Pa_t, bool) {
	pte, ok := pt.Translate(VpnOf(va))
	if !ok {
		return 0, false
	}
	off := va & 0xfff
	return mem.Pa_t(uint64(pte.ppn())<<12 | off), true
}

/// Close releases every frame this table owns (root + inner nodes). It is a
/// no-op on a read-only table built via FromToken.
func (pt *PageTable_t) Close() {
	for _, f := range pt.frames {
		f.Close()
	}
	pt.frames = nil
}
