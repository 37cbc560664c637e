package vm

import (
	"debug/elf"
	"fmt"
	"sync"

	"rvos/mem"
)

/// TRAMPOLINE is the highest page of every address space's virtual range.
/// It is mapped identically (same physical frame, no MapArea bookkeeping)
/// in every Vm_t so that a trap can switch page tables without losing its
/// own instruction stream out from under it.
const TRAMPOLINE = (uint64(1) << 39) - uint64(mem.PGSIZE)

/// TrapContext occupies the page just below the trampoline.
const TRAP_CONTEXT = TRAMPOLINE - uint64(mem.PGSIZE)

/// UserStackSize is the number of bytes reserved for a process's user stack.
const UserStackSize = 2 * mem.PGSIZE

/// UserScratchSize is the number of bytes reserved one unmapped page above
/// the user stack for a Program's syscall arguments (paths, read/write
/// buffers, out-params) to live in. A real compiled binary keeps such
/// buffers in its own .bss or stack; a Program is a Go closure with no
/// mapped memory of its own otherwise, so FromElf sets aside this region
/// for proc.Proc_t.scratchAlloc to bump-allocate out of (SPEC_FULL.md §0).
const UserScratchSize = 4 * mem.PGSIZE

/// MapType distinguishes an identity mapping (pages mapped onto frames the
/// caller already owns, see InsertIdenticalArea) from a Framed mapping
/// (each virtual page backed by its own freshly allocated frame).
type MapType int

const (
	Identical MapType = iota
	Framed
)

/// MapArea_t is one contiguous, uniformly-permissioned region of a process's
/// address space. Grounded on original_source/os/src/mm/memory_set.rs's
/// MapArea.
type MapArea_t struct {
	startVpn, endVpn Vpn_t
	frames           map[Vpn_t]*mem.FrameTracker_t // only populated for Framed areas
	mapType          MapType
	perm             PteFlags
}

func NewMapArea(startVa, endVa uint64, mapType MapType, perm PteFlags) *MapArea_t {
	return &MapArea_t{
		startVpn: VpnOf(startVa),
		endVpn:   VpnOf(endVa + uint64(mem.PGSIZE) - 1),
		frames:   make(map[Vpn_t]*mem.FrameTracker_t),
		mapType:  mapType,
		perm:     perm,
	}
}

func (a *MapArea_t) mapOne(pt *PageTable_t, vpn Vpn_t, identicalFrame Ppn_t) error {
	var ppn Ppn_t
	switch a.mapType {
	case Identical:
		ppn = identicalFrame
	case Framed:
		frame, err := pt.phys.Alloc()
		if err != nil {
			return err
		}
		ppn = Ppn_t(frame.Ppn())
		a.frames[vpn] = frame
	}
	return pt.Map(vpn, ppn, a.perm)
}

/// Map installs every page of the area into pt. identicalFrame is only
/// consulted for Identical areas.
func (a *MapArea_t) Map(pt *PageTable_t, identicalFrame Ppn_t) error {
	for vpn := a.startVpn; vpn < a.endVpn; vpn++ {
		if err := a.mapOne(pt, vpn, identicalFrame); err != nil {
			return err
		}
	}
	return nil
}

/// Unmap removes every page of the area from pt and releases its frames.
func (a *MapArea_t) Unmap(pt *PageTable_t) {
	for vpn := a.startVpn; vpn < a.endVpn; vpn++ {
		if f, ok := a.frames[vpn]; ok {
			f.Close()
			delete(a.frames, vpn)
		}
		pt.Unmap(vpn)
	}
}

/// CopyData writes data into the area's frames page by page, starting at
/// the area's first page. Only valid for Framed areas.
func (a *MapArea_t) CopyData(pt *PageTable_t, data []byte) {
	vpn := a.startVpn
	off := 0
	for off < len(data) {
		frame := a.frames[vpn]
		n := copy(frame.Bytes(), data[off:])
		off += n
		vpn++
	}
}

/// Vm_t is a process address space: a page table plus its ordered list of
/// mapped regions. Grounded on biscuit/src/vm/as.go's Vm_t (mutex-guarded
/// struct embedding) and original_source/os/src/mm/memory_set.rs's
/// MemorySet.
type Vm_t struct {
	sync.Mutex

	phys       *mem.Physmem_t
	PageTable  *PageTable_t
	Areas      []*MapArea_t
	trampFrame *mem.FrameTracker_t // the one physical frame shared by every Vm_t's trampoline mapping
}

/// NewBare returns an address space with an empty page table and no
/// mapped regions.
func NewBare(phys *mem.Physmem_t, tramp *mem.FrameTracker_t) (*Vm_t, error) {
	pt, err := New(phys)
	if err != nil {
		return nil, err
	}
	return &Vm_t{phys: phys, PageTable: pt, trampFrame: tramp}, nil
}

/// MapTrampoline installs the identity mapping shared by every address
/// space; it is never recorded as a MapArea_t since it is never
/// individually unmapped or recycled.
func (vm *Vm_t) MapTrampoline() error {
	return vm.PageTable.Map(VpnOf(TRAMPOLINE), Ppn_t(vm.trampFrame.Ppn()), PteR|PteX)
}

/// InsertFramedArea maps a fresh Framed region [startVa,endVa) with the
/// given permission and optionally initialises it with data.
func (vm *Vm_t) InsertFramedArea(startVa, endVa uint64, perm PteFlags, data []byte) error {
	area := NewMapArea(startVa, endVa, Framed, perm)
	return vm.push(area, data)
}

/// InsertIdenticalArea maps [startVa,endVa) onto the physical frames
/// starting at identicalFrame one-for-one (virtual page N onto frame
/// identicalFrame+N), used for the kernel's own identity-mapped text,
/// data, and MMIO regions shared verbatim across every address space.
func (vm *Vm_t) InsertIdenticalArea(startVa, endVa uint64, perm PteFlags, identicalFrame Ppn_t) error {
	area := NewMapArea(startVa, endVa, Identical, perm)
	base := uint64(identicalFrame)
	for vpn := area.startVpn; vpn < area.endVpn; vpn++ {
		if err := vm.PageTable.Map(vpn, Ppn_t(base+uint64(vpn-area.startVpn)), perm); err != nil {
			return err
		}
	}
	vm.Areas = append(vm.Areas, area)
	return nil
}

/// NewKernel builds the kernel's own address space: the trampoline plus an
/// identity-mapped region over the frames the caller has already reserved
/// for kernel text/data/MMIO, matching MemorySet::new_kernel identity
/// mapping its own sections one-for-one.
func NewKernel(phys *mem.Physmem_t, tramp *mem.FrameTracker_t, kernelBase Ppn_t, kernelFrames int) (*Vm_t, error) {
	vm, err := NewBare(phys, tramp)
	if err != nil {
		return nil, err
	}
	if err := vm.MapTrampoline(); err != nil {
		return nil, err
	}
	startVa := uint64(kernelBase) << 12
	endVa := startVa + uint64(kernelFrames)*uint64(mem.PGSIZE)
	if err := vm.InsertIdenticalArea(startVa, endVa, PteR|PteW|PteX, kernelBase); err != nil {
		return nil, err
	}
	return vm, nil
}

func (vm *Vm_t) push(area *MapArea_t, data []byte) error {
	if err := area.Map(vm.PageTable, 0); err != nil {
		return err
	}
	if data != nil {
		area.CopyData(vm.PageTable, data)
	}
	vm.Areas = append(vm.Areas, area)
	return nil
}

/// RemoveArea unmaps and releases the area starting at startVa, if any.
func (vm *Vm_t) RemoveArea(startVa uint64) bool {
	startVpn := VpnOf(startVa)
	for i, a := range vm.Areas {
		if a.startVpn == startVpn {
			a.Unmap(vm.PageTable)
			vm.Areas = append(vm.Areas[:i], vm.Areas[i+1:]...)
			return true
		}
	}
	return false
}

/// Token returns the satp-style token identifying this address space's
/// page table, for use by Activate and by syscall argument translation.
func (vm *Vm_t) Token() uint64 { return vm.PageTable.Token() }

/// Activate does nothing: there is no real satp register or TLB to flush
/// in the simulator (SPEC_FULL.md §0), and no record of an active address
/// space is kept; callers that need a space's token read it via Token.
func (vm *Vm_t) Activate() {}

/// Translate resolves a VPN through this address space's page table.
func (vm *Vm_t) Translate(vpn Vpn_t) (Pte_t, bool) { return vm.PageTable.Translate(vpn) }

/// RecycleDataPages drops every mapped region (and the frames backing
/// them) but leaves the page table itself intact, matching
/// MemorySet::recycle_data_pages: a zombie process keeps its page table
/// around long enough for exit-code retrieval but releases user memory
/// immediately.
func (vm *Vm_t) RecycleDataPages() {
	for _, a := range vm.Areas {
		a.Unmap(vm.PageTable)
	}
	vm.Areas = nil
}

/// Close releases the page table itself (and, transitively, the
/// intermediate table frames it owns). Call after RecycleDataPages once
/// the zombie's exit code has been reaped.
func (vm *Vm_t) Close() {
	vm.PageTable.Close()
}

/// FromElf parses an ELF binary, maps its PT_LOAD segments as Framed
/// regions, appends a guard page, a user stack, a scratch region, and a
/// trap-context page, and maps the trampoline. It returns the new address
/// space, the top of the user stack, the entry point, and the scratch
/// region's base address, grounded on
/// original_source/os/src/mm/memory_set.rs's MemorySet::from_elf.
func FromElf(phys *mem.Physmem_t, tramp *mem.FrameTracker_t, data []byte) (vm *Vm_t, userSp uint64, entry uint64, scratch uint64, err error) {
	vm, err = NewBare(phys, tramp)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	if err = vm.MapTrampoline(); err != nil {
		return nil, 0, 0, 0, err
	}

	ef, err := elf.NewFile(sliceReader{data})
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("vm: parse elf: %w", err)
	}
	var maxEnd uint64
	for _, ph := range ef.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		perm := PteU
		if ph.Flags&elf.PF_R != 0 {
			perm |= PteR
		}
		if ph.Flags&elf.PF_W != 0 {
			perm |= PteW
		}
		if ph.Flags&elf.PF_X != 0 {
			perm |= PteX
		}
		start := ph.Vaddr
		end := ph.Vaddr + ph.Filesz
		segData := make([]byte, ph.Filesz)
		if _, err := ph.Open().Read(segData); err != nil && ph.Filesz > 0 {
			return nil, 0, 0, 0, fmt.Errorf("vm: read segment: %w", err)
		}
		if err := vm.InsertFramedArea(start, end, perm, segData); err != nil {
			return nil, 0, 0, 0, err
		}
		if e := ph.Vaddr + ph.Memsz; e > maxEnd {
			maxEnd = e
		}
	}

	// Guard page, then the user stack.
	userStackBottom := (uint64(VpnOf(maxEnd)+1) << 12) + uint64(mem.PGSIZE)
	userStackTop := userStackBottom + uint64(UserStackSize)
	if err := vm.InsertFramedArea(userStackBottom, userStackTop, PteR|PteW|PteU, nil); err != nil {
		return nil, 0, 0, 0, err
	}

	// Scratch region, one unmapped page above the stack, for a Program's syscall
	// argument buffers (see UserScratchSize's doc comment).
	scratchBase := userStackTop + uint64(mem.PGSIZE)
	if err := vm.InsertFramedArea(scratchBase, scratchBase+uint64(UserScratchSize), PteR|PteW|PteU, nil); err != nil {
		return nil, 0, 0, 0, err
	}

	// Trap context, one page below TRAMPOLINE.
	if err := vm.InsertFramedArea(TRAP_CONTEXT, TRAP_CONTEXT+uint64(mem.PGSIZE), PteR|PteW, nil); err != nil {
		return nil, 0, 0, 0, err
	}

	return vm, userStackTop, ef.Entry, scratchBase, nil
}

/// FromExistedUser clones another address space: a fresh page table plus
/// the trampoline, then a fresh frame-for-frame copy of every region, used
/// to implement fork. Grounded on MemorySet::from_existed_user.
func FromExistedUser(phys *mem.Physmem_t, tramp *mem.FrameTracker_t, parent *Vm_t) (*Vm_t, error) {
	child, err := NewBare(phys, tramp)
	if err != nil {
		return nil, err
	}
	if err := child.MapTrampoline(); err != nil {
		return nil, err
	}
	for _, a := range parent.Areas {
		newArea := NewMapArea(uint64(a.startVpn)<<12, uint64(a.endVpn)<<12, Framed, a.perm)
		if err := child.push(newArea, nil); err != nil {
			return nil, err
		}
		for vpn := a.startVpn; vpn < a.endVpn; vpn++ {
			srcFrame := a.frames[vpn]
			dstFrame := newArea.frames[vpn]
			copy(dstFrame.Bytes(), srcFrame.Bytes())
		}
	}
	return child, nil
}

type sliceReader struct{ b []byte }

func (s sliceReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.b)) {
		return 0, fmt.Errorf("vm: elf read past end")
	}
	n := copy(p, s.b[off:])
	return n, nil
}
