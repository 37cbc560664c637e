package proc

import (
	"rvos/defs"
	"rvos/mem"
	"rvos/vm"
)

/// MaxMmapLen caps a single mmap request, matching map_virtual_pages'
/// 1GiB len bound.
const MaxMmapLen = 0x4000_0000

/// mmapPort bits, matching the original's port argument: bit 0 read, bit
/// 1 write, bit 2 exec; every other bit must be clear and at least one
/// of R/W/X must be set.
const (
	portR = 1 << 0
	portW = 1 << 1
	portX = 1 << 2
)

func portToPerm(port int) vm.PteFlags {
	perm := vm.PteU
	if port&portR != 0 {
		perm |= vm.PteR
	}
	if port&portW != 0 {
		perm |= vm.PteW
	}
	if port&portX != 0 {
		perm |= vm.PteX
	}
	return perm
}

/// Mmap inserts a fresh anonymous Framed mapping [addr, addr+length) into
/// the process's address space, rejecting misaligned addresses, oversize
/// requests, invalid port bits, and overlap with an existing mapping.
/// Grounded on map_virtual_pages.
func (p *Proc_t) Mmap(addr, length uint64, port int) (uint64, defs.Err_t) {
	if addr&uint64(mem.PGSIZE-1) != 0 || length > MaxMmapLen || port&^0x7 != 0 || port&0x7 == 0 {
		return 0, defs.EINVAL
	}
	if length == 0 {
		return 0, 0
	}
	p.Lock()
	defer p.Unlock()
	startVpn := vm.VpnOf(addr)
	endVpn := vm.VpnOf(addr + length + uint64(mem.PGSIZE) - 1)
	for vpn := startVpn; vpn < endVpn; vpn++ {
		if pte, ok := p.Vm.Translate(vpn); ok && pte.IsValid() {
			return 0, defs.EINVAL
		}
	}
	if err := p.Vm.InsertFramedArea(addr, addr+length, portToPerm(port), nil); err != nil {
		return 0, defs.ENOMEM
	}
	return length, 0
}

/// Munmap removes the mapping covering [addr, addr+length), requiring
/// that the whole range already be mapped. Grounded on
/// unmap_virtual_pages.
func (p *Proc_t) Munmap(addr, length uint64) (uint64, defs.Err_t) {
	if addr&uint64(mem.PGSIZE-1) != 0 || length > MaxMmapLen {
		return 0, defs.EINVAL
	}
	if length == 0 {
		return 0, 0
	}
	p.Lock()
	defer p.Unlock()
	startVpn := vm.VpnOf(addr)
	endVpn := vm.VpnOf(addr + length + uint64(mem.PGSIZE) - 1)
	for vpn := startVpn; vpn < endVpn; vpn++ {
		if pte, ok := p.Vm.Translate(vpn); !ok || !pte.IsValid() {
			return 0, defs.EINVAL
		}
	}
	if !p.Vm.RemoveArea(uint64(startVpn) << 12) {
		return 0, defs.EINVAL
	}
	return length, 0
}
