// Package elfstub builds minimal, valid ELF64 executables to stand in
// for a compiled RISC-V user binary. There is no RISC-V toolchain or
// instruction interpreter in this simulator (SPEC_FULL.md §0): a
// process's actual behavior comes from a proc.Program closure, looked
// up by path in syscall.Table_t.Programs, never from decoding the
// bytes this package produces. Those bytes exist only so vm.FromElf has
// something real to parse — a genuine PT_LOAD segment and entry point
// (the stub has no section headers) — exercising the same ELF-loading path a real compiled
// binary would take, rather than special-casing the loader for
// Go-backed processes.
package elfstub

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Base is the virtual address every stub's single PT_LOAD segment
// starts at, matching original_source/user/src/linker.ld's BASE_ADDRESS
// for rCore-Tutorial user binaries.
const Base = uint64(0x10000)

const ehsize = 64
const phsize = 56

// Build returns a minimal ELF64, little-endian, RISC-V executable: one
// PT_LOAD segment of codeSize bytes (content is never executed, only
// mapped) at Base, entry point also at Base.
func Build(codeSize int) []byte {
	if codeSize < 4 {
		codeSize = 4
	}
	code := make([]byte, codeSize)
	// A RISC-V "unimp" (illegal instruction) repeated through the
	// segment. Never actually fetched by anything in this simulator,
	// but a real trap handler decoding these bytes as instructions
	// would at least fail closed rather than executing garbage as a
	// valid instruction stream.
	for i := 0; i+1 < len(code); i += 2 {
		code[i], code[i+1] = 0x00, 0x00
	}

	var buf bytes.Buffer
	buf.Write([]byte(elf.ELFMAG))
	buf.WriteByte(byte(elf.ELFCLASS64))
	buf.WriteByte(byte(elf.ELFDATA2LSB))
	buf.WriteByte(byte(elf.EV_CURRENT))
	buf.WriteByte(byte(elf.ELFOSABI_NONE))
	buf.Write(make([]byte, 8)) // ABI version + padding

	hdr := make([]byte, ehsize-16)
	le := binary.LittleEndian
	le.PutUint16(hdr[0:], uint16(elf.ET_EXEC))
	le.PutUint16(hdr[2:], uint16(elf.EM_RISCV))
	le.PutUint32(hdr[4:], uint32(elf.EV_CURRENT))
	le.PutUint64(hdr[8:], Base)               // e_entry
	le.PutUint64(hdr[16:], ehsize)            // e_phoff
	le.PutUint64(hdr[24:], 0)                 // e_shoff
	le.PutUint32(hdr[32:], 0)                 // e_flags
	le.PutUint16(hdr[36:], ehsize)            // e_ehsize
	le.PutUint16(hdr[38:], phsize)            // e_phentsize
	le.PutUint16(hdr[40:], 1)                 // e_phnum
	le.PutUint16(hdr[42:], 0)                 // e_shentsize
	le.PutUint16(hdr[44:], 0)                 // e_shnum
	le.PutUint16(hdr[46:], 0)                 // e_shstrndx
	buf.Write(hdr)

	ph := make([]byte, phsize)
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	le.PutUint64(ph[8:], ehsize+phsize) // p_offset
	le.PutUint64(ph[16:], Base)         // p_vaddr
	le.PutUint64(ph[24:], Base)         // p_paddr
	le.PutUint64(ph[32:], uint64(len(code))) // p_filesz
	le.PutUint64(ph[40:], uint64(len(code))) // p_memsz
	le.PutUint64(ph[48:], 0x1000)            // p_align
	buf.Write(ph)

	buf.Write(code)
	return buf.Bytes()
}
