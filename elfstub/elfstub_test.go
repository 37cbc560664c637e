package elfstub

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildProducesAParseableExecutable(t *testing.T) {
	data := Build(128)

	f, err := elf.NewFile(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, elf.ELFCLASS64, f.Class)
	require.Equal(t, elf.ELFDATA2LSB, f.Data)
	require.Equal(t, elf.ET_EXEC, f.Type)
	require.Equal(t, elf.EM_RISCV, f.Machine)
	require.Equal(t, Base, f.Entry)

	require.Len(t, f.Progs, 1)
	ph := f.Progs[0]
	require.Equal(t, elf.PT_LOAD, ph.Type)
	require.Equal(t, Base, ph.Vaddr)
	require.Equal(t, uint64(128), ph.Filesz)
	require.Equal(t, uint64(128), ph.Memsz)
	require.NotZero(t, ph.Flags&elf.PF_R)
	require.NotZero(t, ph.Flags&elf.PF_X)
}

func TestBuildEnforcesAMinimumCodeSize(t *testing.T) {
	data := Build(0)
	f, err := elf.NewFile(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	require.GreaterOrEqual(t, f.Progs[0].Filesz, uint64(4))
}
