package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/elfstub"
	"rvos/mem"
)

func newPhys(t *testing.T, frames int) (*mem.Physmem_t, *mem.FrameTracker_t) {
	t.Helper()
	phys := mem.PhysInit(frames)
	tramp, err := phys.Alloc()
	require.NoError(t, err)
	return phys, tramp
}

func TestFromElfMapsSegmentStackAndScratch(t *testing.T) {
	phys, tramp := newPhys(t, 64)

	as, sp, entry, scratch, err := FromElf(phys, tramp, elfstub.Build(256))
	require.NoError(t, err)
	require.Equal(t, elfstub.Base, entry)
	require.Greater(t, sp, entry)
	require.Greater(t, scratch, sp)

	// The scratch region must be distinct from (and not overlap) the
	// user stack, per UserScratchSize's placement one page above it.
	require.GreaterOrEqual(t, scratch, sp)
	require.Less(t, scratch+uint64(UserScratchSize), TRAP_CONTEXT)

	// Every Framed area inserted by FromElf must actually be walkable.
	_, ok := as.Translate(VpnOf(entry))
	require.True(t, ok)
	_, ok = as.Translate(VpnOf(scratch))
	require.True(t, ok)
}

func TestFromExistedUserClonesFramesIndependently(t *testing.T) {
	phys, tramp := newPhys(t, 64)

	parent, sp, _, _, err := FromElf(phys, tramp, elfstub.Build(64))
	require.NoError(t, err)

	stackVpn := VpnOf(sp - uint64(mem.PGSIZE))
	parentPte, ok := parent.Translate(stackVpn)
	require.True(t, ok)
	phys.BytesAt(mem.Pa_t(parentPte.Ppn())<<mem.PGSHIFT)[0] = 0xaa

	child, err := FromExistedUser(phys, tramp, parent)
	require.NoError(t, err)

	childPte, ok := child.Translate(stackVpn)
	require.True(t, ok)
	require.NotEqual(t, parentPte.Ppn(), childPte.Ppn())
	require.Equal(t, byte(0xaa), phys.BytesAt(mem.Pa_t(childPte.Ppn())<<mem.PGSHIFT)[0])

	// Mutating the child's copy must not affect the parent's frame.
	phys.BytesAt(mem.Pa_t(childPte.Ppn())<<mem.PGSHIFT)[0] = 0xbb
	require.Equal(t, byte(0xaa), phys.BytesAt(mem.Pa_t(parentPte.Ppn())<<mem.PGSHIFT)[0])
}

func TestRecycleDataPagesDropsAreasButKeepsPageTable(t *testing.T) {
	phys, tramp := newPhys(t, 64)
	as, _, entry, _, err := FromElf(phys, tramp, elfstub.Build(64))
	require.NoError(t, err)

	as.RecycleDataPages()
	require.Empty(t, as.Areas)
	_, ok := as.Translate(VpnOf(entry))
	require.False(t, ok)

	// The page table itself (and the trampoline mapping) survives.
	_, ok = as.Translate(VpnOf(TRAMPOLINE))
	require.True(t, ok)
}
