package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/elfstub"
	"rvos/vm"
)

func TestSyscallsPutGetRoundTripsThroughScratch(t *testing.T) {
	k := newTestKernel(t)
	p, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	var gotPath string
	var gotRaw uint64
	k.RealEcall = func(num uint64, args [3]uint64) uint64 {
		gotRaw = num
		return 0
	}

	done := make(chan struct{})
	p.Start(func(rt *Syscalls) {
		addr := rt.PutString("/bin/shell")
		gotPath = string(rt.Get(addr, len("/bin/shell")))
		rt.Raw(42, addr, 0, 0)
		close(done)
	}, Ecall(k.RealEcall), k.Phys)

	require.True(t, p.Step())
	require.False(t, p.Step())
	<-done

	require.Equal(t, "/bin/shell", gotPath)
	require.EqualValues(t, 42, gotRaw)
}

func TestScratchAllocWrapsAroundRingBuffer(t *testing.T) {
	k := newTestKernel(t)
	p, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	first := p.scratchAlloc(8)
	// A request that would overrun the region resets the ring to its
	// base rather than returning an out-of-bounds address.
	wrapped := p.scratchAlloc(vm.UserScratchSize)
	require.Equal(t, first, wrapped)
}
