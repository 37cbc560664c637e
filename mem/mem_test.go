package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocZeroesAndTracksInUse(t *testing.T) {
	phys := PhysInit(4)
	require.Equal(t, 0, phys.FramesInUse())

	ft, err := phys.Alloc()
	require.NoError(t, err)
	require.Equal(t, 1, phys.FramesInUse())
	for _, b := range ft.Bytes() {
		require.Zero(t, b)
	}

	ft.Bytes()[0] = 0xff
	ft.Close()
	require.Equal(t, 0, phys.FramesInUse())
}

func TestAllocExhaustion(t *testing.T) {
	phys := PhysInit(2)
	_, err := phys.Alloc()
	require.NoError(t, err)
	_, err = phys.Alloc()
	require.NoError(t, err)

	_, err = phys.Alloc()
	require.ErrorIs(t, err, FrameNotAvail)
}

func TestAllocRecyclesBeforeWatermark(t *testing.T) {
	phys := PhysInit(1)
	ft, err := phys.Alloc()
	require.NoError(t, err)
	first := ft.Ppn()
	ft.Close()

	ft2, err := phys.Alloc()
	require.NoError(t, err)
	require.Equal(t, first, ft2.Ppn())
}

func TestCloseIsIdempotent(t *testing.T) {
	phys := PhysInit(2)
	ft, err := phys.Alloc()
	require.NoError(t, err)
	ft.Close()
	require.NotPanics(t, func() { ft.Close() })
	require.Equal(t, 0, phys.FramesInUse())
}

func TestBytesAtAddressesTheSameFrame(t *testing.T) {
	phys := PhysInit(4)
	ft, err := phys.Alloc()
	require.NoError(t, err)
	ft.Bytes()[5] = 0x42

	got := phys.BytesAt(ft.Pa() + 5)
	require.Equal(t, byte(0x42), got[5])
}
