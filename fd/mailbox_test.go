package fd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/defs"
)

func TestMailboxWriteReadPreservesOrder(t *testing.T) {
	mb := NewMailbox().Fops

	n, errno := mb.Write([]byte("first"))
	require.Zero(t, errno)
	require.Equal(t, 5, n)
	n, errno = mb.Write([]byte("second"))
	require.Zero(t, errno)
	require.Equal(t, 6, n)

	buf := make([]byte, packetBufferSize)
	n, errno = mb.Read(buf)
	require.Zero(t, errno)
	require.Equal(t, "first", string(buf[:n]))

	n, errno = mb.Read(buf)
	require.Zero(t, errno)
	require.Equal(t, "second", string(buf[:n]))
}

func TestMailboxWriteTruncatesOversizedPacket(t *testing.T) {
	mb := NewMailbox().Fops
	big := make([]byte, packetBufferSize+10)
	n, errno := mb.Write(big)
	require.Zero(t, errno)
	require.Equal(t, packetBufferSize, n)
}

func TestMailboxFullReturnsEAGAIN(t *testing.T) {
	mb := NewMailbox().Fops
	for i := 0; i < maxPacketNum; i++ {
		_, errno := mb.Write([]byte{byte(i)})
		require.Zero(t, errno)
	}
	_, errno := mb.Write([]byte{0x42})
	require.Equal(t, defs.EAGAIN, errno)
}

func TestMailboxReadEmptyReturnsEAGAIN(t *testing.T) {
	mb := NewMailbox().Fops
	_, errno := mb.Read(make([]byte, 4))
	require.Equal(t, defs.EAGAIN, errno)
}

func TestMailboxZeroLengthReadIsANonConsumingProbe(t *testing.T) {
	mb := NewMailbox().Fops
	_, errno := mb.Write([]byte("queued"))
	require.Zero(t, errno)

	n, errno := mb.Read(nil)
	require.Zero(t, errno)
	require.Zero(t, n)

	// The packet is still there for a real read.
	buf := make([]byte, packetBufferSize)
	n, errno = mb.Read(buf)
	require.Zero(t, errno)
	require.Equal(t, "queued", string(buf[:n]))
}
