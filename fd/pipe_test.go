package fd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rvos/defs"
)

func TestPipeWriteThenRead(t *testing.T) {
	rd, wr, errno := MakePipe()
	require.Zero(t, errno)

	n, errno := wr.Fops.Write([]byte("hello"))
	require.Zero(t, errno)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, errno = rd.Fops.Read(buf)
	require.Zero(t, errno)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestPipeWriteBlocksThenWakesReader(t *testing.T) {
	rd, wr, errno := MakePipe()
	require.Zero(t, errno)
	// ringBufferSize is 32; fill it, then write one more byte on a
	// separate goroutine, which must block until the reader drains.
	full := make([]byte, ringBufferSize)
	n, errno := wr.Fops.Write(full)
	require.Zero(t, errno)
	require.Equal(t, ringBufferSize, n)

	done := make(chan struct{})
	go func() {
		n, errno := wr.Fops.Write([]byte{0x42})
		require.Zero(t, errno)
		require.Equal(t, 1, n)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("write into a full pipe returned before the reader drained it")
	case <-time.After(20 * time.Millisecond):
	}

	drain := make([]byte, ringBufferSize)
	n, errno = rd.Fops.Read(drain)
	require.Zero(t, errno)
	require.Equal(t, ringBufferSize, n)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked write never woke up after the reader drained the pipe")
	}
}

func TestPipeWriteAfterReadersClosedReturnsEPIPE(t *testing.T) {
	rd, wr, errno := MakePipe()
	require.Zero(t, errno)
	require.Zero(t, rd.Fops.Close())

	n, errno := wr.Fops.Write([]byte("x"))
	require.Equal(t, 0, n)
	require.Equal(t, defs.EPIPE, errno)
}

func TestPipeReadAfterWritersClosedReturnsEOF(t *testing.T) {
	rd, wr, errno := MakePipe()
	require.Zero(t, errno)
	require.Zero(t, wr.Fops.Close())

	buf := make([]byte, 4)
	n, errno := rd.Fops.Read(buf)
	require.Zero(t, errno)
	require.Zero(t, n)
}

func TestPipeLseekIsRejected(t *testing.T) {
	rd, _, errno := MakePipe()
	require.Zero(t, errno)
	_, errno = rd.Fops.Lseek(0, 0)
	require.Equal(t, defs.ESPIPE, errno)
}
