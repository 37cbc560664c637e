package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/proc"
)

func TestFifoFetchesInInsertionOrder(t *testing.T) {
	q := NewFifo()
	require.Equal(t, 0, q.Len())

	a, b := &proc.Proc_t{}, &proc.Proc_t{}
	q.Add(a)
	q.Add(b)
	require.Equal(t, 2, q.Len())

	require.Same(t, a, q.Fetch())
	require.Same(t, b, q.Fetch())
	require.Nil(t, q.Fetch())
}

func TestStrideFetchesLowestStrideFirst(t *testing.T) {
	q := NewStride()
	high := &proc.Proc_t{Stride: 300}
	low := &proc.Proc_t{Stride: 10}
	mid := &proc.Proc_t{Stride: 100}

	q.Add(high)
	q.Add(low)
	q.Add(mid)
	require.Equal(t, 3, q.Len())

	require.Same(t, low, q.Fetch())
	require.Same(t, mid, q.Fetch())
	require.Same(t, high, q.Fetch())
}
