package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rvos/elfstub"
	"rvos/mem"
	"rvos/proc"
	"rvos/vm"
)

func newTestKernel(t *testing.T) *proc.Kernel {
	t.Helper()
	phys := mem.PhysInit(256)
	tramp, err := phys.Alloc()
	require.NoError(t, err)
	kernelVm, err := vm.NewBare(phys, tramp)
	require.NoError(t, err)
	require.NoError(t, kernelVm.MapTrampoline())
	k := &proc.Kernel{Phys: phys, KernelVm: kernelVm, Tramp: tramp, TrapHandler: vm.TRAMPOLINE}
	k.RealEcall = func(num uint64, args [3]uint64) uint64 { return 0 }
	return k
}

func TestHartRunsAProcessToCompletion(t *testing.T) {
	k := newTestKernel(t)
	p, err := proc.New(k, elfstub.Build(64))
	require.NoError(t, err)

	syscalls := 0
	p.Start(func(rt *proc.Syscalls) {
		for i := 0; i < 3; i++ {
			rt.Raw(124 /* SYS_YIELD */, 0, 0, 0)
			syscalls++
		}
	}, proc.Ecall(k.RealEcall), k.Phys)

	hart := NewHart(NewFifo())
	hart.Queue.Add(p)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		hart.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return syscalls == 3
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	require.Len(t, p.Rusage(), 32)
}
