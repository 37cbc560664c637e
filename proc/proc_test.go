package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rvos/defs"
	"rvos/elfstub"
	"rvos/fd"
	"rvos/mem"
	"rvos/vm"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	phys := mem.PhysInit(256)
	tramp, err := phys.Alloc()
	require.NoError(t, err)
	kernelVm, err := vm.NewBare(phys, tramp)
	require.NoError(t, err)
	require.NoError(t, kernelVm.MapTrampoline())
	k := &Kernel{Phys: phys, KernelVm: kernelVm, Tramp: tramp, TrapHandler: vm.TRAMPOLINE}
	k.RealEcall = func(num uint64, args [3]uint64) uint64 { return 0 }
	return k
}

func TestNewInstallsStandardFdsAndMailbox(t *testing.T) {
	k := newTestKernel(t)
	p, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	for fdnum := 0; fdnum < 4; fdnum++ {
		require.NotNilf(t, p.Fds.Get(fdnum), "fd %d should be installed", fdnum)
	}
}

func TestForkClonesAddressSpaceAndLinksChild(t *testing.T) {
	k := newTestKernel(t)
	parent, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	child, err := k.Fork(parent, nil)
	require.NoError(t, err)
	require.Len(t, parent.Children, 1)
	require.Same(t, parent, child.Parent)
	require.NotEqual(t, parent.Pid.Pid(), child.Pid.Pid())

	// The child's trap frame must point at its own kernel stack, not the
	// parent's, even though every other register was copied verbatim.
	require.Equal(t, child.KernelStack.Top(), child.TrapCx.KernelSp)
	require.NotEqual(t, parent.KernelStack.Top(), child.KernelStack.Top())

	// A forked child with no following spawn/exec runs the built-in
	// exitImmediately program: one step runs it to its single syscall,
	// a second observes it has finished (Step's contract is "alive
	// after this quantum", not "alive going into it").
	require.True(t, child.Step())
	require.False(t, child.Step())
}

func TestSpawnLinksChildWithoutCloningParentAddressSpace(t *testing.T) {
	k := newTestKernel(t)
	parent, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	ran := false
	child, err := k.Spawn(parent, elfstub.Build(64), func(rt *Syscalls) {
		ran = true
		rt.Raw(sysExit, 0, 0, 0)
	})
	require.NoError(t, err)
	require.Len(t, parent.Children, 1)

	require.True(t, child.Step())
	require.True(t, ran)
	require.False(t, child.Step())
}

func TestWaitpidReapsExitedChildAndReportsECHILDOtherwise(t *testing.T) {
	k := newTestKernel(t)
	parent, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	_, _, errno := parent.Waitpid(-1)
	require.Equal(t, defs.ECHILD, errno) // no children at all

	child, err := k.Fork(parent, nil)
	require.NoError(t, err)
	child.Step() // runs the program to its sole syscall
	child.Step() // observes it has finished
	k.Exit(child, 7, parent)

	reaped, status, errno := parent.Waitpid(child.Pid.Pid())
	require.Zero(t, errno)
	require.Equal(t, child.Pid.Pid(), reaped)
	require.Equal(t, 7, status)
	require.Empty(t, parent.Children)
}

// TestForkRunsASuppliedChildProgramInsteadOfExitingImmediately exercises
// the fork-then-diverge shape (a parent writes into one end of a pipe,
// its child reads the other) by handing Fork a childProgram directly,
// since a real SYS_FORK trap has no way to select the child's behavior
// (see Fork's doc comment).
func TestForkRunsASuppliedChildProgramInsteadOfExitingImmediately(t *testing.T) {
	k := newTestKernel(t)
	parent, err := New(k, elfstub.Build(64))
	require.NoError(t, err)

	rd, wr, perrno := fd.MakePipe()
	require.Zero(t, perrno)
	n, werr := wr.Fops.Write([]byte("ping"))
	require.Zero(t, werr)
	require.Equal(t, 4, n)

	var echoed string
	child, err := k.Fork(parent, func(rt *Syscalls) {
		buf := make([]byte, 4)
		n, rerr := rd.Fops.Read(buf)
		if rerr == 0 {
			echoed = string(buf[:n])
		}
		rt.Raw(sysExit, 0, 0, 0)
	})
	require.NoError(t, err)

	require.True(t, child.Step())
	require.False(t, child.Step())
	require.Equal(t, "ping", echoed)
}
