package proc

import (
	"rvos/mem"
	"rvos/vm"
)

/// KernelStackSize is the size of one process's kernel stack, with a
/// one-page unmapped guard immediately below it (same convention as
/// original_source/os/src/config.rs's KERNEL_STACK_SIZE/PAGE_SIZE pairing
/// referenced by pid.rs's kernel_stack_position).
const KernelStackSize = 2 * mem.PGSIZE

/// kernelStackPosition returns the (bottom, top) virtual addresses of the
/// pid'th kernel stack slot below the trampoline, each slot separated by
/// one unmapped guard page from its neighbors.
func kernelStackPosition(pid int) (bottom, top uint64) {
	top = vm.TRAMPOLINE - uint64(pid)*uint64(KernelStackSize+mem.PGSIZE)
	bottom = top - uint64(KernelStackSize)
	return bottom, top
}

/// KernelStack_t reserves this process's kernel-stack slot in the shared
/// kernel address space. The simulator runs each process on its own
/// goroutine stack rather than this reserved region (SPEC_FULL.md §0), so
/// nothing is ever read from or written to these pages — the slot exists
/// purely so the kernel Vm_t's layout and InsertFramedArea/RemoveArea
/// bookkeeping stay faithful to the original's per-process kernel stack
/// accounting, which proc/sched rely on for kernel_sp values in trap
/// frames.
type KernelStack_t struct {
	pid       int
	kernelVm  *vm.Vm_t
	bottom, top uint64
}

/// NewKernelStack reserves a kernel-stack slot for pid inside kernelVm.
func NewKernelStack(kernelVm *vm.Vm_t, pid int) (*KernelStack_t, error) {
	bottom, top := kernelStackPosition(pid)
	if err := kernelVm.InsertFramedArea(bottom, top, vm.PteR|vm.PteW, nil); err != nil {
		return nil, err
	}
	return &KernelStack_t{pid: pid, kernelVm: kernelVm, bottom: bottom, top: top}, nil
}

/// Top returns the kernel stack pointer value to install in a trap frame.
func (k *KernelStack_t) Top() uint64 { return k.top }

/// Close releases the kernel-stack slot back to the kernel address space.
func (k *KernelStack_t) Close() {
	k.kernelVm.RemoveArea(k.bottom)
}
