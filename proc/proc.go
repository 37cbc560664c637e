package proc

import (
	"fmt"
	"sync"

	"rvos/accnt"
	"rvos/defs"
	"rvos/fd"
	"rvos/mem"
	"rvos/trap"
	"rvos/vm"
)

/// Status_t is a process's scheduling state.
type Status_t int

const (
	Ready Status_t = iota
	Running
	Zombie
)

func (s Status_t) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

/// BigStride is the stride scheduler's per-dispatch denominator: a
/// process's pass increment is BigStride/priority, matching
/// original_source/os/src/config.rs's BIG_STRIDE constant.
const BigStride = 0x7FFFFFFF

/// DefaultPriority is a freshly created process's starting priority.
const DefaultPriority = 16

/// Proc_t is one process control block. Every mutable field is guarded
/// by the embedded mutex; Pid/KernelStack are immutable for the
/// process's lifetime and read without locking. Grounded on
/// original_source/os/src/task/task.rs's TaskControlBlock/
/// TaskControlBlockInner split.
type Proc_t struct {
	sync.Mutex

	Pid         *PidHandle
	KernelStack *KernelStack_t

	Status   Status_t
	Stride   int64
	Priority int64

	// Accnt accumulates this process's consumed CPU time across every
	// quantum the hart hands it, independent of scheduling priority —
	// sched/hart.go's Run credits it, the same split
	// original_source/os/src/task/processor.rs leaves to a TaskUserRes
	// rather than the scheduler itself.
	Accnt accnt.Accnt_t

	Vm      *vm.Vm_t
	TrapCx  *trap.Context
	BaseSize uint64

	Parent   *Proc_t
	Children []*Proc_t
	ExitCode int

	Fds *fd.Table_t
	Cwd *fd.Cwd_t

	program Program
	run     *runner

	scratchBase uint64
	scratchOff  uint64
}

/// kernel wiring shared by every process: the physical memory arena, the
/// kernel's own address space (for kernel-stack bookkeeping and the
/// trampoline frame it shares with every user Vm_t), and the trap
/// handler's entry address.
type Kernel struct {
	Phys       *mem.Physmem_t
	KernelVm   *vm.Vm_t
	Tramp      *mem.FrameTracker_t
	TrapHandler uint64

	// RealEcall is the syscall table's dispatcher, wired in by the boot
	// façade once it exists (syscall.Table_t depends on proc, so proc
	// can't import it back — this field breaks the cycle). Every
	// Program started via New/Fork/Spawn routes its ecalls through it.
	RealEcall Ecall
}

/// New builds a fresh process from an ELF image with no parent; used
/// for the kernel's single hand-built init process, every other process
/// comes from Fork+Exec.
func New(k *Kernel, elfData []byte) (*Proc_t, error) {
	addrSpace, userSp, entry, scratch, err := vm.FromElf(k.Phys, k.Tramp, elfData)
	if err != nil {
		return nil, fmt.Errorf("proc: new: %w", err)
	}
	pid, err := allocPid()
	if err != nil {
		return nil, err
	}
	kstack, err := NewKernelStack(k.KernelVm, pid.Pid())
	if err != nil {
		pid.Close()
		return nil, err
	}
	p := &Proc_t{
		Pid:         pid,
		KernelStack: kstack,
		Status:      Ready,
		Priority:    DefaultPriority,
		Vm:          addrSpace,
		BaseSize:    userSp,
		Fds:         fd.NewTable(),
		scratchBase: scratch,
	}
	p.TrapCx = trap.AppInitContext(entry, userSp, k.KernelVm.Token(), kstack.Top(), k.TrapHandler)
	p.Cwd = fd.MkRootCwd(nil)
	installStdFds(p.Fds)
	return p, nil
}

/// installStdFds wires up stdin/stdout/stderr plus a per-process mailbox
/// at fd 3, matching TaskControlBlockInner::new's fd_table initial
/// contents (stdin/stdout/stderr) extended with the mailbox this
/// simulator exposes as an ordinary fd rather than a separate table.
func installStdFds(fds *fd.Table_t) {
	fds.InstallAt(0, fd.NewStdin())
	fds.InstallAt(1, fd.NewStdout())
	fds.InstallAt(2, fd.NewStderr())
	fds.InstallAt(3, fd.NewMailbox())
}

/// Fork clones the calling process: a frame-for-frame copy of its
/// address space, a new pid/kernel stack, and a trap frame identical to
/// the parent's except for kernel_sp (which must point at the child's
/// own kernel stack). Grounded on TaskControlBlock::fork.
///
/// childProgram lets a caller that already has a Go closure for the
/// child's intended behavior hand it over directly — the pipe-echo
/// style "fork, then the child diverges" pattern original programs rely
/// on, reproduced here by supplying the child's post-fork code as data
/// instead of by cloning a continuation (which Go cannot do; see below).
/// A real SYS_FORK trap has no such closure available (the point of a
/// real fork is resuming the parent's own instruction stream with a
/// zero return value, which no Go-level caller can synthesize), so
/// syscall.Table_t's fork handler always passes nil and gets the
/// trivial exitImmediately child; SYS_SPAWN remains the primary way to
/// give a child meaningfully different behavior from user code.
func (k *Kernel) Fork(parent *Proc_t, childProgram Program) (*Proc_t, error) {
	parent.Lock()
	childVm, err := vm.FromExistedUser(k.Phys, k.Tramp, parent.Vm)
	if err != nil {
		parent.Unlock()
		return nil, err
	}
	pid, err := allocPid()
	if err != nil {
		parent.Unlock()
		return nil, err
	}
	kstack, err := NewKernelStack(k.KernelVm, pid.Pid())
	if err != nil {
		pid.Close()
		parent.Unlock()
		return nil, err
	}
	childTrap := *parent.TrapCx
	childTrap.KernelSp = kstack.Top()

	childFds, ferr := parent.Fds.Clone()
	if ferr != 0 {
		parent.Unlock()
		return nil, fmt.Errorf("proc: fork: clone fd table: %d", ferr)
	}

	child := &Proc_t{
		Pid:         pid,
		KernelStack: kstack,
		Status:      Ready,
		Priority:    parent.Priority,
		Vm:          childVm,
		TrapCx:      &childTrap,
		BaseSize:    parent.BaseSize,
		scratchBase: parent.scratchBase,
		Parent:      parent,
		Fds:         childFds,
		Cwd:         &fd.Cwd_t{Fd: parent.Cwd.Fd, Path: append([]byte(nil), parent.Cwd.Path...)},
	}
	parent.Children = append(parent.Children, child)
	parent.Unlock()

	// A real fork() lets the child resume the parent's own instruction
	// stream right after the fork call, diverging on the zero return
	// value. Go cannot clone a running goroutine's stack/continuation,
	// so that resumption can't be reproduced for a bare SYS_FORK trap;
	// see DESIGN.md. Callers that already know what the child should run
	// (e.g. a fork-then-diverge demo program) supply it as childProgram;
	// a nil childProgram (the only option at the real trap boundary)
	// falls back to a trivial program that exits immediately.
	program := childProgram
	if program == nil {
		program = exitImmediately
	}
	child.Start(program, Ecall(k.RealEcall), k.Phys)
	return child, nil
}

func exitImmediately(rt *Syscalls) {
	rt.Raw(sysExit, 0, 0, 0)
}

// sysExit mirrors syscall.SYS_EXIT's numeric value. Kept as an
// unexported duplicate rather than importing the syscall package, which
// itself imports proc.
const sysExit = 93

// Spawn creates a brand-new child process running program, already
// linked into parent's Children so Waitpid sees it — the posix_spawn-
// style fork+exec-in-one primitive original_source/user/src/syscall.rs
// calls sys_spawn, used here as the primary way to give a child
// meaningfully different behavior from its parent without needing a
// cloned continuation (see Fork's doc comment).
func (k *Kernel) Spawn(parent *Proc_t, elfData []byte, program Program) (*Proc_t, error) {
	child, err := New(k, elfData)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		parent.Lock()
		child.Parent = parent
		parent.Children = append(parent.Children, child)
		parent.Unlock()
	}
	child.Start(program, Ecall(k.RealEcall), k.Phys)
	return child, nil
}

/// Exec replaces the calling process's address space with a freshly
/// loaded ELF image in place, keeping its pid/kernel stack. Grounded on
/// TaskControlBlock::exec.
func (k *Kernel) Exec(p *Proc_t, elfData []byte) error {
	newVm, userSp, entry, scratch, err := vm.FromElf(k.Phys, k.Tramp, elfData)
	if err != nil {
		return fmt.Errorf("proc: exec: %w", err)
	}
	p.Lock()
	defer p.Unlock()
	p.Vm.Close()
	p.Vm = newVm
	p.BaseSize = userSp
	p.scratchBase = scratch
	p.scratchOff = 0
	p.TrapCx = trap.AppInitContext(entry, userSp, k.KernelVm.Token(), p.KernelStack.Top(), k.TrapHandler)
	return nil
}

/// Exit marks p a zombie, records its exit code, reclaims its user
/// memory, and reparents its children onto init. Grounded on
/// exit_current_and_run_next's do-not-move-to-parent-but-under-initproc
/// behavior.
func (k *Kernel) Exit(p *Proc_t, code int, init *Proc_t) {
	p.Lock()
	p.Status = Zombie
	p.ExitCode = code
	children := p.Children
	p.Children = nil
	p.Vm.RecycleDataPages()
	p.Unlock()

	if init != nil && init != p {
		init.Lock()
		for _, c := range children {
			c.Lock()
			c.Parent = init
			c.Unlock()
			init.Children = append(init.Children, c)
		}
		init.Unlock()
	}
	p.Fds.CloseAll()
}

/// Rusage returns a getrusage(2)-shaped snapshot of p's accumulated CPU
/// time: user/system timeval pairs, as accnt.Accnt_t.To_rusage encodes
/// them.
func (p *Proc_t) Rusage() []byte {
	return p.Accnt.Fetch()
}

/// Waitpid looks for a zombie child matching pid (pid<=0 matches any
/// child, per SPEC_FULL.md §5's resolved non-blocking waitpid
/// semantics). It returns the reaped child's pid and exit code and
/// removes it from the children list; if pid names a child that exists
/// but hasn't exited, it returns (0, 0, 0) — "try again", the caller's
/// signal to retry rather than block. ECHILD means no such child exists
/// at all.
func (p *Proc_t) Waitpid(pid int) (reaped int, status int, err defs.Err_t) {
	p.Lock()
	defer p.Unlock()

	found := false
	for i, c := range p.Children {
		if pid > 0 && c.Pid.Pid() != pid {
			continue
		}
		found = true
		c.Lock()
		if c.Status == Zombie {
			reaped = c.Pid.Pid()
			status = c.ExitCode
			c.Unlock()
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			c.Vm.Close()
			c.KernelStack.Close()
			c.Pid.Close()
			return reaped, status, 0
		}
		c.Unlock()
	}
	if !found {
		return 0, 0, defs.ECHILD
	}
	return 0, 0, 0
}
