// Package ufs is the top-level boot façade: it wires memory, the
// on-disk filesystem, process/scheduling machinery, and the trap
// dispatcher together into one runnable kernel, the way
// original_source/os/src/main.rs's rust_main bolts together
// heap_allocator::init_heap, mm::init, fs::list_apps and
// task::add_initproc before handing off to the scheduler loop.
package ufs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rvos/blk"
	"rvos/caller"
	"rvos/elfstub"
	"rvos/fs"
	"rvos/mem"
	"rvos/proc"
	"rvos/progs"
	"rvos/sched"
	"rvos/syscall"
	"rvos/trap"
	"rvos/ustr"
	"rvos/vm"
)

// Default sizing for the simulator's physical arena and disk image.
// Generous enough for a handful of concurrently live processes (each
// consumes roughly a dozen frames: page tables, a kernel stack, ELF
// segments, stack, scratch, trap context) without tuning per run.
const (
	DefaultFrames            = 4096 // 16 MiB of simulated RAM
	DefaultDiskBlocks        = 8192 // 4 MiB disk image
	DefaultInodeBitmapBlocks = 4
)

// Kernel bundles every piece Boot assembles, exposed so cmd/kernel can
// drive the hart loop and inspect state (e.g. for a REPL or tests)
// without reaching back into package internals.
type Kernel struct {
	Phys  *mem.Physmem_t
	Efs   *fs.Efs_t
	Disk  blk.Disk_i
	Proc  *proc.Kernel
	Hart  *sched.Hart_t
	Table *syscall.Table_t
	Init  *proc.Proc_t
}

// Options configures Boot. A nil Disk selects a fresh in-memory disk,
// matching StartFS's memory-only mode in the teacher; such a disk is blank,
// so it boots only with Format set (fs.Open finds no superblock on it).
type Options struct {
	Frames            int
	Disk              blk.Disk_i // nil selects a fresh blk.MemDisk_t
	DiskBlocks        int
	InodeBitmapBlocks int
	Format            bool // true: fs.Create a fresh filesystem; false: fs.Open an existing one
	Log               *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Frames == 0 {
		o.Frames = DefaultFrames
	}
	if o.DiskBlocks == 0 {
		o.DiskBlocks = DefaultDiskBlocks
	}
	if o.InodeBitmapBlocks == 0 {
		o.InodeBitmapBlocks = DefaultInodeBitmapBlocks
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

// Boot constructs every subsystem and starts the hand-built init
// process (progs.Init), but does not itself drive the hart loop —
// callers run Kernel.Hart.Run(ctx) (typically in its own goroutine, one
// per simulated hart) once Boot returns. Grounded on rust_main's
// initialization order: memory first, then the filesystem, then the one
// process every other process is eventually reparented onto.
func Boot(opts Options) (*Kernel, error) {
	opts.setDefaults()

	phys := mem.PhysInit(opts.Frames)

	tramp, err := phys.Alloc()
	if err != nil {
		return nil, fmt.Errorf("ufs: boot: alloc trampoline frame: %w", err)
	}
	kernelVm, err := vm.NewBare(phys, tramp)
	if err != nil {
		return nil, fmt.Errorf("ufs: boot: kernel address space: %w", err)
	}
	if err := kernelVm.MapTrampoline(); err != nil {
		return nil, fmt.Errorf("ufs: boot: map trampoline: %w", err)
	}

	disk := opts.Disk
	if disk == nil {
		disk = blk.NewMemDisk(opts.DiskBlocks)
	}
	var efs *fs.Efs_t
	if opts.Format {
		efs, err = fs.Create(disk, uint32(opts.DiskBlocks), uint32(opts.InodeBitmapBlocks))
		if err == nil {
			bin, berr := fs.Root(efs).CreateDir(ustr.Ustr("bin"))
			for name := range progs.Table() {
				if berr == nil {
					var h *fs.FileHandle_t
					if h, berr = bin.CreateFile(ustr.Ustr(strings.TrimPrefix(name, "/bin/"))); berr == nil {
						_, berr = h.WriteAt(0, elfstub.Build(256))
					}
				}
			}
			err = berr
		}
	} else {
		efs, err = fs.Open(disk)
	}
	if err != nil {
		return nil, fmt.Errorf("ufs: boot: filesystem: %w", err)
	}

	pk := &proc.Kernel{
		Phys:        phys,
		KernelVm:    kernelVm,
		Tramp:       tramp,
		TrapHandler: vm.TRAMPOLINE,
	}

	hart := sched.NewHart(sched.NewStride())

	// faultSites dedupes fault logging by call path: the first trap that
	// reaches OnFault from a given ancestor chain gets its full stack
	// dumped (at Debug level, since it's verbose), repeats of an
	// already-seen path don't add more than the one-line Warn every fault
	// already gets.
	faultSites := &caller.Distinct_caller_t{Enabled: true}

	table := &syscall.Table_t{
		Kernel:   pk,
		Hart:     hart,
		Efs:      efs,
		Programs: progs.Table(),
	}

	handler := &trap.Handler{
		Syscall: table.Dispatch,
		OnFault: func(cause trap.Cause, stval uint64) {
			p := hart.Current()
			if p == nil {
				return
			}
			var code int
			switch cause {
			case trap.StoreFault, trap.StorePageFault:
				code = -2
			case trap.IllegalInstruction:
				code = -3
			default:
				code = -1
			}
			if fresh, trace := faultSites.Distinct(); fresh {
				opts.Log.Debug("first fault seen from this call path", "trace", trace)
			}
			opts.Log.Warn("killing process on fault", "pid", p.Pid.Pid(), "cause", cause.String())
			table.Kernel.Exit(p, code, table.Init)
		},
		Log: opts.Log,
	}

	// The real ecall entry point every Program's Syscalls.Raw ultimately
	// calls: it stages the call into the currently-running process's own
	// trap frame and routes it through trap.Handler.Dispatch exactly as
	// a genuine ecall/strap would, rather than calling table.Dispatch
	// directly — so Context/Handler/Cause earn their keep as the real
	// trap boundary instead of being bypassed machinery.
	pk.RealEcall = func(num uint64, args [3]uint64) uint64 {
		p := hart.Current()
		if p == nil {
			panic("ufs: ecall with no current process")
		}
		p.TrapCx.X[trap.RegA7] = num
		p.TrapCx.X[trap.RegA0] = args[0]
		p.TrapCx.X[trap.RegA1] = args[1]
		p.TrapCx.X[trap.RegA2] = args[2]
		handler.Dispatch(trap.UserEnvCall, 0, p.TrapCx)
		return p.TrapCx.X[trap.RegA0]
	}

	initElf, ferr := readBinFile(efs, "init")
	if ferr != nil {
		return nil, fmt.Errorf("ufs: boot: read /bin/init: %w", ferr)
	}
	initProc, err := proc.New(pk, initElf)
	if err != nil {
		return nil, fmt.Errorf("ufs: boot: init process: %w", err)
	}
	table.Init = initProc
	initProc.Start(progs.Init, proc.Ecall(pk.RealEcall), phys)
	hart.Queue.Add(initProc)

	return &Kernel{
		Phys:  phys,
		Efs:   efs,
		Disk:  disk,
		Proc:  pk,
		Hart:  hart,
		Table: table,
		Init:  initProc,
	}, nil
}

// Run drives the hart's idle loop until ctx is cancelled, the single
// simulated-CPU equivalent of rust_main's final run_tasks() call.
func (k *Kernel) Run(ctx context.Context) error {
	return k.Hart.Run(ctx)
}

// Shutdown flushes the filesystem's block cache to disk and, if the
// underlying disk is a host file, closes it.
func (k *Kernel) Shutdown() error {
	if err := k.Efs.Sync(); err != nil {
		return err
	}
	if closer, ok := k.Disk.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// readBinFile reads /bin/<name> out of efs directly, bypassing the
// syscall/fd layers entirely since nothing is running yet to own an fd
// table — used only to load the hand-built init process's own image.
func readBinFile(efs *fs.Efs_t, name string) ([]byte, error) {
	root := fs.Root(efs)
	bin, ok, err := root.Find(ustr.Ustr("bin"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ufs: /bin: not found")
	}
	h, ok, err := bin.Find(ustr.Ustr(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ufs: /bin/%s: not found", name)
	}
	sz, err := h.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, sz)
	if _, err := h.ReadAt(0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
