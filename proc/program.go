package proc

import (
	"sync"

	"rvos/caller"
	"rvos/mem"
	"rvos/vm"
)

// Ecall is the shape of a syscall entry point: the same (num, args) ->
// return-value contract trap.SyscallFunc dispatches over a real
// ecall/trap round-trip. A Program calls it directly instead of
// executing a real ecall instruction (SPEC_FULL.md §0).
type Ecall func(num uint64, args [3]uint64) uint64

// Syscalls is what a Program actually gets instead of raw machine-code
// access to its own address space: Raw issues one ecall exactly the way
// a real binary's "ecall" instruction would, and Put/Get move argument
// and result bytes into and out of the scratch region vm.FromElf set
// aside for this purpose (a Go closure has no .data/.bss/stack of its
// own inside the simulated address space to stash a path string or a
// read buffer in, unlike a real compiled binary).
type Syscalls struct {
	ecall Ecall
	p     *Proc_t
	phys  *mem.Physmem_t
}

// Raw issues one syscall, the Program-level equivalent of the original's
// syscall() wrapper around the ecall instruction.
func (s *Syscalls) Raw(num uint64, a0, a1, a2 uint64) uint64 {
	return s.ecall(num, [3]uint64{a0, a1, a2})
}

// Put copies data into the process's scratch region and returns its
// virtual address, suitable for passing as a pointer-shaped syscall
// argument. The region is a small ring buffer — callers pass short-lived
// buffers (paths, read/write chunks) right before issuing the syscall
// that consumes them, never hold onto the address across many syscalls.
func (s *Syscalls) Put(data []byte) uint64 {
	addr := s.p.scratchAlloc(len(data))
	c := caller.From(s.phys, s.p.Vm.Token())
	c.WriteTranslated(addr, data)
	return addr
}

// PutString copies a NUL-terminated string into scratch, for syscalls
// (exec, spawn, openat, ...) that take a path argument.
func (s *Syscalls) PutString(str string) uint64 {
	return s.Put(append([]byte(str), 0))
}

// Get reads n bytes back out of the process's own address space at addr,
// for out-parameters (waitpid's exit-status pointer, read's destination
// buffer).
func (s *Syscalls) Get(addr uint64, n int) []byte {
	c := caller.From(s.phys, s.p.Vm.Token())
	b, _ := c.TranslatedBytes(addr, n)
	return b
}

// scratchAlloc bump-allocates n bytes (8-byte aligned) out of p's
// scratch region, wrapping around once exhausted: Programs are short
// test/demo binaries, not long-running processes with real heaps, so a
// ring buffer big enough to hold one in-flight syscall's arguments at a
// time is sufficient.
func (p *Proc_t) scratchAlloc(n int) uint64 {
	p.Lock()
	defer p.Unlock()
	aligned := (uint64(n) + 7) &^ 7
	if p.scratchOff+aligned > uint64(vm.UserScratchSize) {
		p.scratchOff = 0
	}
	addr := p.scratchBase + p.scratchOff
	p.scratchOff += aligned
	return addr
}

// Program is a process's executable behavior: a Go function standing in
// for the user binary's compiled machine code, since the simulator has
// no RISC-V instruction interpreter. It receives a Syscalls handle that
// plays the role of the process's own ecall instruction plus its own
// writable memory: each Raw call blocks until the hart has granted this
// process its turn, runs exactly one syscall through the real
// dispatcher, and returns control to the scheduler before the next
// statement in Program resumes — so a Program's ordinary Go control flow
// (loops, ifs, function calls) plays the role the original's RISC-V
// instruction stream plays between traps.
type Program func(rt *Syscalls)

// runner holds the channel pair that lets a process's persistent
// goroutine pause after every syscall and resume only when the hart
// next grants it a turn, the goroutine-hosted equivalent of a context
// switch: no stack or registers are saved, since the Go goroutine's own
// stack already holds the "user mode" continuation.
type runner struct {
	once    sync.Once
	turn    chan struct{}
	trapped chan struct{}
}

func newRunner() *runner {
	return &runner{turn: make(chan struct{}), trapped: make(chan struct{})}
}

// Start launches p's persistent goroutine running program, with every
// Ecall routed through real and scratch writes/reads resolved against
// phys. It is a no-op on any call after the first, and when program is
// nil. (Kernel.Fork always starts its child, falling back to
// exitImmediately when given no childProgram.)
func (p *Proc_t) Start(program Program, real Ecall, phys *mem.Physmem_t) {
	if program == nil {
		return
	}
	if p.run == nil {
		p.run = newRunner()
	}
	p.run.once.Do(func() {
		p.program = program
		go func() {
			<-p.run.turn
			wrapped := func(num uint64, args [3]uint64) uint64 {
				ret := real(num, args)
				p.run.trapped <- struct{}{}
				<-p.run.turn
				return ret
			}
			rt := &Syscalls{ecall: wrapped, p: p, phys: phys}
			p.program(rt)
			close(p.run.trapped)
		}()
	})
}

// Step hands p one quantum: its next syscall's worth of execution. It
// returns false once p's Program has returned (p.run.trapped closed),
// meaning p has no more work to do on any future quantum (it has either
// exited or simply finished running off the end of Program, which the
// simulator treats the same as exit(0) would have). A process that was
// never Start()ed has no goroutine to hand a turn to and Step reports it
// as already finished.
func (p *Proc_t) Step() (alive bool) {
	if p.program == nil {
		return false
	}
	p.run.turn <- struct{}{}
	_, ok := <-p.run.trapped
	return ok
}
