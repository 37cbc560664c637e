// Package proc implements the process control block and its lifecycle:
// allocation, fork, exec, exit/reparenting, and mmap/munmap. biscuit's
// own proc package was empty in the retrieved pack, so this is grounded
// entirely on original_source/os/src/task/{pid.rs,task.rs,mod.rs}, kept
// in the mutex-guarded-struct and RAII-via-Close() idiom
// biscuit/src/mem/mem.go and biscuit/src/vm/as.go already use.
package proc

import (
	"fmt"
	"sync"

	"rvos/limits"
)

/// pidAllocator hands out process IDs with a stack-of-recycled-ids plus
/// watermark strategy, the same shape as mem.Physmem_t's frame allocator
/// and original_source/os/src/task/pid.rs's PidAllocator.
type pidAllocator struct {
	mu        sync.Mutex
	current   int
	recycled  []int
}

var pids = &pidAllocator{current: 1} // pid 0 is reserved (no process owns it)

func (a *pidAllocator) alloc() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return pid
	}
	pid := a.current
	a.current++
	return pid
}

func (a *pidAllocator) dealloc(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pid <= 0 || pid >= a.current {
		panic("proc: dealloc of never-allocated pid")
	}
	for _, p := range a.recycled {
		if p == pid {
			panic("proc: double pid free")
		}
	}
	a.recycled = append(a.recycled, pid)
}

/// PidHandle owns one allocated pid, freeing it back to the allocator on
/// Close exactly once (idempotent, like mem.FrameTracker_t).
type PidHandle struct {
	pid  int
	once sync.Once
}

// allocPid hands out a fresh pid gated by limits.Syslimit.Sysprocs, the
// same admission-control pattern Syslimit's other Sysatomic_t fields are
// meant for: a process that can't get a slot never touches the pid
// allocator at all.
func allocPid() (*PidHandle, error) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, fmt.Errorf("proc: system process limit reached")
	}
	return &PidHandle{pid: pids.alloc()}, nil
}

/// Pid returns the underlying process id.
func (h *PidHandle) Pid() int { return h.pid }

/// Close releases the pid for reuse and gives its slot back to
/// limits.Syslimit.Sysprocs.
func (h *PidHandle) Close() {
	h.once.Do(func() {
		pids.dealloc(h.pid)
		limits.Syslimit.Sysprocs.Give()
	})
}
