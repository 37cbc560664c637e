package sched

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"rvos/proc"
)

/// Hart_t is one simulated CPU: a ready-queue discipline plus a
/// weight-1 semaphore that only ever allows one process's goroutine to
/// be "running" at a time, standing in for Processor::run's
/// idle-execution-flow/__switch pairing (SPEC_FULL.md §0 — there is no
/// real register-level context switch to perform, only a handoff of
/// which goroutine is allowed to proceed).
type Hart_t struct {
	sem   *semaphore.Weighted
	Queue Discipline_i

	current *proc.Proc_t
}

/// NewHart constructs a hart driven by the given ready-queue discipline
/// (sched.NewFifo() or sched.NewStride()).
func NewHart(q Discipline_i) *Hart_t {
	return &Hart_t{sem: semaphore.NewWeighted(1), Queue: q}
}

/// Current returns the process presently holding the hart's token, or
/// nil if the hart is idle.
func (h *Hart_t) Current() *proc.Proc_t { return h.current }

/// Run drives the idle loop: fetch the next ready process, acquire the
/// one-runner token, mark it Running, and hand it exactly one quantum
/// (one syscall's worth of execution, via proc.Proc_t.Step) before
/// releasing the token back. A process that Step reports as still alive
/// and not a zombie goes back on the ready queue for its next quantum;
/// one that exited or whose Program simply returned is dropped (its
/// parent reaps it via Waitpid). Run loops until ctx is cancelled.
func (h *Hart_t) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := h.Queue.Fetch()
		if p == nil {
			runtime.Gosched()
			continue
		}
		if err := h.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		p.Lock()
		p.Status = proc.Running
		p.Unlock()
		h.current = p

		start := time.Now()
		alive := p.Step()
		p.Accnt.Utadd(int(time.Since(start).Nanoseconds()))

		h.current = nil
		h.sem.Release(1)

		p.Lock()
		zombie := p.Status == proc.Zombie
		p.Unlock()
		if alive && !zombie {
			h.Queue.Add(p)
		}
	}
}

/// Yield returns a process to Ready and pushes it back onto the ready
/// queue, the goroutine-model equivalent of
/// suspend_current_and_run_next's status flip + add_task.
func (h *Hart_t) Yield(p *proc.Proc_t) {
	p.Lock()
	if p.Status == proc.Running {
		p.Status = proc.Ready
	}
	p.Unlock()
	h.Queue.Add(p)
}
