// Package sched implements the ready queue and per-hart dispatch loop:
// a stride scheduler (the default discipline) plus a FIFO discipline
// behind a shared interface, matching
// original_source/os/src/task/manager.rs's TaskManager/StrideTaskManager
// pair. Since processes are goroutines rather than register-level
// contexts (SPEC_FULL.md §0), "dispatch" here means releasing a
// semaphore token that lets exactly one process's goroutine run at a
// time per simulated hart, not a __switch-style context swap.
package sched

import (
	"container/heap"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"rvos/proc"
)

/// Discipline_i is implemented by both the FIFO and stride queues.
type Discipline_i interface {
	Add(p *proc.Proc_t)
	Fetch() *proc.Proc_t
	Len() int
}

var dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "rvos_sched_dispatch_total",
	Help: "Number of times a process was fetched from the ready queue and dispatched.",
}, []string{"discipline"})

func init() {
	prometheus.MustRegister(dispatchTotal)
}

/// Fifo_t is a plain FIFO ready queue, grounded on manager.rs's
/// TaskManager.
type Fifo_t struct {
	mu    sync.Mutex
	ready []*proc.Proc_t
}

func NewFifo() *Fifo_t { return &Fifo_t{} }

func (f *Fifo_t) Add(p *proc.Proc_t) {
	f.mu.Lock()
	f.ready = append(f.ready, p)
	f.mu.Unlock()
}

func (f *Fifo_t) Fetch() *proc.Proc_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ready) == 0 {
		return nil
	}
	p := f.ready[0]
	f.ready = f.ready[1:]
	dispatchTotal.WithLabelValues("fifo").Inc()
	return p
}

func (f *Fifo_t) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ready)
}

/// strideHeap is a min-heap over processes ordered by Stride, the stride
/// scheduler's pick-lowest-pass policy (StrideTaskManager's
/// BinaryHeap<Reverse<..>>, without needing the Reverse wrapper since
/// container/heap lets Less define the ordering directly).
type strideHeap []*proc.Proc_t

func (h strideHeap) Len() int            { return len(h) }
func (h strideHeap) Less(i, j int) bool  { return h[i].Stride < h[j].Stride }
func (h strideHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *strideHeap) Push(x interface{}) { *h = append(*h, x.(*proc.Proc_t)) }
func (h *strideHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

/// Stride_t is the stride scheduler's ready queue.
type Stride_t struct {
	mu sync.Mutex
	h  strideHeap
}

func NewStride() *Stride_t { return &Stride_t{} }

func (s *Stride_t) Add(p *proc.Proc_t) {
	s.mu.Lock()
	heap.Push(&s.h, p)
	s.mu.Unlock()
}

/// Fetch pops the process with the lowest stride and advances its
/// stride by BigStride/priority, the same bump Processor::run applies
/// before dispatch.
func (s *Stride_t) Fetch() *proc.Proc_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return nil
	}
	p := heap.Pop(&s.h).(*proc.Proc_t)
	p.Lock()
	if p.Priority <= 0 {
		p.Priority = 1
	}
	p.Stride += proc.BigStride / p.Priority
	p.Unlock()
	dispatchTotal.WithLabelValues("stride").Inc()
	return p
}

func (s *Stride_t) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}
