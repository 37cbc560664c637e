// Package mem implements the kernel's physical frame allocator over a
// host-process RAM arena. See SPEC_FULL.md §0 for why physical memory is a
// plain []byte slab here instead of memory claimed from firmware.
package mem

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = PGSIZE - 1

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// Pa_t represents a physical address: a byte offset into the RAM arena.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed physical page.
type Bytepg_t [PGSIZE]uint8

/// FrameNotAvail is returned when the allocator has exhausted its arena.
var FrameNotAvail = fmt.Errorf("mem: no free frames")

var framesInUse = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "rvos_mem_frames_in_use",
	Help: "Number of physical frames currently allocated.",
})

func init() {
	prometheus.MustRegister(framesInUse)
}

/// Physmem_t is the physical frame allocator. It owns a contiguous RAM
/// arena and hands out frames from a stack of recycled frame numbers plus
/// a monotonically advancing watermark, exactly as
/// original_source/os/src/mm/frame_allocator.rs's StackFrameAllocator does.
type Physmem_t struct {
	mu sync.Mutex

	arena   []byte
	nframes int

	current  int   // watermark: lowest never-yet-allocated frame number
	recycled []int // stack of frame numbers returned by dealloc
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// PhysInit reserves an arena of n frames (n*PGSIZE bytes) for the kernel
/// to allocate from.
func PhysInit(nframes int) *Physmem_t {
	Physmem.arena = make([]byte, nframes*PGSIZE)
	Physmem.nframes = nframes
	Physmem.current = 0
	Physmem.recycled = nil
	return Physmem
}

/// FrameTracker_t is an RAII-style handle on a single physical frame. Go has
/// no destructors, so callers must call Close when the frame is no longer
/// needed; Close is idempotent.
type FrameTracker_t struct {
	phys *Physmem_t
	ppn  int
	once sync.Once
}

/// Ppn returns the frame number backing this tracker.
func (ft *FrameTracker_t) Ppn() int { return ft.ppn }

/// Pa returns the physical address of the start of this frame.
func (ft *FrameTracker_t) Pa() Pa_t { return Pa_t(ft.ppn * PGSIZE) }

/// Bytes returns the frame's backing storage as a page-sized byte slice.
func (ft *FrameTracker_t) Bytes() []byte {
	return ft.phys.arena[ft.ppn*PGSIZE : (ft.ppn+1)*PGSIZE]
}

/// Close returns the frame to the allocator's free list.
func (ft *FrameTracker_t) Close() {
	ft.once.Do(func() {
		ft.phys.dealloc(ft.ppn)
	})
}

/// Alloc reserves one physical frame, zeroes it, and returns an RAII handle.
/// It returns FrameNotAvail when the arena is exhausted.
func (phys *Physmem_t) Alloc() (*FrameTracker_t, error) {
	phys.mu.Lock()
	var ppn int
	if n := len(phys.recycled); n > 0 {
		ppn = phys.recycled[n-1]
		phys.recycled = phys.recycled[:n-1]
	} else if phys.current < phys.nframes {
		ppn = phys.current
		phys.current++
	} else {
		phys.mu.Unlock()
		return nil, FrameNotAvail
	}
	phys.mu.Unlock()

	ft := &FrameTracker_t{phys: phys, ppn: ppn}
	for i := range ft.Bytes() {
		ft.Bytes()[i] = 0
	}
	framesInUse.Inc()
	return ft, nil
}

func (phys *Physmem_t) dealloc(ppn int) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	if ppn >= phys.current {
		panic("mem: double free or frame never allocated")
	}
	for _, r := range phys.recycled {
		if r == ppn {
			panic("mem: double free")
		}
	}
	phys.recycled = append(phys.recycled, ppn)
	framesInUse.Dec()
}

/// FramesInUse reports the number of frames not currently free, for tests
/// and diagnostics.
func (phys *Physmem_t) FramesInUse() int {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	return phys.current - len(phys.recycled)
}

/// BytesAt returns a page-sized slice of the arena at physical address pa,
/// used by the page-table walker and syscall argument translation to
/// read/write physical pages directly.
func (phys *Physmem_t) BytesAt(pa Pa_t) []byte {
	base := int(pa) &^ (PGSIZE - 1)
	return phys.arena[base : base+PGSIZE]
}
