package fd

import (
	"sync"

	"rvos/defs"
	"rvos/fdops"
	"rvos/limits"
)

/// ringBufferSize is the pipe's fixed-capacity circular byte buffer size,
/// per original_source/os/src/fs/pipe.rs's RING_BUFFER_SIZE.
const ringBufferSize = 32

type ringStatus int

const (
	ringFull ringStatus = iota
	ringEmpty
	ringNormal
)

// pipeBuffer is the shared circular queue between a pipe's two ends.
// Closing an end decrements readers/writers instead of relying on a weak
// reference the way the Rust original does (Go's GC-scoped weak pointers
// aren't the right tool for an explicit close, unlike a strong/weak
// Arc pair) — this repo tracks end liveness with plain counts.
type pipeBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	arr    [ringBufferSize]byte
	head   int
	tail   int
	status ringStatus

	readers int
	writers int
}

func newPipeBuffer() *pipeBuffer {
	pb := &pipeBuffer{status: ringEmpty, readers: 1, writers: 1}
	pb.cond = sync.NewCond(&pb.mu)
	return pb
}

func (pb *pipeBuffer) writeByte(b byte) {
	pb.status = ringNormal
	pb.arr[pb.tail] = b
	pb.tail = (pb.tail + 1) % ringBufferSize
	if pb.tail == pb.head {
		pb.status = ringFull
	}
}

func (pb *pipeBuffer) readByte() byte {
	pb.status = ringNormal
	c := pb.arr[pb.head]
	pb.head = (pb.head + 1) % ringBufferSize
	if pb.head == pb.tail {
		pb.status = ringEmpty
	}
	return c
}

func (pb *pipeBuffer) availableRead() int {
	if pb.status == ringEmpty {
		return 0
	}
	if pb.tail > pb.head {
		return pb.tail - pb.head
	}
	return pb.tail + ringBufferSize - pb.head
}

func (pb *pipeBuffer) availableWrite() int {
	if pb.status == ringFull {
		return 0
	}
	return ringBufferSize - pb.availableRead()
}

/// Pipe_t is one end (read or write) of a pipe.
type Pipe_t struct {
	readable bool
	writable bool
	buf      *pipeBuffer
}

/// MakePipe constructs a connected pipe and returns its (read end, write
/// end) descriptors, gated by limits.Syslimit.Pipes the way biscuit gates
/// pipe creation on Syslimit.Pipes.Taken before allocating one.
func MakePipe() (*Fd_t, *Fd_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, nil, defs.ENFILE
	}
	buf := newPipeBuffer()
	rd := &Pipe_t{readable: true, buf: buf}
	wr := &Pipe_t{writable: true, buf: buf}
	return &Fd_t{Fops: rd, Perms: FD_READ}, &Fd_t{Fops: wr, Perms: FD_WRITE}, 0
}

func (p *Pipe_t) Read(dst []byte) (int, defs.Err_t) {
	if !p.readable {
		return 0, defs.EINVAL
	}
	pb := p.buf
	pb.mu.Lock()
	defer pb.mu.Unlock()
	n := 0
	for n < len(dst) {
		avail := pb.availableRead()
		if avail == 0 {
			if pb.writers == 0 {
				break
			}
			pb.cond.Wait()
			continue
		}
		for avail > 0 && n < len(dst) {
			dst[n] = pb.readByte()
			n++
			avail--
		}
		pb.cond.Broadcast()
		break
	}
	return n, 0
}

func (p *Pipe_t) Write(src []byte) (int, defs.Err_t) {
	if !p.writable {
		return 0, defs.EINVAL
	}
	pb := p.buf
	pb.mu.Lock()
	defer pb.mu.Unlock()
	n := 0
	for n < len(src) {
		if pb.readers == 0 {
			return n, defs.EPIPE
		}
		avail := pb.availableWrite()
		if avail == 0 {
			pb.cond.Wait()
			continue
		}
		for avail > 0 && n < len(src) {
			pb.writeByte(src[n])
			n++
			avail--
		}
		pb.cond.Broadcast()
	}
	return n, 0
}

func (p *Pipe_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, defs.ESPIPE
}

func (p *Pipe_t) Reopen() defs.Err_t {
	pb := p.buf
	pb.mu.Lock()
	if p.readable {
		pb.readers++
	}
	if p.writable {
		pb.writers++
	}
	pb.mu.Unlock()
	return 0
}

func (p *Pipe_t) Close() defs.Err_t {
	pb := p.buf
	pb.mu.Lock()
	if p.readable {
		pb.readers--
	}
	if p.writable {
		pb.writers--
	}
	drained := pb.readers == 0 && pb.writers == 0
	pb.cond.Broadcast()
	pb.mu.Unlock()
	if drained {
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

func (p *Pipe_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	pb := p.buf
	pb.mu.Lock()
	defer pb.mu.Unlock()
	var ready fdops.Ready_t
	if p.readable && (pb.availableRead() > 0 || pb.writers == 0) {
		ready |= fdops.R_READ
	}
	if p.writable && pb.availableWrite() > 0 {
		ready |= fdops.R_WRITE
	}
	if p.readable && pb.writers == 0 {
		ready |= fdops.R_HUP
	}
	return ready & pm.Events, 0
}
