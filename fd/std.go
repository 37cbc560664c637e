package fd

import (
	"bufio"
	"os"
	"sync"

	"rvos/defs"
	"rvos/fdops"
)

// Console_t proxies stdin/stdout/stderr to the host process's own
// standard streams. The simulator has no virtual UART; reading/writing
// the host terminal is the simplest faithful stand-in, per
// original_source/user/src/console.rs's STDIN/STDOUT fd convention.
type Console_t struct {
	mu sync.Mutex
	in *bufio.Reader
	out *os.File
	readable, writable bool
}

var (
	stdinOnce  sync.Once
	stdinRdr   *bufio.Reader
)

func stdinReader() *bufio.Reader {
	stdinOnce.Do(func() { stdinRdr = bufio.NewReader(os.Stdin) })
	return stdinRdr
}

/// NewStdin returns a read-only fd backed by the host's stdin.
func NewStdin() *Fd_t {
	return &Fd_t{Fops: &Console_t{in: stdinReader(), readable: true}, Perms: FD_READ}
}

/// NewStdout returns a write-only fd backed by the host's stdout.
func NewStdout() *Fd_t {
	return &Fd_t{Fops: &Console_t{out: os.Stdout, writable: true}, Perms: FD_WRITE}
}

/// NewStderr returns a write-only fd backed by the host's stderr.
func NewStderr() *Fd_t {
	return &Fd_t{Fops: &Console_t{out: os.Stderr, writable: true}, Perms: FD_WRITE}
}

func (c *Console_t) Read(dst []byte) (int, defs.Err_t) {
	if !c.readable {
		return 0, defs.EBADF
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.in.Read(dst)
	if err != nil && n == 0 {
		return 0, 0 // EOF reads as zero, matching a closed console
	}
	return n, 0
}

func (c *Console_t) Write(src []byte) (int, defs.Err_t) {
	if !c.writable {
		return 0, defs.EBADF
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.out.Write(src)
	if err != nil {
		return n, defs.EIO
	}
	return n, 0
}

func (c *Console_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, defs.ESPIPE
}

func (c *Console_t) Reopen() defs.Err_t { return 0 }
func (c *Console_t) Close() defs.Err_t  { return 0 }

func (c *Console_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	var ready fdops.Ready_t
	if c.readable {
		ready |= fdops.R_READ
	}
	if c.writable {
		ready |= fdops.R_WRITE
	}
	return ready & pm.Events, 0
}
