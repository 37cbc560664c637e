package syscall

import (
	"bytes"
	"fmt"
	"time"

	"rvos/caller"
	"rvos/defs"
	"rvos/fd"
	"rvos/fs"
	"rvos/proc"
	"rvos/sched"
	"rvos/stat"
	"rvos/ustr"
)

/// Table_t wires the syscall numbers to their handlers. It needs the
/// kernel's shared state (physical memory + kernel address space, for
/// building a caller.Caller_t; the process/scheduling machinery; and
/// the root filesystem handle) to do anything.
type Table_t struct {
	Kernel *proc.Kernel
	Hart   *sched.Hart_t
	Efs    *fs.Efs_t
	Init   *proc.Proc_t

	// Programs maps an executable path to the Go function standing in
	// for its machine code (SPEC_FULL.md §0). sys_spawn looks a path up
	// here the same way a real kernel would load the named ELF.
	Programs map[string]proc.Program
}

/// Dispatch implements trap.SyscallFunc: resolve the currently-running
/// process from the hart, decode args against its address space, run
/// the handler, and return the a0 result value.
func (t *Table_t) Dispatch(num uint64, args [3]uint64) uint64 {
	p := t.Hart.Current()
	if p == nil {
		panic("syscall: dispatch with no current process")
	}
	c := caller.From(t.Kernel.Phys, p.Vm.Token())

	switch num {
	case SYS_WRITE:
		return retval(t.sysWrite(p, c, args))
	case SYS_READ:
		return retval(t.sysRead(p, c, args))
	case SYS_EXIT:
		t.sysExit(p, int(int32(args[0])))
		return 0
	case SYS_YIELD:
		// A no-op from the scheduler's point of view: every syscall
		// already ends the process's current quantum (proc.Proc_t.Step
		// hands control back to the hart after exactly one ecall), so
		// yielding and returning immediately already cedes the hart to
		// whichever process the ready-queue discipline picks next.
		return 0
	case SYS_GETPID:
		return uint64(p.Pid.Pid())
	case SYS_FORK:
		return retval(t.sysFork(p))
	case SYS_EXEC:
		return retval(t.sysExec(p, c, args))
	case SYS_WAITPID:
		return retval(t.sysWaitpid(p, c, args))
	case SYS_SET_PRIORITY:
		return retval(t.sysSetPriority(p, args))
	case SYS_MMAP:
		return retval(t.sysMmap(p, args))
	case SYS_MUNMAP:
		return retval(t.sysMunmap(p, args))
	case SYS_OPENAT:
		return retval(t.sysOpenat(p, c, args))
	case SYS_CLOSE:
		return retval(t.sysClose(p, args))
	case SYS_LINKAT:
		return retval(t.sysLinkat(p, c, args))
	case SYS_UNLINKAT:
		return retval(t.sysUnlinkat(p, c, args))
	case SYS_MAIL_READ:
		return retval(t.sysRead(p, c, args))
	case SYS_MAIL_WRITE:
		return retval(t.sysWrite(p, c, args))
	case SYS_SPAWN:
		return retval(t.sysSpawn(p, c, args))
	case SYS_FSTAT:
		return retval(0, t.sysFstat(p, c, args))
	case SYS_GETTIMEOFDAY:
		return retval(0, t.sysGettimeofday(c, args))
	default:
		return retval(0, defs.ENOSYS)
	}
}

func retval(n int, err defs.Err_t) uint64 {
	if err != 0 {
		return uint64(int64(err))
	}
	return uint64(int64(n))
}

func (t *Table_t) fdOf(p *proc.Proc_t, n int) (*fd.Fd_t, defs.Err_t) {
	f := p.Fds.Get(n)
	if f == nil {
		return nil, defs.EBADF
	}
	return f, 0
}

func (t *Table_t) sysWrite(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	f, err := t.fdOf(p, int(args[0]))
	if err != 0 {
		return 0, err
	}
	buf, err := c.TranslatedBytes(args[1], int(args[2]))
	if err != 0 {
		return 0, err
	}
	n, werr := f.Fops.Write(buf)
	return n, werr
}

func (t *Table_t) sysRead(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	f, err := t.fdOf(p, int(args[0]))
	if err != 0 {
		return 0, err
	}
	tmp := make([]byte, args[2])
	n, rerr := f.Fops.Read(tmp)
	if rerr != 0 {
		return 0, rerr
	}
	if werr := c.WriteTranslated(args[1], tmp[:n]); werr != 0 {
		return 0, werr
	}
	return n, 0
}

func (t *Table_t) sysExit(p *proc.Proc_t, code int) {
	t.Kernel.Exit(p, code, t.Init)
}

func (t *Table_t) sysFork(p *proc.Proc_t) (int, defs.Err_t) {
	child, err := t.Kernel.Fork(p, nil)
	if err != nil {
		return 0, defs.ENOMEM
	}
	t.Hart.Queue.Add(child)
	return child.Pid.Pid(), 0
}

func (t *Table_t) sysExec(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	path, err := c.TranslatedStr(args[0])
	if err != 0 {
		return 0, err
	}
	elfData, ferr := t.readWholeFile(ustr.Ustr(path))
	if ferr != 0 {
		return 0, ferr
	}
	if err := t.Kernel.Exec(p, elfData); err != nil {
		return 0, defs.ENOEXEC
	}
	return 0, 0
}

// sysSpawn implements the posix_spawn-style fork+exec-in-one syscall
// original_source/user/src/syscall.rs calls sys_spawn: load the named
// path's Program and start a brand-new child running it, sidestepping
// the continuation-cloning problem a bare fork() can't solve here (see
// proc.Kernel.Fork's doc comment).
func (t *Table_t) sysSpawn(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	pathStr, err := c.TranslatedStr(args[0])
	if err != 0 {
		return 0, err
	}
	path := t.resolvePath(p, pathStr)
	elfData, ferr := t.readWholeFile(path)
	if ferr != 0 {
		return 0, ferr
	}
	program, ok := t.Programs[string(path)]
	if !ok {
		return 0, defs.ENOEXEC
	}
	child, serr := t.Kernel.Spawn(p, elfData, program)
	if serr != nil {
		return 0, defs.ENOMEM
	}
	t.Hart.Queue.Add(child)
	return child.Pid.Pid(), 0
}

func (t *Table_t) sysFstat(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) defs.Err_t {
	f, err := t.fdOf(p, int(args[0]))
	if err != 0 {
		return err
	}
	rf, ok := f.Fops.(*fd.RegularFile_t)
	if !ok {
		return defs.EBADF
	}
	sz, dir, serr := rf.Stat()
	if serr != nil {
		return defs.EIO
	}
	st := &stat.Stat_t{}
	st.Wsize(uint(sz))
	if dir {
		st.Wmode(defs.S_IFDIR)
	} else {
		st.Wmode(defs.S_IFREG)
	}
	return c.WriteTranslated(args[1], st.Bytes())
}

func (t *Table_t) sysGettimeofday(c *caller.Caller_t, args [3]uint64) defs.Err_t {
	now := time.Now()
	var buf [16]byte
	sec := uint64(now.Unix())
	usec := uint64(now.Nanosecond() / 1000)
	for i := 0; i < 8; i++ {
		buf[i] = byte(sec >> (8 * i))
		buf[8+i] = byte(usec >> (8 * i))
	}
	return c.WriteTranslated(args[0], buf[:])
}

func (t *Table_t) sysWaitpid(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	reaped, status, err := p.Waitpid(int(int64(int32(args[0]))))
	if err != 0 {
		return 0, err
	}
	if reaped == 0 {
		return 0, defs.EAGAIN
	}
	if args[1] != 0 {
		var buf [4]byte
		buf[0] = byte(status)
		buf[1] = byte(status >> 8)
		buf[2] = byte(status >> 16)
		buf[3] = byte(status >> 24)
		if werr := c.WriteTranslated(args[1], buf[:]); werr != 0 {
			return 0, werr
		}
	}
	return reaped, 0
}

func (t *Table_t) sysSetPriority(p *proc.Proc_t, args [3]uint64) (int, defs.Err_t) {
	prio := int64(args[0])
	if prio <= 1 {
		return 0, defs.EINVAL
	}
	p.Lock()
	p.Priority = prio
	p.Unlock()
	return int(prio), 0
}

func (t *Table_t) sysMmap(p *proc.Proc_t, args [3]uint64) (int, defs.Err_t) {
	n, err := p.Mmap(args[0], args[1], int(args[2]))
	return int(n), err
}

func (t *Table_t) sysMunmap(p *proc.Proc_t, args [3]uint64) (int, defs.Err_t) {
	n, err := p.Munmap(args[0], args[1])
	return int(n), err
}

func (t *Table_t) resolvePath(p *proc.Proc_t, path string) ustr.Ustr {
	u := ustr.Ustr(path)
	if p.Cwd != nil {
		return p.Cwd.Canonicalpath(u)
	}
	return u
}

// walk resolves a (possibly multi-component) absolute path starting
// from the filesystem root, returning the handle on the final
// component, or its parent handle and base name if it does not exist
// (so callers like openat's O_CREAT can create it there).
func (t *Table_t) walk(path ustr.Ustr) (found *fs.FileHandle_t, parent *fs.FileHandle_t, base ustr.Ustr, err error) {
	cur := fs.Root(t.Efs)
	comps := bytes.Split(bytes.Trim([]byte(path), "/"), []byte("/"))
	if len(comps) == 1 && len(comps[0]) == 0 {
		return cur, nil, nil, nil
	}
	for i, comp := range comps {
		name := ustr.Ustr(comp)
		child, ok, ferr := cur.Find(name)
		if ferr != nil {
			return nil, nil, nil, ferr
		}
		if i == len(comps)-1 {
			if !ok {
				return nil, cur, name, nil
			}
			return child, cur, name, nil
		}
		if !ok {
			return nil, nil, nil, fmt.Errorf("fs: %s: no such directory", name)
		}
		cur = child
	}
	return cur, nil, nil, nil
}

func (t *Table_t) readWholeFile(path ustr.Ustr) ([]byte, defs.Err_t) {
	h, _, _, ferr := t.walk(path)
	if ferr != nil || h == nil {
		return nil, defs.ENOENT
	}
	sz, serr := h.Size()
	if serr != nil {
		return nil, defs.EIO
	}
	buf := make([]byte, sz)
	if _, rerr := h.ReadAt(0, buf); rerr != nil {
		return nil, defs.EIO
	}
	return buf, 0
}

func (t *Table_t) sysOpenat(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	pathStr, err := c.TranslatedStr(args[0])
	if err != 0 {
		return 0, err
	}
	flags := int(args[1])
	path := t.resolvePath(p, pathStr)
	h, parent, base, ferr := t.walk(path)
	if ferr != nil {
		return 0, defs.ENOTDIR
	}
	if h == nil {
		if flags&defs.O_CREAT == 0 || parent == nil {
			return 0, defs.ENOENT
		}
		nh, cerr := parent.CreateFile(base)
		if cerr != nil {
			return 0, defs.EIO
		}
		h = nh
	}
	isDir, _ := h.IsDir()
	perms := fd.FD_READ
	if flags&0x3 == defs.O_WRONLY {
		perms = fd.FD_WRITE
	} else if flags&0x3 == defs.O_RDWR {
		perms = fd.FD_READ | fd.FD_WRITE
	}
	var nfd *fd.Fd_t
	if isDir {
		nfd = fd.OpenDir(h)
	} else {
		if flags&defs.O_TRUNC != 0 {
			h.Truncate()
		}
		nfd = fd.OpenRegularFile(h, perms)
	}
	return p.Fds.Install(nfd), 0
}

func (t *Table_t) sysClose(p *proc.Proc_t, args [3]uint64) (int, defs.Err_t) {
	f := p.Fds.Remove(int(args[0]))
	if f == nil {
		return 0, defs.EBADF
	}
	return 0, f.Fops.Close()
}

func (t *Table_t) sysLinkat(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	oldStr, err := c.TranslatedStr(args[0])
	if err != 0 {
		return 0, err
	}
	newStr, err := c.TranslatedStr(args[1])
	if err != 0 {
		return 0, err
	}
	target, _, _, ferr := t.walk(t.resolvePath(p, oldStr))
	if ferr != nil || target == nil {
		return 0, defs.ENOENT
	}
	_, parent, base, ferr := t.walk(t.resolvePath(p, newStr))
	if ferr != nil || parent == nil {
		return 0, defs.ENOENT
	}
	if lerr := parent.Link(base, target); lerr != nil {
		return 0, defs.EEXIST
	}
	return 0, 0
}

func (t *Table_t) sysUnlinkat(p *proc.Proc_t, c *caller.Caller_t, args [3]uint64) (int, defs.Err_t) {
	pathStr, err := c.TranslatedStr(args[0])
	if err != 0 {
		return 0, err
	}
	_, parent, base, ferr := t.walk(t.resolvePath(p, pathStr))
	if ferr != nil || parent == nil {
		return 0, defs.ENOENT
	}
	if uerr := parent.Unlink(base); uerr != nil {
		return 0, defs.ENOENT
	}
	return 0, 0
}
