// Package progs holds the built-in Go closures registered in
// syscall.Table_t.Programs, standing in for compiled user binaries
// (SPEC_FULL.md §0). Each one is grounded on one of
// original_source/user/src/bin/*.rs's test applications, adapted from a
// bare fork()-returns-0-in-the-child idiom (impossible to reproduce
// without a cloned continuation, see proc.Kernel.Fork) to this
// simulator's spawn-by-path primitive wherever the original relied on
// the child diverging into different code.
package progs

import (
	"log/slog"
	"strings"

	"rvos/defs"
	"rvos/proc"
	"rvos/syscall"
)

func errOf(ret uint64) int64 { return int64(ret) }

// Init mirrors ch5_initproc.rs: spawn the shell, then loop forever
// reaping whatever zombie children get reparented onto it, yielding
// between polls exactly as the original's wait()==-1 branch does.
func Init(rt *proc.Syscalls) {
	pathAddr := rt.PutString("/bin/shell")
	cpid := errOf(rt.Raw(syscall.SYS_SPAWN, pathAddr, 0, 0))
	if cpid < 0 {
		slog.Error("progs: init: spawn /bin/shell failed", "err", cpid)
	}
	for {
		statusAddr := rt.Put(make([]byte, 4))
		pid := errOf(rt.Raw(syscall.SYS_WAITPID, uint64(0xFFFFFFFF), statusAddr, 0))
		if pid == int64(defs.EAGAIN) {
			rt.Raw(syscall.SYS_YIELD, 0, 0, 0)
			continue
		}
		if pid == int64(defs.ECHILD) {
			rt.Raw(syscall.SYS_YIELD, 0, 0, 0)
			continue
		}
		status := rt.Get(statusAddr, 4)
		slog.Info("init: reaped zombie", "pid", pid, "status", status)
	}
}

// Shell mirrors ch5_usershell.rs's spawn+waitpid loop, minus the
// interactive line-editing: it reads one line at a time from stdin
// (fd 0), spawns it, and waits for it to finish before prompting again.
func Shell(rt *proc.Syscalls) {
	for {
		lineAddr := rt.Put(make([]byte, 64))
		n := errOf(rt.Raw(syscall.SYS_READ, 0, lineAddr, 64))
		if n <= 0 {
			rt.Raw(syscall.SYS_YIELD, 0, 0, 0)
			continue
		}
		line := strings.TrimRight(string(rt.Get(lineAddr, int(n))), "\r\n")
		if line == "" {
			continue
		}
		pathAddr := rt.PutString("/bin/" + line)
		cpid := errOf(rt.Raw(syscall.SYS_SPAWN, pathAddr, 0, 0))
		if cpid < 0 {
			slog.Warn("shell: no such program", "name", line)
			continue
		}
		for {
			statusAddr := rt.Put(make([]byte, 4))
			pid := errOf(rt.Raw(syscall.SYS_WAITPID, uint64(cpid), statusAddr, 0))
			if pid == int64(defs.EAGAIN) {
				rt.Raw(syscall.SYS_YIELD, 0, 0, 0)
				continue
			}
			break
		}
	}
}

// Mail3 mirrors ch6_mail3.rs's exercise of the mailbox syscalls, adapted
// to this simulator's fd-addressed mailbox (fd 3, installed by
// proc.New) rather than the original's pid-addressed one: write until
// full, confirm the next write is rejected, drain one packet, exit.
func Mail3(rt *proc.Syscalls) {
	const mailFd = 3
	packet := make([]byte, 256)
	for i := range packet {
		packet[i] = 'a'
	}
	bufAddr := rt.Put(packet)

	for i := 0; i < 16; i++ {
		n := errOf(rt.Raw(syscall.SYS_MAIL_WRITE, mailFd, bufAddr, uint64(len(packet))))
		if n != int64(len(packet)) {
			slog.Error("progs: mail3: unexpected short write", "n", n)
			rt.Raw(syscall.SYS_EXIT, ^uint64(0), 0, 0)
			return
		}
	}
	full := errOf(rt.Raw(syscall.SYS_MAIL_WRITE, mailFd, bufAddr, uint64(len(packet))))
	if full != int64(defs.EAGAIN) {
		slog.Error("progs: mail3: mailbox should be full", "got", full)
	}

	readAddr := rt.Put(make([]byte, 256))
	n := errOf(rt.Raw(syscall.SYS_MAIL_READ, mailFd, readAddr, 256))
	if n != 256 {
		slog.Error("progs: mail3: unexpected read length", "n", n)
	}
	slog.Info("progs: mail3 test OK")
	rt.Raw(syscall.SYS_EXIT, 0, 0, 0)
}

// Sleep mirrors ch3_sleep.rs: busy-yield until a fixed number of
// quanta have elapsed, demonstrating SYS_YIELD's cooperative-scheduling
// role without depending on wall-clock timing across test runs.
func Sleep(rt *proc.Syscalls) {
	for i := 0; i < 10; i++ {
		rt.Raw(syscall.SYS_YIELD, 0, 0, 0)
	}
	slog.Info("progs: sleep test OK")
	rt.Raw(syscall.SYS_EXIT, 0, 0, 0)
}

// Table returns the built-in path->Program registry handed to
// syscall.Table_t.Programs at boot.
func Table() map[string]proc.Program {
	return map[string]proc.Program{
		"/bin/init":  Init,
		"/bin/shell": Shell,
		"/bin/mail3": Mail3,
		"/bin/sleep": Sleep,
	}
}
