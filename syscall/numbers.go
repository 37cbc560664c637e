// Package syscall implements the syscall table and dispatch, bridging
// trap.Handler's SyscallFunc callback to the proc/fd/fs packages.
// Numbers and argument conventions grounded on
// original_source/user/src/syscall.rs and .../os/src/syscall/{mod.rs,
// process.rs,fs.rs}.
package syscall

/// Syscall numbers, matching the original's ABI exactly so a ported
/// user binary's ecall sites need no renumbering.
const (
	SYS_UNLINKAT      = 35
	SYS_LINKAT        = 37
	SYS_OPENAT        = 56
	SYS_CLOSE         = 57
	SYS_READ          = 63
	SYS_WRITE         = 64
	SYS_FSTAT         = 80
	SYS_EXIT          = 93
	SYS_YIELD         = 124
	SYS_SET_PRIORITY  = 140
	SYS_MUNMAP        = 215
	SYS_MMAP          = 222
	SYS_GETTIMEOFDAY  = 169
	SYS_GETPID        = 172
	SYS_FORK          = 220
	SYS_EXEC          = 221
	SYS_WAITPID       = 260
	SYS_SPAWN         = 400
	SYS_MAIL_READ     = 401
	SYS_MAIL_WRITE    = 402
)
