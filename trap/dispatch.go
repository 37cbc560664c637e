package trap

import "log/slog"

/// Cause classifies why control returned to the kernel, mirroring the
/// scause::Trap variants original_source/os/src/trap/mod.rs switches on.
/// The simulator has no scause CSR to read — callers construct a Cause
/// directly (e.g. "this goroutine called the syscall entrypoint" is
/// always UserEnvCall) rather than decoding a hardware register.
type Cause int

const (
	UserEnvCall Cause = iota
	StoreFault
	StorePageFault
	IllegalInstruction
)

func (c Cause) String() string {
	switch c {
	case UserEnvCall:
		return "UserEnvCall"
	case StoreFault:
		return "StoreFault"
	case StorePageFault:
		return "StorePageFault"
	case IllegalInstruction:
		return "IllegalInstruction"
	default:
		return "Unknown"
	}
}

/// SyscallFunc dispatches one syscall number/argument triple to its
/// handler and returns the value to place in a0. It is supplied by the
/// syscall package at boot time rather than imported directly, so trap
/// stays below syscall in the import graph (trap/mod.rs calls into
/// crate::syscall::syscall the same way, but Go's package graph can't
/// have syscall depend on trap and trap depend on syscall).
type SyscallFunc func(num uint64, args [3]uint64) uint64

/// Fault is called back when a trap's Cause indicates the process
/// cannot continue (a bad memory access or illegal instruction); it
/// should arrange for the current process to be torn down and the
/// scheduler to run something else, matching original's run_next_app
/// call from those same two match arms.
type Fault func(cause Cause, stval uint64)

/// Handler wires together the syscall dispatch function and the fault
/// callback; Dispatch uses it instead of reaching for globals.
type Handler struct {
	Syscall SyscallFunc
	OnFault Fault
	Log     *slog.Logger
}

/// Dispatch is the trap handler: given why control returned to the
/// kernel and the trap frame at that moment, it either resolves a
/// syscall and writes its result back into cx, or reports a fault.
func (h *Handler) Dispatch(cause Cause, stval uint64, cx *Context) {
	switch cause {
	case UserEnvCall:
		num, args := cx.Syscall()
		ret := h.Syscall(num, args)
		cx.SetReturn(ret)
	case StoreFault, StorePageFault:
		h.log().Warn("page fault in process", "stval", stval)
		h.OnFault(cause, stval)
	case IllegalInstruction:
		h.log().Warn("illegal instruction in process", "stval", stval)
		h.OnFault(cause, stval)
	default:
		h.log().Error("unsupported trap", "cause", cause.String(), "stval", stval)
		h.OnFault(cause, stval)
	}
}

func (h *Handler) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}
