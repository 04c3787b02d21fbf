package tracer

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ptraceRaw issues a raw ptrace(2) syscall for requests x/sys/unix does not
// wrap (PTRACE_GETSIGINFO). addr and data follow the usual ptrace(request,
// pid, addr, data) convention.
func ptraceRaw(request, pid int, addr uintptr, data *byte) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(pid), addr, uintptr(unsafe.Pointer(data)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
