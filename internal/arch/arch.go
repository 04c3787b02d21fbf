// Package arch defines the architecture-tagged register frame the remote
// call engine drives, and supplies one build-tag-selected implementation per
// supported architecture (linux/amd64, linux/arm64). Only those two
// GOARCHes are supported; any other is a compile-time error by virtue of
// there being no arch_linux_<GOARCH>.go file to satisfy the New() symbol.
package arch

import "golang.org/x/sys/unix"

// MaxCallArgs is the number of integer arguments a synthesized remote call
// can place in registers.
const MaxCallArgs = 6

// BreakpointInstr is this architecture's software breakpoint encoding and
// its length in bytes, used both to recognize the overflow handshake and to
// step the tracee's PC past it.
type BreakpointInstr struct {
	Bytes []byte
	Len   uint64
}

// Frame is the architecture-specific view of a tracee's register set needed
// to synthesize a remote call.
type Frame interface {
	// SetupCall returns a copy of regs with the call-setup applied: up to six
	// integer arguments placed in the ABI's argument registers, PC set to
	// funcAddr, and the return address arranged to be returnAddr (0, the
	// sentinel). On amd64 this also requires poking the sentinel onto the
	// stack; SetupCall reports the stack slot address via the second return
	// value when non-zero so the caller can poke it (arm64 returns 0, since
	// the link register carries the return address directly).
	SetupCall(regs unix.PtraceRegs, funcAddr uint64, args []uint64, returnAddr uint64) (unix.PtraceRegs, uint64)

	// ReturnValue extracts the function result register.
	ReturnValue(regs unix.PtraceRegs) uint64

	// PC returns the program counter.
	PC(regs unix.PtraceRegs) uint64

	// SetPC returns regs with the program counter set to pc.
	SetPC(regs unix.PtraceRegs, pc uint64) unix.PtraceRegs

	// Breakpoint is this architecture's software breakpoint instruction.
	Breakpoint() BreakpointInstr
}
