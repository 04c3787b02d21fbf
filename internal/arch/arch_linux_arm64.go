//go:build arm64

package arch

import "golang.org/x/sys/unix"

// arm64Frame implements Frame for the AArch64 procedure call standard:
// arguments in x0..x5; return value in x0; return address in the link
// register x30.
type arm64Frame struct{}

// New returns the arm64 Frame implementation.
func New() Frame { return arm64Frame{} }

func (arm64Frame) SetupCall(regs unix.PtraceRegs, funcAddr uint64, args []uint64, returnAddr uint64) (unix.PtraceRegs, uint64) {
	if len(args) > MaxCallArgs {
		args = args[:MaxCallArgs]
	}
	for i, a := range args {
		regs.Regs[i] = a
	}
	regs.Pc = funcAddr
	regs.Regs[30] = returnAddr // x30 (lr): the tracee returns straight to 0
	return regs, 0
}

func (arm64Frame) ReturnValue(regs unix.PtraceRegs) uint64 { return regs.Regs[0] }

func (arm64Frame) PC(regs unix.PtraceRegs) uint64 { return regs.Pc }

func (arm64Frame) SetPC(regs unix.PtraceRegs, pc uint64) unix.PtraceRegs {
	regs.Pc = pc
	return regs
}

func (arm64Frame) Breakpoint() BreakpointInstr {
	return BreakpointInstr{Bytes: []byte{0x00, 0x00, 0x20, 0xd4}, Len: 4} // brk #0
}
