//go:build amd64

package arch

import "golang.org/x/sys/unix"

// amd64Frame implements Frame for the System V AMD64 calling convention:
// arguments in rdi, rsi, rdx, rcx, r8, r9; return value in rax.
type amd64Frame struct{}

// New returns the amd64 Frame implementation.
func New() Frame { return amd64Frame{} }

func (amd64Frame) SetupCall(regs unix.PtraceRegs, funcAddr uint64, args []uint64, returnAddr uint64) (unix.PtraceRegs, uint64) {
	if len(args) > MaxCallArgs {
		args = args[:MaxCallArgs]
	}
	argRegs := []*uint64{&regs.Rdi, &regs.Rsi, &regs.Rdx, &regs.Rcx, &regs.R8, &regs.R9}
	for i, a := range args {
		*argRegs[i] = a
	}
	regs.Rip = funcAddr
	regs.Rax = 0
	// Reserve one stack slot for the sentinel return address: the CPU's call
	// mechanism isn't involved (we set rip directly, we don't call), so the
	// return address must be written to [rsp-8] by the caller via the
	// returned stack slot address, and rsp decremented to point at it.
	regs.Rsp -= 8
	return regs, regs.Rsp
}

func (amd64Frame) ReturnValue(regs unix.PtraceRegs) uint64 { return regs.Rax }

func (amd64Frame) PC(regs unix.PtraceRegs) uint64 { return regs.Rip }

func (amd64Frame) SetPC(regs unix.PtraceRegs, pc uint64) unix.PtraceRegs {
	regs.Rip = pc
	return regs
}

func (amd64Frame) Breakpoint() BreakpointInstr {
	return BreakpointInstr{Bytes: []byte{0xcc}, Len: 1} // int3
}
