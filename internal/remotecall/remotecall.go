// Package remotecall synthesizes a function call inside a stopped tracee:
// given a tracee-side function address and up to six integer arguments, it
// builds a register frame that places the arguments, sets the program
// counter to the target function, and arranges the return address to be the
// sentinel address 0. It resumes the tracee and waits for either a crash at
// address 0 (a normal return) or a software breakpoint (an overflow
// handshake the caller handles via OnTrap), restoring the tracee's original
// registers on every exit path.
package remotecall

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zboralski/introspect/internal/arch"
	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
	"github.com/zboralski/introspect/internal/memaccess"
	"github.com/zboralski/introspect/internal/tracer"
)

// OnTrap is invoked when the tracee stops on a SIGTRAP that is not the
// function's normal return. It receives the registers as observed at the
// trap and must return registers with the PC advanced past the breakpoint
// instruction; the engine writes these back and resumes the tracee. An
// error aborts the call.
type OnTrap func(regs unix.PtraceRegs) (unix.PtraceRegs, error)

// Engine drives synthesized remote calls against one attached tracer.
type Engine struct {
	t     *tracer.Tracer
	mem   *memaccess.Accessor
	frame arch.Frame
}

// New returns an Engine for the given attached tracer.
func New(t *tracer.Tracer, mem *memaccess.Accessor) *Engine {
	return &Engine{t: t, mem: mem, frame: arch.New()}
}

// Call synthesizes a call to funcAddr with args (at most arch.MaxCallArgs),
// optionally handling intermediate SIGTRAP stops via onTrap, and returns the
// function's result register. The tracee's registers are restored to their
// pre-call snapshot before returning, on every exit path.
func (e *Engine) Call(funcAddr uint64, args []uint64, onTrap OnTrap) (uint64, error) {
	if len(args) > arch.MaxCallArgs {
		return 0, &ixerr.IllegalArgument{What: fmt.Sprintf("remote call with %d args exceeds max %d", len(args), arch.MaxCallArgs)}
	}

	orig, err := e.t.GetRegs()
	if err != nil {
		return 0, err
	}

	newRegs, stackSlot := e.frame.SetupCall(orig, funcAddr, args, 0)
	if stackSlot != 0 {
		if err := e.t.PokeWord(stackSlot, 0); err != nil {
			return 0, fmt.Errorf("poke sentinel return address: %w", err)
		}
	}

	if introlog.L != nil {
		introlog.L.RemoteCall(funcAddr, args)
	}

	if err := e.t.SetRegs(&newRegs); err != nil {
		e.restore(orig)
		return 0, err
	}

	ret, callErr := e.runUntilReturn(onTrap)

	if restoreErr := e.restoreRegs(orig); restoreErr != nil && callErr == nil {
		callErr = restoreErr
	}

	if callErr != nil {
		return 0, callErr
	}
	if introlog.L != nil {
		introlog.L.RemoteCallResult(funcAddr, ret)
	}
	return ret, nil
}

func (e *Engine) runUntilReturn(onTrap OnTrap) (uint64, error) {
	if err := e.t.Cont(0); err != nil {
		return 0, err
	}

	for {
		ws, err := e.t.Wait()
		if err != nil {
			return 0, err
		}
		if ws.Exited() || ws.Signaled() {
			return 0, &ixerr.RemoteCallFailed{Reason: "tracee exited or died during remote call"}
		}
		if !ws.Stopped() {
			return 0, &ixerr.RemoteCallFailed{Reason: fmt.Sprintf("unexpected wait status %#x", ws)}
		}

		sig, faultAddr, err := e.t.SigInfo()
		if err != nil {
			return 0, err
		}

		if sig == int(unix.SIGSEGV) && faultAddr == 0 {
			regs, err := e.t.GetRegs()
			if err != nil {
				return 0, err
			}
			return e.frame.ReturnValue(regs), nil
		}

		if sig == int(unix.SIGTRAP) && onTrap != nil {
			regs, err := e.t.GetRegs()
			if err != nil {
				return 0, err
			}
			newRegs, err := onTrap(regs)
			if err != nil {
				return 0, fmt.Errorf("trap handler: %w", err)
			}
			if err := e.t.SetRegs(&newRegs); err != nil {
				return 0, err
			}
			if err := e.t.Cont(0); err != nil {
				return 0, err
			}
			continue
		}

		return 0, &ixerr.UnexpectedSignal{Signal: sig, Addr: faultAddr}
	}
}

func (e *Engine) restore(orig unix.PtraceRegs) {
	_ = e.restoreRegs(orig)
}

func (e *Engine) restoreRegs(orig unix.PtraceRegs) error {
	return e.t.SetRegs(&orig)
}
