// Package tracer wraps the Linux ptrace(2) interface as a small state
// machine per PID: attach-and-wait, continue, detach, register get/set via
// NT_PRSTATUS, signal info, and a word-at-a-time peek/poke, all with
// EINTR-retried waitpid. The calling goroutine must be the one that issued
// PTRACE_ATTACH — the kernel enforces tracer identity by thread, so callers
// are expected to runtime.LockOSThread() for the session's lifetime (see
// internal/session).
package tracer

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
)

// State is one of the three states a tracee can be in from the tracer's
// point of view.
type State int

const (
	Detached State = iota
	Stopped
	Running
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Tracer holds the ptrace state machine for one tracee PID.
type Tracer struct {
	PID   int
	state State

	// LastStopSignal is the signal the most recent waitpid stop reported.
	LastStopSignal int
	// LastStopStatus is the raw wait status of the most recent stop.
	LastStopStatus unix.WaitStatus
}

// Attach issues PTRACE_ATTACH and blocks until the tracee is stopped,
// retrying waitpid on EINTR.
func Attach(pid int) (*Tracer, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		if err == unix.ESRCH {
			return nil, &ixerr.ProcessNotFound{PID: pid}
		}
		if err == unix.EPERM {
			return nil, &ixerr.PermissionDenied{PID: pid, Op: "PTRACE_ATTACH"}
		}
		return nil, &ixerr.AttachFailed{PID: pid, Reason: err.Error()}
	}

	t := &Tracer{PID: pid, state: Stopped}
	if err := t.waitStopped(); err != nil {
		return nil, err
	}
	if introlog.L != nil {
		introlog.L.Attach(pid)
	}
	return t, nil
}

// State returns the tracee's current state as tracked by this Tracer.
func (t *Tracer) State() State { return t.state }

// waitStopped retries waitpid until the tracee reports WIFSTOPPED, retrying
// transparently on EINTR.
func (t *Tracer) waitStopped() error {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(t.PID, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return &ixerr.WaitFailed{PID: t.PID, Reason: err.Error()}
		}
		if wpid != t.PID {
			continue
		}
		if !ws.Stopped() {
			return &ixerr.WaitFailed{PID: t.PID, Reason: fmt.Sprintf("unexpected wait status %#x", ws)}
		}
		t.state = Stopped
		t.LastStopStatus = ws
		t.LastStopSignal = ws.StopSignal()
		return nil
	}
}

// Cont issues PTRACE_CONT, moving Stopped -> Running. The caller must then
// call Wait to observe the next stop.
func (t *Tracer) Cont(signal int) error {
	if err := unix.PtraceCont(t.PID, signal); err != nil {
		return &ixerr.RegisterAccessFailed{PID: t.PID, Op: "PTRACE_CONT", Reason: err.Error()}
	}
	t.state = Running
	return nil
}

// Wait blocks for the next wait status on this tracee, retrying on EINTR.
// Any stop (including a fresh group-stop) transitions back to Stopped.
func (t *Tracer) Wait() (unix.WaitStatus, error) {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(t.PID, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, &ixerr.WaitFailed{PID: t.PID, Reason: err.Error()}
		}
		if wpid != t.PID {
			continue
		}
		t.LastStopStatus = ws
		if ws.Stopped() {
			t.state = Stopped
			t.LastStopSignal = ws.StopSignal()
		} else {
			t.state = Detached
		}
		return ws, nil
	}
}

// Detach issues PTRACE_DETACH, moving Stopped -> Detached. Safe to call more
// than once; a call on an already detached tracee is a no-op that returns nil.
func (t *Tracer) Detach() error {
	if t.state == Detached {
		return nil
	}
	if err := unix.PtraceDetach(t.PID); err != nil {
		return fmt.Errorf("detach pid %d: %w", t.PID, err)
	}
	t.state = Detached
	if introlog.L != nil {
		introlog.L.Detach(t.PID)
	}
	return nil
}

// GetRegs reads the tracee's general-purpose registers via
// PTRACE_GETREGSET/NT_PRSTATUS.
func (t *Tracer) GetRegs() (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.PID, &regs); err != nil {
		return regs, &ixerr.RegisterAccessFailed{PID: t.PID, Op: "GETREGSET", Reason: err.Error()}
	}
	return regs, nil
}

// SetRegs writes the tracee's general-purpose registers via
// PTRACE_SETREGSET/NT_PRSTATUS.
func (t *Tracer) SetRegs(regs *unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(t.PID, regs); err != nil {
		return &ixerr.RegisterAccessFailed{PID: t.PID, Op: "SETREGSET", Reason: err.Error()}
	}
	return nil
}

// PeekWord reads one machine word at addr via PTRACE_PEEKDATA.
func (t *Tracer) PeekWord(addr uint64) (uint64, error) {
	var buf [8]byte
	n, err := unix.PtracePeekData(t.PID, uintptr(addr), buf[:])
	if err != nil || n != len(buf) {
		return 0, &ixerr.MemoryReadFailed{Addr: addr, Size: 8}
	}
	return leUint64(buf[:]), nil
}

// PokeWord writes one machine word at addr via PTRACE_POKEDATA.
func (t *Tracer) PokeWord(addr, val uint64) error {
	var buf [8]byte
	beLEPutUint64(buf[:], val)
	n, err := unix.PtracePokeData(t.PID, uintptr(addr), buf[:])
	if err != nil || n != len(buf) {
		return &ixerr.MemoryWriteFailed{Addr: addr, Size: 8}
	}
	return nil
}

// SigInfo returns the signal number and, for fault signals (SIGSEGV/SIGBUS/
// SIGTRAP), the faulting address via PTRACE_GETSIGINFO. x/sys/unix does not
// wrap this request, so it is issued directly; the si_addr field lives at a
// fixed offset in the kernel's siginfo_t that is identical across amd64 and
// arm64 for the fault-signal union member this needs.
func (t *Tracer) SigInfo() (signal int, addr uint64, err error) {
	var raw [128]byte
	if e := ptraceRaw(unix.PTRACE_GETSIGINFO, t.PID, 0, &raw[0]); e != nil {
		return 0, 0, &ixerr.RegisterAccessFailed{PID: t.PID, Op: "GETSIGINFO", Reason: e.Error()}
	}
	signal = int(leUint32(raw[0:4]))
	const siAddrOffset = 16 // si_signo, si_errno, si_code (4 bytes each), 4 bytes padding, then the sigfault union
	addr = leUint64(raw[siAddrOffset : siAddrOffset+8])
	return signal, addr, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func beLEPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
