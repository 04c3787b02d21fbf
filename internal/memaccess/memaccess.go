// Package memaccess reads and writes arbitrary ranges of a tracee's virtual
// address space via process_vm_readv/process_vm_writev, with typed helpers
// for structs, null-terminated strings, and arrays. The tracee need not be
// ptrace-stopped for these syscalls to work (they only require the tracer to
// hold CAP_SYS_PTRACE or to already be attached), but callers in this repo
// only ever use them while the tracee is stopped, per the session's attach
// discipline.
package memaccess

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
)

// Accessor reads and writes the memory of one tracee, identified by PID.
type Accessor struct {
	PID int
}

// New returns an Accessor for the given tracee PID.
func New(pid int) *Accessor {
	return &Accessor{PID: pid}
}

// ReadBytes reads up to size bytes starting at addr. Fewer bytes than
// requested is acceptable (the region may end before addr+size); zero bytes
// read is a MemoryReadFailed error.
func (a *Accessor) ReadBytes(addr uint64, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: int(size)}}

	n, err := unix.ProcessVMReadv(a.PID, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv pid=%d addr=%s size=%d: %w",
			a.PID, introlog.Hex(addr), size, err)
	}
	if n == 0 {
		return nil, &ixerr.MemoryReadFailed{Addr: addr, Size: size}
	}
	return buf[:n], nil
}

// WriteMem writes all of data to addr. Partial transfer is a
// MemoryWriteFailed error.
func (a *Accessor) WriteMem(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}

	n, err := unix.ProcessVMWritev(a.PID, local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_writev pid=%d addr=%s size=%d: %w",
			a.PID, introlog.Hex(addr), len(data), err)
	}
	if n != len(data) {
		return &ixerr.MemoryWriteFailed{Addr: addr, Size: uint64(len(data))}
	}
	return nil
}

// ReadUint64 reads one little-endian uint64 at addr.
func (a *Accessor) ReadUint64(addr uint64) (uint64, error) {
	b, err := a.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, &ixerr.MemoryReadFailed{Addr: addr, Size: 8}
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteUint64 writes one little-endian uint64 at addr.
func (a *Accessor) WriteUint64(addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return a.WriteMem(addr, b[:])
}

// ReadStruct reads sizeof(T) bytes at addr and reinterprets them as T. T must
// be a fixed-layout struct of only fixed-width fields (no pointers, no
// strings) — the same constraint the ELF and link-map layouts in
// internal/elflayout satisfy.
func ReadStruct[T any](a *Accessor, addr uint64) (T, error) {
	var zero T
	size := uint64(unsafe.Sizeof(zero))
	b, err := a.ReadBytes(addr, size)
	if err != nil {
		return zero, err
	}
	if uint64(len(b)) < size {
		return zero, &ixerr.MemoryReadFailed{Addr: addr, Size: size}
	}
	var out T
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out)), size), b)
	return out, nil
}

// ReadArray reads up to count elements of T starting at addr, returning
// however many elements the underlying read actually covered (the region may
// end before count elements). Zero elements is an error.
func ReadArray[T any](a *Accessor, addr uint64, count int) ([]T, error) {
	var zero T
	stride := uint64(unsafe.Sizeof(zero))
	want := stride * uint64(count)
	b, err := a.ReadBytes(addr, want)
	if err != nil {
		return nil, err
	}
	got := len(b) / int(stride)
	if got == 0 {
		return nil, &ixerr.MemoryReadFailed{Addr: addr, Size: want}
	}
	out := make([]T, got)
	for i := 0; i < got; i++ {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[i])), stride), b[i*int(stride):(i+1)*int(stride)])
	}
	return out, nil
}

// ReadString reads a NUL-terminated string at addr, starting with 64-byte
// chunks; on a failed read at the current position the chunk size is halved
// down to a single byte before giving up entirely.
func (a *Accessor) ReadString(addr uint64) (string, error) {
	var out []byte
	cur := addr
	for {
		var b []byte
		var err error
		for chunk := uint64(64); chunk >= 1; chunk /= 2 {
			b, err = a.ReadBytes(cur, chunk)
			if err == nil {
				break
			}
		}
		if err != nil {
			return "", fmt.Errorf("read string at %s: %w", introlog.Hex(addr), err)
		}
		if idx := indexByte(b, 0); idx >= 0 {
			out = append(out, b[:idx]...)
			return string(out), nil
		}
		out = append(out, b...)
		cur += uint64(len(b))
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
