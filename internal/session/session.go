// Package session wires together every lower-level package in this engine
// behind one root object, ProcessSession: attach, link-map discovery, lazy
// symbol-cache construction, remote calls, and heap walking. It also
// implements the five-callback ABI an external reflection library expects
// of its target-process collaborator.
package session

import (
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/zboralski/introspect/internal/elfreader"
	"github.com/zboralski/introspect/internal/heapwalk"
	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
	"github.com/zboralski/introspect/internal/libclocator"
	"github.com/zboralski/introspect/internal/linkmap"
	"github.com/zboralski/introspect/internal/memaccess"
	"github.com/zboralski/introspect/internal/procfs"
	"github.com/zboralski/introspect/internal/remotecall"
	"github.com/zboralski/introspect/internal/symcache"
	"github.com/zboralski/introspect/internal/tracer"
)

// DataLayoutQuery selects which value QueryDataLayout returns, mirroring the
// reflection library's queryKind argument.
type DataLayoutQuery int

const (
	PointerSize DataLayoutQuery = iota
	WordSize
	LeastValidPointerValue
)

// leastValidPointer is the lowest address this engine will ever treat as a
// plausible live pointer, matching the default Linux mmap_min_addr floor.
const leastValidPointer = 0x10000

// ProcessSession is the root object for one attached tracee. It owns the
// ptrace attachment, the target's auxiliary vector and link map, a lazily
// built symbol cache, and the remote-call engine. Every mutable resource
// hangs off it and is released by Close.
type ProcessSession struct {
	ID  uuid.UUID
	PID int

	t      *tracer.Tracer
	mem    *memaccess.Accessor
	exe    *elfreader.File
	auxv   procfs.Auxv
	engine *remotecall.Engine

	links []linkmap.Entry

	symOnce singleflight.Group
	sym     *symcache.Cache
}

// New attaches to pid, reads its auxiliary vector and link map, and returns
// a ready ProcessSession. The calling goroutine is pinned to its OS thread
// for the session's lifetime via runtime.LockOSThread, because the kernel
// requires ptrace operations to come from the attaching thread — grounded
// on the same requirement the ogle ptrace demo documents.
func New(pid int) (*ProcessSession, error) {
	runtime.LockOSThread()

	t, err := tracer.Attach(pid)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	s := &ProcessSession{
		ID:  uuid.New(),
		PID: pid,
		t:   t,
		mem: memaccess.New(pid),
	}
	s.engine = remotecall.New(t, s.mem)

	if err := s.discover(); err != nil {
		_ = s.Close()
		return nil, err
	}

	if introlog.L != nil {
		introlog.L.Info("session started", introlog.Fn(s.ID.String()))
	}
	return s, nil
}

func (s *ProcessSession) discover() error {
	auxv, err := procfs.LoadAuxv(s.PID)
	if err != nil {
		return fmt.Errorf("load auxv: %w", err)
	}
	s.auxv = auxv

	exePath := fmt.Sprintf("/proc/%d/exe", s.PID)
	exe, err := elfreader.Open(exePath)
	if err != nil {
		return err
	}
	s.exe = exe

	links, err := linkmap.Walk(s.mem, s.auxv)
	if err != nil {
		return fmt.Errorf("walk link map: %w", err)
	}
	s.links = links

	return nil
}

// Close detaches the tracer and releases the OS-thread pin taken by New.
// Safe to call once; a second call is a no-op.
func (s *ProcessSession) Close() error {
	var err error
	if s.exe != nil {
		if e := s.exe.Close(); e != nil && err == nil {
			err = e
		}
		s.exe = nil
	}
	if s.t != nil {
		if e := s.t.Detach(); e != nil && err == nil {
			err = e
		}
	}
	runtime.UnlockOSThread()
	return err
}

// symbols returns the session's symbol cache, building it on first use. A
// singleflight.Group ensures concurrent callers (e.g. GetSymbolAddress from
// the reflection ABI racing a CLI "symbol" command) trigger construction
// exactly once; the tracer itself is never touched concurrently, since
// symcache.Build only reads on-disk ELF files.
func (s *ProcessSession) symbols() (*symcache.Cache, error) {
	if s.sym != nil {
		return s.sym, nil
	}
	v, err, _ := s.symOnce.Do("symcache", func() (interface{}, error) {
		if s.sym != nil {
			return s.sym, nil
		}
		c, err := symcache.Build(s.links)
		if err != nil {
			return nil, err
		}
		s.sym = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*symcache.Cache), nil
}

// --- Reflection-library callback ABI (spec §6) ---

// QueryDataLayout answers the reflection library's pointer/word-size and
// least-valid-pointer queries. Both sizes are 8 on the two architectures
// this engine supports.
func (s *ProcessSession) QueryDataLayout(query DataLayoutQuery) (uint64, error) {
	switch query {
	case PointerSize, WordSize:
		return 8, nil
	case LeastValidPointerValue:
		return leastValidPointer, nil
	default:
		return 0, &ixerr.IllegalArgument{What: fmt.Sprintf("unknown data layout query %d", query)}
	}
}

// Free releases a buffer previously returned by ReadBytes. ReadBytes hands
// out ordinary Go-GC-managed slices rather than C pointers, so there is
// nothing to release; this exists for ABI symmetry with the reflection
// library's five-callback contract.
func (s *ProcessSession) Free(buf []byte) {}

// ReadBytes copies size bytes from the tracee's address space starting at
// addr.
func (s *ProcessSession) ReadBytes(addr, size uint64) ([]byte, error) {
	return s.mem.ReadBytes(addr, size)
}

// GetStringLength returns the number of bytes up to (not including) the
// first NUL in the tracee's string at addr.
func (s *ProcessSession) GetStringLength(addr uint64) (uint64, error) {
	str, err := s.mem.ReadString(addr)
	if err != nil {
		return 0, err
	}
	return uint64(len(str)), nil
}

// GetSymbolAddress resolves name to a tracee address via the symbol cache,
// building the cache on first call.
func (s *ProcessSession) GetSymbolAddress(name string) (uint64, error) {
	cache, err := s.symbols()
	if err != nil {
		return 0, err
	}
	return cache.AddressOf(name)
}

// --- Remote calls and heap walking ---

// Call synthesizes a call to funcAddr in the tracee, per internal/remotecall.
func (s *ProcessSession) Call(funcAddr uint64, args []uint64, onTrap remotecall.OnTrap) (uint64, error) {
	return s.engine.Call(funcAddr, args, onTrap)
}

// LocateLibFunc resolves funcName in libPath to a tracee address via
// internal/libclocator.
func (s *ProcessSession) LocateLibFunc(libPath, funcName string) (uint64, error) {
	return libclocator.Locate(s.PID, libPath, funcName)
}

// HeapIterate walks every heap-bearing region in the tracee's current map,
// emitting each drained (base, length) allocation pair to emit.
func (s *ProcessSession) HeapIterate(emit func(heapwalk.Allocation)) error {
	cache, err := s.symbols()
	if err != nil {
		return err
	}
	maps, err := procfs.LoadMaps(s.PID)
	if err != nil {
		return fmt.Errorf("load tracee maps for heap walk: %w", err)
	}
	driver := heapwalk.New(s.PID, s.mem, s.engine, cache)
	return driver.Walk(maps, emit)
}

// Modules returns the tracee's link-map entries in load order.
func (s *ProcessSession) Modules() []linkmap.Entry {
	return s.links
}

// Exe returns the ELF reader opened against /proc/<pid>/exe.
func (s *ProcessSession) Exe() *elfreader.File {
	return s.exe
}

// Exists reports whether /proc/<pid> is still present, as a cheap
// liveness check independent of the tracer's own state.
func Exists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
