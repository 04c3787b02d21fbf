// Package heapwalk implements the core algorithm of this engine: it mmaps a
// data page and an RWX code page into a stopped tracee, writes a small
// position-independent callback into the code page, then for each
// heap-bearing region in the tracee's map invokes libc's malloc_iterate
// remotely with that region's bounds and the injected callback, draining
// (base, length) pairs across breakpoint-overflow handshakes as it goes.
package heapwalk

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zboralski/introspect/internal/arch"
	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
	"github.com/zboralski/introspect/internal/memaccess"
	"github.com/zboralski/introspect/internal/procfs"
	"github.com/zboralski/introspect/internal/remotecall"
)

var frame = arch.New()

// advancePastBreakpoint steps PC past the payload's overflow-handshake trap
// instruction so Cont doesn't immediately re-trap on the same address.
func advancePastBreakpoint(regs unix.PtraceRegs) unix.PtraceRegs {
	pc := frame.PC(regs)
	return frame.SetPC(regs, pc+breakpointAdvance)
}

// Allocation is one drained (base, length) pair.
type Allocation struct {
	Base   uint64
	Length uint64
}

// Resolver resolves a libc symbol name to its address in the tracee. A
// *symcache.Cache satisfies this.
type Resolver interface {
	AddressOf(name string) (uint64, error)
}

const pageSize = 4096

// heapPathnames are the anonymous-mapping pathname prefixes this allocator
// implementation (scudo / the platform malloc) tags its heap arenas with.
var heapPathnames = []string{
	"[anon:libc_malloc]",
	"[anon:scudo:",
	"[anon:GWP-ASan",
}

// Driver owns the two injected pages for one heap walk.
type Driver struct {
	pid    int
	mem    *memaccess.Accessor
	engine *remotecall.Engine
	sym    Resolver

	dataAddr uint64
	codeAddr uint64
}

// New returns a Driver for one tracee. Call Walk to run the algorithm; the
// Driver is single-use.
func New(pid int, mem *memaccess.Accessor, engine *remotecall.Engine, sym Resolver) *Driver {
	return &Driver{pid: pid, mem: mem, engine: engine, sym: sym}
}

// Walk runs the full heap-walk algorithm, calling emit once per drained
// allocation. Steps 4-8 of the algorithm (malloc_disable/enable, munmap) are
// attempted best-effort even if an earlier step in that range failed, so
// that the tracee's allocator is never left permanently disabled.
func (d *Driver) Walk(maps []procfs.MapEntry, emit func(Allocation)) (err error) {
	mmapAddr, err := d.sym.AddressOf("mmap")
	if err != nil {
		return err
	}
	munmapAddr, err := d.sym.AddressOf("munmap")
	if err != nil {
		return err
	}

	if err := d.mapPages(mmapAddr); err != nil {
		return err
	}

	disableAddr, disableErr := d.sym.AddressOf("malloc_disable")
	enableAddr, enableErr := d.sym.AddressOf("malloc_enable")
	iterateAddr, iterErr := d.sym.AddressOf("malloc_iterate")

	defer func() {
		if enableErr == nil {
			if _, e := d.engine.Call(enableAddr, nil, nil); e != nil && err == nil {
				err = fmt.Errorf("malloc_enable: %w", e)
			}
		}
		d.unmapPages(munmapAddr)
	}()

	if disableErr != nil {
		return disableErr
	}
	if iterErr != nil {
		return iterErr
	}

	if _, err := d.engine.Call(disableAddr, nil, nil); err != nil {
		return fmt.Errorf("malloc_disable: %w", err)
	}

	for _, m := range maps {
		if !isHeapRegion(m) {
			continue
		}
		if !m.Perms.Read {
			continue
		}
		if err := d.iterateRegion(iterateAddr, m, emit); err != nil {
			return fmt.Errorf("malloc_iterate region %s: %w", introlog.Hex(m.Start), err)
		}
	}

	return nil
}

func isHeapRegion(m procfs.MapEntry) bool {
	for _, prefix := range heapPathnames {
		if len(m.Pathname) >= len(prefix) && m.Pathname[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (d *Driver) mapPages(mmapAddr uint64) error {
	dataAddr, err := d.remoteMmap(mmapAddr, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return fmt.Errorf("mmap data page: %w", err)
	}
	d.dataAddr = dataAddr

	const capacity = pageSize / 8
	if err := d.mem.WriteUint64(dataAddr, capacity); err != nil {
		return fmt.Errorf("init metadata header capacity: %w", err)
	}
	if err := d.mem.WriteUint64(dataAddr+8, 2); err != nil {
		return fmt.Errorf("init metadata header cursor: %w", err)
	}

	codeAddr, err := d.remoteMmap(mmapAddr, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
	if err != nil {
		return fmt.Errorf("mmap code page: %w", err)
	}
	d.codeAddr = codeAddr

	if err := d.mem.WriteMem(codeAddr, payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

func (d *Driver) remoteMmap(mmapAddr uint64, prot uint64) (uint64, error) {
	args := []uint64{
		0,                                           // addr
		pageSize,                                    // length
		prot,                                        // prot
		uint64(unix.MAP_PRIVATE | unix.MAP_ANONYMOUS), // flags
		^uint64(0),                                  // fd = -1
		0,                                            // offset
	}
	ret, err := d.engine.Call(mmapAddr, args, nil)
	if err != nil {
		return 0, err
	}
	if ret == ^uint64(0) { // MAP_FAILED == (void*)-1
		return 0, &ixerr.RemoteCallFailed{FuncAddr: mmapAddr, Reason: "mmap returned MAP_FAILED"}
	}
	return ret, nil
}

func (d *Driver) unmapPages(munmapAddr uint64) {
	for _, addr := range []uint64{d.dataAddr, d.codeAddr} {
		if addr == 0 {
			continue
		}
		_, _ = d.engine.Call(munmapAddr, []uint64{addr, pageSize}, nil)
	}
}

// iterateRegion calls malloc_iterate(region.start, region.length, codeAddr,
// dataAddr) remotely, draining the metadata buffer on every overflow
// breakpoint and once more after the call returns normally.
func (d *Driver) iterateRegion(iterateAddr uint64, region procfs.MapEntry, emit func(Allocation)) error {
	args := []uint64{region.Start, region.Len(), d.codeAddr, d.dataAddr}

	onTrap := func(regs unix.PtraceRegs) (unix.PtraceRegs, error) {
		n, err := d.drain(emit)
		if err != nil {
			return regs, err
		}
		if introlog.L != nil {
			introlog.L.HeapDrain(n)
		}
		return advancePastBreakpoint(regs), nil
	}

	if _, err := d.engine.Call(iterateAddr, args, onTrap); err != nil {
		return err
	}

	n, err := d.drain(emit)
	if err != nil {
		return err
	}
	if n > 0 && introlog.L != nil {
		introlog.L.HeapDrain(n)
	}
	return nil
}

// drain reads cells [2, cursor) from the metadata buffer, emits each
// (base, length) pair, and resets cursor back to 2.
func (d *Driver) drain(emit func(Allocation)) (int, error) {
	cursor, err := d.mem.ReadUint64(d.dataAddr + 8)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if cursor < 2 {
		return 0, nil
	}
	cells, err := memaccess.ReadArray[uint64](d.mem, d.dataAddr, int(cursor))
	if err != nil {
		return 0, fmt.Errorf("read metadata cells: %w", err)
	}
	if uint64(len(cells)) < cursor {
		return 0, fmt.Errorf("heapwalk: short read of metadata buffer (got %d cells, want %d)", len(cells), cursor)
	}

	n := 0
	for i := uint64(2); i+1 < cursor; i += 2 {
		emit(Allocation{Base: cells[i], Length: cells[i+1]})
		n++
	}

	if err := d.mem.WriteUint64(d.dataAddr+8, 2); err != nil {
		return n, fmt.Errorf("reset cursor: %w", err)
	}
	return n, nil
}
