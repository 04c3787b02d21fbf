// Package libclocator finds the tracee-side address of a named function in
// a named shared library, without relying on address-space layout matching
// up between tracer and tracee (ASLR forbids that). It resolves the
// function's file offset from the on-disk ELF, creates a genuine
// file-backed executable mapping of that same file in the tracer's own
// address space (standing in for "load it via the dynamic linker" — see
// DESIGN.md), locates the tracer's own /proc/self/maps region covering that
// mapping, then finds the *structurally equivalent* region in the tracee
// (same pathname, same permissions, same length) and returns the address at
// the same intra-region offset.
package libclocator

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zboralski/introspect/internal/elfreader"
	"github.com/zboralski/introspect/internal/ixerr"
	"github.com/zboralski/introspect/internal/procfs"
)

// Locate resolves funcName in libPath (an absolute path to a shared object
// also mapped into the tracee) to an address in the tracee's address space.
func Locate(tracerPID int, libPath, funcName string) (uint64, error) {
	absPath, err := filepath.Abs(libPath)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", libPath, err)
	}

	ef, err := elfreader.Open(absPath)
	if err != nil {
		return 0, err
	}
	syms, err := ef.LoadSymbols(0)
	ef.Close()
	if err != nil {
		return 0, err
	}
	var fileOffset uint64
	found := false
	for _, s := range syms {
		if s.Name == funcName {
			fileOffset = s.Start
			found = true
			break
		}
	}
	if !found {
		return 0, &ixerr.SymbolNotFound{Name: funcName}
	}

	localBase, unmap, err := mapLocally(absPath)
	if err != nil {
		return 0, err
	}
	defer unmap()

	localAddr := localBase + fileOffset

	tracerMaps, err := procfs.LoadMaps(os.Getpid())
	if err != nil {
		return 0, fmt.Errorf("load tracer maps: %w", err)
	}
	tracerRegion, err := findRegion(tracerMaps, localAddr, absPath)
	if err != nil {
		return 0, err
	}
	if !tracerRegion.Perms.Exec {
		return 0, fmt.Errorf("libclocator: tracer region for %s is not executable", absPath)
	}

	tracerOffset := localAddr - tracerRegion.Start

	traceeMaps, err := procfs.LoadMaps(tracerPID)
	if err != nil {
		return 0, fmt.Errorf("load tracee maps: %w", err)
	}
	traceeRegion, err := findEquivalentRegion(traceeMaps, tracerRegion)
	if err != nil {
		return 0, err
	}

	return traceeRegion.Start + tracerOffset, nil
}

// mapLocally mmaps absPath read+exec into the tracer's own address space so
// it shows up in /proc/self/maps exactly the way a dynamic-linker-loaded
// library would, returning the mapping's base address and an unmap function.
func mapLocally(absPath string) (base uint64, unmap func(), err error) {
	f, err := os.Open(absPath)
	if err != nil {
		return 0, nil, fmt.Errorf("open %s for local mapping: %w", absPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("stat %s: %w", absPath, err)
	}
	length := int(fi.Size())
	if length == 0 {
		return 0, nil, fmt.Errorf("libclocator: %s is empty", absPath)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_PRIVATE)
	if err != nil {
		return 0, nil, fmt.Errorf("mmap %s: %w", absPath, err)
	}
	base = uint64(uintptr(unsafe.Pointer(&data[0])))
	return base, func() { _ = unix.Munmap(data) }, nil
}

func findRegion(maps []procfs.MapEntry, addr uint64, pathname string) (procfs.MapEntry, error) {
	for _, m := range maps {
		if m.Contains(addr) && m.Pathname == pathname {
			return m, nil
		}
	}
	return procfs.MapEntry{}, fmt.Errorf("libclocator: no tracer map region for %s containing %#x", pathname, addr)
}

func findEquivalentRegion(maps []procfs.MapEntry, want procfs.MapEntry) (procfs.MapEntry, error) {
	for _, m := range maps {
		if m.Pathname == want.Pathname && m.Perms == want.Perms && m.Len() == want.Len() {
			return m, nil
		}
	}
	return procfs.MapEntry{}, fmt.Errorf("libclocator: no tracee region structurally equivalent to %s (perms=%s len=%d)",
		want.Pathname, want.Perms.String(), want.Len())
}
