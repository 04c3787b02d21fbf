// Package linkmap reconstructs a live tracee's shared-object link map: from
// the tracee's auxiliary vector it locates the executable's program headers
// in the tracee's own address space, finds the PT_DYNAMIC segment, scans it
// for DT_DEBUG, reads the dynamic linker's r_debug structure, and walks the
// link_map doubly linked list. Only ELF64 targets are supported — the
// 32-bit r_debug/link_map layout is declared unreachable per this engine's
// non-goals.
package linkmap

import (
	"fmt"

	"github.com/zboralski/introspect/internal/elflayout"
	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
	"github.com/zboralski/introspect/internal/memaccess"
	"github.com/zboralski/introspect/internal/procfs"
)

// Entry is one loaded shared object in the tracee, in load order.
type Entry struct {
	LoadBias uint64
	Soname   string
}

// Walk reconstructs the tracee's link map. auxv must contain AT_PHDR,
// AT_PHENT, and AT_PHNUM; a missing entry is a MissingAuxVecEntry error.
func Walk(mem *memaccess.Accessor, auxv procfs.Auxv) ([]Entry, error) {
	phdr, ok := auxv.Get(procfs.AT_PHDR)
	if !ok {
		return nil, &ixerr.MissingAuxVecEntry{Tag: "AT_PHDR"}
	}
	phent, ok := auxv.Get(procfs.AT_PHENT)
	if !ok {
		return nil, &ixerr.MissingAuxVecEntry{Tag: "AT_PHENT"}
	}
	phnum, ok := auxv.Get(procfs.AT_PHNUM)
	if !ok {
		return nil, &ixerr.MissingAuxVecEntry{Tag: "AT_PHNUM"}
	}
	if phent != 56 {
		return nil, fmt.Errorf("linkmap: unexpected AT_PHENT=%d, ELF64 Phdr is 56 bytes", phent)
	}

	phdrs, err := memaccess.ReadArray[elflayout.Phdr64](mem, phdr, int(phnum))
	if err != nil {
		return nil, fmt.Errorf("read tracee program headers: %w", err)
	}

	var baseLoad *elflayout.Phdr64
	var dynamic *elflayout.Phdr64
	dynCount := 0
	for i := range phdrs {
		p := &phdrs[i]
		switch p.Type {
		case elflayout.PT_LOAD:
			if baseLoad == nil || p.Vaddr < baseLoad.Vaddr {
				baseLoad = p
			}
		case elflayout.PT_DYNAMIC:
			dynamic = p
			dynCount++
		}
	}
	if baseLoad == nil {
		return nil, fmt.Errorf("linkmap: no PT_LOAD segment in tracee executable")
	}
	if dynamic == nil {
		return nil, fmt.Errorf("linkmap: no PT_DYNAMIC segment in tracee executable")
	}
	if dynCount > 1 {
		return nil, fmt.Errorf("linkmap: multiple PT_DYNAMIC segments, not supported")
	}

	const ehdr64Size = 64
	loadAddr := phdr - ehdr64Size
	baseAddr := loadAddr - baseLoad.Vaddr
	dynAddr := baseAddr + dynamic.Vaddr

	rDebugAddr, err := findRDebug(mem, dynAddr, dynamic.Memsz)
	if err != nil {
		return nil, err
	}

	rDebug, err := memaccess.ReadStruct[elflayout.RDebug64](mem, rDebugAddr)
	if err != nil {
		return nil, fmt.Errorf("read r_debug at %s: %w", introlog.Hex(rDebugAddr), err)
	}

	var entries []Entry
	cur := rDebug.Map
	seen := make(map[uint64]bool)
	for cur != 0 && !seen[cur] {
		seen[cur] = true
		lm, err := memaccess.ReadStruct[elflayout.LinkMap64](mem, cur)
		if err != nil {
			return nil, fmt.Errorf("read link_map at %s: %w", introlog.Hex(cur), err)
		}
		var soname string
		if lm.Name != 0 {
			soname, _ = mem.ReadString(lm.Name)
		}
		entries = append(entries, Entry{LoadBias: lm.Addr, Soname: soname})
		cur = lm.Next
	}

	return entries, nil
}

// findRDebug scans the PT_DYNAMIC array at dynAddr (dynSize bytes) for the
// DT_DEBUG entry and returns its value (the address of struct r_debug).
func findRDebug(mem *memaccess.Accessor, dynAddr, dynSize uint64) (uint64, error) {
	count := int(dynSize / 16)
	dyns, err := memaccess.ReadArray[elflayout.Dyn64](mem, dynAddr, count)
	if err != nil {
		return 0, fmt.Errorf("read PT_DYNAMIC array: %w", err)
	}
	for _, d := range dyns {
		if d.Tag == elflayout.DT_NULL {
			break
		}
		if d.Tag == elflayout.DT_DEBUG {
			return d.Val, nil
		}
	}
	return 0, fmt.Errorf("linkmap: DT_DEBUG not found in PT_DYNAMIC")
}
