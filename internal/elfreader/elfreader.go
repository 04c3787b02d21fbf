// Package elfreader opens an ELF file on disk and exposes typed access to its
// header, program headers, section headers, and symbol/string tables. The
// ELF header is read once at Open() for the 32/64-bit class and its fields
// are served through a class accessor; section-header and symbol decoding
// still branch on IsElf64 per call. This is deliberately not built on debug/elf:
// the companion internal/linkmap package needs to interpret the identical
// on-disk layouts (internal/elflayout) when they appear live in a tracee's
// address space, where debug/elf's file-offset-based reader cannot follow.
package elfreader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/zboralski/introspect/internal/elflayout"
	"github.com/zboralski/introspect/internal/ixerr"
)

// SymbolRange is one resolved, rebased symbol: [Start, End) in some address
// space, where the caller supplies the rebasing constant (the load bias).
type SymbolRange struct {
	Name  string
	Start uint64
	End   uint64
}

// File is an opened ELF file with class-polymorphic accessors.
type File struct {
	Path    string
	f       *os.File
	IsElf64 bool
	class   classAccessor
}

// classAccessor hides the 32/64-bit ELF header layouts behind a common
// numeric view, so reading header fields never branches on the class.
type classAccessor interface {
	entry() uint64
	phoff() uint64
	shoff() uint64
	phentsize() uint16
	phnum() uint16
	shentsize() uint16
	shnum() uint16
	shstrndx() uint16
}

type elf64Accessor struct{ h elflayout.Ehdr64 }

func (a elf64Accessor) entry() uint64      { return a.h.Entry }
func (a elf64Accessor) phoff() uint64      { return a.h.Phoff }
func (a elf64Accessor) shoff() uint64      { return a.h.Shoff }
func (a elf64Accessor) phentsize() uint16  { return a.h.Phentsize }
func (a elf64Accessor) phnum() uint16      { return a.h.Phnum }
func (a elf64Accessor) shentsize() uint16  { return a.h.Shentsize }
func (a elf64Accessor) shnum() uint16      { return a.h.Shnum }
func (a elf64Accessor) shstrndx() uint16   { return a.h.Shstrndx }

type elf32Accessor struct{ h elflayout.Ehdr32 }

func (a elf32Accessor) entry() uint64     { return uint64(a.h.Entry) }
func (a elf32Accessor) phoff() uint64     { return uint64(a.h.Phoff) }
func (a elf32Accessor) shoff() uint64     { return uint64(a.h.Shoff) }
func (a elf32Accessor) phentsize() uint16 { return a.h.Phentsize }
func (a elf32Accessor) phnum() uint16     { return a.h.Phnum }
func (a elf32Accessor) shentsize() uint16 { return a.h.Shentsize }
func (a elf32Accessor) shnum() uint16     { return a.h.Shnum }
func (a elf32Accessor) shstrndx() uint16  { return a.h.Shstrndx }

// Open opens path, validates the ELF identification bytes, and reads the
// header for whichever class EI_CLASS names.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF: %w", err)
	}

	var ident [elflayout.EI_NIDENT]byte
	if _, err := io.ReadFull(f, ident[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read ident: %w", &ixerr.MalformedElf{Path: path, Reason: err.Error()})
	}
	if ident[0] != elflayout.ELFMAG0 || ident[1] != elflayout.ELFMAG1 ||
		ident[2] != elflayout.ELFMAG2 || ident[3] != elflayout.ELFMAG3 {
		f.Close()
		return nil, &ixerr.MalformedElf{Path: path, Reason: "bad magic"}
	}

	ef := &File{Path: path, f: f}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek: %w", err)
	}

	switch ident[elflayout.EI_CLASS] {
	case elflayout.ELFCLASS64:
		ef.IsElf64 = true
		var h elflayout.Ehdr64
		if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
			f.Close()
			return nil, fmt.Errorf("read Ehdr64: %w", &ixerr.MalformedElf{Path: path, Reason: err.Error()})
		}
		ef.class = elf64Accessor{h}
	case elflayout.ELFCLASS32:
		ef.IsElf64 = false
		var h elflayout.Ehdr32
		if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
			f.Close()
			return nil, fmt.Errorf("read Ehdr32: %w", &ixerr.MalformedElf{Path: path, Reason: err.Error()})
		}
		ef.class = elf32Accessor{h}
	default:
		f.Close()
		return nil, &ixerr.MalformedElf{Path: path, Reason: "unknown EI_CLASS"}
	}

	if int(ef.class.shentsize()) != ef.expectedShentsize() {
		ef.f.Close()
		return nil, &ixerr.MalformedElf{Path: path, Reason: "shentsize mismatch for class"}
	}

	return ef, nil
}

func (f *File) expectedShentsize() int {
	if f.IsElf64 {
		return 64
	}
	return 40
}

// Close releases the underlying file handle.
func (f *File) Close() error { return f.f.Close() }

// Entry returns the ELF entry point.
func (f *File) Entry() uint64 { return f.class.entry() }

// shdrRaw is the class-agnostic view of one section header this package
// needs: byte offset/size in the file, type, link, and (for SHT_SYMTAB-like
// sections) entry size.
type shdrRaw struct {
	Name      uint32
	Type      uint32
	Off       uint64
	Size      uint64
	Link      uint32
	Entsize   uint64
}

// readShdr validates i < shnum, seeks to shoff + i*shentsize, and reads one
// section header for the file's class.
func (f *File) readShdr(i int) (shdrRaw, error) {
	if i < 0 || i >= int(f.class.shnum()) {
		return shdrRaw{}, &ixerr.IllegalArgument{What: fmt.Sprintf("section index %d out of range [0,%d)", i, f.class.shnum())}
	}
	off := int64(f.class.shoff()) + int64(i)*int64(f.class.shentsize())
	if _, err := f.f.Seek(off, io.SeekStart); err != nil {
		return shdrRaw{}, fmt.Errorf("seek section %d: %w", i, err)
	}
	if f.IsElf64 {
		var h elflayout.Shdr64
		if err := binary.Read(f.f, binary.LittleEndian, &h); err != nil {
			return shdrRaw{}, fmt.Errorf("read Shdr64 %d: %w", i, err)
		}
		return shdrRaw{Name: h.Name, Type: h.Type, Off: h.Off, Size: h.Size, Link: h.Link, Entsize: h.Entsize}, nil
	}
	var raw struct {
		Name, Type, Flags, Addr, Off, Size, Link, Info, Addralign, Entsize uint32
	}
	if err := binary.Read(f.f, binary.LittleEndian, &raw); err != nil {
		return shdrRaw{}, fmt.Errorf("read Shdr32 %d: %w", i, err)
	}
	return shdrRaw{Name: raw.Name, Type: raw.Type, Off: uint64(raw.Off), Size: uint64(raw.Size), Link: raw.Link, Entsize: uint64(raw.Entsize)}, nil
}

// readSection reads shdr.Size bytes at shdr.Off.
func (f *File) readSection(s shdrRaw) ([]byte, error) {
	buf := make([]byte, s.Size)
	if s.Size == 0 {
		return buf, nil
	}
	if _, err := f.f.Seek(int64(s.Off), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek section data: %w", err)
	}
	if _, err := io.ReadFull(f.f, buf); err != nil {
		return nil, fmt.Errorf("read section data: %w", err)
	}
	return buf, nil
}

func stringAt(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	rest := strtab[off:]
	if idx := bytes.IndexByte(rest, 0); idx >= 0 {
		return string(rest[:idx])
	}
	return string(rest)
}

// LoadSymbols iterates every SHT_SYMTAB/SHT_DYNSYM section, rebases each
// defined, nonzero-size symbol by base, and returns them. If two entries
// share a name the later one wins, matching the caller's use of this as a
// name -> address map.
func (f *File) LoadSymbols(base uint64) ([]SymbolRange, error) {
	byName := make(map[string]SymbolRange)
	var order []string

	for i := 0; i < int(f.class.shnum()); i++ {
		shdr, err := f.readShdr(i)
		if err != nil {
			return nil, err
		}
		if shdr.Type != elflayout.SHT_SYMTAB && shdr.Type != elflayout.SHT_DYNSYM {
			continue
		}
		symData, err := f.readSection(shdr)
		if err != nil {
			return nil, fmt.Errorf("read symtab section %d: %w", i, err)
		}
		strShdr, err := f.readShdr(int(shdr.Link))
		if err != nil {
			return nil, fmt.Errorf("read linked strtab for section %d: %w", i, err)
		}
		strtab, err := f.readSection(strShdr)
		if err != nil {
			return nil, fmt.Errorf("read strtab data: %w", err)
		}

		syms, err := f.decodeSymbols(symData)
		if err != nil {
			return nil, err
		}
		for _, s := range syms {
			if s.shndx == elflayout.SHN_UNDEF || s.value == 0 || s.size == 0 {
				continue
			}
			name := stringAt(strtab, s.name)
			if name == "" {
				continue
			}
			if _, seen := byName[name]; !seen {
				order = append(order, name)
			}
			byName[name] = SymbolRange{
				Name:  name,
				Start: s.value + base,
				End:   s.value + s.size + base,
			}
		}
	}

	out := make([]SymbolRange, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

type rawSym struct {
	name  uint32
	value uint64
	size  uint64
	shndx uint16
}

func (f *File) decodeSymbols(data []byte) ([]rawSym, error) {
	if f.IsElf64 {
		const entSize = 24
		n := len(data) / entSize
		out := make([]rawSym, 0, n)
		for i := 0; i < n; i++ {
			var s elflayout.Sym64
			r := bytes.NewReader(data[i*entSize : (i+1)*entSize])
			if err := binary.Read(r, binary.LittleEndian, &s); err != nil {
				return nil, fmt.Errorf("decode Sym64 %d: %w", i, err)
			}
			out = append(out, rawSym{name: s.Name, value: s.Value, size: s.Size, shndx: s.Shndx})
		}
		return out, nil
	}
	const entSize = 16
	n := len(data) / entSize
	out := make([]rawSym, 0, n)
	for i := 0; i < n; i++ {
		var s elflayout.Sym32
		r := bytes.NewReader(data[i*entSize : (i+1)*entSize])
		if err := binary.Read(r, binary.LittleEndian, &s); err != nil {
			return nil, fmt.Errorf("decode Sym32 %d: %w", i, err)
		}
		out = append(out, rawSym{name: s.Name, value: uint64(s.Value), size: uint64(s.Size), shndx: s.Shndx})
	}
	return out, nil
}
