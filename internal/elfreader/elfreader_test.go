package elfreader

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/zboralski/introspect/internal/elflayout"
)

// buildMiniElf64 assembles the smallest ELF64 file this package's readers
// care about: a header, one SHT_STRTAB, and one SHT_SYMTAB with two defined
// symbols and one undefined one (which must be excluded).
func buildMiniElf64(t *testing.T) string {
	t.Helper()

	strtab := append([]byte{0}, []byte("foo\x00bar\x00")...)

	type rawSym = elflayout.Sym64
	syms := []rawSym{
		{Name: 1, Value: 0x1000, Size: 0x10, Shndx: 1}, // foo
		{Name: 5, Value: 0x2000, Size: 0x20, Shndx: 1}, // bar
		{Name: 0, Value: 0, Size: 0, Shndx: elflayout.SHN_UNDEF},
	}
	var symBuf bytes.Buffer
	for _, s := range syms {
		binary.Write(&symBuf, binary.LittleEndian, s)
	}

	const ehdrSize = 64
	const shdrSize = 64
	strtabOff := uint64(ehdrSize)
	symtabOff := strtabOff + uint64(len(strtab))
	shoff := symtabOff + uint64(symBuf.Len())

	var buf bytes.Buffer
	ident := [elflayout.EI_NIDENT]byte{}
	ident[0], ident[1], ident[2], ident[3] = elflayout.ELFMAG0, elflayout.ELFMAG1, elflayout.ELFMAG2, elflayout.ELFMAG3
	ident[elflayout.EI_CLASS] = elflayout.ELFCLASS64
	ident[elflayout.EI_DATA] = elflayout.ELFDATA2LSB

	ehdr := elflayout.Ehdr64{
		Ident:     ident,
		Type:      2,
		Machine:   0xB7, // EM_AARCH64
		Version:   1,
		Entry:     0x400000,
		Phoff:     0,
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Phentsize: 0,
		Phnum:     0,
		Shentsize: shdrSize,
		Shnum:     3, // NULL, strtab, symtab
		Shstrndx:  0,
	}
	binary.Write(&buf, binary.LittleEndian, ehdr)
	buf.Write(strtab)
	buf.Write(symBuf.Bytes())

	shdrs := []elflayout.Shdr64{
		{}, // SHN_UNDEF
		{Type: elflayout.SHT_STRTAB, Off: strtabOff, Size: uint64(len(strtab))},
		{Type: elflayout.SHT_SYMTAB, Off: symtabOff, Size: uint64(symBuf.Len()), Link: 1, Entsize: 24},
	}
	for _, s := range shdrs {
		binary.Write(&buf, binary.LittleEndian, s)
	}

	path := filepath.Join(t.TempDir(), "mini.elf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestOpenAndLoadSymbols(t *testing.T) {
	path := buildMiniElf64(t)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if !f.IsElf64 {
		t.Fatal("expected ELF64")
	}
	if f.Entry() != 0x400000 {
		t.Errorf("Entry() = %#x, want 0x400000", f.Entry())
	}

	syms, err := f.LoadSymbols(0x1000)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2 (undef excluded): %+v", len(syms), syms)
	}
	byName := map[string]SymbolRange{}
	for _, s := range syms {
		byName[s.Name] = s
	}
	foo, ok := byName["foo"]
	if !ok {
		t.Fatal("missing symbol foo")
	}
	if foo.Start != 0x1000+0x1000 || foo.End != foo.Start+0x10 {
		t.Errorf("foo range = [%#x,%#x)", foo.Start, foo.End)
	}
	bar, ok := byName["bar"]
	if !ok {
		t.Fatal("missing symbol bar")
	}
	if bar.Start != 0x1000+0x2000 || bar.End != bar.Start+0x20 {
		t.Errorf("bar range = [%#x,%#x)", bar.Start, bar.End)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.elf")
	if err := os.WriteFile(path, []byte("not an elf file at all, padded out"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
