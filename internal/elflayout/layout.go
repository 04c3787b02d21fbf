// Package elflayout defines the raw ELF64/ELF32 on-disk and in-memory struct
// layouts shared by the disk-based ELF reader (internal/elfreader) and the
// live-tracee link-map walker (internal/linkmap). Keeping the layouts in one
// place means both consumers agree on field offsets without duplicating the
// struct tags.
package elflayout

const (
	EI_NIDENT = 16

	ELFMAG0 = 0x7f
	ELFMAG1 = 'E'
	ELFMAG2 = 'L'
	ELFMAG3 = 'F'

	EI_CLASS = 4
	EI_DATA  = 5

	ELFCLASS32 = 1
	ELFCLASS64 = 2

	ELFDATA2LSB = 1

	PT_LOAD    = 1
	PT_DYNAMIC = 2

	DT_NULL  = 0
	DT_DEBUG = 21

	SHT_SYMTAB = 2
	SHT_STRTAB = 3
	SHT_DYNSYM = 11
	SHT_RELA   = 4

	SHN_UNDEF = 0

	R_AARCH64_RELATIVE  = 1027
	R_X86_64_RELATIVE   = 8
	R_AARCH64_GLOB_DAT  = 1025
	R_AARCH64_JUMP_SLOT = 1026
)

// Ehdr64 is the 64-bit ELF file header, byte-for-byte.
type Ehdr64 struct {
	Ident     [EI_NIDENT]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Ehdr32 is the 32-bit ELF file header.
type Ehdr32 struct {
	Ident     [EI_NIDENT]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Phdr64 is one 64-bit program header.
type Phdr64 struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Phdr32 is one 32-bit program header.
type Phdr32 struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// Shdr64 is one 64-bit section header.
type Shdr64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// Sym64 is one 64-bit symbol table entry.
type Sym64 struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// Sym32 is one 32-bit symbol table entry.
type Sym32 struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

// Dyn64 is one entry of the PT_DYNAMIC array: a (tag, value-or-pointer) pair.
type Dyn64 struct {
	Tag uint64
	Val uint64
}

// RDebug64 mirrors the dynamic linker's struct r_debug.
//
//	int r_version;
//	struct link_map *r_map;
//	ElfW(Addr) r_brk;
//	enum { RT_CONSISTENT, RT_ADD, RT_DELETE } r_state;
//	ElfW(Addr) r_ldbase;
//
// r_version and r_state are 32-bit ints but the struct is padded to 8-byte
// alignment on LP64 targets, so each logical field below occupies 8 bytes
// except the leading r_version (4 bytes + 4 bytes padding).
type RDebug64 struct {
	VersionPad uint64 // r_version (low 32 bits) + padding
	Map        uint64 // struct link_map*
	Brk        uint64
	State      uint64 // low 32 bits are r_state, rest padding
	LdBase     uint64
}

// LinkMap64 mirrors struct link_map from <link.h>.
//
//	ElfW(Addr) l_addr;
//	char *l_name;
//	ElfW(Dyn) *l_ld;
//	struct link_map *l_next, *l_prev;
type LinkMap64 struct {
	Addr uint64
	Name uint64
	Ld   uint64
	Next uint64
	Prev uint64
}

// STType extracts the symbol type from Sym64.Info.
func STType(info uint8) uint8 { return info & 0xf }

// STBind extracts the symbol binding from Sym64.Info.
func STBind(info uint8) uint8 { return info >> 4 }
