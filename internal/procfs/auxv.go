package procfs

import (
	"encoding/binary"
	"fmt"
	"os"
)

// AuxvTag is a key in the auxiliary vector.
type AuxvTag uint64

// Tags this package's callers depend on. The full kernel set is larger; unknown
// tags are preserved in the table but have no named constant.
const (
	AT_NULL    AuxvTag = 0
	AT_PHDR    AuxvTag = 3
	AT_PHENT   AuxvTag = 4
	AT_PHNUM   AuxvTag = 5
	AT_BASE    AuxvTag = 7
	AT_ENTRY   AuxvTag = 9
	AT_EXECFN  AuxvTag = 31
	AT_SYSINFO AuxvTag = 32
)

// Auxv is a keyed table of auxiliary-vector entries.
type Auxv map[AuxvTag]uint64

// Get returns (value, true) if tag is present.
func (a Auxv) Get(tag AuxvTag) (uint64, bool) {
	v, ok := a[tag]
	return v, ok
}

// LoadAuxv reads /proc/<pid>/auxv as a stream of 16-byte (tag, value) pairs
// (8-byte pairs on 32-bit targets, not supported here per spec) and stops at
// AT_NULL.
func LoadAuxv(pid int) (Auxv, error) {
	path := fmt.Sprintf("/proc/%d/auxv", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseAuxv64(data), nil
}

func parseAuxv64(data []byte) Auxv {
	const pairSize = 16
	table := make(Auxv)
	for off := 0; off+pairSize <= len(data); off += pairSize {
		tag := AuxvTag(binary.LittleEndian.Uint64(data[off : off+8]))
		if tag == AT_NULL {
			break
		}
		val := binary.LittleEndian.Uint64(data[off+8 : off+16])
		table[tag] = val
	}
	return table
}
