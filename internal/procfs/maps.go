// Package procfs parses /proc/<pid>/maps and /proc/<pid>/auxv into structured
// data. Malformed maps lines are skipped with a logged warning rather than
// aborting the whole parse; auxv parsing stops at AT_NULL and keeps tags it
// has no named constant for in the table rather than rejecting them.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zboralski/introspect/internal/introlog"
)

// Perms is the rwxp permission set of a mapping.
type Perms struct {
	Read, Write, Exec, Private bool
}

// String renders the permission set in the canonical 4-character /proc/maps form.
func (p Perms) String() string {
	b := [4]byte{'-', '-', '-', '-'}
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Exec {
		b[2] = 'x'
	}
	if p.Private {
		b[3] = 'p'
	} else {
		b[3] = 's'
	}
	return string(b[:])
}

// MapEntry is one line of /proc/<pid>/maps.
type MapEntry struct {
	Start, End uint64
	Perms      Perms
	Offset     uint64
	Device     string
	Inode      uint64
	Pathname   string // may be empty, or a bracketed anonymous tag like [heap]
}

// Len returns End-Start.
func (m MapEntry) Len() uint64 { return m.End - m.Start }

// Contains reports whether addr falls in [Start, End).
func (m MapEntry) Contains(addr uint64) bool {
	return addr >= m.Start && addr < m.End
}

// LoadMaps reads and parses /proc/<pid>/maps, returning entries in file order
// (which is address order on Linux).
func LoadMaps(pid int) ([]MapEntry, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var entries []MapEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		entry, ok := parseMapLine(line)
		if !ok {
			if introlog.L != nil {
				introlog.L.Warn("skipping malformed maps line",
					zap.Int("line", lineNo), zap.String("text", line))
			}
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return entries, nil
}

// parseMapLine parses one /proc/<pid>/maps line of the form:
//
//	start-end perms offset dev inode pathname
//
// The pathname field is optional and may contain spaces (e.g. "/tmp/my lib.so").
func parseMapLine(line string) (MapEntry, bool) {
	parts := strings.Fields(line)
	if len(parts) < 5 {
		return MapEntry{}, false
	}

	addrs := strings.SplitN(parts[0], "-", 2)
	if len(addrs) != 2 {
		return MapEntry{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return MapEntry{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return MapEntry{}, false
	}
	if start >= end {
		return MapEntry{}, false
	}

	permStr := parts[1]
	if len(permStr) != 4 {
		return MapEntry{}, false
	}
	perms := Perms{
		Read:    permStr[0] == 'r',
		Write:   permStr[1] == 'w',
		Exec:    permStr[2] == 'x',
		Private: permStr[3] == 'p',
	}

	offset, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return MapEntry{}, false
	}

	device := parts[3]

	inode, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return MapEntry{}, false
	}

	var pathname string
	if len(parts) > 5 {
		// Reconstruct the pathname by finding where it starts in the
		// original line: everything after the 5th whitespace-delimited
		// field, trimmed of leading space. This preserves embedded spaces
		// (e.g. "[anon:scudo:primary]  (deleted)").
		idx := indexOfField(line, 5)
		if idx >= 0 {
			pathname = strings.TrimSpace(line[idx:])
		} else {
			pathname = strings.Join(parts[5:], " ")
		}
	}

	return MapEntry{
		Start:    start,
		End:      end,
		Perms:    perms,
		Offset:   offset,
		Device:   device,
		Inode:    inode,
		Pathname: pathname,
	}, true
}

// indexOfField returns the byte offset in line where the (n+1)th
// whitespace-delimited field begins, or -1 if there are fewer than n fields.
func indexOfField(line string, n int) int {
	i := 0
	fieldsSeen := 0
	inField := false
	for i < len(line) {
		c := line[i]
		isSpace := c == ' ' || c == '\t'
		if !isSpace && !inField {
			inField = true
			if fieldsSeen == n {
				return i
			}
		} else if isSpace && inField {
			inField = false
			fieldsSeen++
		}
		i++
	}
	return -1
}
