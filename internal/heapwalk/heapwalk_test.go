package heapwalk

import (
	"bytes"
	"testing"

	"github.com/zboralski/introspect/internal/arch"
	"github.com/zboralski/introspect/internal/procfs"
)

func TestIsHeapRegion(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"[anon:libc_malloc]", true},
		{"[anon:scudo:primary]", true},
		{"[anon:GWP-ASan-Guard]", true},
		{"/lib/libc.so", false},
		{"[heap]", false},
		{"", false},
	}
	for _, c := range cases {
		got := isHeapRegion(procfs.MapEntry{Pathname: c.path})
		if got != c.want {
			t.Errorf("isHeapRegion(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

// TestPayloadBreakpointPlacement cross-checks the hand-assembled payload
// against the architecture's own breakpoint encoding, so a drift between the
// two files (e.g. a re-encoded payload whose trap moved) is caught without
// running either architecture's machine code.
func TestPayloadBreakpointPlacement(t *testing.T) {
	bp := arch.New().Breakpoint()
	if breakpointOffset+len(bp.Bytes) > len(payload) {
		t.Fatalf("breakpointOffset %#x + %d bytes overruns payload of length %d",
			breakpointOffset, len(bp.Bytes), len(payload))
	}
	got := payload[breakpointOffset : breakpointOffset+len(bp.Bytes)]
	if !bytes.Equal(got, bp.Bytes) {
		t.Fatalf("payload bytes at breakpointOffset = %x, want %x (arch.Breakpoint())", got, bp.Bytes)
	}
	if uint64(len(bp.Bytes)) != breakpointAdvance {
		t.Fatalf("breakpointAdvance = %d, want %d (len of arch breakpoint instruction)", breakpointAdvance, len(bp.Bytes))
	}
}

func TestPayloadNonEmpty(t *testing.T) {
	if len(payload) == 0 {
		t.Fatal("payload is empty")
	}
}

func TestDrainExtractsPairs(t *testing.T) {
	// Pure logic check of the cell-pair extraction loop in drain, independent
	// of memaccess: mirrors the indexing drain() performs over cells[2:cursor].
	cells := []uint64{8, 6, 0x1000, 0x20, 0x2000, 0x40}
	cursor := cells[1]
	var got []Allocation
	for i := uint64(2); i+1 < cursor; i += 2 {
		got = append(got, Allocation{Base: cells[i], Length: cells[i+1]})
	}
	want := []Allocation{{Base: 0x1000, Length: 0x20}, {Base: 0x2000, Length: 0x40}}
	if len(got) != len(want) {
		t.Fatalf("got %d allocations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pair %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
