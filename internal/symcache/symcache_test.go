package symcache

import "testing"

func TestSymbolForBinarySearch(t *testing.T) {
	c := &Cache{
		forward: map[string]map[string]Range{},
		reverse: []Range{
			{Module: "a.so", Name: "f1", Start: 0x1000, End: 0x1010},
			{Module: "a.so", Name: "f2", Start: 0x1010, End: 0x1020},
			{Module: "b.so", Name: "g1", Start: 0x5000, End: 0x5100},
		},
	}

	cases := []struct {
		addr    uint64
		want    string
		wantErr bool
	}{
		{0x1000, "f1", false},
		{0x100f, "f1", false},
		{0x1010, "f2", false},
		{0x101f, "f2", false},
		{0x1020, "", true}, // gap, end-exclusive
		{0x5050, "g1", false},
		{0x0fff, "", true},
		{0x6000, "", true},
	}
	for _, tc := range cases {
		got, err := c.SymbolFor(tc.addr)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SymbolFor(%#x) = %+v, want error", tc.addr, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SymbolFor(%#x): unexpected error %v", tc.addr, err)
			continue
		}
		if got.Name != tc.want {
			t.Errorf("SymbolFor(%#x) = %q, want %q", tc.addr, got.Name, tc.want)
		}
	}
}

func TestAddressOf(t *testing.T) {
	c := &Cache{
		forward: map[string]map[string]Range{
			"libc.so": {"malloc": {Module: "libc.so", Name: "malloc", Start: 0x2000, End: 0x2100}},
		},
		order: []string{"libc.so"},
	}
	addr, err := c.AddressOf("malloc")
	if err != nil {
		t.Fatalf("AddressOf: %v", err)
	}
	if addr != 0x2000 {
		t.Errorf("AddressOf(malloc) = %#x, want 0x2000", addr)
	}
	if _, err := c.AddressOf("nonexistent"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}

// TestAddressOfLoadOrder pins down the documented resolution of duplicate
// symbol names across modules: the module that appears earliest in
// link-map load order wins, deterministically, regardless of Go's
// randomized map iteration order.
func TestAddressOfLoadOrder(t *testing.T) {
	c := &Cache{
		forward: map[string]map[string]Range{
			"b.so": {"dup": {Module: "b.so", Name: "dup", Start: 0x9000, End: 0x9010}},
			"a.so": {"dup": {Module: "a.so", Name: "dup", Start: 0x1000, End: 0x1010}},
		},
		order: []string{"b.so", "a.so"},
	}
	for i := 0; i < 20; i++ {
		addr, err := c.AddressOf("dup")
		if err != nil {
			t.Fatalf("AddressOf: %v", err)
		}
		if addr != 0x9000 {
			t.Errorf("AddressOf(dup) = %#x, want 0x9000 (b.so, first in load order)", addr)
		}
	}
}

func TestBuildWithNoEntriesIsEmpty(t *testing.T) {
	entries, err := Build(nil)
	if err != nil {
		t.Fatalf("Build(nil): %v", err)
	}
	if entries.Modules() != 0 || entries.Symbols() != 0 {
		t.Fatalf("expected empty cache for no link-map entries, got modules=%d symbols=%d", entries.Modules(), entries.Symbols())
	}
}
