package session

import (
	"os"
	"testing"
)

func TestQueryDataLayout(t *testing.T) {
	s := &ProcessSession{}

	for _, q := range []DataLayoutQuery{PointerSize, WordSize} {
		v, err := s.QueryDataLayout(q)
		if err != nil {
			t.Fatalf("QueryDataLayout(%d): %v", q, err)
		}
		if v != 8 {
			t.Errorf("QueryDataLayout(%d) = %d, want 8", q, v)
		}
	}

	v, err := s.QueryDataLayout(LeastValidPointerValue)
	if err != nil {
		t.Fatalf("QueryDataLayout(LeastValidPointerValue): %v", err)
	}
	if v != leastValidPointer {
		t.Errorf("LeastValidPointerValue = %#x, want %#x", v, leastValidPointer)
	}

	if _, err := s.QueryDataLayout(DataLayoutQuery(99)); err == nil {
		t.Error("expected error for unknown query kind")
	}
}

func TestExists(t *testing.T) {
	if !Exists(os.Getpid()) {
		t.Error("Exists(self) = false, want true")
	}
	if Exists(-1) {
		t.Error("Exists(-1) = true, want false")
	}
}
