package libclocator

import (
	"testing"

	"github.com/zboralski/introspect/internal/procfs"
)

func TestFindRegion(t *testing.T) {
	maps := []procfs.MapEntry{
		{Start: 0x1000, End: 0x2000, Pathname: "/lib/libc.so.6", Perms: procfs.Perms{Read: true, Exec: true, Private: true}},
		{Start: 0x2000, End: 0x3000, Pathname: "/lib/libc.so.6", Perms: procfs.Perms{Read: true, Write: true, Private: true}},
	}
	got, err := findRegion(maps, 0x1500, "/lib/libc.so.6")
	if err != nil {
		t.Fatalf("findRegion: %v", err)
	}
	if got.Start != 0x1000 {
		t.Errorf("findRegion matched wrong entry: %+v", got)
	}

	if _, err := findRegion(maps, 0x9999, "/lib/libc.so.6"); err == nil {
		t.Error("expected error for out-of-range address")
	}
}

func TestFindEquivalentRegion(t *testing.T) {
	want := procfs.MapEntry{Start: 0x1000, End: 0x2000, Pathname: "/lib/libc.so.6", Perms: procfs.Perms{Read: true, Exec: true, Private: true}}
	tracee := []procfs.MapEntry{
		{Start: 0x7f0000000000, End: 0x7f0000001000, Pathname: "/lib/libc.so.6", Perms: procfs.Perms{Read: true, Exec: true, Private: true}},
	}
	got, err := findEquivalentRegion(tracee, want)
	if err != nil {
		t.Fatalf("findEquivalentRegion: %v", err)
	}
	if got.Start != 0x7f0000000000 {
		t.Errorf("got %+v", got)
	}

	mismatched := []procfs.MapEntry{
		{Start: 0x7f0000000000, End: 0x7f0000002000, Pathname: "/lib/libc.so.6", Perms: procfs.Perms{Read: true, Exec: true, Private: true}},
	}
	if _, err := findEquivalentRegion(mismatched, want); err == nil {
		t.Error("expected error for length mismatch")
	}
}
