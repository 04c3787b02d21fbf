package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTryLoadMissingFileIsNotError(t *testing.T) {
	cfg, ok, err := tryLoad(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("tryLoad: %v", err)
	}
	if ok {
		t.Error("ok = true for missing file, want false")
	}
	if cfg != (Config{}) {
		t.Errorf("cfg = %+v, want zero value", cfg)
	}
}

func TestTryLoadParsesYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "introspect.yaml")
	content := "preferred_libc: /lib64/libc.so.6\ncolor_mode: never\nverbose: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, ok, err := tryLoad(path)
	if err != nil {
		t.Fatalf("tryLoad: %v", err)
	}
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := Config{PreferredLibc: "/lib64/libc.so.6", ColorMode: "never", Verbose: true}
	if cfg != want {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
}

func TestTryLoadRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "introspect.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, _, err := tryLoad(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
