package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if p, err := ExpandHome("~"); err != nil || p != home {
		t.Fatalf("expected %q, got %q (err=%v)", home, p, err)
	}
	exp, err := ExpandHome("~/pretrained_models")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if exp != filepath.Join(home, "pretrained_models") {
		t.Fatalf("unexpected expanded path: %q", exp)
	}
}

func TestSizeAndHash(t *testing.T) {
	d := t.TempDir()
	if err := os.MkdirAll(filepath.Join(d, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d, "a.bin"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d, "sub", "b.bin"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := Size(d)
	if err != nil || n != 8 {
		t.Fatalf("dir size=%d err=%v", n, err)
	}
	n, err = Size(filepath.Join(d, "a.bin"))
	if err != nil || n != 3 {
		t.Fatalf("file size=%d err=%v", n, err)
	}
	sum, err := SHA256File(filepath.Join(d, "a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if sum != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("sha256=%s", sum)
	}
	if !PathExists(d) || PathExists(filepath.Join(d, "missing")) {
		t.Fatalf("PathExists wrong")
	}
}
