package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func testRoots(t *testing.T) Roots {
	t.Helper()
	dir := t.TempDir()
	r := Roots{
		Uploads:   filepath.Join(dir, "uploads"),
		MXL:       filepath.Join(dir, "mxl"),
		MIDI:      filepath.Join(dir, "midi"),
		OMROutput: filepath.Join(dir, "omr"),
	}
	if err := r.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	return r
}

func TestCleanOneToken(t *testing.T) {
	r := testRoots(t)
	for _, root := range r.All() {
		for _, token := range []string{"keep", "drop"} {
			if _, err := Allocate(root, token); err != nil {
				t.Fatalf("Allocate() error = %v", err)
			}
		}
	}

	n, err := Clean(context.Background(), r, "drop")
	if err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("Clean() removed %d, want 4", n)
	}
	for _, root := range r.All() {
		if _, err := os.Stat(filepath.Join(root, "drop")); !os.IsNotExist(err) {
			t.Fatalf("%s/drop still present", root)
		}
		if _, err := os.Stat(filepath.Join(root, "keep")); err != nil {
			t.Fatalf("%s/keep removed: %v", root, err)
		}
	}

	if n, err := Clean(context.Background(), r, "drop"); err != nil || n != 0 {
		t.Fatalf("second Clean() = %d, %v", n, err)
	}
}

func TestCleanAllKeepsRoots(t *testing.T) {
	r := testRoots(t)
	Allocate(r.Uploads, "a")
	Allocate(r.MIDI, "b")
	os.WriteFile(filepath.Join(r.MXL, "stray.mxl"), []byte("x"), 0o644)

	n, err := Clean(context.Background(), r, "")
	if err != nil || n != 3 {
		t.Fatalf("Clean() = %d, %v, want 3", n, err)
	}
	for _, root := range r.All() {
		entries, err := os.ReadDir(root)
		if err != nil {
			t.Fatalf("root %s gone: %v", root, err)
		}
		if len(entries) != 0 {
			t.Fatalf("root %s not empty", root)
		}
	}
}

func TestCleanRejectsEscapingToken(t *testing.T) {
	r := testRoots(t)
	if _, err := Clean(context.Background(), r, "../uploads"); err == nil {
		t.Fatal("Clean() accepted an escaping token")
	}
}
