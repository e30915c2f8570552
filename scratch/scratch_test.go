package scratch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteCreatesUniqueNonEmptyFile(t *testing.T) {
	t.Parallel()

	m := New(t.TempDir())

	first, err := m.Write([]byte("abc"), "my take.wav")
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	second, err := m.Write([]byte("def"), "my take.wav")
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if first == second {
		t.Fatalf("expected unique paths, got %s twice", first)
	}
	if strings.Contains(filepath.Base(first), " ") {
		t.Errorf("expected sanitized name without whitespace, got %s", filepath.Base(first))
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("failed to read written file: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("unexpected file contents: %q", data)
	}
}

func TestWriteRejectsEmptyBuffer(t *testing.T) {
	t.Parallel()

	m := New(t.TempDir())

	_, err := m.Write(nil, "empty.wav")
	if err == nil {
		t.Fatal("expected error for empty buffer")
	}
	if !strings.Contains(err.Error(), "temp file empty") {
		t.Errorf("expected temp-file-empty error, got %v", err)
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		t.Fatalf("failed to list scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty file to be removed, found %d entries", len(entries))
	}
}

func TestRemoveIsNilSafeAndIdempotent(t *testing.T) {
	t.Parallel()

	m := New(t.TempDir())

	path, err := m.Write([]byte("abc"), "take.wav")
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	m.Remove("", path)
	m.Remove(path) // already gone

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be deleted", path)
	}
}

func TestDirIsCreatedLazily(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "scratch")
	m := New(root)

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("scratch dir should not exist before first use")
	}

	dir, err := m.Dir()
	if err != nil {
		t.Fatalf("Dir returned error: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected scratch dir to exist after Dir(): %v", err)
	}
}
